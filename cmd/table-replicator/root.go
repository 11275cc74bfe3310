package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/config"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/logging"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/replication"
)

type rootOptions struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "table-replicator",
		Short:         "Replicate catalog tables and their data between storage backends",
		Version:       replication.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "table-replicator.yml", "path to the YAML configuration")

	cmd.AddCommand(newRunCmd(opts), newScheduleCmd(opts), newDropCmd(opts))
	return cmd
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-ch:
			slog.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
