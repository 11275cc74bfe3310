package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replicate every configured table once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.replicateAll(ctx, table)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "only replicate the replica table db.name")
	return cmd
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Replicate every configured table on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Schedule == "" {
				return errors.New("schedule: no cron spec configured")
			}
			sched, err := parseSchedule(opts.cfg.Schedule)
			if err != nil {
				return fmt.Errorf("parse schedule %q: %w", opts.cfg.Schedule, err)
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
			c.Schedule(sched, cron.FuncJob(func() {
				// Failures are logged per table; the next tick retries.
				_ = a.replicateAll(ctx, "")
			}))
			c.Start()
			a.log.Info("scheduler started", "schedule", opts.cfg.Schedule, "tables", len(opts.cfg.TableReplications))

			<-ctx.Done()
			<-c.Stop().Done()
			a.log.Info("scheduler stopped")
			return nil
		},
	}
}

// parseSchedule accepts five-field cron specs and descriptors like @every 1h.
func parseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(spec)
}

func newDropCmd(opts *rootOptions) *cobra.Command {
	var (
		table    string
		withData bool
	)
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop a replica table, optionally deleting its data",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, name, err := splitTableName(table)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.dropReplica(ctx, db, name, withData)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "replica table to drop, as db.name")
	cmd.Flags().BoolVar(&withData, "data", false, "delete the table's data before dropping it")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func splitTableName(qualified string) (string, string, error) {
	db, name, ok := strings.Cut(qualified, ".")
	if !ok || db == "" || name == "" || strings.Contains(name, ".") {
		return "", "", fmt.Errorf("table %q: expected db.name", qualified)
	}
	return db, name, nil
}
