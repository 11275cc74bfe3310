package replication

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/location"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

const schemaDir = ".schema"

// replicateAvroSchema copies the file named by avro.schema.url into
// <data location>/.schema and points the replica at the copy. Metadata-only
// runs keep the schema URL the replica already has.
func (r *Replicator) replicateAvroSchema(ctx context.Context, replica, existing *catalog.Table, plan location.Plan, log *slog.Logger) error {
	key, ok := replica.ParameterKey(catalog.ParamAvroSchemaURL)
	if !ok || replica.Parameters[key] == "" {
		return nil
	}
	sourceURL := replica.Parameters[key]

	if plan.MetadataOnly {
		if existing == nil {
			return nil
		}
		if prev, ok := existing.Parameter(catalog.ParamAvroSchemaURL); ok && prev != "" {
			delete(replica.Parameters, key)
			replica.Parameters[catalog.ParamAvroSchemaURL] = prev
		}
		return nil
	}

	src, err := storage.ParseLocation(sourceURL)
	if err != nil {
		return fmt.Errorf("replicate avro schema: %w", err)
	}
	if src.Key() == "" {
		return fmt.Errorf("replicate avro schema %s: %w: no file name", sourceURL, storage.ErrInvalidLocation)
	}
	dst := plan.DataLocation.Join(schemaDir, src.Base())

	if err := r.copyFile(ctx, src, dst); err != nil {
		return fmt.Errorf("replicate avro schema %s: %w", sourceURL, err)
	}

	delete(replica.Parameters, key)
	replica.Parameters[catalog.ParamAvroSchemaURL] = dst.String()
	log.Info("replicated avro schema", "source_schema_url", sourceURL, "schema_url", dst.String())
	return nil
}

func (r *Replicator) copyFile(ctx context.Context, src, dst storage.Location) error {
	from, err := r.opener.Open(ctx, src)
	if err != nil {
		return err
	}
	to, err := r.opener.Open(ctx, dst)
	if err != nil {
		return err
	}

	rc, err := from.NewReader(ctx, src.Key())
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := to.NewWriter(ctx, dst.Key())
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", dst, err)
	}
	return nil
}
