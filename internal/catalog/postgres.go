package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresConfig configures a PostgreSQL-backed catalog.
type PostgresConfig struct {
	Name string
	DSN  string
}

// PostgresClient implements Client on top of a PostgreSQL database holding
// the _catalog_* tables.
type PostgresClient struct {
	pool   *pgxpool.Pool
	name   string
	logger *slog.Logger
}

// NewPostgresClient connects to the catalog database and ensures its schema.
func NewPostgresClient(ctx context.Context, cfg PostgresConfig) (*PostgresClient, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w: %w", ErrUnavailable, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalog %q: %w: %w", cfg.Name, ErrUnavailable, err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	c := &PostgresClient{
		pool:   pool,
		name:   cfg.Name,
		logger: slog.Default().With("component", "catalog", "catalog", cfg.Name),
	}
	c.logger.Info("connected to PostgreSQL catalog")
	return c, nil
}

func (c *PostgresClient) GetTable(ctx context.Context, db, name string) (*Table, error) {
	query := `
		SELECT table_type, location, columns::text, partition_keys::text, parameters::text
		FROM _catalog_tables
		WHERE database_name = $1 AND table_name = $2
	`

	t := &Table{DatabaseName: db, TableName: name}
	var cols, keys, params string
	err := c.pool.QueryRow(ctx, query, db, name).Scan(&t.TableType, &t.Location, &cols, &keys, &params)
	if err != nil {
		return nil, classify(fmt.Sprintf("get table %s.%s", db, name), err)
	}
	if err := decodeJSON(cols, &t.Columns); err != nil {
		return nil, fmt.Errorf("decode columns of %s.%s: %w", db, name, err)
	}
	if err := decodeJSON(keys, &t.PartitionKeys); err != nil {
		return nil, fmt.Errorf("decode partition keys of %s.%s: %w", db, name, err)
	}
	if err := decodeJSON(params, &t.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters of %s.%s: %w", db, name, err)
	}
	return t, nil
}

func (c *PostgresClient) CreateTable(ctx context.Context, table *Table) error {
	query := `
		INSERT INTO _catalog_tables (
			database_name, table_name, table_type, location,
			columns, partition_keys, parameters
		)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb)
	`

	args, err := tableArgs(table)
	if err != nil {
		return err
	}
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return classify("create table "+table.QualifiedName(), err)
	}
	c.logger.Debug("created table", "table", table.QualifiedName(), "location", table.Location)
	return nil
}

func (c *PostgresClient) AlterTable(ctx context.Context, db, name string, table *Table) error {
	query := `
		UPDATE _catalog_tables SET
			database_name = $1,
			table_name = $2,
			table_type = $3,
			location = $4,
			columns = $5::jsonb,
			partition_keys = $6::jsonb,
			parameters = $7::jsonb,
			updated_at = NOW()
		WHERE database_name = $8 AND table_name = $9
	`

	args, err := tableArgs(table)
	if err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx, query, append(args, db, name)...)
	if err != nil {
		return classify(fmt.Sprintf("alter table %s.%s", db, name), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alter table %s.%s: %w", db, name, ErrNotFound)
	}
	c.logger.Debug("altered table", "table", tableKey(db, name), "location", table.Location)
	return nil
}

// DropTable removes the table and its partitions from the catalog. The
// catalog holds no data of its own, so deleteData only matters to callers
// that pair the drop with a storage deletion.
func (c *PostgresClient) DropTable(ctx context.Context, db, name string, deleteData, ignoreUnknown bool) error {
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM _catalog_tables WHERE database_name = $1 AND table_name = $2`, db, name)
	if err != nil {
		return classify(fmt.Sprintf("drop table %s.%s", db, name), err)
	}
	if tag.RowsAffected() == 0 && !ignoreUnknown {
		return fmt.Errorf("drop table %s.%s: %w", db, name, ErrNotFound)
	}
	c.logger.Debug("dropped table", "table", tableKey(db, name), "delete_data", deleteData)
	return nil
}

func (c *PostgresClient) ListPartitionNames(ctx context.Context, db, name string, limit int) ([]string, error) {
	if _, err := c.GetTable(ctx, db, name); err != nil {
		return nil, err
	}

	// LIMIT NULL means no limit.
	var lim *int64
	if limit >= 0 {
		l := int64(limit)
		lim = &l
	}

	rows, err := c.pool.Query(ctx, `
		SELECT partition_name FROM _catalog_partitions
		WHERE database_name = $1 AND table_name = $2
		ORDER BY partition_name
		LIMIT $3
	`, db, name, lim)
	if err != nil {
		return nil, classify(fmt.Sprintf("list partitions of %s.%s", db, name), err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan partition names: %w", err)
	}
	return names, nil
}

func (c *PostgresClient) GetPartitionsByNames(ctx context.Context, db, name string, names []string) ([]Partition, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT part_values::text, location, columns::text, parameters::text
		FROM _catalog_partitions
		WHERE database_name = $1 AND table_name = $2 AND partition_name = ANY($3)
		ORDER BY array_position($3, partition_name)
	`, db, name, names)
	if err != nil {
		return nil, classify(fmt.Sprintf("get partitions of %s.%s", db, name), err)
	}
	defer rows.Close()

	var out []Partition
	for rows.Next() {
		p := Partition{DatabaseName: db, TableName: name}
		var values, cols, params string
		if err := rows.Scan(&values, &p.Location, &cols, &params); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		if err := decodeJSON(values, &p.Values); err != nil {
			return nil, fmt.Errorf("decode partition values: %w", err)
		}
		if err := decodeJSON(cols, &p.Columns); err != nil {
			return nil, fmt.Errorf("decode partition columns: %w", err)
		}
		if err := decodeJSON(params, &p.Parameters); err != nil {
			return nil, fmt.Errorf("decode partition parameters: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddPartitions inserts all partitions in a single transaction.
func (c *PostgresClient) AddPartitions(ctx context.Context, partitions []Partition) error {
	if len(partitions) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		keys := make(map[string][]Column)
		b := &pgx.Batch{}
		for i := range partitions {
			p := &partitions[i]
			tk := tableKey(p.DatabaseName, p.TableName)
			pk, ok := keys[tk]
			if !ok {
				t, err := c.GetTable(ctx, p.DatabaseName, p.TableName)
				if err != nil {
					return fmt.Errorf("add partitions: %w", err)
				}
				pk = t.PartitionKeys
				keys[tk] = pk
			}
			args, err := partitionArgs(p, PartitionName(pk, p.Values))
			if err != nil {
				return err
			}
			b.Queue(`
				INSERT INTO _catalog_partitions (
					database_name, table_name, partition_name, part_values,
					location, columns, parameters
				)
				VALUES ($1, $2, $3, $4::jsonb, $5, $6::jsonb, $7::jsonb)
			`, args...)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return classify("add partitions", err)
		}
		return nil
	})
}

// AlterPartitions replaces the given partitions in a single transaction.
// Every partition must already exist.
func (c *PostgresClient) AlterPartitions(ctx context.Context, db, name string, partitions []Partition) error {
	if len(partitions) == 0 {
		return nil
	}
	t, err := c.GetTable(ctx, db, name)
	if err != nil {
		return fmt.Errorf("alter partitions: %w", err)
	}
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		for i := range partitions {
			pname := PartitionName(t.PartitionKeys, partitions[i].Values)
			p := partitions[i]
			p.DatabaseName, p.TableName = db, name
			args, err := partitionArgs(&p, pname)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `
				UPDATE _catalog_partitions SET
					part_values = $4::jsonb,
					location = $5,
					columns = $6::jsonb,
					parameters = $7::jsonb,
					updated_at = NOW()
				WHERE database_name = $1 AND table_name = $2 AND partition_name = $3
			`, args...)
			if err != nil {
				return classify("alter partition "+pname, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("alter partition %s of %s.%s: %w", pname, db, name, ErrNotFound)
			}
		}
		return nil
	})
}

// Close releases database connections.
func (c *PostgresClient) Close() error {
	c.pool.Close()
	return nil
}

func tableArgs(t *Table) ([]any, error) {
	cols, err := encodeJSON(t.Columns, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode columns: %w", err)
	}
	keys, err := encodeJSON(t.PartitionKeys, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode partition keys: %w", err)
	}
	params, err := encodeJSON(t.Parameters, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	return []any{t.DatabaseName, t.TableName, t.TableType, t.Location, cols, keys, params}, nil
}

func partitionArgs(p *Partition, pname string) ([]any, error) {
	values, err := encodeJSON(p.Values, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode partition values: %w", err)
	}
	cols, err := encodeJSON(p.Columns, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode partition columns: %w", err)
	}
	params, err := encodeJSON(p.Parameters, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode partition parameters: %w", err)
	}
	return []any{p.DatabaseName, p.TableName, pname, values, p.Location, cols, params}, nil
}

func encodeJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if s := string(b); s != "null" {
		return s, nil
	}
	return empty, nil
}

func decodeJSON[T any](s string, out *T) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

// classify maps driver errors onto the catalog sentinels.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
