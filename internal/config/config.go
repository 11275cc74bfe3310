// Package config loads the table replicator configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate and Load for unusable settings.
var ErrInvalidConfig = errors.New("invalid config")

// Replication modes.
const (
	ModeFull           = "FULL"
	ModeFullOverwrite  = "FULL_OVERWRITE"
	ModeMetadataUpdate = "METADATA_UPDATE"
)

type Config struct {
	SourceCatalog     CatalogConfig      `yaml:"source_catalog"`
	ReplicaCatalog    CatalogConfig      `yaml:"replica_catalog"`
	Storage           StorageConfig      `yaml:"storage"`
	CopierOptions     map[string]string  `yaml:"copier_options"`
	Logging           LoggingConfig      `yaml:"logging"`
	Metrics           MetricsConfig      `yaml:"metrics"`
	Audit             AuditConfig        `yaml:"audit"`
	Schedule          string             `yaml:"schedule"`
	TableReplications []TableReplication `yaml:"table_replications"`
}

// CatalogConfig selects a catalog. An empty PostgresDSN means an in-process
// memory catalog.
type CatalogConfig struct {
	Name         string `yaml:"name"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	BaseLocation string `yaml:"base_location"` // replica catalog only
}

type StorageConfig struct {
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
	HDFSUser   string `yaml:"hdfs_user"`
}

type LoggingConfig struct {
	Format string `yaml:"format"` // json or text
	Level  string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	Endpoint string `yaml:"endpoint"`
}

// TableReplication describes one source table and where it is replicated to.
type TableReplication struct {
	SourceTable     SourceTable       `yaml:"source_table"`
	ReplicaTable    ReplicaTable      `yaml:"replica_table"`
	ReplicationMode string            `yaml:"replication_mode"`
	CopierOptions   map[string]string `yaml:"copier_options"`
	Housekeeping    bool              `yaml:"housekeeping"`
}

type SourceTable struct {
	DatabaseName    string `yaml:"database_name"`
	TableName       string `yaml:"table_name"`
	PartitionFilter string `yaml:"partition_filter"`
}

type ReplicaTable struct {
	DatabaseName  string `yaml:"database_name"`
	TableName     string `yaml:"table_name"`
	TableLocation string `yaml:"table_location"`
}

// QualifiedName returns db.table of the source.
func (s SourceTable) QualifiedName() string {
	return s.DatabaseName + "." + s.TableName
}

// QualifiedName returns db.table of the replica.
func (r ReplicaTable) QualifiedName() string {
	return r.DatabaseName + "." + r.TableName
}

// Load reads the YAML file at path, applies REPLICATOR_* environment
// overrides and defaults, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode yaml: %w", ErrInvalidConfig, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.SourceCatalog.Name = getenvDefault("REPLICATOR_SOURCE_CATALOG_NAME", c.SourceCatalog.Name)
	c.SourceCatalog.PostgresDSN = getenvDefault("REPLICATOR_SOURCE_CATALOG_DSN", c.SourceCatalog.PostgresDSN)
	c.ReplicaCatalog.Name = getenvDefault("REPLICATOR_REPLICA_CATALOG_NAME", c.ReplicaCatalog.Name)
	c.ReplicaCatalog.PostgresDSN = getenvDefault("REPLICATOR_REPLICA_CATALOG_DSN", c.ReplicaCatalog.PostgresDSN)
	c.ReplicaCatalog.BaseLocation = getenvDefault("REPLICATOR_REPLICA_BASE_LOCATION", c.ReplicaCatalog.BaseLocation)

	c.Storage.S3Endpoint = getenvDefault("REPLICATOR_S3_ENDPOINT", c.Storage.S3Endpoint)
	c.Storage.S3Region = getenvDefault("REPLICATOR_S3_REGION", c.Storage.S3Region)
	c.Storage.HDFSUser = getenvDefault("REPLICATOR_HDFS_USER", c.Storage.HDFSUser)

	c.Logging.Format = getenvDefault("REPLICATOR_LOG_FORMAT", c.Logging.Format)
	c.Logging.Level = getenvDefault("REPLICATOR_LOG_LEVEL", c.Logging.Level)

	c.Metrics.Enabled = parseBool(os.Getenv("REPLICATOR_METRICS_ENABLED"), c.Metrics.Enabled)
	c.Metrics.Address = getenvDefault("REPLICATOR_METRICS_ADDRESS", c.Metrics.Address)

	c.Audit.Enabled = parseBool(os.Getenv("REPLICATOR_AUDIT_ENABLED"), c.Audit.Enabled)
	c.Audit.Dir = getenvDefault("REPLICATOR_AUDIT_DIR", c.Audit.Dir)
	c.Audit.Endpoint = getenvDefault("REPLICATOR_AUDIT_ENDPOINT", c.Audit.Endpoint)

	c.Schedule = getenvDefault("REPLICATOR_SCHEDULE", c.Schedule)
}

func (c *Config) applyDefaults() {
	if c.SourceCatalog.Name == "" {
		c.SourceCatalog.Name = "source"
	}
	if c.ReplicaCatalog.Name == "" {
		c.ReplicaCatalog.Name = "replica"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = "./audit"
	}
	for i := range c.TableReplications {
		tr := &c.TableReplications[i]
		tr.ReplicationMode = strings.ToUpper(tr.ReplicationMode)
		if tr.ReplicationMode == "" {
			tr.ReplicationMode = ModeFull
		}
		if tr.ReplicaTable.DatabaseName == "" {
			tr.ReplicaTable.DatabaseName = tr.SourceTable.DatabaseName
		}
		if tr.ReplicaTable.TableName == "" {
			tr.ReplicaTable.TableName = tr.SourceTable.TableName
		}
	}
}

// Validate checks names, modes, filters and that every replica location can
// be resolved.
func (c Config) Validate() error {
	var errs []error
	for i, tr := range c.TableReplications {
		prefix := fmt.Sprintf("table_replications[%d]", i)
		if tr.SourceTable.DatabaseName == "" || tr.SourceTable.TableName == "" {
			errs = append(errs, fmt.Errorf("%s: source_table database_name and table_name are required", prefix))
		}
		if tr.ReplicaTable.DatabaseName == "" || tr.ReplicaTable.TableName == "" {
			errs = append(errs, fmt.Errorf("%s: replica_table database_name and table_name are required", prefix))
		}
		switch tr.ReplicationMode {
		case ModeFull, ModeFullOverwrite, ModeMetadataUpdate:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown replication_mode %q", prefix, tr.ReplicationMode))
		}
		if tr.SourceTable.PartitionFilter != "" {
			if _, err := regexp.Compile(tr.SourceTable.PartitionFilter); err != nil {
				errs = append(errs, fmt.Errorf("%s: partition_filter: %w", prefix, err))
			}
		}
		if tr.ReplicaTable.TableLocation == "" && c.ReplicaCatalog.BaseLocation == "" {
			errs = append(errs, fmt.Errorf("%s: replica_table.table_location or replica_catalog.base_location is required", prefix))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Find returns the replication whose replica table is db.name.
func (c Config) Find(qualifiedReplica string) (TableReplication, bool) {
	for _, tr := range c.TableReplications {
		if strings.EqualFold(tr.ReplicaTable.QualifiedName(), qualifiedReplica) {
			return tr, true
		}
	}
	return TableReplication{}, false
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
