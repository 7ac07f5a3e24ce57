// Package config holds the ingestion daemon's immutable configuration.
//
// A Config is built once at startup (flags > environment > HCL file >
// defaults) and passed by value into every component from then on. Nothing
// in this package mutates a Config after Load returns it; per-database
// values (such as the importer's target DSN during materialize) are passed
// as explicit parameters to the components that need them instead of being
// written back onto a shared object.
package config

import "time"

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `hcl:"server,block"`
	Extracts  ExtractsConfig  `hcl:"extracts,block"`
	Importer  ImporterConfig  `hcl:"importer,block"`
	Database  DatabaseConfig  `hcl:"database,block"`
	ExtraData ExtraDataConfig `hcl:"extra_data,block"`
	Registry  RegistryConfig  `hcl:"registry,block"`
	Cache     CacheConfig     `hcl:"cache,block"`
	Loop      LoopConfig      `hcl:"loop,block"`
	Logging   LoggingConfig   `hcl:"logging,block"`
	Telemetry TelemetryConfig `hcl:"telemetry,block"`
	Audit     AuditConfig     `hcl:"audit,block"`
}

// ServerConfig contains the telemetry/status HTTP server settings.
type ServerConfig struct {
	MetricsPort      int    `hcl:"metrics_port,optional"`
	StatusAuthSecret string `hcl:"status_auth_secret,optional"`
}

// ExtractsConfig describes where the extract list comes from and how it is
// filtered before a cycle runs.
type ExtractsConfig struct {
	Path         string   `hcl:"path,optional"`
	Where        []string `hcl:"where,optional"`
	SourceUpdate bool     `hcl:"source_update,optional"`
	PBFDir       string   `hcl:"pbf_dir,optional"`
}

// ImporterConfig contains imposm3 invocation settings.
type ImporterConfig struct {
	Executable  string `hcl:"executable,optional"`
	MappingPath string `hcl:"mapping_path,optional"`
	ConfigPath  string `hcl:"config_path,optional"`
	CacheDir    string `hcl:"cache_dir,optional"`
	DiffDir     string `hcl:"diff_dir,optional"`
	ExpireDir   string `hcl:"expire_dir,optional"`
	SkipImport  bool   `hcl:"skip_import,optional"`
	UpdateModel string `hcl:"update_model,optional"` // none, imposmauto, importloop
}

// DatabaseConfig contains the default (non-dynamic) connection settings and
// the directory holding the re-runnable SQL helper bodies.
type DatabaseConfig struct {
	DSN       string `hcl:"dsn,optional"`
	DSNInit   string `hcl:"dsn_init,optional"`
	IngestDir string `hcl:"ingest_dir,optional"` // postgis-vt-util.sql, tilefunc.sql
	Provision bool   `hcl:"provision,optional"`
	DynamicDB bool   `hcl:"dynamic_db,optional"`
}

// ExtraDataConfig describes the optional non-OSM CSV staging directory and
// where it is synced from.
type ExtraDataConfig struct {
	Dir         string `hcl:"dir,optional"`
	StorageType string `hcl:"storage_type,optional"` // "local" or "s3"
	Bucket      string `hcl:"bucket,optional"`
	Region      string `hcl:"region,optional"`
	Endpoint    string `hcl:"endpoint,optional"`
	Prefix      string `hcl:"prefix,optional"`
}

// RegistryConfig contains Kubernetes fleet-registry settings.
type RegistryConfig struct {
	Namespace              string  `hcl:"namespace,optional"`
	DeploymentTemplatePath string  `hcl:"deployment_template_path,optional"`
	StatusWritesPerSecond  float64 `hcl:"status_writes_per_second,optional"`
	StatusWritesBurst      int     `hcl:"status_writes_burst,optional"`
	StatusRetryAttempts    int     `hcl:"status_retry_attempts,optional"`
}

// CacheConfig controls the registry snapshot cache.
type CacheConfig struct {
	SnapshotTTLSeconds int `hcl:"snapshot_ttl_seconds,optional"`
}

// LoopConfig contains control-loop scheduling settings.
type LoopConfig struct {
	CycleDelaySeconds     int  `hcl:"cycle_delay_seconds,optional"`
	RescanDelaySeconds    int  `hcl:"rescan_delay_seconds,optional"`
	AlwaysUpdate          bool `hcl:"always_update,optional"`
	ShutdownTimeoutSeconds int `hcl:"shutdown_timeout_seconds,optional"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Verbose bool   `hcl:"verbose,optional"`
	Format  string `hcl:"format,optional"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Enabled bool `hcl:"enabled,optional"`
}

// AuditConfig contains the local reconcile-audit log settings.
type AuditConfig struct {
	Path            string `hcl:"path,optional"`
	RetentionDays   int    `hcl:"retention_days,optional"`
}

// DefaultConfig returns a configuration with sensible defaults, mirroring
// the flag defaults of the original ingestion engine.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			MetricsPort: 8000,
		},
		Extracts: ExtractsConfig{
			Path:         "extracts.json",
			Where:        []string{},
			SourceUpdate: true,
			PBFDir:       ".",
		},
		Importer: ImporterConfig{
			Executable:  "imposm",
			MappingPath: "mapping.yml",
			ConfigPath:  "config.json",
			CacheDir:    "/tmp/imposm3",
			DiffDir:     "/tmp/imposm3_diffdir",
			ExpireDir:   "/tmp/imposm3_expiredir",
			UpdateModel: "none",
		},
		Database: DatabaseConfig{
			DSN:     "host=localhost user=osm password=osm dbname=osm",
			DSNInit: "host=localhost dbname=postgres",
		},
		ExtraData: ExtraDataConfig{
			StorageType: "local",
		},
		Registry: RegistryConfig{
			Namespace:             "default",
			StatusWritesPerSecond: 5,
			StatusWritesBurst:     10,
			StatusRetryAttempts:   5,
		},
		Cache: CacheConfig{
			SnapshotTTLSeconds: 20,
		},
		Loop: LoopConfig{
			CycleDelaySeconds:     28800,
			RescanDelaySeconds:    60,
			ShutdownTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
		Audit: AuditConfig{
			Path:          "ingestd-audit.db",
			RetentionDays: 30,
		},
	}
}

// CycleDelay returns the outer fetch cadence as a duration.
func (c *LoopConfig) CycleDelay() time.Duration {
	return time.Duration(c.CycleDelaySeconds) * time.Second
}

// RescanDelay returns the inner reconcile cadence as a duration.
func (c *LoopConfig) RescanDelay() time.Duration {
	return time.Duration(c.RescanDelaySeconds) * time.Second
}

// ShutdownTimeout returns how long Stop waits for in-flight work.
func (c *LoopConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// SnapshotTTL returns the registry snapshot cache TTL as a duration.
func (c *CacheConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSeconds) * time.Second
}

// RetentionPeriod returns the audit log retention window as a duration.
func (c *AuditConfig) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
