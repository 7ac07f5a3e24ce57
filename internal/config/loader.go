package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Load reads configuration from a file and applies environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile parses an HCL configuration file.
func loadFromFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", path)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	diags = gohcl.DecodeBody(file.Body, nil, cfg)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides with an INGESTD_ prefix.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("INGESTD_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("INGESTD_SERVER_STATUS_AUTH_SECRET"); val != "" {
		cfg.Server.StatusAuthSecret = val
	}

	if val := os.Getenv("INGESTD_EXTRACTS_PATH"); val != "" {
		cfg.Extracts.Path = val
	}
	if val := os.Getenv("INGESTD_EXTRACTS_WHERE"); val != "" {
		cfg.Extracts.Where = strings.Split(val, ",")
	}
	if val := os.Getenv("INGESTD_EXTRACTS_SOURCE_UPDATE"); val != "" {
		cfg.Extracts.SourceUpdate = parseBool(val)
	}
	if val := os.Getenv("INGESTD_EXTRACTS_PBF_DIR"); val != "" {
		cfg.Extracts.PBFDir = val
	}

	if val := os.Getenv("INGESTD_IMPORTER_EXECUTABLE"); val != "" {
		cfg.Importer.Executable = val
	}
	if val := os.Getenv("INGESTD_IMPORTER_MAPPING_PATH"); val != "" {
		cfg.Importer.MappingPath = val
	}
	if val := os.Getenv("INGESTD_IMPORTER_CONFIG_PATH"); val != "" {
		cfg.Importer.ConfigPath = val
	}
	if val := os.Getenv("INGESTD_IMPORTER_CACHE_DIR"); val != "" {
		cfg.Importer.CacheDir = val
	}
	if val := os.Getenv("INGESTD_IMPORTER_DIFF_DIR"); val != "" {
		cfg.Importer.DiffDir = val
	}
	if val := os.Getenv("INGESTD_IMPORTER_EXPIRE_DIR"); val != "" {
		cfg.Importer.ExpireDir = val
	}
	if val := os.Getenv("INGESTD_IMPORTER_SKIP_IMPORT"); val != "" {
		cfg.Importer.SkipImport = parseBool(val)
	}
	if val := os.Getenv("INGESTD_IMPORTER_UPDATE_MODEL"); val != "" {
		cfg.Importer.UpdateModel = val
	}

	if val := os.Getenv("INGESTD_DATABASE_DSN"); val != "" {
		cfg.Database.DSN = val
	}
	if val := os.Getenv("INGESTD_DATABASE_DSN_INIT"); val != "" {
		cfg.Database.DSNInit = val
	}
	if val := os.Getenv("INGESTD_DATABASE_INGEST_DIR"); val != "" {
		cfg.Database.IngestDir = val
	}
	if val := os.Getenv("INGESTD_DATABASE_PROVISION"); val != "" {
		cfg.Database.Provision = parseBool(val)
	}
	if val := os.Getenv("INGESTD_DATABASE_DYNAMIC_DB"); val != "" {
		cfg.Database.DynamicDB = parseBool(val)
	}

	if val := os.Getenv("INGESTD_EXTRADATA_DIR"); val != "" {
		cfg.ExtraData.Dir = val
	}
	if val := os.Getenv("INGESTD_EXTRADATA_STORAGE_TYPE"); val != "" {
		cfg.ExtraData.StorageType = val
	}
	if val := os.Getenv("INGESTD_EXTRADATA_BUCKET"); val != "" {
		cfg.ExtraData.Bucket = val
	}
	if val := os.Getenv("INGESTD_EXTRADATA_REGION"); val != "" {
		cfg.ExtraData.Region = val
	}
	if val := os.Getenv("INGESTD_EXTRADATA_ENDPOINT"); val != "" {
		cfg.ExtraData.Endpoint = val
	}
	if val := os.Getenv("INGESTD_EXTRADATA_PREFIX"); val != "" {
		cfg.ExtraData.Prefix = val
	}

	if val := os.Getenv("INGESTD_REGISTRY_NAMESPACE"); val != "" {
		cfg.Registry.Namespace = val
	}
	if val := os.Getenv("INGESTD_REGISTRY_DEPLOYMENT_TEMPLATE_PATH"); val != "" {
		cfg.Registry.DeploymentTemplatePath = val
	}
	if val := os.Getenv("INGESTD_REGISTRY_STATUS_WRITES_PER_SECOND"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Registry.StatusWritesPerSecond = f
		}
	}
	if val := os.Getenv("INGESTD_REGISTRY_STATUS_WRITES_BURST"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Registry.StatusWritesBurst = n
		}
	}
	if val := os.Getenv("INGESTD_REGISTRY_STATUS_RETRY_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Registry.StatusRetryAttempts = n
		}
	}

	if val := os.Getenv("INGESTD_CACHE_SNAPSHOT_TTL_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Cache.SnapshotTTLSeconds = n
		}
	}

	if val := os.Getenv("INGESTD_LOOP_CYCLE_DELAY_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Loop.CycleDelaySeconds = n
		}
	}
	if val := os.Getenv("INGESTD_LOOP_RESCAN_DELAY_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Loop.RescanDelaySeconds = n
		}
	}
	if val := os.Getenv("INGESTD_LOOP_ALWAYS_UPDATE"); val != "" {
		cfg.Loop.AlwaysUpdate = parseBool(val)
	}
	if val := os.Getenv("INGESTD_LOOP_SHUTDOWN_TIMEOUT_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Loop.ShutdownTimeoutSeconds = n
		}
	}

	if val := os.Getenv("INGESTD_LOGGING_VERBOSE"); val != "" {
		cfg.Logging.Verbose = parseBool(val)
	}
	if val := os.Getenv("INGESTD_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("INGESTD_TELEMETRY_ENABLED"); val != "" {
		cfg.Telemetry.Enabled = parseBool(val)
	}

	if val := os.Getenv("INGESTD_AUDIT_PATH"); val != "" {
		cfg.Audit.Path = val
	}
	if val := os.Getenv("INGESTD_AUDIT_RETENTION_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Audit.RetentionDays = n
		}
	}
}

// parseBool parses a boolean value from string (supports true/false, yes/no, 1/0).
func parseBool(val string) bool {
	val = strings.ToLower(strings.TrimSpace(val))
	return val == "true" || val == "yes" || val == "1"
}
