package config

import (
	"fmt"
	"strings"
)

// Validate checks if the configuration is valid.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateExtracts(&cfg.Extracts); err != nil {
		return fmt.Errorf("extracts config: %w", err)
	}

	if err := validateImporter(&cfg.Importer); err != nil {
		return fmt.Errorf("importer config: %w", err)
	}

	if err := validateDatabase(&cfg.Database); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := validateExtraData(&cfg.ExtraData); err != nil {
		return fmt.Errorf("extra_data config: %w", err)
	}

	if err := validateRegistry(&cfg.Registry); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if err := validateCache(&cfg.Cache); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := validateLoop(&cfg.Loop); err != nil {
		return fmt.Errorf("loop config: %w", err)
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := validateAudit(&cfg.Audit); err != nil {
		return fmt.Errorf("audit config: %w", err)
	}

	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.MetricsPort < 1 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be between 1 and 65535, got %d", cfg.MetricsPort)
	}
	return nil
}

func validateExtracts(cfg *ExtractsConfig) error {
	if cfg.Path == "" {
		return fmt.Errorf("path is required")
	}
	if cfg.PBFDir == "" {
		return fmt.Errorf("pbf_dir is required")
	}
	return nil
}

func validateImporter(cfg *ImporterConfig) error {
	if cfg.Executable == "" {
		return fmt.Errorf("executable is required")
	}
	if cfg.CacheDir == "" {
		return fmt.Errorf("cache_dir is required")
	}

	validModels := []string{"none", "imposmauto", "importloop"}
	if !contains(validModels, cfg.UpdateModel) {
		return fmt.Errorf("update_model must be one of %v, got %s", validModels, cfg.UpdateModel)
	}

	return nil
}

func validateDatabase(cfg *DatabaseConfig) error {
	if cfg.DSN == "" {
		return fmt.Errorf("dsn is required")
	}

	if cfg.Provision && cfg.DSNInit == "" {
		return fmt.Errorf("dsn_init is required when provision is enabled")
	}

	return nil
}

func validateExtraData(cfg *ExtraDataConfig) error {
	if cfg.StorageType == "" {
		return nil
	}

	validTypes := []string{"local", "s3"}
	if !contains(validTypes, cfg.StorageType) {
		return fmt.Errorf("storage_type must be one of %v, got %s", validTypes, cfg.StorageType)
	}

	if cfg.StorageType == "s3" {
		if cfg.Bucket == "" {
			return fmt.Errorf("bucket is required for s3 extra-data storage")
		}
		if cfg.Region == "" && cfg.Endpoint == "" {
			return fmt.Errorf("either region or endpoint must be specified for s3 extra-data storage")
		}
	}

	return nil
}

func validateRegistry(cfg *RegistryConfig) error {
	if cfg.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if cfg.StatusWritesPerSecond <= 0 {
		return fmt.Errorf("status_writes_per_second must be positive")
	}
	if cfg.StatusWritesBurst < 1 {
		return fmt.Errorf("status_writes_burst must be at least 1")
	}
	if cfg.StatusRetryAttempts < 0 {
		return fmt.Errorf("status_retry_attempts cannot be negative")
	}
	return nil
}

func validateCache(cfg *CacheConfig) error {
	if cfg.SnapshotTTLSeconds < 0 {
		return fmt.Errorf("snapshot_ttl_seconds cannot be negative")
	}
	return nil
}

func validateLoop(cfg *LoopConfig) error {
	if cfg.CycleDelaySeconds < 1 {
		return fmt.Errorf("cycle_delay_seconds must be at least 1")
	}
	if cfg.RescanDelaySeconds < 1 {
		return fmt.Errorf("rescan_delay_seconds must be at least 1")
	}
	if cfg.ShutdownTimeoutSeconds < 1 {
		return fmt.Errorf("shutdown_timeout_seconds must be at least 1")
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if cfg.Format == "" {
		return nil
	}
	validFormats := []string{"text", "json"}
	if !contains(validFormats, cfg.Format) {
		return fmt.Errorf("logging format must be one of %v, got %s", validFormats, cfg.Format)
	}
	return nil
}

func validateAudit(cfg *AuditConfig) error {
	if cfg.Path == "" {
		return fmt.Errorf("path is required")
	}
	if cfg.RetentionDays < 0 {
		return fmt.Errorf("retention_days cannot be negative")
	}
	return nil
}

// contains checks if a string slice contains a value, case-insensitively.
func contains(slice []string, val string) bool {
	val = strings.ToLower(val)
	for _, item := range slice {
		if strings.ToLower(item) == val {
			return true
		}
	}
	return false
}
