package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, the optional file at path and
// SEGFETCH_* environment variables, in that order, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromEnvironment(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile decodes YAML or TOML depending on the file extension
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

// loadFromEnvironment applies environment overrides; malformed values are errors
func loadFromEnvironment(cfg *Config) error {
	if v := getenv("PRODUCER_ADDR"); v != "" {
		cfg.Transport.ProducerAddr = v
	}
	if v := getenv("LISTEN_ADDR"); v != "" {
		cfg.Transport.ListenAddr = v
	}
	if v := getenv("ROOT_DIR"); v != "" {
		cfg.Transport.RootDir = v
	}
	if v := getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("FALLBACK_HINT"); v != "" {
		cfg.Manager.FallbackHint = v
	}
	if v := getenv("MAX_PARALLEL_FETCHES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_PARALLEL_FETCHES: %w", EnvPrefix, err)
		}
		cfg.Manager.MaxParallelFetches = n
	}
	if v := getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_RETRIES: %w", EnvPrefix, err)
		}
		cfg.Retry.MaxRetries = n
	}
	if v := getenv("RETRY_PRESET"); v != "" {
		cfg.Retry.Preset = v
	}
	if v := getenv("INACTIVITY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sINACTIVITY_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Fetch.InactivityTimeout = d
	}
	if v := getenv("SEGMENT_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSEGMENT_SIZE: %w", EnvPrefix, err)
		}
		cfg.Transport.SegmentSize = n
	}
	if v := getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sCACHE_TTL: %w", EnvPrefix, err)
		}
		cfg.Transport.CacheTTL = d
	}
	return nil
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}
