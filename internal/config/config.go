// Package config loads the hub configuration from unshub.yaml, environment
// variables (UNSHUB_ prefix) and defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full hub configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Storage   StorageConfig    `mapstructure:"storage"`
	Pipeline  PipelineConfig   `mapstructure:"pipeline"`
	Hierarchy HierarchyConfig  `mapstructure:"hierarchy"`
	Connector ConnectorsConfig `mapstructure:"connectors"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `mapstructure:"backend"`
	// Path is the sqlite database file; ":memory:" for ephemeral.
	Path string `mapstructure:"path"`
	// Historical disables historical writes when false.
	Historical bool `mapstructure:"historical"`
}

// PipelineConfig tunes the ingestion pipeline.
type PipelineConfig struct {
	Capacity      int           `mapstructure:"capacity"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	DrainDeadline time.Duration `mapstructure:"drain_deadline"`
}

// HierarchyConfig points at the hierarchy definition file.
type HierarchyConfig struct {
	// File is a YAML hierarchy configuration; empty uses the built-in
	// Enterprise/Site/Area default.
	File string `mapstructure:"file"`
}

// ConnectorsConfig lists the southbound connectors.
type ConnectorsConfig struct {
	NATS []NATSConfig `mapstructure:"nats"`
}

// NATSConfig configures one NATS ingress connector.
type NATSConfig struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Enabled bool   `mapstructure:"enabled"`
}

// Load reads configuration from the given file (optional) plus environment
// and defaults. With an empty path it searches the working directory and
// /etc/unshub for unshub.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("UNSHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("unshub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/unshub")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "unshub.db")
	v.SetDefault("storage.historical", true)
	v.SetDefault("pipeline.capacity", 10000)
	v.SetDefault("pipeline.batch_size", 1000)
	v.SetDefault("pipeline.batch_interval", 2*time.Second)
	v.SetDefault("pipeline.drain_deadline", 10*time.Second)
}

// Validate rejects configurations the hub cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: storage.backend %q is invalid (valid: sqlite, memory)", c.Storage.Backend)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level %q is invalid (valid: debug, info, warn, error)", c.LogLevel)
	}
	if c.Pipeline.Capacity < 0 || c.Pipeline.BatchSize < 0 {
		return fmt.Errorf("config: pipeline sizes must not be negative")
	}
	for i, nc := range c.Connector.NATS {
		if nc.Enabled && nc.URL == "" {
			return fmt.Errorf("config: connectors.nats[%d]: url is required", i)
		}
	}
	return nil
}
