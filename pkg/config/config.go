// Package config loads and validates the ringwal configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (RINGWAL_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/ringwal/internal/bytesize"
)

// Config represents the ringwal configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// WAL configures the in-memory segment ring
	WAL WALConfig `mapstructure:"wal" yaml:"wal"`

	// Storage selects and configures the durable back-end
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	// Level is the minimum level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "text" or "json"
	Format string `mapstructure:"format" yaml:"format"`

	// Output is "stdout", "stderr", or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// WALConfig configures the segment ring.
type WALConfig struct {
	// InitialLSN is the LSN of the first appended byte.
	InitialLSN uint64 `mapstructure:"initial_lsn" yaml:"initial_lsn"`

	// Segments is the ring size (at least 2).
	Segments int `mapstructure:"segments" yaml:"segments"`

	// SegmentSize is the per-segment buffer capacity. Accepts
	// human-readable sizes like "16Mi".
	SegmentSize bytesize.ByteSize `mapstructure:"segment_size" yaml:"segment_size"`
}

// StorageConfig selects the durable back-end.
type StorageConfig struct {
	// Backend is one of: memory, fs, badger, s3, null
	Backend string `mapstructure:"backend" yaml:"backend"`

	// FS configures the mmap file back-end
	FS FSStorageConfig `mapstructure:"fs" yaml:"fs,omitempty"`

	// Badger configures the BadgerDB back-end
	Badger BadgerStorageConfig `mapstructure:"badger" yaml:"badger,omitempty"`

	// S3 configures the S3 back-end
	S3 S3StorageConfig `mapstructure:"s3" yaml:"s3,omitempty"`
}

// FSStorageConfig configures the mmap file back-end.
type FSStorageConfig struct {
	// Path is the directory holding the log file.
	Path string `mapstructure:"path" yaml:"path"`

	// InitialSize is the initial file size. Accepts human-readable
	// sizes like "64Mi".
	InitialSize bytesize.ByteSize `mapstructure:"initial_size" yaml:"initial_size,omitempty"`
}

// BadgerStorageConfig configures the BadgerDB back-end.
type BadgerStorageConfig struct {
	// Path is the BadgerDB directory.
	Path string `mapstructure:"path" yaml:"path"`

	// SyncWrites makes every commit fsync instead of deferring to
	// Flush.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// S3StorageConfig configures the S3 back-end.
type S3StorageConfig struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	KeyPrefix      string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns the metrics registry and HTTP endpoint on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddress is the host:port the /metrics endpoint binds to.
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// Load reads configuration from the given path, applies environment
// overrides and defaults, and validates the result. An empty path loads
// defaults plus environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RINGWAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every key so environment-only overrides are visible to
	// Unmarshal even without a config file.
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.output", DefaultLogOutput)
	v.SetDefault("wal.initial_lsn", 0)
	v.SetDefault("wal.segments", DefaultSegments)
	v.SetDefault("wal.segment_size", uint64(DefaultSegmentSize))
	v.SetDefault("storage.backend", DefaultBackend)
	v.SetDefault("storage.fs.path", "")
	v.SetDefault("storage.fs.initial_size", 0)
	v.SetDefault("storage.badger.path", "")
	v.SetDefault("storage.badger.sync_writes", false)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.key_prefix", "")
	v.SetDefault("storage.s3.force_path_style", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_address", DefaultMetricsListen)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to path in YAML format, creating parent
// directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return byteSizeDecodeHook()
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize,
// so config files can use sizes like "16Mi" or plain byte counts.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
