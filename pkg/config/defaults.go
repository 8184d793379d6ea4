package config

import (
	"fmt"

	"github.com/marmos91/ringwal/internal/bytesize"
)

// Default values applied when the config file omits a setting.
const (
	DefaultLogLevel      = "INFO"
	DefaultLogFormat     = "text"
	DefaultLogOutput     = "stderr"
	DefaultSegments      = 4
	DefaultBackend       = "fs"
	DefaultMetricsListen = ":9465"
)

// DefaultSegmentSize is the per-segment buffer capacity when not
// configured.
const DefaultSegmentSize = 16 * bytesize.MiB

// GetDefaultConfig returns a fully populated configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if cfg.WAL.Segments == 0 {
		cfg.WAL.Segments = DefaultSegments
	}
	if cfg.WAL.SegmentSize == 0 {
		cfg.WAL.SegmentSize = DefaultSegmentSize
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultBackend
	}
	if cfg.Storage.Backend == "fs" && cfg.Storage.FS.Path == "" {
		cfg.Storage.FS.Path = "./ringwal-data"
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsListen
	}
}

// Validate checks the configuration for inconsistencies.
func Validate(cfg *Config) error {
	if cfg.WAL.Segments < 2 {
		return fmt.Errorf("wal.segments must be at least 2, got %d", cfg.WAL.Segments)
	}
	if cfg.WAL.SegmentSize < 1 {
		return fmt.Errorf("wal.segment_size must be positive")
	}

	switch cfg.Storage.Backend {
	case "memory", "null":
	case "fs":
		if cfg.Storage.FS.Path == "" {
			return fmt.Errorf("storage.fs.path is required for the fs backend")
		}
	case "badger":
		if cfg.Storage.Badger.Path == "" {
			return fmt.Errorf("storage.badger.path is required for the badger backend")
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}

	return nil
}
