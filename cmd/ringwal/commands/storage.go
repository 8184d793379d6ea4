package commands

import (
	"context"
	"fmt"

	"github.com/marmos91/ringwal/pkg/config"
	"github.com/marmos91/ringwal/pkg/wal"
	badgerstore "github.com/marmos91/ringwal/pkg/wal/storage/badger"
	fsstore "github.com/marmos91/ringwal/pkg/wal/storage/fs"
	memorystore "github.com/marmos91/ringwal/pkg/wal/storage/memory"
	s3store "github.com/marmos91/ringwal/pkg/wal/storage/s3"
)

// openStorage builds the configured storage back-end. The returned
// closer releases back-end resources once the log is quiesced.
func openStorage(ctx context.Context, cfg *config.Config) (wal.Storage, func() error, error) {
	switch cfg.Storage.Backend {
	case "null":
		return wal.NewNullStorage(cfg.WAL.InitialLSN), func() error { return nil }, nil

	case "memory":
		s := memorystore.New(cfg.WAL.InitialLSN)
		return s, s.Close, nil

	case "fs":
		s, err := fsstore.Open(fsstore.Config{
			Path:        cfg.Storage.FS.Path,
			InitialLSN:  cfg.WAL.InitialLSN,
			InitialSize: cfg.Storage.FS.InitialSize.Int(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open fs storage: %w", err)
		}
		return s, s.Close, nil

	case "badger":
		s, err := badgerstore.Open(badgerstore.Config{
			Path:       cfg.Storage.Badger.Path,
			InitialLSN: cfg.WAL.InitialLSN,
			SyncWrites: cfg.Storage.Badger.SyncWrites,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open badger storage: %w", err)
		}
		return s, s.Close, nil

	case "s3":
		s, err := s3store.NewFromConfig(ctx, s3store.Config{
			Bucket:         cfg.Storage.S3.Bucket,
			Region:         cfg.Storage.S3.Region,
			Endpoint:       cfg.Storage.S3.Endpoint,
			KeyPrefix:      cfg.Storage.S3.KeyPrefix,
			ForcePathStyle: cfg.Storage.S3.ForcePathStyle,
			InitialLSN:     cfg.WAL.InitialLSN,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open s3 storage: %w", err)
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}
}
