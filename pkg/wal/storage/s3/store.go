// Package s3 provides an S3-backed wal.Storage implementation.
//
// Each segment run becomes one object whose key embeds the run's first
// LSN, zero-padded so lexicographic listing order equals log order. S3
// puts are durable on success, so Flush is accounting only.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/ringwal/pkg/wal"
)

// ErrStoreClosed is returned when operations are attempted on a closed
// store.
var ErrStoreClosed = errors.New("s3 store is closed")

// Config holds configuration for the S3 store.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible
	// services).
	Endpoint string

	// KeyPrefix is prepended to all run keys (e.g. "wal/"). Should end
	// with "/" if non-empty.
	KeyPrefix string

	// ForcePathStyle forces path-style addressing (required for
	// Localstack/MinIO).
	ForcePathStyle bool

	// InitialLSN seeds LSN accounting.
	InitialLSN uint64
}

// Store is an S3-backed implementation of wal.Storage.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	mu      sync.Mutex
	handed  uint64
	durable uint64
	closed  bool
}

// New creates a store with an existing S3 client.
func New(client *s3.Client, cfg Config) *Store {
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		handed:    cfg.InitialLSN,
		durable:   cfg.InitialLSN,
	}
}

// NewFromConfig creates a store by building an S3 client from cfg. This
// is the preferred constructor when you don't have an existing client.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 store: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// runKey returns the object key for a run whose first byte is lsn.
func (s *Store) runKey(lsn uint64) string {
	return fmt.Sprintf("%s%020d.run", s.keyPrefix, lsn)
}

// Persist uploads one segment run as a single object.
func (s *Store) Persist(ctx context.Context, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	key := s.runKey(s.handed)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return 0, fmt.Errorf("s3 put object %s: %w", key, err)
	}

	s.handed += uint64(len(data))
	s.durable = s.handed
	return len(data), nil
}

// Flush reports the durable LSN. Successful puts are already durable,
// so there is nothing to force.
func (s *Store) Flush(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return s.durable, nil
}

// Close marks the store closed. The underlying client is shared and is
// not shut down here.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure Store implements wal.Storage.
var _ wal.Storage = (*Store)(nil)
