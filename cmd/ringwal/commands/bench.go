package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marmos91/ringwal/internal/logger"
	"github.com/marmos91/ringwal/pkg/bufpool"
	"github.com/marmos91/ringwal/pkg/config"
	"github.com/marmos91/ringwal/pkg/metrics"
	"github.com/marmos91/ringwal/pkg/wal"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/ringwal/pkg/metrics/prometheus"
)

var (
	benchWriters int
	benchAppends int
	benchSize    int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a concurrent append benchmark",
	Long: `Drive the log with concurrent writers against the configured storage
back-end and report throughput.

Examples:
  # 8 writers, 100k appends each, 256-byte payloads, defaults (fs backend)
  ringwal bench

  # In-memory backend, larger payloads
  RINGWAL_STORAGE_BACKEND=memory ringwal bench --size 4096`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchWriters, "writers", 8, "Number of concurrent writers")
	benchCmd.Flags().IntVar(&benchAppends, "appends", 100000, "Appends per writer")
	benchCmd.Flags().IntVar(&benchSize, "size", 256, "Payload size in bytes")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config(cfg.Logging)); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var walMetrics wal.Metrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		walMetrics = metrics.NewWALMetrics()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.ListenAddress, mux); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		logger.Info("Metrics server listening", "address", cfg.Metrics.ListenAddress)
	}

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.Warn("Storage close failed", "error", err)
		}
	}()

	log, err := wal.New(wal.Config{
		InitialLSN:  cfg.WAL.InitialLSN,
		Segments:    cfg.WAL.Segments,
		SegmentSize: cfg.WAL.SegmentSize.Int(),
		Storage:     storage,
		Metrics:     walMetrics,
	})
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger.Info("Starting benchmark",
		"run", runID,
		"backend", cfg.Storage.Backend,
		"writers", benchWriters,
		"appends", benchAppends,
		"payloadBytes", benchSize,
		"segments", cfg.WAL.Segments,
		"segmentSize", cfg.WAL.SegmentSize.String())

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)

	start := time.Now()

	for w := 0; w < benchWriters; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			payload := bufpool.Get(benchSize)
			defer bufpool.Put(payload)
			for i := range payload {
				payload[i] = byte('a' + id%26)
			}

			for i := 0; i < benchAppends; i++ {
				if _, err := log.Append(ctx, payload); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					return
				}
			}
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(start)

	if firstErr != nil {
		return fmt.Errorf("benchmark aborted: %w", firstErr)
	}

	// Make the tail durable before reading final numbers.
	if err := log.Rotate(ctx); err != nil {
		return fmt.Errorf("final rotation: %w", err)
	}
	durable, err := log.Flush(ctx)
	if err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	stats := log.Stats()
	seconds := elapsed.Seconds()
	mib := float64(stats.AppendedBytes) / float64(1<<20)

	logger.Info("Benchmark complete",
		"run", runID,
		"elapsed", elapsed.Round(time.Millisecond),
		"appends", stats.Appends,
		"rotations", stats.Rotations,
		"durableLSN", durable)

	fmt.Printf("appends:    %d\n", stats.Appends)
	fmt.Printf("bytes:      %d (%.1f MiB)\n", stats.AppendedBytes, mib)
	fmt.Printf("rotations:  %d\n", stats.Rotations)
	fmt.Printf("elapsed:    %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("throughput: %.1f MiB/s, %.0f appends/s\n", mib/seconds, float64(stats.Appends)/seconds)

	return nil
}
