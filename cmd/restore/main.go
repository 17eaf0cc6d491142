package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"erpsync/internal/logging"
	"erpsync/internal/manifest"
	"erpsync/internal/metrics"
	"erpsync/internal/restore"
	"erpsync/internal/store"
)

// Config holds CLI flags for the restore loop.
type Config struct {
	KafkaBootstrap string
	ManifestSource string // file|kafka
	TopicManifest  string
	SnapshotDir    string
	StoreBackend   string
	StoreDir       string
	HTTPAddr       string
	PollInterval   time.Duration
	Once           bool
	LogLevel       string
}

func main() {
	cfg := readFlags()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger.Named("restore"), metrics.NewRegistry()); err != nil {
		logger.Error("restore failed", zap.Error(err))
		os.Exit(1)
	}
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", "localhost:9092", "kafka bootstrap")
	flag.StringVar(&cfg.ManifestSource, "manifest-source", "file", "file|kafka")
	flag.StringVar(&cfg.TopicManifest, "topic-manifest", "erpsync.manifest", "manifest topic")
	flag.StringVar(&cfg.SnapshotDir, "snapshot-dir", "./snapshots", "snapshot dir")
	flag.StringVar(&cfg.StoreBackend, "store", "pebble", "order store: memory|pebble|badger|bolt")
	flag.StringVar(&cfg.StoreDir, "store-dir", "./data/orders", "order store directory")
	flag.StringVar(&cfg.HTTPAddr, "http", ":9090", "http listen for /metrics")
	flag.DurationVar(&cfg.PollInterval, "poll", 10*time.Second, "manifest poll interval")
	flag.BoolVar(&cfg.Once, "once", false, "restore once and exit")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "debug|info|warn|error")
	flag.Parse()
	return cfg
}

// run restores the latest snapshot into the store, then keeps polling the
// manifest until ctx ends. With cfg.Once it returns after the first cycle.
func run(ctx context.Context, cfg Config, logger *zap.Logger, mreg *metrics.Registry) error {
	if !cfg.Once && cfg.HTTPAddr != "" {
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mreg.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	var mReader manifest.Reader
	if cfg.ManifestSource == "kafka" {
		mReader = manifest.NewKafkaReader(cfg.KafkaBootstrap, cfg.TopicManifest, manifest.DefaultKafkaKey)
	} else {
		mReader = manifest.NewFilesystemManifest(cfg.SnapshotDir)
	}

	st, closeStore, err := store.Open(cfg.StoreBackend, cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	r := restore.NewRestorer(st, mReader, cfg.SnapshotDir, logger)
	var lastRun string
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		t1 := time.Now()
		res, err := r.RestoreLatest(ctx)
		switch {
		case err != nil:
			logger.Warn("restore cycle failed", zap.Error(err))
		case res.Manifest.RunID == lastRun:
			logger.Debug("manifest unchanged", zap.String("run_id", lastRun))
		default:
			lastRun = res.Manifest.RunID
			mreg.Restored.Add(float64(res.Loaded))
			mreg.RestoreSec.Set(time.Since(t1).Seconds())
			mreg.LastManifestAgeSec.Set(time.Since(time.Unix(res.Manifest.CreatedAtEpochSecond, 0)).Seconds())
			logger.Info("restore cycle",
				zap.String("run_id", res.Manifest.RunID),
				zap.String("shipment_date", res.Manifest.ShipmentDate),
				zap.Int("loaded", res.Loaded),
				zap.Bool("snapshot_missing", res.Missing),
				zap.Duration("took", time.Since(t1)))
		}
		if cfg.Once {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
