package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"erpsync/internal/aggregate"
	"erpsync/internal/batch"
	"erpsync/internal/logging"
	"erpsync/internal/manifest"
	"erpsync/internal/metrics"
	"erpsync/internal/odata"
	"erpsync/internal/pipeline"
	"erpsync/internal/publish"
	"erpsync/internal/schema"
	"erpsync/internal/snapshot"
	"erpsync/internal/store"
)

// Config holds CLI flags for one sync run.
type Config struct {
	ServiceRoot  string
	Date         string
	BatchSize    int
	Concurrency  int
	OrphanPolicy string
	SchemaFile   string
	HTTPTimeout  time.Duration
	LogLevel     string
	PrintOrders  bool
	// persistence
	StoreBackend string // memory|pebble|badger|bolt
	StoreDir     string
	SnapshotDir  string
	ManifestSink string // none|file|kafka|both
	// delivery
	PublishSink    string // none|file|kafka|kafka-tx|both
	PublishDir     string
	KafkaBootstrap string
	TopicOrders    string
	TopicManifest  string
	TxID           string
	MetricsAddr    string
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
	if err := run(ctx, cfg, logger.Named("ordersync")); err != nil {
		logger.Error("ordersync failed", zap.Error(err))
		os.Exit(1)
	}
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.ServiceRoot, "service-root", "http://localhost:8081/odata/standard.odata/", "OData service root")
	flag.StringVar(&cfg.Date, "date", civil.DateOf(time.Now()).String(), "shipment date, YYYY-MM-DD")
	flag.IntVar(&cfg.BatchSize, "batch-size", batch.DefaultSize, "order keys per line-item request")
	flag.IntVar(&cfg.Concurrency, "concurrency", 1, "line-item batches fetched at once")
	flag.StringVar(&cfg.OrphanPolicy, "orphans", "drop", "line items without an order: drop|fail")
	flag.StringVar(&cfg.SchemaFile, "schema", "", "YAML schema overrides (entity sets, field names, units)")
	flag.DurationVar(&cfg.HTTPTimeout, "http-timeout", 0, "per-request timeout, 0 disables")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "debug|info|warn|error")
	flag.BoolVar(&cfg.PrintOrders, "print", false, "write assembled orders as JSON to stdout")
	flag.StringVar(&cfg.StoreBackend, "store", "memory", "order store: memory|pebble|badger|bolt")
	flag.StringVar(&cfg.StoreDir, "store-dir", "./data/orders", "order store directory")
	flag.StringVar(&cfg.SnapshotDir, "snapshot-dir", "./snapshots", "snapshot directory, empty disables")
	flag.StringVar(&cfg.ManifestSink, "manifest-sink", "file", "manifest sink: none|file|kafka|both")
	flag.StringVar(&cfg.PublishSink, "publish", "none", "order sink: none|file|kafka|kafka-tx|both")
	flag.StringVar(&cfg.PublishDir, "publish-dir", "./out", "directory for the file sink")
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", "", "kafka bootstrap servers, e.g. localhost:9092")
	flag.StringVar(&cfg.TopicOrders, "topic-orders", "erpsync.orders", "kafka topic for assembled orders")
	flag.StringVar(&cfg.TopicManifest, "topic-manifest", "erpsync.manifest", "kafka topic for the manifest (compacted)")
	flag.StringVar(&cfg.TxID, "tx-id", "erpsync-1", "transactional id for the kafka-tx sink")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve /metrics on this address while running")
	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	date, err := civil.ParseDate(cfg.Date)
	if err != nil {
		return fmt.Errorf("parse -date: %w", err)
	}
	policy, err := aggregate.ParseOrphanPolicy(cfg.OrphanPolicy)
	if err != nil {
		return err
	}
	sch, err := schema.Load(cfg.SchemaFile)
	if err != nil {
		return err
	}

	mreg := metrics.NewRegistry()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(mreg)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	st, closeStore, err := store.Open(cfg.StoreBackend, cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeStore()

	sink, closeSink, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()
	mani, closeManifest, err := buildManifestPublisher(cfg)
	if err != nil {
		return err
	}
	defer closeManifest()

	client := odata.NewClient(
		odata.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		odata.WithLogger(logger.Named("odata")),
	)
	p, err := pipeline.New(client, sch, pipeline.Config{
		ServiceRoot:  cfg.ServiceRoot,
		BatchSize:    cfg.BatchSize,
		Concurrency:  cfg.Concurrency,
		OrphanPolicy: policy,
	}, pipeline.WithLogger(logger), pipeline.WithMetrics(mreg))
	if err != nil {
		return err
	}

	res, err := p.Run(ctx, date)
	if err != nil {
		return err
	}
	orders := res.Ordered()

	if err := store.ReplaceAll(st, orders); err != nil {
		return fmt.Errorf("store orders: %w", err)
	}
	if cfg.SnapshotDir != "" {
		snap := snapshot.NewFilesystemSnapshotter(cfg.SnapshotDir)
		if err := snap.WriteSnapshot(res.RunID, st); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		if mani != nil {
			m := manifest.Manifest{
				RunID:         res.RunID,
				ShipmentDate:  date.String(),
				Orders:        len(orders),
				OrphanItems:   res.OrphanItems,
				TotalWeight:   res.TotalWeight,
				ElapsedMillis: res.Elapsed.Milliseconds(),
			}
			if err := mani.PublishLatest(ctx, m); err != nil {
				return fmt.Errorf("publish manifest: %w", err)
			}
		}
		logger.Info("snapshot published", zap.String("run_id", res.RunID))
	}
	if sink != nil {
		if err := sink.Write(ctx, publish.NewEvents(res.RunID, date.String(), orders)); err != nil {
			return fmt.Errorf("publish orders: %w", err)
		}
		mreg.Published.Add(float64(len(orders)))
	}

	if cfg.PrintOrders {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(orders); err != nil {
			return fmt.Errorf("print orders: %w", err)
		}
	}
	fmt.Fprintf(os.Stderr, "Finished - %.3fs, %d orders, total weight %.3f\n", res.Elapsed.Seconds(), len(orders), res.TotalWeight)
	return nil
}

func metricsMux(mreg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mreg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})
	return mux
}

func buildSink(ctx context.Context, cfg Config) (publish.Sink, func(), error) {
	noop := func() {}
	needKafka := cfg.PublishSink == "kafka" || cfg.PublishSink == "kafka-tx" || cfg.PublishSink == "both"
	if needKafka && cfg.KafkaBootstrap == "" {
		return nil, noop, fmt.Errorf("-publish=%s needs -kafka-bootstrap", cfg.PublishSink)
	}
	switch cfg.PublishSink {
	case "", "none":
		return nil, noop, nil
	case "file":
		fs, err := publish.NewFileSink(cfg.PublishDir, "orders.jsonl")
		if err != nil {
			return nil, noop, fmt.Errorf("init file sink: %w", err)
		}
		return fs, noop, nil
	case "kafka":
		ks := publish.NewKafkaSink(cfg.KafkaBootstrap, cfg.TopicOrders)
		return ks, closer(ks), nil
	case "kafka-tx":
		tx, err := publish.NewTxSink(ctx, cfg.KafkaBootstrap, cfg.TopicOrders, cfg.TxID)
		if err != nil {
			return nil, noop, fmt.Errorf("init tx sink: %w", err)
		}
		return tx, tx.Close, nil
	case "both":
		fs, err := publish.NewFileSink(cfg.PublishDir, "orders.jsonl")
		if err != nil {
			return nil, noop, fmt.Errorf("init file sink: %w", err)
		}
		ks := publish.NewKafkaSink(cfg.KafkaBootstrap, cfg.TopicOrders)
		return publish.NewMultiSink(fs, ks), closer(ks), nil
	}
	return nil, noop, fmt.Errorf("unknown -publish %q", cfg.PublishSink)
}

func buildManifestPublisher(cfg Config) (manifest.Publisher, func(), error) {
	noop := func() {}
	fs := manifest.NewFilesystemManifest(cfg.SnapshotDir)
	switch cfg.ManifestSink {
	case "none":
		return nil, noop, nil
	case "", "file":
		return fs, noop, nil
	case "kafka", "both":
	default:
		return nil, noop, fmt.Errorf("unknown -manifest-sink %q", cfg.ManifestSink)
	}
	if cfg.KafkaBootstrap == "" {
		return nil, noop, fmt.Errorf("-manifest-sink=%s needs -kafka-bootstrap", cfg.ManifestSink)
	}
	km := manifest.NewKafkaManifest(cfg.KafkaBootstrap, cfg.TopicManifest, manifest.DefaultKafkaKey)
	if cfg.ManifestSink == "both" {
		return manifest.MultiPublisher(fs, km), closer(km), nil
	}
	return km, closer(km), nil
}

// closer adapts a Close method to a deferrable func.
func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}
