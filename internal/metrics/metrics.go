package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg            *prometheus.Registry
	Runs           prometheus.Counter
	RunFailures    prometheus.Counter
	RunDurationSec prometheus.Histogram
	Batches        prometheus.Counter
	Records        *prometheus.CounterVec
	FetchLatency   *prometheus.HistogramVec
	Orphans        prometheus.Counter
	Duplicates     prometheus.Counter
	LastOrders     prometheus.Gauge
	LastWeight     prometheus.Gauge

	// restore loop
	Restored           prometheus.Counter
	RestoreSec         prometheus.Gauge
	LastManifestAgeSec prometheus.Gauge
	Published          prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	runs := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_runs_total"})
	failures := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_run_failures_total"})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "erpsync_run_duration_seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	batches := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_line_item_batches_total"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "erpsync_records_decoded_total"}, []string{"entity"})
	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "erpsync_fetch_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"entity_set"})
	orphans := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_orphan_line_items_total"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_duplicate_orders_total"})
	lastOrders := prometheus.NewGauge(prometheus.GaugeOpts{Name: "erpsync_last_run_orders"})
	lastWeight := prometheus.NewGauge(prometheus.GaugeOpts{Name: "erpsync_last_run_weight"})

	restored := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_restored_orders_total"})
	restoreSec := prometheus.NewGauge(prometheus.GaugeOpts{Name: "erpsync_restore_seconds"})
	lastAge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "erpsync_last_manifest_age_seconds"})
	published := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_published_orders_total"})

	r.MustRegister(runs, failures, runDuration, batches, records, fetchLatency, orphans, duplicates,
		lastOrders, lastWeight, restored, restoreSec, lastAge, published)
	return &Registry{
		reg:                r,
		Runs:               runs,
		RunFailures:        failures,
		RunDurationSec:     runDuration,
		Batches:            batches,
		Records:            records,
		FetchLatency:       fetchLatency,
		Orphans:            orphans,
		Duplicates:         duplicates,
		LastOrders:         lastOrders,
		LastWeight:         lastWeight,
		Restored:           restored,
		RestoreSec:         restoreSec,
		LastManifestAgeSec: lastAge,
		Published:          published,
	}
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
