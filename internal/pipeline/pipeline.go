// Package pipeline fetches orders for a shipment date, fetches their line
// items in key batches, and assembles the weighted result.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"erpsync/internal/aggregate"
	"erpsync/internal/batch"
	"erpsync/internal/mapper"
	"erpsync/internal/metrics"
	"erpsync/internal/model"
	"erpsync/internal/odata"
	"erpsync/internal/schema"
)

var tracer = otel.Tracer("erpsync/internal/pipeline")

// Fetcher returns the records matching one query. Any error is fatal to the run.
type Fetcher interface {
	FetchEntities(ctx context.Context, q odata.Query) ([]*odata.Record, error)
}

// Config holds per-deployment knobs.
type Config struct {
	ServiceRoot  string
	BatchSize    int
	Concurrency  int // batches fetched at once; <=1 means sequential
	OrphanPolicy aggregate.OrphanPolicy
}

type Pipeline struct {
	fetcher Fetcher
	schema  schema.Schema
	mapper  *mapper.Mapper
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *metrics.Registry) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func New(f Fetcher, s schema.Schema, cfg Config, opts ...Option) (*Pipeline, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil fetcher", odata.ErrInvalidArgument)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = batch.DefaultSize
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size %d", odata.ErrInvalidArgument, cfg.BatchSize)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", odata.ErrInvalidArgument, err)
	}
	p := &Pipeline{
		fetcher: f,
		schema:  s,
		mapper:  mapper.New(s),
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Result is the outcome of one successful run.
type Result struct {
	RunID        string
	ShipmentDate civil.Date
	Keys         []string
	Orders       map[string]*model.Order
	Batches      int
	Duplicates   int
	Collisions   int
	OrphanKeys   []string
	OrphanItems  int
	TotalWeight  float64
	Elapsed      time.Duration
}

// Ordered returns orders in the order they were first fetched.
func (r *Result) Ordered() []*model.Order {
	out := make([]*model.Order, 0, len(r.Keys))
	for _, k := range r.Keys {
		out = append(out, r.Orders[k])
	}
	return out
}

// Run executes one full sync for date. It returns either a complete result or the first error.
func (p *Pipeline) Run(ctx context.Context, date civil.Date) (*Result, error) {
	start := p.now()
	runID := ulid.Make().String()
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("shipment_date", date.String()),
	))
	defer span.End()

	log := p.logger.With(zap.String("run_id", runID), zap.Stringer("shipment_date", date))
	res, err := p.run(ctx, log, date)
	elapsed := p.now().Sub(start)
	if p.metrics != nil {
		p.metrics.Runs.Inc()
		p.metrics.RunDurationSec.Observe(elapsed.Seconds())
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.RunFailures.Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return nil, err
	}
	res.RunID = runID
	res.ShipmentDate = date
	res.Elapsed = elapsed
	if p.metrics != nil {
		p.metrics.LastOrders.Set(float64(len(res.Keys)))
		p.metrics.LastWeight.Set(res.TotalWeight)
	}
	log.Info("run finished",
		zap.Int("orders", len(res.Keys)),
		zap.Int("batches", res.Batches),
		zap.Int("orphan_items", res.OrphanItems),
		zap.Float64("total_weight", res.TotalWeight),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, date civil.Date) (*Result, error) {
	orders, err := p.fetchOrders(ctx, log, date)
	if err != nil {
		return nil, err
	}
	if d := orders.Duplicates(); d > 0 {
		log.Warn("duplicate order keys dropped", zap.Int("duplicates", d))
		if p.metrics != nil {
			p.metrics.Duplicates.Add(float64(d))
		}
	}

	batches, err := batch.Partition(orders.Keys(), p.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	groups, err := p.fetchLineItems(ctx, log, batches)
	if err != nil {
		return nil, err
	}

	// Merge in batch order so first-seen-wins does not depend on completion order.
	merged := make(aggregate.LineItemIndex)
	collisions := 0
	for _, g := range groups {
		collisions += aggregate.MergeFirstSeen(merged, g)
	}
	if collisions > 0 {
		log.Warn("line item groups seen in more than one batch", zap.Int("collisions", collisions))
	}

	out, err := aggregate.Aggregate(orders, merged, p.cfg.OrphanPolicy)
	if len(out.OrphanKeys) > 0 {
		log.Warn("orphan line items",
			zap.String("policy", p.cfg.OrphanPolicy.String()),
			zap.Int("keys", len(out.OrphanKeys)),
			zap.Int("items", out.OrphanItems))
		if p.metrics != nil {
			p.metrics.Orphans.Add(float64(out.OrphanItems))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return &Result{
		Keys:        orders.Keys(),
		Orders:      orders.Map(),
		Batches:     len(batches),
		Duplicates:  orders.Duplicates(),
		Collisions:  collisions,
		OrphanKeys:  out.OrphanKeys,
		OrphanItems: out.OrphanItems,
		TotalWeight: out.TotalWeight,
	}, nil
}

func (p *Pipeline) fetchOrders(ctx context.Context, log *zap.Logger, date civil.Date) (*aggregate.OrderSet, error) {
	q := p.schema.OrderQuery(p.cfg.ServiceRoot, date)
	records, err := p.fetch(ctx, log, q)
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	set := aggregate.NewOrderSet()
	for i, rec := range records {
		key, o, err := p.mapper.MapOrder(rec)
		if err != nil {
			return nil, fmt.Errorf("map order %d: %w", i, err)
		}
		set.Add(key, o)
	}
	p.countRecords("order", len(records))
	return set, nil
}

func (p *Pipeline) fetchLineItems(ctx context.Context, log *zap.Logger, batches [][]string) ([]aggregate.LineItemIndex, error) {
	groups := make([]aggregate.LineItemIndex, len(batches))
	if p.cfg.Concurrency <= 1 {
		for i, keys := range batches {
			g, err := p.fetchBatch(ctx, log, i, keys)
			if err != nil {
				return nil, err
			}
			groups[i] = g
		}
		return groups, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Concurrency)
	for i, keys := range batches {
		i, keys := i, keys
		eg.Go(func() error {
			g, err := p.fetchBatch(egCtx, log, i, keys)
			if err != nil {
				return err
			}
			groups[i] = g
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return groups, nil
}

func (p *Pipeline) fetchBatch(ctx context.Context, log *zap.Logger, idx int, keys []string) (aggregate.LineItemIndex, error) {
	q, err := p.schema.LineItemQuery(p.cfg.ServiceRoot, keys)
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", idx, err)
	}
	records, err := p.fetch(ctx, log.With(zap.Int("batch", idx), zap.Int("keys", len(keys))), q)
	if err != nil {
		return nil, fmt.Errorf("fetch line items batch %d: %w", idx, err)
	}
	keyed := make([]aggregate.Keyed, 0, len(records))
	for i, rec := range records {
		parent, item, err := p.mapper.MapLineItem(rec)
		if err != nil {
			return nil, fmt.Errorf("map line item %d of batch %d: %w", i, idx, err)
		}
		keyed = append(keyed, aggregate.Keyed{Key: parent, Item: item})
	}
	p.countRecords("line_item", len(records))
	if p.metrics != nil {
		p.metrics.Batches.Inc()
	}
	return aggregate.GroupLineItems(keyed), nil
}

func (p *Pipeline) fetch(ctx context.Context, log *zap.Logger, q odata.Query) ([]*odata.Record, error) {
	ctx, span := tracer.Start(ctx, "odata.Fetch", trace.WithAttributes(attribute.String("entity_set", q.EntitySet)))
	defer span.End()

	log.Info("fetch", zap.String("query", q.String()))
	t0 := p.now()
	records, err := p.fetcher.FetchEntities(ctx, q)
	if p.metrics != nil {
		p.metrics.FetchLatency.WithLabelValues(q.EntitySet).Observe(p.now().Sub(t0).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

func (p *Pipeline) countRecords(entity string, n int) {
	if p.metrics != nil {
		p.metrics.Records.WithLabelValues(entity).Add(float64(n))
	}
}
