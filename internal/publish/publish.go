// Package publish delivers assembled orders to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"erpsync/internal/model"
)

// Event is one order as emitted after a successful run.
type Event struct {
	RunID        string      `json:"runId"`
	ShipmentDate string      `json:"shipmentDate"`
	Order        model.Order `json:"order"`
	PublishedAt  int64       `json:"publishedAt"`
}

// NowUnix returns current time in epoch seconds. Split for testability.
var NowUnix = func() int64 { return time.Now().UTC().Unix() }

// NewEvents wraps the orders of one run.
func NewEvents(runID, shipmentDate string, orders []*model.Order) []Event {
	ts := NowUnix()
	out := make([]Event, 0, len(orders))
	for _, o := range orders {
		out = append(out, Event{RunID: runID, ShipmentDate: shipmentDate, Order: *o, PublishedAt: ts})
	}
	return out
}

// Sink receives the events of one run at once.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// MultiSink fans out writes to multiple underlying sinks.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(ss ...Sink) *MultiSink {
	return &MultiSink{sinks: ss}
}

func (m *MultiSink) Write(ctx context.Context, events []Event) error {
	for _, s := range m.sinks {
		if err := s.Write(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

// FileSink appends events as JSON lines.
type FileSink struct {
	path string
}

func NewFileSink(dir string, filename string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileSink{path: filepath.Join(dir, filename)}, nil
}

func (w *FileSink) Write(_ context.Context, events []Event) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
	}
	return nil
}

// KafkaSink publishes one message per order keyed by order key. Pure-Go client (segmentio/kafka-go).
type KafkaSink struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaSink creates a Kafka sink.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaSink(bootstrap string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

// NewKafkaSinkWith is only for tests to inject a fake writer.
func NewKafkaSinkWith(w kafkaMessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for i := range events {
		b, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(events[i].Order.Key), Value: b})
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func splitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}
