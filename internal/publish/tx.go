package publish

import (
	"context"
	"encoding/json"
	"fmt"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// txProducer is the subset of *ck.Producer the transactional sink needs.
type txProducer interface {
	BeginTransaction() error
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	Close()
}

// TxSink writes all events of a run in one Kafka transaction, so consumers
// reading with isolation.level=read_committed see the whole run or nothing.
type TxSink struct {
	producer txProducer
	topic    string
}

// NewTxSink creates an idempotent transactional producer and initialises its transactions.
func NewTxSink(ctx context.Context, bootstrap, topic, txID string) (*TxSink, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"enable.idempotence": true,
		"acks":               "all",
		"transactional.id":   txID,
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	if err := p.InitTransactions(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("init tx: %w", err)
	}
	return &TxSink{producer: p, topic: topic}, nil
}

// NewTxSinkWith is only for tests to inject a fake producer.
func NewTxSinkWith(p txProducer, topic string) *TxSink {
	return &TxSink{producer: p, topic: topic}
}

func (t *TxSink) Close() { t.producer.Close() }

func (t *TxSink) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := t.producer.BeginTransaction(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for i := range events {
		b, err := json.Marshal(&events[i])
		if err != nil {
			return t.abort(ctx, fmt.Errorf("marshal: %w", err))
		}
		msg := &ck.Message{
			TopicPartition: ck.TopicPartition{Topic: &t.topic, Partition: ck.PartitionAny},
			Key:            []byte(events[i].Order.Key),
			Value:          b,
		}
		if err := t.producer.Produce(msg, nil); err != nil {
			return t.abort(ctx, fmt.Errorf("produce %s: %w", events[i].Order.Key, err))
		}
	}
	if err := t.producer.CommitTransaction(ctx); err != nil {
		return t.abort(ctx, fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (t *TxSink) abort(ctx context.Context, cause error) error {
	if err := t.producer.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("%w (abort failed: %v)", cause, err)
	}
	return cause
}
