package publish

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/segmentio/kafka-go"

	"erpsync/internal/model"
)

var created = civil.Date{Year: 2020, Month: time.March, Day: 5}

func events(t *testing.T) []Event {
	t.Helper()
	old := NowUnix
	t.Cleanup(func() { NowUnix = old })
	NowUnix = func() int64 { return 1234 }
	return NewEvents("run-1", "2020-03-05", []*model.Order{
		{Key: "A", Number: "1", Weight: 2, CreatedDate: created},
		{Key: "B", Number: "2", CreatedDate: created},
	})
}

func TestNewEvents(t *testing.T) {
	ev := events(t)
	if len(ev) != 2 || ev[0].RunID != "run-1" || ev[1].Order.Key != "B" || ev[0].PublishedAt != 1234 {
		t.Fatalf("unexpected events: %+v", ev)
	}
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	fs, err := NewFileSink(dir, "orders.jsonl")
	if err != nil {
		t.Fatalf("new file sink: %v", err)
	}
	ev := events(t)
	if err := fs.Write(context.Background(), ev); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fs.Write(context.Background(), ev[:1]); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "orders.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var lines []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 3 || lines[0].Order.Weight != 2 || lines[2].Order.Key != "A" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaSink_KeysByOrder(t *testing.T) {
	fk := &fakeKafkaWriter{}
	if err := NewKafkaSinkWith(fk).Write(context.Background(), events(t)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(fk.msgs) != 2 || string(fk.msgs[0].Key) != "A" || string(fk.msgs[1].Key) != "B" {
		t.Fatalf("unexpected messages: %+v", fk.msgs)
	}
	var e Event
	if err := json.Unmarshal(fk.msgs[0].Value, &e); err != nil || e.ShipmentDate != "2020-03-05" {
		t.Fatalf("bad payload: %s err=%v", fk.msgs[0].Value, err)
	}

	if err := NewKafkaSinkWith(fk).Write(context.Background(), nil); err != nil || len(fk.msgs) != 2 {
		t.Fatalf("empty write should be a no-op")
	}
}

func TestMultiSink_PropagatesError(t *testing.T) {
	first := &fakeKafkaWriter{}
	ms := NewMultiSink(NewKafkaSinkWith(first), NewKafkaSinkWith(&fakeKafkaWriter{fail: true}))
	if err := ms.Write(context.Background(), events(t)); err == nil {
		t.Fatalf("expected error")
	}
	if len(first.msgs) != 2 {
		t.Fatalf("first sink should have been written")
	}
}

func TestKafkaSink_CloseClosesWriter(t *testing.T) {
	fk := &fakeKafkaWriter{}
	if err := NewKafkaSinkWith(fk).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !fk.closed {
		t.Fatalf("writer was not closed")
	}
}
