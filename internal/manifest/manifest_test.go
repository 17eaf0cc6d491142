package manifest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestPublishAndReadLatest(t *testing.T) {
	old := Now
	defer func() { Now = old }()
	Now = func() time.Time { return time.Unix(1700000000, 0) }

	dir := t.TempDir()
	m := NewFilesystemManifest(dir)
	if err := m.PublishLatest(context.Background(), Manifest{RunID: "run-123", Orders: 4, TotalWeight: 12.5}); err != nil {
		t.Fatalf("PublishLatest error: %v", err)
	}
	got, err := m.ReadLatest(context.Background())
	if err != nil {
		t.Fatalf("ReadLatest error: %v", err)
	}
	if got.RunID != "run-123" || got.Orders != 4 || got.TotalWeight != 12.5 || got.CreatedAtEpochSecond != 1700000000 {
		t.Fatalf("unexpected manifest: %+v", got)
	}
}

func TestReadLatest_Missing(t *testing.T) {
	if _, err := NewFilesystemManifest(t.TempDir()).ReadLatest(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

// fakeKafkaWriter implements kafkaMessageWriter for tests
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

func TestKafkaManifest_CloseClosesWriter(t *testing.T) {
	fk := &fakeKafkaWriter{}
	if err := NewKafkaManifestWith(fk, DefaultKafkaKey).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !fk.closed {
		t.Fatalf("writer was not closed")
	}
}

func TestKafkaManifest_PublishLatest_Success(t *testing.T) {
	fk := &fakeKafkaWriter{}
	km := NewKafkaManifestWith(fk, DefaultKafkaKey)
	if err := km.PublishLatest(context.Background(), Manifest{RunID: "run-abc"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fk.msgs) != 1 {
		t.Fatalf("want 1 msg, got %d", len(fk.msgs))
	}
	if string(fk.msgs[0].Key) != DefaultKafkaKey {
		t.Fatalf("bad key: %s", string(fk.msgs[0].Key))
	}
}

func TestKafkaManifest_PublishLatest_Fail(t *testing.T) {
	fk := &fakeKafkaWriter{fail: true}
	km := NewKafkaManifestWith(fk, DefaultKafkaKey)
	if err := km.PublishLatest(context.Background(), Manifest{RunID: "run-abc"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiPublisher_StopsOnFirstError(t *testing.T) {
	ok := &fakeKafkaWriter{}
	bad := &fakeKafkaWriter{fail: true}
	after := &fakeKafkaWriter{}
	mp := MultiPublisher(NewKafkaManifestWith(ok, "k"), NewKafkaManifestWith(bad, "k"), NewKafkaManifestWith(after, "k"))
	if err := mp.PublishLatest(context.Background(), Manifest{RunID: "r"}); err == nil {
		t.Fatalf("expected error")
	}
	if len(ok.msgs) != 1 || len(after.msgs) != 0 {
		t.Fatalf("unexpected writes: ok=%d after=%d", len(ok.msgs), len(after.msgs))
	}
}

// fakeKafkaReader replays msgs and then blocks until the read context ends.
type fakeKafkaReader struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		return m, nil
	}
	if f.err != nil {
		return kafka.Message{}, f.err
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeKafkaReader) Close() error {
	f.closed = true
	return nil
}

func TestKafkaReader_KeepsLastMatchingRecord(t *testing.T) {
	fr := &fakeKafkaReader{msgs: []kafka.Message{
		{Key: []byte(DefaultKafkaKey), Value: []byte(`{"runId":"old"}`)},
		{Key: []byte("other"), Value: []byte(`not json`)},
		{Key: []byte(DefaultKafkaKey), Value: []byte(`{"runId":"new","orders":3}`)},
	}}
	got, err := NewKafkaReaderWith(fr, DefaultKafkaKey, 20*time.Millisecond).ReadLatest(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.RunID != "new" || got.Orders != 3 {
		t.Fatalf("unexpected manifest: %+v", got)
	}
	if !fr.closed {
		t.Fatalf("reader not closed")
	}
}

func TestKafkaReader_Errors(t *testing.T) {
	_, err := NewKafkaReaderWith(&fakeKafkaReader{}, DefaultKafkaKey, 10*time.Millisecond).ReadLatest(context.Background())
	if err == nil {
		t.Fatalf("empty topic should fail")
	}

	fr := &fakeKafkaReader{err: errors.New("broker down")}
	if _, err := NewKafkaReaderWith(fr, DefaultKafkaKey, time.Second).ReadLatest(context.Background()); err == nil {
		t.Fatalf("read error should surface")
	}

	fr = &fakeKafkaReader{msgs: []kafka.Message{{Key: []byte(DefaultKafkaKey), Value: []byte(`{`)}}}
	if _, err := NewKafkaReaderWith(fr, DefaultKafkaKey, 10*time.Millisecond).ReadLatest(context.Background()); err == nil {
		t.Fatalf("bad json should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewKafkaReaderWith(&fakeKafkaReader{}, DefaultKafkaKey, time.Second).ReadLatest(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
}
