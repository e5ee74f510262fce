package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

var recordColumns = []string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("booking", "b-1", "scheduling.booking.created.v1", map[string]string{"id": "b-1"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if string(evt.Payload) != `{"id":"b-1"}` {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
	if _, err := NewEvent("x", "y", "z", func() {}); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("booking", "b-1", "scheduling.booking.created.v1", []byte(`{}`), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	evt := Event{AggregateType: "booking", AggregateID: "b-1", EventType: "scheduling.booking.created.v1", Payload: []byte(`{}`)}
	if err := NewRepository().Insert(context.Background(), mock, evt); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPublishBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(recordColumns).
			AddRow(int64(1), "evt-1", "booking", "b-1", "scheduling.booking.created.v1", []byte(`{"a":1}`), "", "", now).
			AddRow(int64(2), "evt-2", "booking", "b-2", "scheduling.booking.cancelled.v1", []byte(`{"a":2}`), "", "", now))
	mock.ExpectExec("UPDATE outbox_events").
		WithArgs([]int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	writer := &fakeWriter{}
	pub := NewPublisher(mock, NewRepository(), writer, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{BatchSize: 10})
	n, err := pub.PublishBatch(context.Background())
	if err != nil {
		t.Fatalf("PublishBatch failed: %v", err)
	}
	if n != 2 || len(writer.msgs) != 2 {
		t.Fatalf("expected 2 published messages, got n=%d msgs=%d", n, len(writer.msgs))
	}
	if writer.msgs[1].Topic != "scheduling.booking.cancelled.v1" || string(writer.msgs[1].Key) != "b-2" {
		t.Fatalf("unexpected message %+v", writer.msgs[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPublishBatchWriterFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows(recordColumns).
			AddRow(int64(7), "evt-7", "booking", "b-7", "scheduling.booking.created.v1", []byte(`{}`), "", "", time.Now()))
	mock.ExpectRollback()

	writer := &fakeWriter{err: errors.New("broker down")}
	pub := NewPublisher(mock, NewRepository(), writer, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{})
	if _, err := pub.PublishBatch(context.Background()); err == nil {
		t.Fatal("expected writer error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
