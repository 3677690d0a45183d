package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/models"
)

// fakeSink implements storage.EventSink for tests
type fakeSink struct {
	fail   int // number of calls to fail before succeeding
	calls  int
	stored []models.GroupEvent
}

func (f *fakeSink) RecordGroupEvent(ctx context.Context, e models.GroupEvent) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("insert failed")
	}
	f.stored = append(f.stored, e)
	return nil
}

// scriptedReader replays messages, then cancels the consume loop.
type scriptedReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.cancel()
		return kafka.Message{}, io.EOF
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestRecordWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeSink{fail: 2}
	e := models.GroupEvent{Type: models.EventGroupFormed, GroupID: "g1"}
	start := time.Now()
	if err := recordWithRetry(context.Background(), f, e, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 || len(f.stored) != 1 {
		t.Fatalf("expected retries, got calls=%d stored=%d", f.calls, len(f.stored))
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestRecordWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeSink{fail: 5}
	if err := recordWithRetry(context.Background(), f, models.GroupEvent{Type: models.EventMemberLeft}, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d", f.calls)
	}
}

func TestConsumeStoresValidEventsAndSkipsInvalid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
		{Value: []byte(`{"type":"group_formed","group_id":"g1","members":["a","b"],"at":"2024-05-01T08:00:00Z"}`)},
		{Value: []byte(`not json`)},
		{Value: []byte(`{"group_id":"g2"}`)},
		{Value: []byte(`{"type":"request_timed_out","user_id":"u9"}`)},
	}}
	f := &fakeSink{}
	consume(ctx, r, f, logging.Discard())

	if len(f.stored) != 2 {
		t.Fatalf("stored = %+v", f.stored)
	}
	if f.stored[0].GroupID != "g1" || len(f.stored[0].Members) != 2 {
		t.Fatalf("first event = %+v", f.stored[0])
	}
	if f.stored[1].At.IsZero() {
		t.Fatalf("missing timestamp must be filled in: %+v", f.stored[1])
	}
}
