package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/models"
)

type recordingPublisher struct {
	got []models.GroupEvent
	err error
}

func (r *recordingPublisher) Publish(ctx context.Context, e models.GroupEvent) error {
	r.got = append(r.got, e)
	return r.err
}

func TestFanoutReachesEveryPublisher(t *testing.T) {
	broken := &recordingPublisher{err: errors.New("broker down")}
	ok := &recordingPublisher{}
	f := Fanout{broken, ok}

	err := f.Publish(context.Background(), models.GroupEvent{Type: models.EventGroupFormed, GroupID: "g1"})
	if err == nil {
		t.Fatal("expected the broken publisher's error")
	}
	if len(ok.got) != 1 || len(broken.got) != 1 {
		t.Fatalf("every publisher must see the event: ok=%d broken=%d", len(ok.got), len(broken.got))
	}
}

func TestEmitToleratesNilAndFailingPublishers(t *testing.T) {
	Emit(context.Background(), nil, models.GroupEvent{Type: models.EventMemberLeft}, logging.Discard())
	p := &recordingPublisher{err: errors.New("nope")}
	Emit(context.Background(), p, models.GroupEvent{Type: models.EventMemberLeft}, logging.Discard())
	if len(p.got) != 1 {
		t.Fatalf("got %d events", len(p.got))
	}
}

func TestKafkaPublisherFlushesSingleWritesPromptly(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "carpool-group-events", time.Second)
	defer p.Close()
	if p.writer.BatchTimeout <= 0 || p.writer.BatchTimeout > 50*time.Millisecond {
		t.Fatalf("batch timeout = %s, a lone event would wait for the batch to fill", p.writer.BatchTimeout)
	}
	if p.writer.Async {
		t.Fatal("writer must report delivery errors synchronously")
	}
}
