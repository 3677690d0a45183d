package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/storage"
)

// Publisher fans group lifecycle events out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e models.GroupEvent) error
}

// Fanout publishes to every target and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e models.GroupEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkPublisher writes events straight into a store, for deployments without Kafka.
type SinkPublisher struct {
	Sink storage.EventSink
}

func (s SinkPublisher) Publish(ctx context.Context, e models.GroupEvent) error {
	return s.Sink.RecordGroupEvent(ctx, e)
}

// Emit publishes best-effort: a failure is logged and otherwise ignored.
func Emit(ctx context.Context, p Publisher, e models.GroupEvent, logger *slog.Logger) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil && logger != nil {
		logger.Warn("group event publish failed", "type", e.Type, "group_id", e.GroupID, "error", err)
	}
}
