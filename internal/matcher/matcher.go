package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/example/carpool-matching/internal/config"
	"github.com/example/carpool-matching/internal/dispatch"
	"github.com/example/carpool-matching/internal/events"
	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/storage"
)

// Engine owns the pending queue and the periodic matching cycle.
//
// Enqueue and Cancel expect the caller to hold the user's lock from Locks;
// the cycle takes the same locks for every member of a group it commits.
type Engine struct {
	Queue    storage.PendingQueue
	Groups   storage.GroupStore
	Locks    storage.Locker
	Notifier dispatch.Notifier
	Profiles dispatch.ProfileLookup
	Events   events.Publisher
	Config   config.MatchingConfig

	// CallTimeout bounds each notification and profile lookup.
	CallTimeout time.Duration
	// LockTimeout bounds how long the cycle waits for a member's lock.
	LockTimeout time.Duration

	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger

	running atomic.Bool
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

// Enqueue adds a pending request for userID. It fails with
// models.ErrAlreadyMatched when the user sits in an open group and with
// models.ErrAlreadyQueued when a request is already pending.
func (e *Engine) Enqueue(ctx context.Context, userID string, dest models.Coord, passengers int) error {
	if passengers < 1 || passengers > MaxSeats {
		return fmt.Errorf("%w: passengers %d outside 1..%d", models.ErrInvalidFormat, passengers, MaxSeats)
	}
	if err := geo.ValidCoord(dest); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidFormat, err)
	}
	if _, err := e.Groups.OpenGroupForUser(ctx, userID); err == nil {
		return models.ErrAlreadyMatched
	} else if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("lookup open group: %w", err)
	}

	d := dest
	err := e.Queue.Enqueue(ctx, models.PendingRequest{
		UserID:      userID,
		Destination: &d,
		Passengers:  passengers,
		EnqueuedAt:  e.now(),
	})
	if err != nil {
		return err
	}
	e.logger().Info("request queued", "user_id", userID, "passengers", passengers)
	return nil
}

// Cancel withdraws the user's pending request, or reports models.ErrNotFound.
func (e *Engine) Cancel(ctx context.Context, userID string) error {
	removed, err := e.Queue.Remove(ctx, userID)
	if err != nil {
		return fmt.Errorf("remove pending request: %w", err)
	}
	if len(removed) == 0 {
		return models.ErrNotFound
	}
	e.logger().Info("request cancelled", "user_id", userID)
	return nil
}

// Pending returns the user's queued request, or models.ErrNotFound.
func (e *Engine) Pending(ctx context.Context, userID string) (*models.PendingRequest, error) {
	return e.Queue.Get(ctx, userID)
}
