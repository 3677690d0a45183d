package storage

import (
	"context"
	"time"

	"github.com/example/carpool-matching/internal/models"
)

// SessionStore persists per-user conversation records.
type SessionStore interface {
	// GetOrCreateSession returns the user's record, creating an empty one on first contact.
	GetOrCreateSession(ctx context.Context, userID string, now time.Time) (*models.UserSession, error)
	// SaveSession writes s only if the stored Version still equals s.Version,
	// then increments s.Version. A stale write fails with models.ErrConflict.
	SaveSession(ctx context.Context, s *models.UserSession) error
}

// PendingQueue holds at most one outstanding request per user.
type PendingQueue interface {
	// Enqueue fails with models.ErrAlreadyQueued when the user already has an entry.
	Enqueue(ctx context.Context, r models.PendingRequest) error
	Get(ctx context.Context, userID string) (*models.PendingRequest, error)
	// Remove deletes the given users and returns the ones that were actually present.
	Remove(ctx context.Context, userIDs ...string) ([]string, error)
	// List returns every entry ordered by enqueue time.
	List(ctx context.Context) ([]models.PendingRequest, error)
	// RemoveExpired deletes entries enqueued strictly before threshold and returns them.
	RemoveExpired(ctx context.Context, threshold time.Time) ([]models.PendingRequest, error)
}

// GroupStore persists match groups keyed by group id.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *models.MatchGroup) error
	GetGroup(ctx context.Context, groupID string) (*models.MatchGroup, error)
	// UpdateGroup is conditional on g.Version, like SaveSession.
	UpdateGroup(ctx context.Context, g *models.MatchGroup) error
	// OpenGroupForUser finds the Active or AwaitingVehicleId group containing userID.
	OpenGroupForUser(ctx context.Context, userID string) (*models.MatchGroup, error)
}

type FeedbackLog interface {
	AppendFeedback(ctx context.Context, f models.Feedback) error
}

type EventSink interface {
	RecordGroupEvent(ctx context.Context, e models.GroupEvent) error
}
