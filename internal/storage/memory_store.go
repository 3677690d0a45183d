package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/carpool-matching/internal/models"
)

// MemoryStore keeps sessions, groups, feedback and events in process memory.
// It is used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.UserSession
	groups   map[string]models.MatchGroup
	feedback []models.Feedback
	events   []models.GroupEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]models.UserSession),
		groups:   make(map[string]models.MatchGroup),
	}
}

func (m *MemoryStore) GetOrCreateSession(_ context.Context, userID string, now time.Time) (*models.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		s = models.UserSession{UserID: userID, State: models.StateNone, CreatedAt: now, UpdatedAt: now}
		m.sessions[userID] = s
	}
	return copySession(s), nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s *models.UserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.UserID]
	if !ok {
		return fmt.Errorf("session %s: %w", s.UserID, models.ErrNotFound)
	}
	if cur.Version != s.Version {
		return fmt.Errorf("session %s: %w", s.UserID, models.ErrConflict)
	}
	s.Version++
	m.sessions[s.UserID] = *copySession(*s)
	return nil
}

func (m *MemoryStore) CreateGroup(_ context.Context, g *models.MatchGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; ok {
		return fmt.Errorf("group %s already exists: %w", g.ID, models.ErrConflict)
	}
	m.groups[g.ID] = *copyGroup(*g)
	return nil
}

func (m *MemoryStore) GetGroup(_ context.Context, groupID string) (*models.MatchGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}
	return copyGroup(g), nil
}

func (m *MemoryStore) UpdateGroup(_ context.Context, g *models.MatchGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.groups[g.ID]
	if !ok {
		return fmt.Errorf("group %s: %w", g.ID, models.ErrNotFound)
	}
	if cur.Version != g.Version {
		return fmt.Errorf("group %s: %w", g.ID, models.ErrConflict)
	}
	g.Version++
	m.groups[g.ID] = *copyGroup(*g)
	return nil
}

func (m *MemoryStore) OpenGroupForUser(_ context.Context, userID string) (*models.MatchGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.groups {
		if g.Status.Open() && g.HasMember(userID) {
			return copyGroup(g), nil
		}
	}
	return nil, fmt.Errorf("open group for %s: %w", userID, models.ErrNotFound)
}

func (m *MemoryStore) AppendFeedback(_ context.Context, f models.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, f)
	return nil
}

func (m *MemoryStore) Feedback() []models.Feedback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Feedback(nil), m.feedback...)
}

func (m *MemoryStore) RecordGroupEvent(_ context.Context, e models.GroupEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryStore) Events() []models.GroupEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.GroupEvent(nil), m.events...)
}

func copySession(s models.UserSession) *models.UserSession {
	if s.Destination != nil {
		d := *s.Destination
		s.Destination = &d
	}
	return &s
}

func copyGroup(g models.MatchGroup) *models.MatchGroup {
	g.Members = append([]models.GroupMember(nil), g.Members...)
	return &g
}
