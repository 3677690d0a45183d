package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/carpool-matching/internal/models"
)

// MemoryQueue is the in-process PendingQueue.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]models.PendingRequest
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]models.PendingRequest)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, r models.PendingRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[r.UserID]; ok {
		return fmt.Errorf("user %s: %w", r.UserID, models.ErrAlreadyQueued)
	}
	q.entries[r.UserID] = copyRequest(r)
	return nil
}

func (q *MemoryQueue) Get(_ context.Context, userID string) (*models.PendingRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.entries[userID]
	if !ok {
		return nil, fmt.Errorf("pending request for %s: %w", userID, models.ErrNotFound)
	}
	out := copyRequest(r)
	return &out, nil
}

func (q *MemoryQueue) Remove(_ context.Context, userIDs ...string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := q.entries[id]; ok {
			delete(q.entries, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (q *MemoryQueue) List(_ context.Context) ([]models.PendingRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.PendingRequest, 0, len(q.entries))
	for _, r := range q.entries {
		out = append(out, copyRequest(r))
	}
	sortByEnqueue(out)
	return out, nil
}

func (q *MemoryQueue) RemoveExpired(_ context.Context, threshold time.Time) ([]models.PendingRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.PendingRequest
	for id, r := range q.entries {
		if r.EnqueuedAt.Before(threshold) {
			delete(q.entries, id)
			out = append(out, r)
		}
	}
	sortByEnqueue(out)
	return out, nil
}

func sortByEnqueue(rs []models.PendingRequest) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].EnqueuedAt.Equal(rs[j].EnqueuedAt) {
			return rs[i].EnqueuedAt.Before(rs[j].EnqueuedAt)
		}
		return rs[i].UserID < rs[j].UserID
	})
}

func copyRequest(r models.PendingRequest) models.PendingRequest {
	if r.Destination != nil {
		d := *r.Destination
		r.Destination = &d
	}
	return r
}
