package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/carpool-matching/internal/models"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func req(id string, p int, at time.Time) models.PendingRequest {
	return models.PendingRequest{UserID: id, Destination: &models.Coord{Lon: 121.5, Lat: 25}, Passengers: p, EnqueuedAt: at}
}

func TestMemoryQueueEnqueueRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	if err := q.Enqueue(ctx, req("u1", 1, t0)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, req("u1", 2, t0)); !errors.Is(err, models.ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	r, err := q.Get(ctx, "u1")
	if err != nil || r.Passengers != 1 {
		t.Fatalf("get = %+v, %v", r, err)
	}
}

func TestMemoryQueueListOrderedAndRemove(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	_ = q.Enqueue(ctx, req("late", 1, t0.Add(time.Minute)))
	_ = q.Enqueue(ctx, req("early", 1, t0))

	list, _ := q.List(ctx)
	if len(list) != 2 || list[0].UserID != "early" {
		t.Fatalf("list = %+v", list)
	}
	removed, _ := q.Remove(ctx, "early", "missing")
	if len(removed) != 1 || removed[0] != "early" {
		t.Fatalf("removed = %v", removed)
	}
	if _, err := q.Get(ctx, "early"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryQueueRemoveExpiredBoundary(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	threshold := t0
	_ = q.Enqueue(ctx, req("old", 1, threshold.Add(-time.Second)))
	_ = q.Enqueue(ctx, req("exact", 1, threshold))
	_ = q.Enqueue(ctx, req("fresh", 1, threshold.Add(time.Second)))

	expired, err := q.RemoveExpired(ctx, threshold)
	if err != nil {
		t.Fatalf("remove expired: %v", err)
	}
	if len(expired) != 1 || expired[0].UserID != "old" {
		t.Fatalf("expired = %+v", expired)
	}
	list, _ := q.List(ctx)
	if len(list) != 2 {
		t.Fatalf("entries at or after threshold must stay, got %+v", list)
	}
}

func TestMemoryStoreSessionVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, _ := s.GetOrCreateSession(ctx, "u1", t0)
	b, _ := s.GetOrCreateSession(ctx, "u1", t0)

	a.Name = "Amy"
	if err := s.SaveSession(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}
	b.Name = "Bob"
	if err := s.SaveSession(ctx, b); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("stale save should conflict, got %v", err)
	}
	got, _ := s.GetOrCreateSession(ctx, "u1", t0)
	if got.Name != "Amy" || got.Version != 1 {
		t.Fatalf("session = %+v", got)
	}
}

func TestMemoryStoreOpenGroupForUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	g := &models.MatchGroup{
		ID:       "g1",
		LeaderID: "u1",
		Members:  []models.GroupMember{{UserID: "u1", Passengers: 1}, {UserID: "u2", Passengers: 1}},
		Status:   models.GroupActive,
	}
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.OpenGroupForUser(ctx, "u2"); err != nil {
		t.Fatalf("expected open group: %v", err)
	}

	g.Status = models.GroupCancelled
	if err := s.UpdateGroup(ctx, g); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.OpenGroupForUser(ctx, "u2"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("cancelled group must not count as open, got %v", err)
	}
	g.Version = 0
	if err := s.UpdateGroup(ctx, g); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestMemoryLockerExclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	unlock, err := l.Lock(ctx, "u1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "u1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	other, err := l.Lock(ctx, "u2")
	if err != nil {
		t.Fatalf("independent key should lock: %v", err)
	}
	other()

	unlock()
	unlock()
	again, err := l.Lock(ctx, "u1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestMemoryLockerSerializesCounter(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "k")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d", counter)
	}
}

func TestLockAllReleasesOnFailure(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	held, _ := l.Lock(ctx, "b")

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := LockAll(short, l, []string{"c", "a", "b"}); err == nil {
		t.Fatal("expected failure while b is held")
	}
	unlockA, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("a should have been released: %v", err)
	}
	unlockA()
	held()

	unlock, err := LockAll(ctx, l, []string{"b", "a", "a"})
	if err != nil {
		t.Fatalf("lock all: %v", err)
	}
	unlock()
}
