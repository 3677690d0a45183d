package storage

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/example/carpool-matching/internal/models"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func userIDs(reqs []models.PendingRequest) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.UserID)
	}
	sort.Strings(out)
	return out
}

func TestRedisQueueEnqueueRejectsDuplicate(t *testing.T) {
	_, rc := newRedis(t)
	q := NewRedisQueue(rc, "carpool")
	ctx := context.Background()

	if err := q.Enqueue(ctx, req("u1", 2, t0)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, req("u1", 3, t0)); !errors.Is(err, models.ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	r, err := q.Get(ctx, "u1")
	if err != nil || r.Passengers != 2 || !r.EnqueuedAt.Equal(t0) {
		t.Fatalf("get = %+v, %v", r, err)
	}
	if _, err := q.Get(ctx, "nobody"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisQueueRemoveExpiredBoundary(t *testing.T) {
	_, rc := newRedis(t)
	q := NewRedisQueue(rc, "carpool")
	ctx := context.Background()
	threshold := t0.Add(500 * time.Microsecond)

	// "sub" and "after" share the threshold's millisecond score.
	_ = q.Enqueue(ctx, req("old", 1, threshold.Add(-time.Second)))
	_ = q.Enqueue(ctx, req("sub", 1, threshold.Add(-300*time.Microsecond)))
	_ = q.Enqueue(ctx, req("exact", 1, threshold))
	_ = q.Enqueue(ctx, req("after", 1, threshold.Add(300*time.Microsecond)))
	_ = q.Enqueue(ctx, req("fresh", 1, threshold.Add(time.Second)))

	expired, err := q.RemoveExpired(ctx, threshold)
	if err != nil {
		t.Fatalf("remove expired: %v", err)
	}
	if got := userIDs(expired); len(got) != 2 || got[0] != "old" || got[1] != "sub" {
		t.Fatalf("expired = %v", got)
	}
	list, err := q.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := userIDs(list); len(got) != 3 || got[0] != "after" || got[1] != "exact" || got[2] != "fresh" {
		t.Fatalf("entries at or after threshold must stay, got %v", got)
	}
}

func TestRedisQueueRemoveReportsEachEntryOnce(t *testing.T) {
	_, rc := newRedis(t)
	q := NewRedisQueue(rc, "carpool")
	ctx := context.Background()
	_ = q.Enqueue(ctx, req("u1", 1, t0))
	_ = q.Enqueue(ctx, req("u2", 1, t0))

	removed, err := q.Remove(ctx, "u1", "missing")
	if err != nil || len(removed) != 1 || removed[0] != "u1" {
		t.Fatalf("removed = %v, %v", removed, err)
	}
	again, err := q.Remove(ctx, "u1")
	if err != nil || len(again) != 0 {
		t.Fatalf("second remover must not claim u1: %v, %v", again, err)
	}
	if _, err := q.Get(ctx, "u1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("payload must be gone, got %v", err)
	}
	if _, err := q.Get(ctx, "u2"); err != nil {
		t.Fatalf("u2 must stay: %v", err)
	}
}

func TestRedisQueueListSkipsMissingPayloadAndKeepsCorrupt(t *testing.T) {
	_, rc := newRedis(t)
	q := NewRedisQueue(rc, "carpool")
	ctx := context.Background()
	_ = q.Enqueue(ctx, req("u1", 1, t0))

	score := float64(t0.UnixMilli())
	rc.ZAdd(ctx, "carpool:pending", redis.Z{Score: score, Member: "ghost"})
	rc.ZAdd(ctx, "carpool:pending", redis.Z{Score: score, Member: "garbled"})
	rc.HSet(ctx, "carpool:pending:data", "garbled", "not json")

	list, err := q.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := userIDs(list); len(got) != 2 || got[0] != "garbled" || got[1] != "u1" {
		t.Fatalf("list = %v", got)
	}
	for _, r := range list {
		if r.UserID == "garbled" && r.Destination != nil {
			t.Fatalf("garbled entry must carry no destination: %+v", r)
		}
	}
}

func TestRedisLockerExclusive(t *testing.T) {
	_, rc := newRedis(t)
	l := NewRedisLocker(rc, "carpool", 10*time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "u1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
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

func TestRedisLockerExpiredReleaseKeepsNewHolder(t *testing.T) {
	mr, rc := newRedis(t)
	l := NewRedisLocker(rc, "carpool", time.Second)
	ctx := context.Background()

	stale, err := l.Lock(ctx, "u1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	mr.FastForward(2 * time.Second)

	current, err := l.Lock(ctx, "u1")
	if err != nil {
		t.Fatalf("lease should have expired: %v", err)
	}
	stale()
	if !mr.Exists("carpool:lock:u1") {
		t.Fatal("expired holder released the new holder's lock")
	}
	current()
	if mr.Exists("carpool:lock:u1") {
		t.Fatal("lock must be released by its holder")
	}
}
