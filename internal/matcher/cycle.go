package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/carpool-matching/internal/dispatch"
	"github.com/example/carpool-matching/internal/events"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/notice"
	"github.com/example/carpool-matching/internal/observability"
	"github.com/example/carpool-matching/internal/storage"
)

// CycleResult summarizes one matching cycle.
type CycleResult struct {
	Reaped  []models.PendingRequest
	Groups  []*models.MatchGroup
	Pending int
}

// Run triggers RunCycle every interval until ctx is done. A tick that lands
// while a cycle is still running is skipped.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	log := e.logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info("matching scheduler started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			log.Info("matching scheduler stopped")
			return
		case <-ticker.C:
			if _, err := e.RunCycle(ctx, e.now()); err != nil {
				if errors.Is(err, models.ErrCycleInProgress) {
					log.Warn("matching cycle skipped, previous cycle still running")
					continue
				}
				log.Error("matching cycle failed", "error", err)
			}
		}
	}
}

// RunCycle reaps expired requests, then groups and packs the remaining queue.
// Concurrent calls fail fast with models.ErrCycleInProgress.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (CycleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		observability.MatchingCycles.WithLabelValues("skipped").Inc()
		return CycleResult{}, models.ErrCycleInProgress
	}
	defer e.running.Store(false)

	start := time.Now()
	res, err := e.runCycle(ctx, now)
	observability.MatchingCycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.MatchingCycles.WithLabelValues("error").Inc()
		return res, err
	}
	observability.MatchingCycles.WithLabelValues("ok").Inc()
	e.logger().Info("matching cycle complete",
		"reaped", len(res.Reaped), "groups_formed", len(res.Groups), "pending", res.Pending)
	return res, nil
}

func (e *Engine) runCycle(ctx context.Context, now time.Time) (CycleResult, error) {
	var res CycleResult
	reaped, err := e.ReapExpired(ctx, e.Config.RequestTimeout, now)
	res.Reaped = reaped
	if err != nil {
		return res, err
	}

	snapshot, err := e.Queue.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending requests: %w", err)
	}
	observability.PendingRequests.Set(float64(len(snapshot)))

	b := &batch{engine: e, now: now}
	defer b.release()

	var commitErr error
	for _, bucket := range Bucketize(snapshot, e.Config.DestinationPrecision, e.logger()) {
		if len(bucket.Requests) < MinGroupSize {
			continue
		}
		for _, candidate := range PackBucket(bucket.Requests) {
			if commitErr = b.commit(ctx, bucket.Key, candidate); commitErr != nil {
				break
			}
		}
		if commitErr != nil {
			break
		}
	}

	if err := b.dequeue(ctx); err != nil {
		e.logger().Error("batch removal of matched users failed", "error", err)
	}
	b.release()

	res.Groups = b.groups
	res.Pending = len(snapshot) - len(b.matched) - len(b.stale)
	e.announce(ctx, b.groups)
	return res, commitErr
}

// ReapExpired removes requests enqueued before now-timeout and tells their
// owners. Removal stands even when a notification fails.
func (e *Engine) ReapExpired(ctx context.Context, timeout time.Duration, now time.Time) ([]models.PendingRequest, error) {
	threshold := now.Add(-timeout)
	expired, err := e.Queue.RemoveExpired(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("remove expired requests: %w", err)
	}
	if len(expired) == 0 {
		return nil, nil
	}
	observability.RequestsReaped.Add(float64(len(expired)))

	notes := make([]models.Notification, 0, len(expired))
	for _, r := range expired {
		e.logger().Info("request timed out", "user_id", r.UserID, "enqueued_at", r.EnqueuedAt)
		notes = append(notes, notice.Timeout(r.UserID, timeout))
		events.Emit(ctx, e.Events, models.GroupEvent{Type: models.EventRequestTimedOut, UserID: r.UserID, At: now}, e.logger())
	}
	if e.Notifier != nil {
		dispatch.Deliver(ctx, e.Notifier, notes, e.CallTimeout, e.logger())
	}
	return expired, nil
}

// batch tracks the groups committed in one cycle together with the member
// locks that stay held until the matched users leave the queue.
type batch struct {
	engine  *Engine
	now     time.Time
	groups  []*models.MatchGroup
	matched []string
	stale   []string
	unlocks []func()
}

func (b *batch) release() {
	for _, u := range b.unlocks {
		u()
	}
	b.unlocks = nil
}

func (b *batch) dequeue(ctx context.Context) error {
	ids := append(append([]string(nil), b.matched...), b.stale...)
	if len(ids) == 0 {
		return nil
	}
	_, err := b.engine.Queue.Remove(ctx, ids...)
	return err
}

// commit persists one candidate group after re-checking, under the member
// locks, that every member is still pending with the same request and is not
// already in an open group. A candidate that fails the check is dropped for
// this cycle; only store failures are returned.
func (b *batch) commit(ctx context.Context, key string, candidate []models.PendingRequest) error {
	e := b.engine
	log := e.logger().With("destination_key", key)

	ids := make([]string, 0, len(candidate))
	for _, r := range candidate {
		ids = append(ids, r.UserID)
	}

	if e.Locks != nil {
		lockCtx, cancel := context.WithTimeout(ctx, b.lockTimeout())
		unlock, err := storage.LockAll(lockCtx, e.Locks, ids)
		cancel()
		if err != nil {
			log.Warn("candidate group skipped, member busy", "members", ids, "error", err)
			return nil
		}
		b.unlocks = append(b.unlocks, unlock)
	}

	for _, r := range candidate {
		current, err := e.Queue.Get(ctx, r.UserID)
		if errors.Is(err, models.ErrNotFound) {
			log.Info("candidate group skipped, member no longer pending", "user_id", r.UserID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("recheck pending request: %w", err)
		}
		if !current.EnqueuedAt.Equal(r.EnqueuedAt) {
			log.Info("candidate group skipped, member re-queued", "user_id", r.UserID)
			return nil
		}
		open, err := e.Groups.OpenGroupForUser(ctx, r.UserID)
		if err == nil {
			log.Warn("pending user already in open group, dropping request", "user_id", r.UserID, "group_id", open.ID)
			b.stale = append(b.stale, r.UserID)
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("recheck open group: %w", err)
		}
	}

	g := newGroup(e.newID(), key, candidate, b.now)
	if err := e.Groups.CreateGroup(ctx, g); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	observability.GroupsFormed.Inc()
	observability.GroupTransitions.WithLabelValues(string(models.GroupActive)).Inc()
	log.Info("group formed", "group_id", g.ID, "members", ids, "total_passengers", g.TotalPassengers)

	b.groups = append(b.groups, g)
	b.matched = append(b.matched, ids...)
	return nil
}

func (b *batch) lockTimeout() time.Duration {
	if b.engine.LockTimeout > 0 {
		return b.engine.LockTimeout
	}
	return 5 * time.Second
}

func newGroup(id, key string, members []models.PendingRequest, now time.Time) *models.MatchGroup {
	g := &models.MatchGroup{
		ID:             id,
		LeaderID:       members[0].UserID,
		DestinationKey: key,
		Destination:    *members[0].Destination,
		Status:         models.GroupActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, r := range members {
		g.Members = append(g.Members, models.GroupMember{UserID: r.UserID, Passengers: r.Passengers})
		g.TotalPassengers += r.Passengers
	}
	return g
}

// announce notifies every member of the new groups and publishes group_formed.
func (e *Engine) announce(ctx context.Context, groups []*models.MatchGroup) {
	for _, g := range groups {
		events.Emit(ctx, e.Events, models.GroupEvent{
			Type:            models.EventGroupFormed,
			GroupID:         g.ID,
			UserID:          g.LeaderID,
			Members:         g.MemberIDs(),
			TotalPassengers: g.TotalPassengers,
			DestinationKey:  g.DestinationKey,
			At:              g.CreatedAt,
		}, e.logger())
		if e.Notifier == nil {
			continue
		}
		notes := make([]models.Notification, 0, len(g.Members))
		for _, m := range g.Members {
			name := dispatch.DisplayNameOr(ctx, e.Profiles, m.UserID, notice.DefaultPartnerName, e.CallTimeout, e.logger())
			notes = append(notes, notice.MatchSuccess(m.UserID, name, g))
		}
		dispatch.Deliver(ctx, e.Notifier, notes, e.CallTimeout, e.logger())
	}
}
