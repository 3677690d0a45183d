package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool-matching/internal/models"
)

// RedisQueue stores pending requests as a sorted set of user ids scored by
// enqueue time (unix millis) plus a hash of JSON payloads.
type RedisQueue struct {
	client   *redis.Client
	indexKey string
	dataKey  string
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	return &RedisQueue{
		client:   client,
		indexKey: prefix + ":pending",
		dataKey:  prefix + ":pending:data",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, r models.PendingRequest) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	added, err := q.client.ZAddNX(ctx, q.indexKey, redis.Z{
		Score:  float64(r.EnqueuedAt.UnixMilli()),
		Member: r.UserID,
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", r.UserID, err)
	}
	if added == 0 {
		return fmt.Errorf("user %s: %w", r.UserID, models.ErrAlreadyQueued)
	}
	if err := q.client.HSet(ctx, q.dataKey, r.UserID, b).Err(); err != nil {
		_ = q.client.ZRem(ctx, q.indexKey, r.UserID).Err()
		return fmt.Errorf("enqueue %s: %w", r.UserID, err)
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, userID string) (*models.PendingRequest, error) {
	raw, err := q.client.HGet(ctx, q.dataKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pending request for %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var r models.PendingRequest
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode pending request %s: %w", userID, err)
	}
	return &r, nil
}

// Remove claims each user through ZREM so that concurrent removers (cancel,
// reaper, matcher) never both report the same entry.
func (q *RedisQueue) Remove(ctx context.Context, userIDs ...string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.ZRem(ctx, q.indexKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("remove pending: %w", err)
	}
	removed := make([]string, 0, len(userIDs))
	for i, c := range cmds {
		if c.Val() == 1 {
			removed = append(removed, userIDs[i])
		}
	}
	if len(removed) > 0 {
		if err := q.client.HDel(ctx, q.dataKey, removed...).Err(); err != nil {
			return removed, fmt.Errorf("remove pending payloads: %w", err)
		}
	}
	return removed, nil
}

func (q *RedisQueue) List(ctx context.Context) ([]models.PendingRequest, error) {
	ids, err := q.client.ZRange(ctx, q.indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return q.load(ctx, ids)
}

func (q *RedisQueue) RemoveExpired(ctx context.Context, threshold time.Time) ([]models.PendingRequest, error) {
	// Scores are millisecond-truncated, so fetch inclusively and filter on the exact timestamp.
	ids, err := q.client.ZRangeByScore(ctx, q.indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(threshold.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expired: %w", err)
	}
	candidates, err := q.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.PendingRequest, len(candidates))
	expired := make([]string, 0, len(candidates))
	for _, r := range candidates {
		if r.EnqueuedAt.Before(threshold) {
			byID[r.UserID] = r
			expired = append(expired, r.UserID)
		}
	}
	removed, err := q.Remove(ctx, expired...)
	out := make([]models.PendingRequest, 0, len(removed))
	for _, id := range removed {
		out = append(out, byID[id])
	}
	return out, err
}

func (q *RedisQueue) load(ctx context.Context, ids []string) ([]models.PendingRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := q.client.HMGet(ctx, q.dataKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	out := make([]models.PendingRequest, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// index entry without payload; Enqueue is mid-flight or was rolled back
			continue
		}
		var r models.PendingRequest
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			// keep the entry visible without a destination; the grouper skips and logs it
			r = models.PendingRequest{UserID: ids[i]}
		}
		out = append(out, r)
	}
	return out, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
