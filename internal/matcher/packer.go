package matcher

import (
	"log/slog"
	"sort"

	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/models"
)

const (
	MaxSeats     = 4
	MaxMembers   = 4
	MinGroupSize = 2
)

// Bucket is the set of pending requests sharing one quantized destination.
type Bucket struct {
	Key      string
	Requests []models.PendingRequest
}

// Bucketize partitions a queue snapshot by destination key. Entries without a
// usable destination or with an out-of-range passenger count are logged and
// left out. Buckets come back sorted by key so a cycle is reproducible.
func Bucketize(reqs []models.PendingRequest, precision int, logger *slog.Logger) []Bucket {
	byKey := make(map[string][]models.PendingRequest)
	for _, r := range reqs {
		if r.Destination == nil {
			logger.Warn("pending request without destination skipped", "user_id", r.UserID)
			continue
		}
		if r.Passengers < 1 || r.Passengers > MaxSeats {
			logger.Warn("pending request with bad passenger count skipped", "user_id", r.UserID, "passengers", r.Passengers)
			continue
		}
		key, err := geo.DestinationKey(*r.Destination, precision)
		if err != nil {
			logger.Warn("pending request with malformed destination skipped", "user_id", r.UserID, "error", err)
			continue
		}
		byKey[key] = append(byKey[key], r)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Bucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, Bucket{Key: k, Requests: byKey[k]})
	}
	return out
}

// PackBucket forms groups first-fit over the requests sorted by ascending
// passenger count (then enqueue order). Each pass scans the unassigned
// entries, skipping any that would overflow seats, until the group holds
// MaxMembers. A pass that cannot produce MinGroupSize members ends the bucket:
// its head is the smallest request left, so nothing else can pair either.
func PackBucket(reqs []models.PendingRequest) [][]models.PendingRequest {
	if len(reqs) < MinGroupSize {
		return nil
	}
	sorted := append([]models.PendingRequest(nil), reqs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Passengers != b.Passengers {
			return a.Passengers < b.Passengers
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.UserID < b.UserID
	})

	assigned := make([]bool, len(sorted))
	unassigned := len(sorted)
	var groups [][]models.PendingRequest

	for unassigned >= MinGroupSize {
		picked := make([]int, 0, MaxMembers)
		seats := 0
		for i := range sorted {
			if len(picked) == MaxMembers {
				break
			}
			if assigned[i] || seats+sorted[i].Passengers > MaxSeats {
				continue
			}
			picked = append(picked, i)
			seats += sorted[i].Passengers
		}
		if len(picked) < MinGroupSize {
			break
		}
		group := make([]models.PendingRequest, 0, len(picked))
		for _, i := range picked {
			assigned[i] = true
			group = append(group, sorted[i])
		}
		unassigned -= len(picked)
		groups = append(groups, group)
	}
	return groups
}
