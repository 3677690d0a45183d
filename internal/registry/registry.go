package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/example/carpool-matching/internal/dispatch"
	"github.com/example/carpool-matching/internal/events"
	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/notice"
	"github.com/example/carpool-matching/internal/observability"
	"github.com/example/carpool-matching/internal/storage"
)

const maxUpdateAttempts = 3

var platePattern = regexp.MustCompile(`^[A-Z0-9]{2,4}[A-Z0-9]{3,4}$`)

// NormalizeVehicleID uppercases raw, strips dashes and spaces and checks the
// plate pattern.
func NormalizeVehicleID(raw string) (string, error) {
	plate := strings.ToUpper(strings.TrimSpace(raw))
	plate = strings.NewReplacer("-", "", " ", "").Replace(plate)
	if !platePattern.MatchString(plate) {
		return "", fmt.Errorf("%w: vehicle id %q", models.ErrInvalidFormat, raw)
	}
	return plate, nil
}

// Registry governs the lifecycle of formed groups.
type Registry struct {
	Groups      storage.GroupStore
	Profiles    dispatch.ProfileLookup
	Events      events.Publisher
	CallTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logging.Discard()
}

// LeaveResult describes the group after a member left.
type LeaveResult struct {
	Group     *models.MatchGroup
	Cancelled bool
	Notes     []models.Notification
}

// Leave removes userID from the group. A group left with one member or fewer
// is cancelled; otherwise the remaining members are told about the departure
// and the first of them takes over as leader if the leader left.
func (r *Registry) Leave(ctx context.Context, userID, groupID string) (LeaveResult, error) {
	var cancelled bool
	g, err := r.mutate(ctx, groupID, func(g *models.MatchGroup) error {
		cancelled = false
		if err := checkMember(g, userID); err != nil {
			return err
		}
		g.RemoveMember(userID)
		if len(g.Members) < 2 {
			g.Status = models.GroupCancelled
			cancelled = true
			return nil
		}
		if g.LeaderID == userID {
			g.LeaderID = g.Members[0].UserID
			// the new leader was never prompted for a plate
			if g.Status == models.GroupAwaitingVehicleID {
				g.Status = models.GroupActive
			}
		}
		return nil
	})
	if err != nil {
		return LeaveResult{}, err
	}

	log := r.logger().With("group_id", g.ID, "user_id", userID)
	res := LeaveResult{Group: g, Cancelled: cancelled}
	res.Notes = append(res.Notes, notice.LeftGroup(userID, g.ID))
	now := g.UpdatedAt

	events.Emit(ctx, r.Events, models.GroupEvent{
		Type: models.EventMemberLeft, GroupID: g.ID, UserID: userID,
		Members: g.MemberIDs(), TotalPassengers: g.TotalPassengers, DestinationKey: g.DestinationKey, At: now,
	}, log)

	if cancelled {
		observability.GroupTransitions.WithLabelValues(string(models.GroupCancelled)).Inc()
		log.Info("group cancelled after member left", "remaining", len(g.Members))
		for _, m := range g.Members {
			res.Notes = append(res.Notes, notice.GroupCancelled(m.UserID, g.ID))
		}
		events.Emit(ctx, r.Events, models.GroupEvent{
			Type: models.EventGroupCancelled, GroupID: g.ID, Members: g.MemberIDs(), DestinationKey: g.DestinationKey, At: now,
		}, log)
		return res, nil
	}

	log.Info("member left group", "remaining", len(g.Members), "total_passengers", g.TotalPassengers, "leader_id", g.LeaderID)
	name := dispatch.DisplayNameOr(ctx, r.Profiles, userID, notice.DefaultPartnerName, r.CallTimeout, log)
	for _, m := range g.Members {
		res.Notes = append(res.Notes, notice.MemberLeft(m.UserID, g.ID, name, len(g.Members), g.TotalPassengers))
	}
	return res, nil
}

// RequestVehicleID moves the leader's group to AwaitingVehicleId.
func (r *Registry) RequestVehicleID(ctx context.Context, userID, groupID string) ([]models.Notification, error) {
	var changed bool
	g, err := r.mutate(ctx, groupID, func(g *models.MatchGroup) error {
		changed = false
		if err := checkLeader(g, userID); err != nil {
			return err
		}
		if g.Status != models.GroupAwaitingVehicleID {
			g.Status = models.GroupAwaitingVehicleID
			changed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		observability.GroupTransitions.WithLabelValues(string(models.GroupAwaitingVehicleID)).Inc()
		events.Emit(ctx, r.Events, models.GroupEvent{
			Type: models.EventVehicleRequested, GroupID: g.ID, UserID: userID, At: g.UpdatedAt,
		}, r.logger())
	}
	return []models.Notification{notice.AskVehicleID(userID)}, nil
}

// SubmitVehicleID stores the leader's normalized plate, returns the group to
// Active and announces the plate to the other members.
func (r *Registry) SubmitVehicleID(ctx context.Context, userID, groupID, raw string) ([]models.Notification, error) {
	var plate string
	g, err := r.mutate(ctx, groupID, func(g *models.MatchGroup) error {
		if err := checkLeader(g, userID); err != nil {
			return err
		}
		p, err := NormalizeVehicleID(raw)
		if err != nil {
			return err
		}
		plate = p
		g.VehicleID = p
		g.Status = models.GroupActive
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.GroupTransitions.WithLabelValues(string(models.GroupActive)).Inc()
	r.logger().Info("vehicle id registered", "group_id", g.ID, "user_id", userID, "vehicle_id", plate)
	events.Emit(ctx, r.Events, models.GroupEvent{
		Type: models.EventVehicleRegistered, GroupID: g.ID, UserID: userID, Members: g.MemberIDs(), At: g.UpdatedAt,
	}, r.logger())

	notes := []models.Notification{notice.VehicleRegistered(userID, plate)}
	for _, m := range g.Members {
		if m.UserID != userID {
			notes = append(notes, notice.VehicleAnnouncement(m.UserID, g.ID, plate))
		}
	}
	return notes, nil
}

// AwaitingVehicleID returns the open group in which userID is the leader and a
// plate is being waited for, or models.ErrNotFound.
func (r *Registry) AwaitingVehicleID(ctx context.Context, userID string) (*models.MatchGroup, error) {
	g, err := r.Groups.OpenGroupForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if g.LeaderID != userID || g.Status != models.GroupAwaitingVehicleID {
		return nil, models.ErrNotFound
	}
	return g, nil
}

// mutate applies fn to a fresh copy of the group and writes it back,
// reloading and retrying when another writer got there first.
func (r *Registry) mutate(ctx context.Context, groupID string, fn func(*models.MatchGroup) error) (*models.MatchGroup, error) {
	for attempt := 1; ; attempt++ {
		g, err := r.Groups.GetGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if err := fn(g); err != nil {
			return nil, err
		}
		g.UpdatedAt = r.now()
		err = r.Groups.UpdateGroup(ctx, g)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, models.ErrConflict) || attempt == maxUpdateAttempts {
			return nil, fmt.Errorf("update group %s: %w", groupID, err)
		}
		r.logger().Debug("group update conflict, retrying", "group_id", groupID, "attempt", attempt)
	}
}

func checkMember(g *models.MatchGroup, userID string) error {
	if g.Status == models.GroupCancelled {
		return models.ErrGroupClosed
	}
	if !g.HasMember(userID) {
		return models.ErrNotAMember
	}
	return nil
}

func checkLeader(g *models.MatchGroup, userID string) error {
	if err := checkMember(g, userID); err != nil {
		return err
	}
	if g.LeaderID != userID {
		return models.ErrNotLeader
	}
	return nil
}
