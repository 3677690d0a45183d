package models

import "time"

type Coord struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// PendingRequest is one outstanding ride request awaiting a match.
// Destination is nil when the owner's record carried no usable coordinates.
type PendingRequest struct {
	UserID      string    `json:"user_id"`
	Destination *Coord    `json:"destination,omitempty"`
	Passengers  int       `json:"passengers"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

type GroupStatus string

const (
	GroupActive            GroupStatus = "active"
	GroupAwaitingVehicleID GroupStatus = "awaiting_vehicle_id"
	GroupCancelled         GroupStatus = "cancelled"
)

// Open reports whether members of a group in this status count as matched.
func (s GroupStatus) Open() bool {
	return s == GroupActive || s == GroupAwaitingVehicleID
}

type GroupMember struct {
	UserID     string `json:"user_id"`
	Passengers int    `json:"passengers"`
}

// MatchGroup is a formed carpool. Members keep packing order; Members[0] is
// not necessarily the leader once the original leader has left.
type MatchGroup struct {
	ID              string        `json:"group_id"`
	LeaderID        string        `json:"leader_id"`
	Members         []GroupMember `json:"members"`
	DestinationKey  string        `json:"destination_key"`
	Destination     Coord         `json:"destination"`
	TotalPassengers int           `json:"total_passengers"`
	Status          GroupStatus   `json:"status"`
	VehicleID       string        `json:"vehicle_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Version         int           `json:"version"`
}

func (g *MatchGroup) HasMember(userID string) bool {
	return g.memberIndex(userID) >= 0
}

func (g *MatchGroup) MemberIDs() []string {
	out := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		out = append(out, m.UserID)
	}
	return out
}

func (g *MatchGroup) memberIndex(userID string) int {
	for i, m := range g.Members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

// RemoveMember drops userID from the group and recomputes the passenger total.
func (g *MatchGroup) RemoveMember(userID string) (GroupMember, bool) {
	i := g.memberIndex(userID)
	if i < 0 {
		return GroupMember{}, false
	}
	removed := g.Members[i]
	g.Members = append(g.Members[:i:i], g.Members[i+1:]...)
	total := 0
	for _, m := range g.Members {
		total += m.Passengers
	}
	g.TotalPassengers = total
	return removed, true
}

type SessionState string

const (
	StateNone                SessionState = ""
	StateAwaitingName        SessionState = "awaiting_name"
	StateAwaitingPhone       SessionState = "awaiting_phone"
	StateAwaitingDestination SessionState = "awaiting_destination"
	StateAwaitingPassengers  SessionState = "awaiting_passengers"
	StateAwaitingFeedback    SessionState = "awaiting_feedback"
)

// UserSession is the persisted conversation memory of one user.
type UserSession struct {
	UserID      string       `json:"user_id"`
	Name        string       `json:"name"`
	Phone       string       `json:"phone"`
	Destination *Coord       `json:"destination,omitempty"`
	Address     string       `json:"address"`
	Passengers  int          `json:"passengers"`
	State       SessionState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Version     int          `json:"version"`
}

func (s *UserSession) Registered() bool {
	return s.Name != "" && s.Phone != ""
}

// ReadyToMatch reports whether destination and passenger count are configured.
func (s *UserSession) ReadyToMatch() bool {
	return s.Destination != nil && s.Passengers > 0
}

type Feedback struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Text      string    `json:"feedback"`
	CreatedAt time.Time `json:"created_at"`
}
