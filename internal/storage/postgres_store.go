package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/carpool-matching/internal/models"
)

// PostgresStore implements SessionStore, GroupStore, FeedbackLog and EventSink.
// Every write is a single-row statement; optimistic versions stand in for
// multi-statement transactions.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) GetOrCreateSession(ctx context.Context, userID string, now time.Time) (*models.UserSession, error) {
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO users(user_id, created_at, updated_at) VALUES($1,$2,$2) ON CONFLICT (user_id) DO NOTHING`,
		userID, now); err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", userID, err)
	}
	row := p.db.QueryRowContext(ctx, `
		SELECT user_id, name, phone, dest_lon, dest_lat, address, passengers, state, version, created_at, updated_at
		FROM users WHERE user_id = $1`, userID)

	var s models.UserSession
	var lon, lat sql.NullFloat64
	var state string
	if err := row.Scan(&s.UserID, &s.Name, &s.Phone, &lon, &lat, &s.Address, &s.Passengers, &state, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	s.State = models.SessionState(state)
	if lon.Valid && lat.Valid {
		s.Destination = &models.Coord{Lon: lon.Float64, Lat: lat.Float64}
	}
	return &s, nil
}

func (p *PostgresStore) SaveSession(ctx context.Context, s *models.UserSession) error {
	var lon, lat sql.NullFloat64
	if s.Destination != nil {
		lon = sql.NullFloat64{Float64: s.Destination.Lon, Valid: true}
		lat = sql.NullFloat64{Float64: s.Destination.Lat, Valid: true}
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET name = $1, phone = $2, dest_lon = $3, dest_lat = $4, address = $5,
		    passengers = $6, state = $7, updated_at = $8, version = version + 1
		WHERE user_id = $9 AND version = $10`,
		s.Name, s.Phone, lon, lat, s.Address, s.Passengers, string(s.State), s.UpdatedAt, s.UserID, s.Version)
	if err != nil {
		return fmt.Errorf("save user %s: %w", s.UserID, err)
	}
	if err := expectOneRow(res, "user "+s.UserID); err != nil {
		return err
	}
	s.Version++
	return nil
}

func (p *PostgresStore) CreateGroup(ctx context.Context, g *models.MatchGroup) error {
	members, err := json.Marshal(g.Members)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO match_groups(group_id, leader_id, members, destination_key, dest_lon, dest_lat,
		                         total_passengers, status, vehicle_id, version, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		g.ID, g.LeaderID, members, g.DestinationKey, g.Destination.Lon, g.Destination.Lat,
		g.TotalPassengers, string(g.Status), g.VehicleID, g.Version, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.ID, err)
	}
	return nil
}

const groupColumns = `group_id, leader_id, members, destination_key, dest_lon, dest_lat,
	total_passengers, status, vehicle_id, version, created_at, updated_at`

func (p *PostgresStore) GetGroup(ctx context.Context, groupID string) (*models.MatchGroup, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM match_groups WHERE group_id = $1`, groupID)
	return scanGroup(row, groupID)
}

func (p *PostgresStore) UpdateGroup(ctx context.Context, g *models.MatchGroup) error {
	members, err := json.Marshal(g.Members)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE match_groups
		SET leader_id = $1, members = $2, total_passengers = $3, status = $4, vehicle_id = $5,
		    updated_at = $6, version = version + 1
		WHERE group_id = $7 AND version = $8`,
		g.LeaderID, members, g.TotalPassengers, string(g.Status), g.VehicleID, g.UpdatedAt, g.ID, g.Version)
	if err != nil {
		return fmt.Errorf("update group %s: %w", g.ID, err)
	}
	if err := expectOneRow(res, "group "+g.ID); err != nil {
		return err
	}
	g.Version++
	return nil
}

func (p *PostgresStore) OpenGroupForUser(ctx context.Context, userID string) (*models.MatchGroup, error) {
	probe, err := json.Marshal([]map[string]string{{"user_id": userID}})
	if err != nil {
		return nil, err
	}
	row := p.db.QueryRowContext(ctx, `
		SELECT `+groupColumns+` FROM match_groups
		WHERE members @> $1::jsonb AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`,
		string(probe), string(models.GroupActive), string(models.GroupAwaitingVehicleID))
	return scanGroup(row, "open group for "+userID)
}

func (p *PostgresStore) AppendFeedback(ctx context.Context, f models.Feedback) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO feedbacks(user_id, name, feedback, created_at) VALUES($1,$2,$3,$4)`,
		f.UserID, f.Name, f.Text, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback for %s: %w", f.UserID, err)
	}
	return nil
}

func (p *PostgresStore) RecordGroupEvent(ctx context.Context, e models.GroupEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO group_events(type, group_id, user_id, members, total_passengers, destination_key, occurred_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		string(e.Type), e.GroupID, e.UserID, memberArray(e.Members), e.TotalPassengers, e.DestinationKey, e.At)
	if err != nil {
		return fmt.Errorf("insert group event %s: %w", e.Type, err)
	}
	return nil
}

// memberArray encodes ids as a text[]; nil becomes '{}' since the column is NOT NULL.
func memberArray(ids []string) driver.Valuer {
	if ids == nil {
		ids = []string{}
	}
	return pq.StringArray(ids)
}

func scanGroup(row *sql.Row, what string) (*models.MatchGroup, error) {
	var g models.MatchGroup
	var members []byte
	var status string
	err := row.Scan(&g.ID, &g.LeaderID, &members, &g.DestinationKey, &g.Destination.Lon, &g.Destination.Lat,
		&g.TotalPassengers, &status, &g.VehicleID, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", what, err)
	}
	if err := json.Unmarshal(members, &g.Members); err != nil {
		return nil, fmt.Errorf("decode members of %s: %w", g.ID, err)
	}
	g.Status = models.GroupStatus(status)
	return &g, nil
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", what, models.ErrConflict)
	}
	return nil
}
