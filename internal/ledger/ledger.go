// Package ledger records device connection sessions and the request and
// response traffic exchanged inside them.
//
// The ledger is an audit trail: entries are appended and read back, never
// rewritten or deleted by the store. Session last_activity doubles as the
// heartbeat the availability watchdog reads.
package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
	"github.com/nerrad567/thermostat-core/internal/token"
)

// Page sizes for RecentLogs.
const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

var (
	// ErrSessionNotFound is returned when the session id is unknown.
	ErrSessionNotFound = storeerr.New("ledger: session", storeerr.ErrNotFound)

	// ErrSessionClosed is returned when closing or touching an ended session.
	ErrSessionClosed = storeerr.New("ledger: session closed", storeerr.ErrInvalidState)

	// ErrInvalidDirection is returned for a direction other than request or response.
	ErrInvalidDirection = storeerr.New("ledger: direction", storeerr.ErrInvalidArgument)

	// ErrInvalidSerial is returned when a session is opened without a serial.
	ErrInvalidSerial = storeerr.New("ledger: serial", storeerr.ErrInvalidArgument)

	// ErrSerialMismatch is returned when a log entry names a serial other
	// than its session's.
	ErrSerialMismatch = storeerr.New("ledger: serial does not match session", storeerr.ErrInvalidArgument)
)

// Direction says which way a logged message travelled.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionRequest || d == DirectionResponse
}

// Session is one device connection.
type Session struct {
	ID           string `json:"session_id"`
	Serial       string `json:"serial"`
	Endpoint     string `json:"endpoint,omitempty"`
	Client       string `json:"client,omitempty"`
	StartedAt    int64  `json:"started_at"`
	LastActivity int64  `json:"last_activity"`
	EndedAt      *int64 `json:"ended_at,omitempty"`
}

// Open reports whether the session has not been closed.
func (s Session) Open() bool {
	return s.EndedAt == nil
}

// LogEntry is one immutable request or response record.
type LogEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Serial    string    `json:"serial"`
	Timestamp int64     `json:"timestamp"`
	Direction Direction `json:"direction"`
	Route     string    `json:"route,omitempty"`
	Payload   string    `json:"payload"`
}

// Repository stores sessions and log entries.
type Repository struct {
	db database.Executor
}

// NewRepository creates a ledger repository on db.
func NewRepository(db database.Executor) *Repository {
	return &Repository{db: db}
}

// WithExecutor returns a copy of the repository that runs on ex.
func (r *Repository) WithExecutor(ex database.Executor) *Repository {
	return &Repository{db: ex}
}

// OpenSession starts a new session for serial. The store does not enforce
// one open session per device; callers decide that policy.
func (r *Repository) OpenSession(ctx context.Context, serial, endpoint, client string, now int64) (*Session, error) {
	if serial == "" {
		return nil, ErrInvalidSerial
	}
	s := &Session{
		ID:           token.ID("ses"),
		Serial:       serial,
		Endpoint:     endpoint,
		Client:       client,
		StartedAt:    now,
		LastActivity: now,
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, serial, endpoint, client, started_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Serial, s.Endpoint, s.Client, s.StartedAt, s.LastActivity,
	)
	if err != nil {
		return nil, storeerr.Infra("opening session", err)
	}
	return s, nil
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	var ended sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id, serial, endpoint, client, started_at, last_activity, ended_at
		 FROM sessions WHERE session_id = ?`, id,
	).Scan(&s.ID, &s.Serial, &s.Endpoint, &s.Client, &s.StartedAt, &s.LastActivity, &ended)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, storeerr.Infra("getting session", err)
	}
	if ended.Valid {
		s.EndedAt = &ended.Int64
	}
	return &s, nil
}

// CloseSession ends an open session.
func (r *Repository) CloseSession(ctx context.Context, id string, endedAt int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, last_activity = MAX(last_activity, ?)
		 WHERE session_id = ? AND ended_at IS NULL`,
		endedAt, endedAt, id,
	)
	if err != nil {
		return storeerr.Infra("closing session", err)
	}
	return r.explainNoop(ctx, res, id, "closing session")
}

// TouchSession records activity on an open session.
func (r *Repository) TouchSession(ctx context.Context, id string, now int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = MAX(last_activity, ?)
		 WHERE session_id = ? AND ended_at IS NULL`,
		now, id,
	)
	if err != nil {
		return storeerr.Infra("touching session", err)
	}
	return r.explainNoop(ctx, res, id, "touching session")
}

// explainNoop turns a zero-row session update into NotFound or Closed.
func (r *Repository) explainNoop(ctx context.Context, res sql.Result, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeerr.Infra(op, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetSession(ctx, id); err != nil {
		return err
	}
	return ErrSessionClosed
}

// AppendLog records one message. It succeeds for any existing session,
// open or closed, and bumps the activity of open ones. An empty Serial is
// taken from the session; a different one is rejected. Run it inside a
// transaction to make both writes atomic.
func (r *Repository) AppendLog(ctx context.Context, e LogEntry) (*LogEntry, error) {
	if !e.Direction.Valid() {
		return nil, ErrInvalidDirection
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO log_entries (session_id, serial, timestamp, direction, route, payload)
		 SELECT session_id, serial, ?, ?, ?, ? FROM sessions
		 WHERE session_id = ? AND (? = '' OR serial = ?)
		 RETURNING id, serial`,
		e.Timestamp, string(e.Direction), e.Route, e.Payload,
		e.SessionID, e.Serial, e.Serial,
	).Scan(&e.ID, &e.Serial)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.GetSession(ctx, e.SessionID); err != nil {
			return nil, err
		}
		return nil, ErrSerialMismatch
	}
	if err != nil {
		return nil, storeerr.Infra("appending log", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = MAX(last_activity, ?)
		 WHERE session_id = ? AND ended_at IS NULL`,
		e.Timestamp, e.SessionID,
	); err != nil {
		return nil, storeerr.Infra("touching session", err)
	}
	return &e, nil
}

// RecentLogs returns up to limit entries for serial, newest first.
// limit <= 0 means DefaultLogLimit; values above MaxLogLimit are clamped.
func (r *Repository) RecentLogs(ctx context.Context, serial string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	limit = min(limit, MaxLogLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, serial, timestamp, direction, route, payload
		 FROM log_entries WHERE serial = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		serial, limit,
	)
	if err != nil {
		return nil, storeerr.Infra("querying logs", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		var dir string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Serial, &e.Timestamp, &dir, &e.Route, &e.Payload); err != nil {
			return nil, storeerr.Infra("scanning log", err)
		}
		e.Direction = Direction(dir)
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating logs", err)
	}
	return logs, nil
}

// LastActivity returns the newest session activity per serial, for every
// serial with activity at or after since.
func (r *Repository) LastActivity(ctx context.Context, since int64) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT serial, MAX(last_activity) FROM sessions
		 WHERE last_activity >= ? GROUP BY serial`,
		since,
	)
	if err != nil {
		return nil, storeerr.Infra("querying activity", err)
	}
	defer rows.Close()

	seen := make(map[string]int64)
	for rows.Next() {
		var serial string
		var at int64
		if err := rows.Scan(&serial, &at); err != nil {
			return nil, storeerr.Infra("scanning activity", err)
		}
		seen[serial] = at
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating activity", err)
	}
	return seen, nil
}
