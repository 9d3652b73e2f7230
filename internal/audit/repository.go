// Package audit records security-relevant changes: ownership, shares,
// invites, API keys and device removal.
//
// Entries are written by the store façade in the same transaction as the
// change they describe, so an audit row exists exactly when the change
// committed.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
	"github.com/nerrad567/thermostat-core/internal/token"
)

// Actions recorded by the store.
const (
	ActionClaim   = "claim"
	ActionCreate  = "create"
	ActionAccept  = "accept"
	ActionRevoke  = "revoke"
	ActionDelete  = "delete"
	ActionRelease = "release"
)

// Entity types.
const (
	EntityDevice = "device"
	EntityInvite = "invite"
	EntityShare  = "share"
	EntityAPIKey = "api_key"
	EntityUser   = "user"
)

// AuditLog represents a single audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  int64          `json:"created_at"`
}

// Filter controls which audit logs to return.
type Filter struct {
	Action     string // optional
	EntityType string // optional
	EntityID   string // optional
	UserID     string // optional
	Limit      int    // default 50, max 200
	Offset     int
}

// ListResult contains the paginated audit log results.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository defines the interface for audit log operations.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit logs in SQLite.
type SQLiteRepository struct {
	db database.Executor
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db database.Executor) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithExecutor returns a copy of the repository that runs on ex.
func (r *SQLiteRepository) WithExecutor(ex database.Executor) *SQLiteRepository {
	return &SQLiteRepository{db: ex}
}

// Create inserts a new audit log entry. The ID is generated if empty;
// CreatedAt must be set by the caller.
func (r *SQLiteRepository) Create(ctx context.Context, log *AuditLog) error {
	if log.ID == "" {
		log.ID = token.ID("aud")
	}

	var detailsJSON *string
	if log.Details != nil {
		b, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Action, log.EntityType,
		nullableString(log.EntityID), nullableString(log.UserID),
		detailsJSON, log.CreatedAt,
	)
	if err != nil {
		return storeerr.Infra("inserting audit log", err)
	}
	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit logs matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit log queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for col, val := range map[string]string{
		"action":      filter.Action,
		"entity_type": filter.EntityType,
		"entity_id":   filter.EntityID,
		"user_id":     filter.UserID,
	} {
		if val != "" {
			conditions = append(conditions, col+" = ?")
			args = append(args, val)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM audit_logs " + where //nolint:gosec // WHERE built from fixed column names and ? placeholders
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, storeerr.Infra("counting audit logs", err)
	}

	query := "SELECT id, action, entity_type, entity_id, user_id, details, created_at FROM audit_logs " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeerr.Infra("querying audit logs", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var log AuditLog
		var entityID, userID, detailsJSON sql.NullString

		if err := rows.Scan(&log.ID, &log.Action, &log.EntityType,
			&entityID, &userID, &detailsJSON, &log.CreatedAt); err != nil {
			return nil, storeerr.Infra("scanning audit log", err)
		}
		log.EntityID = entityID.String
		log.UserID = userID.String
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				log.Details = details
			}
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating audit logs", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
