package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

var (
	ErrConfigNotFound = storeerr.New("integration: config", storeerr.ErrNotFound)
	ErrInvalidConfig  = storeerr.New("integration: config", storeerr.ErrInvalidArgument)
)

// Config is one user's settings for one integration type ("mqtt",
// "weather", ...). Settings is free-form and owned by the integration.
type Config struct {
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Enabled   bool           `json:"enabled"`
	Settings  map[string]any `json:"config"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// ConfigRepository stores integration configs.
type ConfigRepository struct {
	db database.Executor
}

// NewConfigRepository creates a config repository on db.
func NewConfigRepository(db database.Executor) *ConfigRepository {
	return &ConfigRepository{db: db}
}

const configColumns = "user_id, type, enabled, config, created_at, updated_at"

// Upsert creates or replaces a config, keeping created_at on replace.
func (r *ConfigRepository) Upsert(ctx context.Context, c Config, now int64) (*Config, error) {
	if c.UserID == "" || c.Type == "" {
		return nil, ErrInvalidConfig
	}
	if c.Settings == nil {
		c.Settings = map[string]any{}
	}
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO integrations (`+configColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, type) DO UPDATE SET
		     enabled = excluded.enabled, config = excluded.config, updated_at = excluded.updated_at
		 RETURNING `+configColumns,
		c.UserID, c.Type, boolToInt(c.Enabled), string(settings), now, now,
	)
	out, err := scanConfig(row)
	if err != nil {
		return nil, storeerr.Infra("upserting integration config", err)
	}
	return out, nil
}

// Get returns one config.
func (r *ConfigRepository) Get(ctx context.Context, userID, typ string) (*Config, error) {
	c, err := scanConfig(r.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM integrations WHERE user_id = ? AND type = ?`, userID, typ))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, storeerr.Infra("getting integration config", err)
	}
	return c, nil
}

// List returns every config of a user.
func (r *ConfigRepository) List(ctx context.Context, userID string) ([]Config, error) {
	return r.list(ctx, `SELECT `+configColumns+` FROM integrations WHERE user_id = ? ORDER BY type`, userID)
}

// ListEnabled returns every enabled config of one type across users, for
// integration workers that fan out per user.
func (r *ConfigRepository) ListEnabled(ctx context.Context, typ string) ([]Config, error) {
	return r.list(ctx, `SELECT `+configColumns+` FROM integrations WHERE type = ? AND enabled = 1 ORDER BY user_id`, typ)
}

// Delete removes one config.
func (r *ConfigRepository) Delete(ctx context.Context, userID, typ string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM integrations WHERE user_id = ? AND type = ?", userID, typ)
	if err != nil {
		return storeerr.Infra("deleting integration config", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeerr.Infra("deleting integration config", err)
	}
	if n == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (r *ConfigRepository) list(ctx context.Context, query, arg string) ([]Config, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, storeerr.Infra("listing integration configs", err)
	}
	defer rows.Close()

	configs := []Config{}
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, storeerr.Infra("scanning integration config", err)
		}
		configs = append(configs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating integration configs", err)
	}
	return configs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConfig(row scanner) (*Config, error) {
	var c Config
	var enabled int
	var settings string
	if err := row.Scan(&c.UserID, &c.Type, &enabled, &settings, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(settings), &c.Settings); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
