package integration

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

// SQLiteCache stores entries in the integration_cache table.
type SQLiteCache struct {
	db database.Executor
}

// NewSQLiteCache creates a cache on db.
func NewSQLiteCache(db database.Executor) *SQLiteCache {
	return &SQLiteCache{db: db}
}

// WithExecutor returns a copy of the cache that runs on ex.
func (c *SQLiteCache) WithExecutor(ex database.Executor) *SQLiteCache {
	return &SQLiteCache{db: ex}
}

// Get implements Cache.
func (c *SQLiteCache) Get(ctx context.Context, serial, provider string, now int64) (*Entry, error) {
	var e Entry
	err := c.db.QueryRowContext(ctx,
		`SELECT serial, provider, value, fetched_at, ttl_ms
		 FROM integration_cache WHERE serial = ? AND provider = ?`,
		serial, provider,
	).Scan(&e.Serial, &e.Provider, &e.Value, &e.FetchedAt, &e.TTLMillis)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMissing
		}
		return nil, storeerr.Infra("reading cache entry", err)
	}
	return classify(&e, now)
}

// Put implements Cache.
func (c *SQLiteCache) Put(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO integration_cache (serial, provider, value, fetched_at, ttl_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (serial, provider) DO UPDATE SET
		     value = excluded.value, fetched_at = excluded.fetched_at, ttl_ms = excluded.ttl_ms`,
		e.Serial, e.Provider, e.Value, e.FetchedAt, e.TTLMillis,
	)
	if err != nil {
		return storeerr.Infra("writing cache entry", err)
	}
	return nil
}

// DeleteForSerial implements Cache.
func (c *SQLiteCache) DeleteForSerial(ctx context.Context, serial string) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM integration_cache WHERE serial = ?", serial)
	if err != nil {
		return 0, storeerr.Infra("deleting cache entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeerr.Infra("deleting cache entries", err)
	}
	return n, nil
}
