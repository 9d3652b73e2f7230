// Package pairing issues and claims entry keys: short, single-use codes a
// thermostat displays so its owner can bind it to an account.
//
// A key moves one way only, from unclaimed to claimed, and only before it
// expires. The claim is a single conditional UPDATE, so when several users
// race on the same code exactly one wins and the rest see ErrAlreadyClaimed.
// Expired keys are inert; they are swept on the next issue for the same
// device or by PruneExpired.
package pairing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
	"github.com/nerrad567/thermostat-core/internal/token"
)

// maxIssueAttempts bounds code regeneration on primary key collisions.
const maxIssueAttempts = 5

var (
	ErrNotFound       = storeerr.New("pairing: entry key", storeerr.ErrNotFound)
	ErrExpired        = storeerr.New("pairing: entry key", storeerr.ErrExpired)
	ErrAlreadyClaimed = storeerr.New("pairing: entry key", storeerr.ErrAlreadyClaimed)
	ErrInvalidRequest = storeerr.New("pairing: entry key", storeerr.ErrInvalidArgument)

	// ErrCodeSpaceExhausted means every generated code collided.
	ErrCodeSpaceExhausted = errors.New("pairing: could not generate a unique code")
)

// EntryKey is a pairing code for one device.
type EntryKey struct {
	Code      string `json:"code"`
	Serial    string `json:"serial"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	ClaimedBy string `json:"claimed_by,omitempty"`
	ClaimedAt *int64 `json:"claimed_at,omitempty"`
}

// Claimed reports whether the key has been used.
func (k EntryKey) Claimed() bool {
	return k.ClaimedAt != nil
}

// Expired reports whether the key can no longer be claimed at now.
func (k EntryKey) Expired(now int64) bool {
	return now >= k.ExpiresAt
}

// Repository stores entry keys.
type Repository struct {
	db      database.Executor
	newCode func() (string, error)
}

// NewRepository creates a pairing repository on db.
func NewRepository(db database.Executor) *Repository {
	return &Repository{db: db, newCode: token.EntryCode}
}

// WithExecutor returns a copy of the repository that runs on ex.
func (r *Repository) WithExecutor(ex database.Executor) *Repository {
	return &Repository{db: ex, newCode: r.newCode}
}

// Issue creates a new entry key for serial valid for ttl from now.
// Expired unclaimed keys for the same device are removed first.
func (r *Repository) Issue(ctx context.Context, serial string, ttl time.Duration, now int64) (*EntryKey, error) {
	if serial == "" || ttl <= 0 {
		return nil, ErrInvalidRequest
	}

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM entry_keys WHERE serial = ? AND claimed_by IS NULL AND expires_at <= ?`,
		serial, now,
	); err != nil {
		return nil, storeerr.Infra("sweeping entry keys", err)
	}

	key := &EntryKey{Serial: serial, IssuedAt: now, ExpiresAt: now + ttl.Milliseconds()}
	for range maxIssueAttempts {
		code, err := r.newCode()
		if err != nil {
			return nil, err
		}
		key.Code = code

		_, err = r.db.ExecContext(ctx,
			`INSERT INTO entry_keys (code, serial, issued_at, expires_at) VALUES (?, ?, ?, ?)`,
			key.Code, key.Serial, key.IssuedAt, key.ExpiresAt,
		)
		if err == nil {
			return key, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, storeerr.Infra("issuing entry key", err)
		}
	}
	return nil, ErrCodeSpaceExhausted
}

// Get returns an entry key by code, claimed or not.
func (r *Repository) Get(ctx context.Context, code string) (*EntryKey, error) {
	return r.scanOne(ctx,
		`SELECT code, serial, issued_at, expires_at, claimed_by, claimed_at
		 FROM entry_keys WHERE code = ?`,
		token.NormalizeEntryCode(code))
}

// ActiveForSerial returns the newest unclaimed, unexpired key for serial.
func (r *Repository) ActiveForSerial(ctx context.Context, serial string, now int64) (*EntryKey, error) {
	return r.scanOne(ctx,
		`SELECT code, serial, issued_at, expires_at, claimed_by, claimed_at
		 FROM entry_keys WHERE serial = ? AND claimed_by IS NULL AND expires_at > ?
		 ORDER BY issued_at DESC LIMIT 1`,
		serial, now)
}

// Claim binds the key to userID. It fails with ErrNotFound for an unknown
// code, ErrAlreadyClaimed if someone claimed it first (even if it has since
// expired) and ErrExpired if it lapsed unclaimed.
func (r *Repository) Claim(ctx context.Context, code, userID string, now int64) (*EntryKey, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	code = token.NormalizeEntryCode(code)

	key, err := r.scanOne(ctx,
		`UPDATE entry_keys SET claimed_by = ?, claimed_at = ?
		 WHERE code = ? AND claimed_by IS NULL AND expires_at > ?
		 RETURNING code, serial, issued_at, expires_at, claimed_by, claimed_at`,
		userID, now, code, now)
	if !errors.Is(err, ErrNotFound) {
		return key, err
	}

	// The conditional update matched nothing: explain why.
	existing, err := r.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing.Claimed() {
		return nil, ErrAlreadyClaimed
	}
	return nil, ErrExpired
}

// PruneExpired deletes every unclaimed key that expired at or before now.
// Claimed keys are kept as the pairing record.
func (r *Repository) PruneExpired(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM entry_keys WHERE claimed_by IS NULL AND expires_at <= ?", now)
	if err != nil {
		return 0, storeerr.Infra("pruning entry keys", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeerr.Infra("pruning entry keys", err)
	}
	return n, nil
}

// DeleteForSerial removes all keys for a device being deleted.
func (r *Repository) DeleteForSerial(ctx context.Context, serial string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM entry_keys WHERE serial = ?", serial)
	if err != nil {
		return 0, storeerr.Infra("deleting entry keys", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeerr.Infra("deleting entry keys", err)
	}
	return n, nil
}

func (r *Repository) scanOne(ctx context.Context, query string, args ...any) (*EntryKey, error) {
	var k EntryKey
	var claimedBy sql.NullString
	var claimedAt sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&k.Code, &k.Serial, &k.IssuedAt, &k.ExpiresAt, &claimedBy, &claimedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeerr.Infra("reading entry key", err)
	}
	k.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		k.ClaimedAt = &claimedAt.Int64
	}
	return &k, nil
}
