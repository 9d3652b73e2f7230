// Package credential issues and validates API keys.
//
// The plaintext secret ("tck_" followed by 43 base64url characters) is
// returned once from Issue and never stored; the table keeps its SHA-256
// hash and a short preview for display. Validation hashes the presented
// secret and looks the hash up, so there is no path that compares or
// recovers plaintext.
//
// A revoked key is never reactivated.
package credential

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
	"github.com/nerrad567/thermostat-core/internal/token"
)

// Well-known scopes. Scopes are free-form strings; these are the ones the
// control API checks.
const (
	ScopeAll   = "*"
	ScopeRead  = "read"
	ScopeWrite = "write"
)

var (
	ErrKeyNotFound = storeerr.New("credential: api key", storeerr.ErrNotFound)
	ErrInvalidKey  = storeerr.New("credential: api key", storeerr.ErrInvalid)
	ErrInvalidSpec = storeerr.New("credential: api key request", storeerr.ErrInvalidArgument)
)

// APIKey is the stored metadata of a key. It never contains the secret.
type APIKey struct {
	ID          string   `json:"key_id"`
	Preview     string   `json:"key_preview"`
	OwnerUserID string   `json:"owner_user_id"`
	Name        string   `json:"name"`
	Scopes      []string `json:"scopes"`
	Serials     []string `json:"serials,omitempty"` // empty means every device the owner can reach
	CreatedAt   int64    `json:"created_at"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
	LastUsedAt  *int64   `json:"last_used_at,omitempty"`
	Revoked     bool     `json:"revoked"`
	RevokedAt   *int64   `json:"revoked_at,omitempty"`
}

// Allows reports whether the key grants scope on serial. An empty serial
// asks about the scope alone.
func (k *APIKey) Allows(scope, serial string) bool {
	if k.Revoked {
		return false
	}
	if !slices.Contains(k.Scopes, ScopeAll) && !slices.Contains(k.Scopes, scope) {
		return false
	}
	return serial == "" || len(k.Serials) == 0 || slices.Contains(k.Serials, serial)
}

// IssueRequest describes a new key.
type IssueRequest struct {
	OwnerUserID string
	Name        string
	Scopes      []string
	Serials     []string
	ExpiresAt   *int64
}

// Repository stores API keys.
type Repository struct {
	db database.Executor
}

// NewRepository creates a credential repository on db.
func NewRepository(db database.Executor) *Repository {
	return &Repository{db: db}
}

// WithExecutor returns a copy of the repository that runs on ex.
func (r *Repository) WithExecutor(ex database.Executor) *Repository {
	return &Repository{db: ex}
}

const keyColumns = `key_id, key_preview, owner_user_id, name, scopes, serials,
	created_at, expires_at, last_used_at, revoked, revoked_at`

// Issue creates a key and returns its metadata and the plaintext secret.
// The secret cannot be retrieved again.
func (r *Repository) Issue(ctx context.Context, req IssueRequest, now int64) (*APIKey, string, error) {
	if req.OwnerUserID == "" || (req.ExpiresAt != nil && *req.ExpiresAt <= now) {
		return nil, "", ErrInvalidSpec
	}
	secret, err := token.APISecret()
	if err != nil {
		return nil, "", err
	}

	k := &APIKey{
		ID:          token.ID("key"),
		Preview:     token.Preview(secret),
		OwnerUserID: req.OwnerUserID,
		Name:        strings.TrimSpace(req.Name),
		Scopes:      normalizeList(req.Scopes),
		Serials:     normalizeList(req.Serials),
		CreatedAt:   now,
		ExpiresAt:   req.ExpiresAt,
	}
	scopes, err := json.Marshal(k.Scopes)
	if err != nil {
		return nil, "", err
	}
	serials, err := json.Marshal(k.Serials)
	if err != nil {
		return nil, "", err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_id, secret_hash, key_preview, owner_user_id, name,
		     scopes, serials, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, token.Hash(secret), k.Preview, k.OwnerUserID, k.Name,
		string(scopes), string(serials), k.CreatedAt, nullInt(k.ExpiresAt),
	)
	if err != nil {
		return nil, "", storeerr.Infra("issuing api key", err)
	}
	return k, secret, nil
}

// Validate resolves a presented secret to its key and records the use.
// Unknown, revoked and expired keys all fail with ErrInvalidKey. The check
// and the last-used update are one statement, so a key revoked concurrently
// is never accepted after the revoke commits.
func (r *Repository) Validate(ctx context.Context, secret string, now int64) (*APIKey, error) {
	if !strings.HasPrefix(secret, token.APIKeyPrefix) {
		return nil, ErrInvalidKey
	}
	k, err := scanKey(r.db.QueryRowContext(ctx,
		`UPDATE api_keys SET last_used_at = MAX(COALESCE(last_used_at, 0), ?)
		 WHERE secret_hash = ? AND revoked = 0 AND (expires_at IS NULL OR expires_at > ?)
		 RETURNING `+keyColumns,
		now, token.Hash(secret), now,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidKey
		}
		return nil, storeerr.Infra("validating api key", err)
	}
	return k, nil
}

// Get returns a key's metadata by id.
func (r *Repository) Get(ctx context.Context, keyID string) (*APIKey, error) {
	k, err := scanKey(r.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_id = ?`, keyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, storeerr.Infra("getting api key", err)
	}
	return k, nil
}

// Revoke disables a key permanently. Revoking a revoked key succeeds and
// keeps the original revocation time.
func (r *Repository) Revoke(ctx context.Context, keyID string, now int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked = 1, revoked_at = COALESCE(revoked_at, ?) WHERE key_id = ?`,
		now, keyID,
	)
	if err != nil {
		return storeerr.Infra("revoking api key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeerr.Infra("revoking api key", err)
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// List returns an owner's keys, newest first, revoked ones included.
func (r *Repository) List(ctx context.Context, ownerUserID string) ([]APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE owner_user_id = ?
		 ORDER BY created_at DESC, key_id`,
		ownerUserID,
	)
	if err != nil {
		return nil, storeerr.Infra("listing api keys", err)
	}
	defer rows.Close()

	keys := []APIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, storeerr.Infra("scanning api key", err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating api keys", err)
	}
	return keys, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*APIKey, error) {
	var k APIKey
	var scopes, serials string
	var expiresAt, lastUsedAt, revokedAt sql.NullInt64
	var revoked int
	if err := row.Scan(&k.ID, &k.Preview, &k.OwnerUserID, &k.Name, &scopes, &serials,
		&k.CreatedAt, &expiresAt, &lastUsedAt, &revoked, &revokedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopes), &k.Scopes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(serials), &k.Serials); err != nil {
		return nil, err
	}
	k.Revoked = revoked != 0
	k.ExpiresAt = ptr(expiresAt)
	k.LastUsedAt = ptr(lastUsedAt)
	k.RevokedAt = ptr(revokedAt)
	return &k, nil
}

// normalizeList trims, drops empties and de-duplicates, keeping order.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
