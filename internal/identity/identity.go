// Package identity holds user accounts and the one-owner-per-device mapping.
//
// Ownership is written by the pairing flow (a claimed entry key makes the
// claimer the owner) and read by the sharing and credential flows to
// authorise owner-only actions.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
	"github.com/nerrad567/thermostat-core/internal/token"
)

var (
	ErrUserNotFound       = storeerr.New("identity: user", storeerr.ErrNotFound)
	ErrUserExists         = storeerr.New("identity: user", storeerr.ErrAlreadyExists)
	ErrOwnerNotFound      = storeerr.New("identity: owner", storeerr.ErrNotFound)
	ErrInvalidCredentials = storeerr.New("identity: credentials", storeerr.ErrUnauthorized)
)

// User is an account. PasswordHash is never serialised.
type User struct {
	ID           string `json:"user_id"`
	Email        string `json:"email,omitempty"`
	PasswordHash string `json:"-"`
	CreatedAt    int64  `json:"created_at"`
}

// Owner binds a device to the user that paired it.
type Owner struct {
	Serial    string `json:"serial"`
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
}

// Repository stores users and device owners.
type Repository struct {
	db database.Executor
}

// NewRepository creates an identity repository on db.
func NewRepository(db database.Executor) *Repository {
	return &Repository{db: db}
}

// WithExecutor returns a copy of the repository that runs on ex.
func (r *Repository) WithExecutor(ex database.Executor) *Repository {
	return &Repository{db: ex}
}

// CreateUser inserts a user. An empty id is generated; email and password
// are optional. Emails are stored lower-cased.
func (r *Repository) CreateUser(ctx context.Context, id, email, password string, now int64) (*User, error) {
	if id == "" {
		id = token.ID("usr")
	}
	u := &User{ID: id, Email: normalizeEmail(email), CreatedAt: now}

	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (user_id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, nullString(u.Email), nullString(u.PasswordHash), u.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, storeerr.Infra("creating user", err)
	}
	return u, nil
}

// GetUser returns a user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "SELECT user_id, email, password_hash, created_at FROM users WHERE user_id = ?", id)
}

// GetUserByEmail returns a user by email, case-insensitively.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "SELECT user_id, email, password_hash, created_at FROM users WHERE email = ?", normalizeEmail(email))
}

func (r *Repository) getUser(ctx context.Context, query, arg string) (*User, error) {
	var u User
	var email, hash sql.NullString
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &email, &hash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storeerr.Infra("getting user", err)
	}
	u.Email = email.String
	u.PasswordHash = hash.String
	return &u, nil
}

// Authenticate checks an email and password. Unknown emails, accounts
// without a password and wrong passwords all return ErrInvalidCredentials.
func (r *Repository) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetOwner returns the owner of serial.
func (r *Repository) GetOwner(ctx context.Context, serial string) (*Owner, error) {
	var o Owner
	err := r.db.QueryRowContext(ctx,
		"SELECT serial, user_id, created_at FROM device_owners WHERE serial = ?", serial,
	).Scan(&o.Serial, &o.UserID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOwnerNotFound
		}
		return nil, storeerr.Infra("getting owner", err)
	}
	return &o, nil
}

// UpsertOwner makes userID the owner of serial. Re-asserting the current
// owner keeps the original created_at.
func (r *Repository) UpsertOwner(ctx context.Context, serial, userID string, now int64) (*Owner, error) {
	var o Owner
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO device_owners (serial, user_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (serial) DO UPDATE SET
		     created_at = CASE WHEN device_owners.user_id = excluded.user_id
		                       THEN device_owners.created_at ELSE excluded.created_at END,
		     user_id = excluded.user_id
		 RETURNING serial, user_id, created_at`,
		serial, userID, now,
	).Scan(&o.Serial, &o.UserID, &o.CreatedAt)
	if err != nil {
		return nil, storeerr.Infra("upserting owner", err)
	}
	return &o, nil
}

// RemoveOwner clears the owner of serial.
func (r *Repository) RemoveOwner(ctx context.Context, serial string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM device_owners WHERE serial = ?", serial)
	if err != nil {
		return storeerr.Infra("removing owner", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeerr.Infra("removing owner", err)
	}
	if n == 0 {
		return ErrOwnerNotFound
	}
	return nil
}

// ListDevicesForUser returns the serials userID owns.
func (r *Repository) ListDevicesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT serial FROM device_owners WHERE user_id = ? ORDER BY serial", userID)
	if err != nil {
		return nil, storeerr.Infra("listing owned devices", err)
	}
	defer rows.Close()

	serials := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, storeerr.Infra("scanning owned device", err)
		}
		serials = append(serials, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating owned devices", err)
	}
	return serials, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// nullString maps "" to SQL NULL for optional TEXT columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
