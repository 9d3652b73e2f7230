package objects

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

// Repository defines the object store operations.
type Repository interface {
	// Get returns the object, or ErrNotFound.
	Get(ctx context.Context, serial, key string) (*Object, error)

	// Put writes value if the stored revision equals expected.
	// expected == CreateRevision creates the object at revision 1.
	Put(ctx context.Context, serial, key string, expected int64, value string, now int64) (*Object, error)

	// List returns every object of a device ordered by key.
	List(ctx context.Context, serial string) ([]Object, error)

	// DeleteDevice removes every object of a device and returns how many were removed.
	DeleteDevice(ctx context.Context, serial string) (int64, error)

	// ListSerials returns every serial with at least one object.
	ListSerials(ctx context.Context) ([]string, error)
}

// SQLiteRepository implements Repository on the device_objects table.
type SQLiteRepository struct {
	db database.Executor
}

// NewSQLiteRepository creates a repository bound to db, which may be a
// *database.DB or a transaction.
func NewSQLiteRepository(db database.Executor) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithExecutor returns a copy of the repository that runs on ex.
func (r *SQLiteRepository) WithExecutor(ex database.Executor) *SQLiteRepository {
	return &SQLiteRepository{db: ex}
}

// Get retrieves one object.
func (r *SQLiteRepository) Get(ctx context.Context, serial, key string) (*Object, error) {
	var o Object
	err := r.db.QueryRowContext(ctx,
		`SELECT serial, object_key, value, revision, updated_at
		 FROM device_objects WHERE serial = ? AND object_key = ?`,
		serial, key,
	).Scan(&o.Serial, &o.Key, &o.Value, &o.Revision, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeerr.Infra("getting object", err)
	}
	return &o, nil
}

// Put performs the compare-and-set write.
//
// A conflicting write leaves the stored object untouched. updated_at never
// moves backwards even if now is behind the stored timestamp.
func (r *SQLiteRepository) Put(ctx context.Context, serial, key string, expected int64, value string, now int64) (*Object, error) {
	if serial == "" || key == "" || expected < 0 {
		return nil, ErrInvalidObject
	}
	if expected == CreateRevision {
		return r.create(ctx, serial, key, value, now)
	}

	o := Object{Serial: serial, Key: key, Value: value}
	err := r.db.QueryRowContext(ctx,
		`UPDATE device_objects
		 SET value = ?, revision = revision + 1, updated_at = MAX(updated_at, ?)
		 WHERE serial = ? AND object_key = ? AND revision = ?
		 RETURNING revision, updated_at`,
		value, now, serial, key, expected,
	).Scan(&o.Revision, &o.UpdatedAt)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, storeerr.Infra("updating object", err)
	}

	// Nothing matched: report why.
	if _, err := r.Get(ctx, serial, key); err != nil {
		return nil, err
	}
	return nil, ErrRevisionConflict
}

func (r *SQLiteRepository) create(ctx context.Context, serial, key, value string, now int64) (*Object, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO device_objects (serial, object_key, value, revision, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (serial, object_key) DO NOTHING`,
		serial, key, value, now,
	)
	if err != nil {
		return nil, storeerr.Infra("creating object", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, storeerr.Infra("creating object", err)
	}
	if n == 0 {
		return nil, ErrAlreadyExists
	}
	return &Object{Serial: serial, Key: key, Value: value, Revision: 1, UpdatedAt: now}, nil
}

// List returns a snapshot of a device's objects.
func (r *SQLiteRepository) List(ctx context.Context, serial string) ([]Object, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT serial, object_key, value, revision, updated_at
		 FROM device_objects WHERE serial = ? ORDER BY object_key`,
		serial,
	)
	if err != nil {
		return nil, storeerr.Infra("listing objects", err)
	}
	defer rows.Close()

	out := []Object{}
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.Serial, &o.Key, &o.Value, &o.Revision, &o.UpdatedAt); err != nil {
			return nil, storeerr.Infra("scanning object", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating objects", err)
	}
	return out, nil
}

// DeleteDevice removes all objects for serial. Removing a device with no
// objects is not an error.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, serial string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM device_objects WHERE serial = ?", serial)
	if err != nil {
		return 0, storeerr.Infra("deleting device objects", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeerr.Infra("deleting device objects", err)
	}
	return n, nil
}

// ListSerials returns the distinct serials present in the store.
func (r *SQLiteRepository) ListSerials(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT DISTINCT serial FROM device_objects ORDER BY serial")
	if err != nil {
		return nil, storeerr.Infra("listing serials", err)
	}
	defer rows.Close()

	serials := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, storeerr.Infra("scanning serial", err)
		}
		serials = append(serials, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating serials", err)
	}
	return serials, nil
}
