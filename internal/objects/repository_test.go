package objects

import (
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database/databasetest"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

const serial = "ABC123"

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	return NewSQLiteRepository(databasetest.Open(t))
}

func TestPut_AwayStateScenario(t *testing.T) {
	repo := newTestRepo(t)
	ctx := t.Context()

	obj, err := repo.Put(ctx, serial, "away_state", 0, "true", 1000)
	if err != nil {
		t.Fatalf("Put(create) error = %v", err)
	}
	if obj.Revision != 1 {
		t.Errorf("Revision = %d, want 1", obj.Revision)
	}

	obj, err = repo.Put(ctx, serial, "away_state", 1, "false", 2000)
	if err != nil {
		t.Fatalf("Put(rev 1) error = %v", err)
	}
	if obj.Revision != 2 {
		t.Errorf("Revision = %d, want 2", obj.Revision)
	}

	_, err = repo.Put(ctx, serial, "away_state", 1, "true", 3000)
	if !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("Put(stale) error = %v, want ErrRevisionConflict", err)
	}
	if !errors.Is(err, storeerr.ErrRevisionConflict) {
		t.Error("conflict does not match storeerr kind")
	}

	got, err := repo.Get(ctx, serial, "away_state")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Value != "false" || got.Revision != 2 || got.UpdatedAt != 2000 {
		t.Errorf("stale write mutated object: %+v", got)
	}
}

func TestPut_RoundTripIsByteExact(t *testing.T) {
	repo := newTestRepo(t)
	ctx := t.Context()
	value := "{\"target_temperature\":21.5,\"name\":\"Küche \\u00e9\"}\n\t "

	if _, err := repo.Put(ctx, serial, "shared."+serial, 0, value, 42); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := repo.Get(ctx, serial, "shared."+serial)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Value != value {
		t.Errorf("Value = %q, want %q", got.Value, value)
	}
	if got.Revision != 1 {
		t.Errorf("Revision = %d, want 1", got.Revision)
	}
}

func TestPut_RevisionMonotonic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := t.Context()

	// Clock steps backwards at i == 5; updated_at must hold.
	times := []int64{100, 200, 300, 400, 500, 50, 600, 700}
	var rev int64
	var lastUpdated int64
	for i, now := range times {
		obj, err := repo.Put(ctx, serial, "device."+serial, rev, "v", now)
		if err != nil {
			t.Fatalf("Put #%d error = %v", i, err)
		}
		if obj.Revision != rev+1 {
			t.Fatalf("Put #%d revision = %d, want %d", i, obj.Revision, rev+1)
		}
		if obj.UpdatedAt < lastUpdated {
			t.Fatalf("Put #%d updated_at went backwards: %d < %d", i, obj.UpdatedAt, lastUpdated)
		}
		rev, lastUpdated = obj.Revision, obj.UpdatedAt
	}
	if lastUpdated != 700 {
		t.Errorf("final updated_at = %d, want 700", lastUpdated)
	}
}

func TestPut_Errors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := t.Context()

	if _, err := repo.Put(ctx, serial, "k", 0, "a", 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	tests := []struct {
		name     string
		serial   string
		key      string
		expected int64
		want     error
	}{
		{"create over existing", serial, "k", 0, ErrAlreadyExists},
		{"update missing", serial, "missing", 1, ErrNotFound},
		{"future revision", serial, "k", 7, ErrRevisionConflict},
		{"empty serial", "", "k", 0, ErrInvalidObject},
		{"empty key", serial, "", 0, ErrInvalidObject},
		{"negative revision", serial, "k", -1, ErrInvalidObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Put(ctx, tt.serial, tt.key, tt.expected, "b", 2)
			if !errors.Is(err, tt.want) {
				t.Errorf("Put() error = %v, want %v", err, tt.want)
			}
		})
	}

	got, _ := repo.Get(ctx, serial, "k") //nolint:errcheck // checked via got
	if got == nil || got.Value != "a" || got.Revision != 1 {
		t.Errorf("failed writes mutated object: %+v", got)
	}
}

func TestPut_ConcurrentSameRevisionOneWinner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := t.Context()

	if _, err := repo.Put(ctx, serial, "shared."+serial, 0, "initial", 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Put(ctx, serial, "shared."+serial, 1, "writer", int64(10+i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRevisionConflict):
				conflicts++
			default:
				t.Errorf("Put() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Errorf("wins/conflicts = %d/%d, want 1/%d", wins, conflicts, writers-1)
	}
	got, err := repo.Get(ctx, serial, "shared."+serial)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Revision != 2 {
		t.Errorf("Revision = %d, want 2", got.Revision)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(t.Context(), serial, "nope")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, storeerr.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestListAndDeleteDevice(t *testing.T) {
	repo := newTestRepo(t)
	ctx := t.Context()

	for _, key := range []string{"shared.ABC123", "device.ABC123", "schedule.ABC123"} {
		if _, err := repo.Put(ctx, serial, key, 0, "{}", 1); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}
	if _, err := repo.Put(ctx, "OTHER", "device.OTHER", 0, "{}", 1); err != nil {
		t.Fatalf("Put(other) error = %v", err)
	}

	list, err := repo.List(ctx, serial)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	if list[0].Key != "device.ABC123" || list[0].Type() != "device" {
		t.Errorf("List()[0] = %+v, want device bucket first", list[0])
	}

	serials, err := repo.ListSerials(ctx)
	if err != nil {
		t.Fatalf("ListSerials() error = %v", err)
	}
	if len(serials) != 2 || serials[0] != serial || serials[1] != "OTHER" {
		t.Errorf("ListSerials() = %v", serials)
	}

	n, err := repo.DeleteDevice(ctx, serial)
	if err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteDevice() = %d, want 3", n)
	}
	list, _ = repo.List(ctx, serial) //nolint:errcheck // checked via len
	if len(list) != 0 {
		t.Errorf("objects remain after delete: %v", list)
	}
	if others, _ := repo.List(ctx, "OTHER"); len(others) != 1 { //nolint:errcheck // checked via len
		t.Error("DeleteDevice removed another device's objects")
	}
}

func TestTypeOf(t *testing.T) {
	tests := map[string]string{
		"device.09AA01AC31170EFK": "device",
		"shared.X":                "shared",
		"user.1.extra":            "user",
		"nodot":                   "nodot",
	}
	for key, want := range tests {
		if got := TypeOf(key); got != want {
			t.Errorf("TypeOf(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestPut_DriverErrorIsNotConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("UPDATE device_objects").
		WithArgs("v", int64(5), serial, "k", int64(1)).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})

	repo := NewSQLiteRepository(db)
	_, err = repo.Put(t.Context(), serial, "k", 1, "v", 5)
	if err == nil {
		t.Fatal("Put() error = nil, want infrastructure error")
	}
	if errors.Is(err, storeerr.ErrRevisionConflict) {
		t.Errorf("driver error reported as revision conflict: %v", err)
	}
	if !storeerr.IsTemporary(err) {
		t.Errorf("busy database should be a temporary infrastructure error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
