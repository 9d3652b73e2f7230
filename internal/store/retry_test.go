package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/thermostat-core/internal/objects"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

var fastRetry = RetryPolicy{Wait: time.Millisecond, Retries: 3}

func TestRetryOnConflict(t *testing.T) {
	busy := storeerr.Infra("put object", sqlite3.Error{Code: sqlite3.ErrBusy})

	tests := []struct {
		name      string
		errs      []error // returned by successive calls; nil after the list ends
		wantCalls int
		wantErr   error
	}{
		{"succeeds first time", nil, 1, nil},
		{"conflict then success", []error{objects.ErrRevisionConflict, objects.ErrRevisionConflict}, 3, nil},
		{"not found is final", []error{objects.ErrNotFound}, 1, storeerr.ErrNotFound},
		{"infra is not a conflict", []error{busy}, 1, busy},
		{
			"retries exhausted",
			[]error{objects.ErrRevisionConflict, objects.ErrRevisionConflict, objects.ErrRevisionConflict, objects.ErrRevisionConflict, objects.ErrRevisionConflict},
			4,
			storeerr.ErrRevisionConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryOnConflict(t.Context(), fastRetry, func() error {
				calls++
				if calls <= len(tt.errs) {
					return tt.errs[calls-1]
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RetryOnConflict() error = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransient(t *testing.T) {
	busy := storeerr.Infra("claiming entry key", sqlite3.Error{Code: sqlite3.ErrBusy})
	broken := storeerr.Infra("claiming entry key", errors.New("disk I/O error"))

	calls := 0
	err := RetryTransient(t.Context(), fastRetry, func() error {
		calls++
		if calls < 3 {
			return busy
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("RetryTransient(busy twice) = %v after %d calls", err, calls)
	}

	calls = 0
	err = RetryTransient(t.Context(), fastRetry, func() error {
		calls++
		return broken
	})
	if !errors.Is(err, broken) || calls != 1 {
		t.Errorf("RetryTransient(permanent) = %v after %d calls", err, calls)
	}

	calls = 0
	err = RetryTransient(t.Context(), fastRetry, func() error {
		calls++
		return objects.ErrRevisionConflict
	})
	if !errors.Is(err, storeerr.ErrRevisionConflict) || calls != 1 {
		t.Errorf("RetryTransient(conflict) = %v after %d calls", err, calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	calls := 0
	err := RetryOnConflict(ctx, RetryPolicy{Wait: time.Hour, Retries: 10}, func() error {
		calls++
		return objects.ErrRevisionConflict
	})
	if err == nil {
		t.Fatal("RetryOnConflict() with cancelled context returned nil")
	}
	if calls > 1 {
		t.Errorf("calls = %d, want at most 1", calls)
	}
}

func TestRetryOnConflict_ConcurrentIncrements(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	if _, err := h.svc.PutObject(ctx, serial, "counter", objects.CreateRevision, "0"); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}

	const writers = 5
	errs := make(chan error, writers)
	for range writers {
		go func() {
			errs <- RetryOnConflict(ctx, RetryPolicy{Wait: time.Millisecond, Retries: 50}, func() error {
				obj, err := h.svc.GetObject(ctx, serial, "counter")
				if err != nil {
					return err
				}
				_, err = h.svc.PutObject(ctx, serial, "counter", obj.Revision, obj.Value+"+")
				return err
			})
		}()
	}
	for range writers {
		if err := <-errs; err != nil {
			t.Errorf("writer error = %v", err)
		}
	}

	obj, err := h.svc.GetObject(ctx, serial, "counter")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if obj.Revision != writers+1 || obj.Value != "0+++++" {
		t.Errorf("final object = %+v, want every writer applied once", obj)
	}
}
