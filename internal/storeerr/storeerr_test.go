package storeerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestNew_MatchesKind(t *testing.T) {
	errClaimed := New("pairing", ErrAlreadyClaimed)

	if errClaimed.Error() != "pairing: already claimed" {
		t.Errorf("Error() = %q", errClaimed.Error())
	}
	if !errors.Is(errClaimed, ErrAlreadyClaimed) {
		t.Error("component sentinel does not match its kind")
	}
	if errors.Is(errClaimed, ErrExpired) {
		t.Error("component sentinel matches an unrelated kind")
	}

	wrapped := fmt.Errorf("claiming 482KQWZ: %w", errClaimed)
	if !errors.Is(wrapped, errClaimed) || Kind(wrapped) != ErrAlreadyClaimed {
		t.Error("wrapping lost the kind")
	}
}

func TestInfra(t *testing.T) {
	driverErr := sqlite3.Error{Code: sqlite3.ErrBusy}

	err := Infra("put object", fmt.Errorf("executing query: %w", driverErr))
	if !IsInfra(err) {
		t.Fatalf("IsInfra(%v) = false", err)
	}
	if !IsTemporary(err) {
		t.Error("busy database should be temporary")
	}
	if Kind(err) != nil {
		t.Errorf("infrastructure error matched kind %v", Kind(err))
	}
	if errors.Is(err, ErrRevisionConflict) {
		t.Error("infrastructure error reported as revision conflict")
	}

	ioErr := Infra("get object", errors.New("disk I/O error"))
	if IsTemporary(ioErr) {
		t.Error("generic failure should not be temporary")
	}

	if Infra("noop", nil) != nil {
		t.Error("Infra(nil) should be nil")
	}

	domain := New("objects", ErrNotFound)
	if got := Infra("get object", domain); got != domain { //nolint:errorlint // identity is the property under test
		t.Errorf("Infra(domain) = %v, want unchanged", got)
	}
	if got := Infra("outer", err); got != err { //nolint:errorlint // identity is the property under test
		t.Error("Infra should not double wrap")
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{New("objects", ErrRevisionConflict), "revision_conflict"},
		{New("sharing", ErrAlreadyResolved), "already_resolved"},
		{New("credential", ErrInvalid), "invalid"},
		{Infra("op", context.DeadlineExceeded), "infrastructure"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		if got := Name(tt.err); got != tt.want {
			t.Errorf("Name(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
