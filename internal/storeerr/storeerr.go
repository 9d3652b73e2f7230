// Package storeerr defines the error kinds every store operation reports.
//
// Component packages declare their own sentinels wrapping one of these kinds,
// so callers can match either precisely (pairing.ErrAlreadyClaimed) or by
// kind (storeerr.ErrAlreadyClaimed):
//
//	if errors.Is(err, storeerr.ErrRevisionConflict) {
//	    // re-read and reapply
//	}
//
// Storage-engine failures are wrapped in *InfraError and never match a kind.
package storeerr

import (
	"errors"
	"fmt"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
)

// Domain error kinds.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRevisionConflict = errors.New("revision conflict")
	ErrExpired          = errors.New("expired")
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrAlreadyResolved  = errors.New("already resolved")
	ErrInvalidState     = errors.New("invalid state")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalid          = errors.New("invalid credential")
	ErrStale            = errors.New("stale")
	ErrInvalidArgument  = errors.New("invalid argument")
)

var kinds = []error{
	ErrNotFound, ErrAlreadyExists, ErrRevisionConflict, ErrExpired,
	ErrAlreadyClaimed, ErrAlreadyResolved, ErrInvalidState, ErrUnauthorized,
	ErrInvalid, ErrStale, ErrInvalidArgument,
}

// New returns a component sentinel "<component>: <kind>" that matches kind.
func New(component string, kind error) error {
	return fmt.Errorf("%s: %w", component, kind)
}

// Kind returns the domain kind err matches, or nil if it matches none.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Name is a short, stable label for err's kind, used as a metrics tag.
func Name(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsInfra(err):
		return "infrastructure"
	}
	switch Kind(err) {
	case ErrNotFound:
		return "not_found"
	case ErrAlreadyExists:
		return "already_exists"
	case ErrRevisionConflict:
		return "revision_conflict"
	case ErrExpired:
		return "expired"
	case ErrAlreadyClaimed:
		return "already_claimed"
	case ErrAlreadyResolved:
		return "already_resolved"
	case ErrInvalidState:
		return "invalid_state"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrInvalid:
		return "invalid"
	case ErrStale:
		return "stale"
	case ErrInvalidArgument:
		return "invalid_argument"
	default:
		return "error"
	}
}

// InfraError is a storage-engine failure (I/O, lock timeout, closed pool).
// It is distinct from every domain kind; callers may retry it with backoff
// when Temporary reports true.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure was a busy or locked database.
func (e *InfraError) Temporary() bool {
	return database.IsTransient(e.Err)
}

// Infra wraps err as an *InfraError for operation op. Errors that already
// carry a domain kind or an *InfraError are returned unchanged, and nil stays nil.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InfraError
	if errors.As(err, &ie) || Kind(err) != nil {
		return err
	}
	return &InfraError{Op: op, Err: err}
}

// IsInfra reports whether err is an infrastructure failure.
func IsInfra(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

// IsTemporary reports whether err is an infrastructure failure worth retrying.
func IsTemporary(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie) && ie.Temporary()
}
