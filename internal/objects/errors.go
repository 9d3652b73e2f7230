package objects

import "github.com/nerrad567/thermostat-core/internal/storeerr"

// Domain errors for the objects package.
var (
	// ErrNotFound is returned when no object exists for (serial, key).
	ErrNotFound = storeerr.New("objects", storeerr.ErrNotFound)

	// ErrAlreadyExists is returned when creating (expected revision 0) over an existing object.
	ErrAlreadyExists = storeerr.New("objects", storeerr.ErrAlreadyExists)

	// ErrRevisionConflict is returned when the stored revision differs from the expected one.
	ErrRevisionConflict = storeerr.New("objects", storeerr.ErrRevisionConflict)

	// ErrInvalidObject is returned for an empty serial or key, or a negative revision.
	ErrInvalidObject = storeerr.New("objects", storeerr.ErrInvalidArgument)
)
