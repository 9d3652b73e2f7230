package store

import "github.com/nerrad567/thermostat-core/internal/storeerr"

var (
	// ErrNotOwner is returned when an owner-only operation is attempted by
	// anyone else, including when the device has no owner.
	ErrNotOwner = storeerr.New("store: caller is not the device owner", storeerr.ErrUnauthorized)

	// ErrAccessDenied is returned by Authorize when the user neither owns the
	// device nor holds a share with the required permission.
	ErrAccessDenied = storeerr.New("store: access denied", storeerr.ErrUnauthorized)

	// ErrOwnerInvite is returned when the device owner tries to accept an
	// invite to their own device. The invite stays pending.
	ErrOwnerInvite = storeerr.New("store: owner cannot accept a share", storeerr.ErrInvalidState)
)
