package sharing

import (
	"time"

	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

var (
	ErrInviteNotFound  = storeerr.New("sharing: invite", storeerr.ErrNotFound)
	ErrInviteExpired   = storeerr.New("sharing: invite", storeerr.ErrExpired)
	ErrInviteResolved  = storeerr.New("sharing: invite", storeerr.ErrAlreadyResolved)
	ErrInviteNotActive = storeerr.New("sharing: invite not pending", storeerr.ErrInvalidState)
	ErrShareNotFound   = storeerr.New("sharing: share", storeerr.ErrNotFound)
	ErrInvalidInvite   = storeerr.New("sharing: invite", storeerr.ErrInvalidArgument)
)

// Permission is the access level a share grants, lowest first.
type Permission string

const (
	PermissionRead    Permission = "read"
	PermissionWrite   Permission = "write"
	PermissionControl Permission = "control"
	PermissionAdmin   Permission = "admin"

	DefaultPermission = PermissionControl
)

var permissionRank = map[Permission]int{
	PermissionRead:    1,
	PermissionWrite:   2,
	PermissionControl: 3,
	PermissionAdmin:   4,
}

// Valid reports whether p is a known level.
func (p Permission) Valid() bool {
	_, ok := permissionRank[p]
	return ok
}

// Includes reports whether p grants at least other.
func (p Permission) Includes(other Permission) bool {
	return p.Valid() && permissionRank[p] >= permissionRank[other]
}

// Status is an invite's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Invite is an owner's offer of access to one device.
type Invite struct {
	ID                string     `json:"invite_id"`
	Serial            string     `json:"serial"`
	InviterUserID     string     `json:"inviter_user_id"`
	InviteeIdentifier string     `json:"invitee"`
	Permission        Permission `json:"permission"`
	Status            Status     `json:"status"`
	IssuedAt          int64      `json:"issued_at"`
	ExpiresAt         int64      `json:"expires_at"`
	AcceptedBy        string     `json:"accepted_by,omitempty"`
	ResolvedAt        *int64     `json:"resolved_at,omitempty"`
}

// InviteRequest describes a new invite.
type InviteRequest struct {
	Serial            string
	InviterUserID     string
	InviteeIdentifier string // email or user id, opaque to the store
	Permission        Permission
	TTL               time.Duration
}

// Share is a non-owner's access grant.
type Share struct {
	Serial      string     `json:"serial"`
	UserID      string     `json:"user_id"`
	OwnerUserID string     `json:"owner_user_id"`
	Permission  Permission `json:"permission"`
	GrantedAt   int64      `json:"granted_at"`
}
