package sharing

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
	"github.com/nerrad567/thermostat-core/internal/token"
)

const inviteColumns = `invite_id, serial, inviter_user_id, invitee_identifier, permission,
	status, issued_at, expires_at, accepted_by, resolved_at`

const shareColumns = `serial, user_id, owner_user_id, permission, granted_at`

// Repository stores invites and shares.
type Repository struct {
	db database.Executor
}

// NewRepository creates a sharing repository on db.
func NewRepository(db database.Executor) *Repository {
	return &Repository{db: db}
}

// WithExecutor returns a copy of the repository that runs on ex.
func (r *Repository) WithExecutor(ex database.Executor) *Repository {
	return &Repository{db: ex}
}

// CreateInvite stores a pending invite with an unguessable id.
// An empty permission means DefaultPermission.
func (r *Repository) CreateInvite(ctx context.Context, req InviteRequest, now int64) (*Invite, error) {
	if req.Permission == "" {
		req.Permission = DefaultPermission
	}
	if req.Serial == "" || req.InviterUserID == "" || req.InviteeIdentifier == "" ||
		req.TTL <= 0 || !req.Permission.Valid() {
		return nil, ErrInvalidInvite
	}

	id, err := token.Opaque()
	if err != nil {
		return nil, err
	}
	inv := &Invite{
		ID:                id,
		Serial:            req.Serial,
		InviterUserID:     req.InviterUserID,
		InviteeIdentifier: req.InviteeIdentifier,
		Permission:        req.Permission,
		Status:            StatusPending,
		IssuedAt:          now,
		ExpiresAt:         now + req.TTL.Milliseconds(),
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO share_invites (invite_id, serial, inviter_user_id, invitee_identifier,
		     permission, status, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Serial, inv.InviterUserID, inv.InviteeIdentifier,
		string(inv.Permission), string(inv.Status), inv.IssuedAt, inv.ExpiresAt,
	)
	if err != nil {
		return nil, storeerr.Infra("creating invite", err)
	}
	return inv, nil
}

// GetInvite returns an invite, marking it expired first if it is pending
// and past its expiry.
func (r *Repository) GetInvite(ctx context.Context, id string, now int64) (*Invite, error) {
	inv, err := r.readInvite(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusPending && now >= inv.ExpiresAt {
		return r.markExpired(ctx, inv)
	}
	return inv, nil
}

// ListInvites returns a device's invites, newest first, after applying
// lazy expiry to the device's pending ones.
func (r *Repository) ListInvites(ctx context.Context, serial string, now int64) ([]Invite, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE share_invites SET status = 'expired', resolved_at = expires_at
		 WHERE serial = ? AND status = 'pending' AND expires_at <= ?`,
		serial, now,
	); err != nil {
		return nil, storeerr.Infra("expiring invites", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+inviteColumns+` FROM share_invites WHERE serial = ?
		 ORDER BY issued_at DESC, invite_id`,
		serial,
	)
	if err != nil {
		return nil, storeerr.Infra("listing invites", err)
	}
	defer rows.Close()

	invites := []Invite{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, storeerr.Infra("scanning invite", err)
		}
		invites = append(invites, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating invites", err)
	}
	return invites, nil
}

// AcceptInvite resolves a pending, unexpired invite for userID and grants
// the share. Only the first acceptance resolves the invite; later ones fail
// with ErrInviteResolved. Run inside a transaction so the invite and share
// change together.
func (r *Repository) AcceptInvite(ctx context.Context, id, userID string, now int64) (*Share, error) {
	if userID == "" {
		return nil, ErrInvalidInvite
	}

	var s Share
	var perm string
	err := r.db.QueryRowContext(ctx,
		`UPDATE share_invites SET status = 'accepted', accepted_by = ?, resolved_at = ?
		 WHERE invite_id = ? AND status = 'pending' AND expires_at > ?
		 RETURNING serial, inviter_user_id, permission`,
		userID, now, id, now,
	).Scan(&s.Serial, &s.OwnerUserID, &perm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.explainAccept(ctx, id)
	}
	if err != nil {
		return nil, storeerr.Infra("accepting invite", err)
	}

	s.UserID = userID
	s.Permission = Permission(perm)
	s.GrantedAt = now
	return r.upsertShare(ctx, s)
}

func (r *Repository) explainAccept(ctx context.Context, id string) error {
	inv, err := r.readInvite(ctx, id)
	if err != nil {
		return err
	}
	switch inv.Status {
	case StatusPending:
		if _, err := r.markExpired(ctx, inv); err != nil {
			return err
		}
		return ErrInviteExpired
	case StatusExpired:
		return ErrInviteExpired
	default:
		return ErrInviteResolved
	}
}

// upsertShare writes s, keeping the original grant time if the user
// already had access.
func (r *Repository) upsertShare(ctx context.Context, s Share) (*Share, error) {
	var perm string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO device_shares (`+shareColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (serial, user_id) DO UPDATE SET
		     owner_user_id = excluded.owner_user_id,
		     permission = excluded.permission
		 RETURNING `+shareColumns,
		s.Serial, s.UserID, s.OwnerUserID, string(s.Permission), s.GrantedAt,
	).Scan(&s.Serial, &s.UserID, &s.OwnerUserID, &perm, &s.GrantedAt)
	if err != nil {
		return nil, storeerr.Infra("upserting share", err)
	}
	s.Permission = Permission(perm)
	return &s, nil
}

// RevokeInvite moves a pending invite to revoked. An invite that is no
// longer pending, including one that has just lapsed, fails with
// ErrInviteNotActive.
func (r *Repository) RevokeInvite(ctx context.Context, id string, now int64) (*Invite, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE share_invites SET status = 'revoked', resolved_at = ?
		 WHERE invite_id = ? AND status = 'pending' AND expires_at > ?`,
		now, id, now,
	)
	if err != nil {
		return nil, storeerr.Infra("revoking invite", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, storeerr.Infra("revoking invite", err)
	}
	if n == 1 {
		return r.readInvite(ctx, id)
	}

	inv, err := r.readInvite(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusPending {
		if _, err := r.markExpired(ctx, inv); err != nil {
			return nil, err
		}
	}
	return nil, ErrInviteNotActive
}

// ExpirePending marks every lapsed pending invite expired and returns how
// many changed.
func (r *Repository) ExpirePending(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE share_invites SET status = 'expired', resolved_at = expires_at
		 WHERE status = 'pending' AND expires_at <= ?`, now)
	if err != nil {
		return 0, storeerr.Infra("expiring invites", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeerr.Infra("expiring invites", err)
	}
	return n, nil
}

// GetShare returns userID's share of serial.
func (r *Repository) GetShare(ctx context.Context, serial, userID string) (*Share, error) {
	var s Share
	var perm string
	err := r.db.QueryRowContext(ctx,
		`SELECT `+shareColumns+` FROM device_shares WHERE serial = ? AND user_id = ?`,
		serial, userID,
	).Scan(&s.Serial, &s.UserID, &s.OwnerUserID, &perm, &s.GrantedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, storeerr.Infra("getting share", err)
	}
	s.Permission = Permission(perm)
	return &s, nil
}

// ListShares returns everyone a device is shared with.
func (r *Repository) ListShares(ctx context.Context, serial string) ([]Share, error) {
	return r.listShares(ctx,
		`SELECT `+shareColumns+` FROM device_shares WHERE serial = ? ORDER BY granted_at, user_id`, serial)
}

// ListSharedWithUser returns every share granted to userID.
func (r *Repository) ListSharedWithUser(ctx context.Context, userID string) ([]Share, error) {
	return r.listShares(ctx,
		`SELECT `+shareColumns+` FROM device_shares WHERE user_id = ? ORDER BY serial`, userID)
}

func (r *Repository) listShares(ctx context.Context, query, arg string) ([]Share, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, storeerr.Infra("listing shares", err)
	}
	defer rows.Close()

	shares := []Share{}
	for rows.Next() {
		var s Share
		var perm string
		if err := rows.Scan(&s.Serial, &s.UserID, &s.OwnerUserID, &perm, &s.GrantedAt); err != nil {
			return nil, storeerr.Infra("scanning share", err)
		}
		s.Permission = Permission(perm)
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.Infra("iterating shares", err)
	}
	return shares, nil
}

// RevokeShare removes userID's access to serial.
func (r *Repository) RevokeShare(ctx context.Context, serial, userID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM device_shares WHERE serial = ? AND user_id = ?", serial, userID)
	if err != nil {
		return storeerr.Infra("revoking share", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeerr.Infra("revoking share", err)
	}
	if n == 0 {
		return ErrShareNotFound
	}
	return nil
}

// DeleteForSerial removes every invite and share of a device. Used when a
// device is deleted or changes owner.
func (r *Repository) DeleteForSerial(ctx context.Context, serial string) (int64, error) {
	var total int64
	for _, q := range []string{
		"DELETE FROM share_invites WHERE serial = ?",
		"DELETE FROM device_shares WHERE serial = ?",
	} {
		res, err := r.db.ExecContext(ctx, q, serial)
		if err != nil {
			return 0, storeerr.Infra("deleting sharing data", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storeerr.Infra("deleting sharing data", err)
		}
		total += n
	}
	return total, nil
}

func (r *Repository) readInvite(ctx context.Context, id string) (*Invite, error) {
	inv, err := scanInvite(r.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM share_invites WHERE invite_id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, storeerr.Infra("getting invite", err)
	}
	return inv, nil
}

// markExpired moves a lapsed pending invite to expired. The status guard
// keeps a concurrent accept or revoke from being overwritten.
func (r *Repository) markExpired(ctx context.Context, inv *Invite) (*Invite, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE share_invites SET status = 'expired', resolved_at = expires_at
		 WHERE invite_id = ? AND status = 'pending'`,
		inv.ID,
	); err != nil {
		return nil, storeerr.Infra("expiring invite", err)
	}
	return r.readInvite(ctx, inv.ID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvite(row scanner) (*Invite, error) {
	var inv Invite
	var perm, status string
	var acceptedBy sql.NullString
	var resolvedAt sql.NullInt64
	if err := row.Scan(&inv.ID, &inv.Serial, &inv.InviterUserID, &inv.InviteeIdentifier,
		&perm, &status, &inv.IssuedAt, &inv.ExpiresAt, &acceptedBy, &resolvedAt); err != nil {
		return nil, err
	}
	inv.Permission = Permission(perm)
	inv.Status = Status(status)
	inv.AcceptedBy = acceptedBy.String
	if resolvedAt.Valid {
		inv.ResolvedAt = &resolvedAt.Int64
	}
	return &inv, nil
}
