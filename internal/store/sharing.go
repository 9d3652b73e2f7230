package store

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/thermostat-core/internal/audit"
	"github.com/nerrad567/thermostat-core/internal/sharing"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

// CreateInvite lets the device owner offer access to someone else. A zero
// TTL uses the configured invite lifetime.
func (s *Service) CreateInvite(ctx context.Context, req sharing.InviteRequest) (_ *sharing.Invite, err error) {
	defer s.observe("create_invite", time.Now(), &err)

	if req.TTL == 0 {
		req.TTL = s.inviteTTL
	}
	now := s.now()

	var inv *sharing.Invite
	err = s.inTx(ctx, "creating invite", func(r repos) error {
		if _, err := requireOwner(ctx, r, req.Serial, req.InviterUserID); err != nil {
			return err
		}
		var err error
		inv, err = r.sharing.CreateInvite(ctx, req, now)
		if err != nil {
			return err
		}
		return record(ctx, r, now, audit.ActionCreate, audit.EntityInvite, inv.ID, req.InviterUserID, map[string]any{
			"serial":     inv.Serial,
			"invitee":    inv.InviteeIdentifier,
			"permission": string(inv.Permission),
		})
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GetInvite returns an invite by id; a lapsed pending invite is reported
// (and stored) as expired.
func (s *Service) GetInvite(ctx context.Context, inviteID string) (_ *sharing.Invite, err error) {
	defer s.observe("get_invite", time.Now(), &err)
	return s.repos.sharing.GetInvite(ctx, inviteID, s.now())
}

// ListInvites returns the invites of a device to its owner, newest first.
func (s *Service) ListInvites(ctx context.Context, serial, byUser string) (_ []sharing.Invite, err error) {
	defer s.observe("list_invites", time.Now(), &err)

	if _, err := requireOwner(ctx, s.repos, serial, byUser); err != nil {
		return nil, err
	}
	return s.repos.sharing.ListInvites(ctx, serial, s.now())
}

// AcceptInvite resolves a pending invite into a share for userID. It
// succeeds at most once per invite. The device owner cannot accept.
func (s *Service) AcceptInvite(ctx context.Context, inviteID, userID string) (_ *sharing.Share, err error) {
	defer s.observe("accept_invite", time.Now(), &err)

	now := s.now()
	var share *sharing.Share
	err = s.inTx(ctx, "accepting invite", func(r repos) error {
		var err error
		share, err = r.sharing.AcceptInvite(ctx, inviteID, userID, now)
		if err != nil {
			return err
		}
		owner, err := r.identity.GetOwner(ctx, share.Serial)
		switch {
		case err == nil && owner.UserID == userID:
			return ErrOwnerInvite
		case err != nil && !isNotFound(err):
			return err
		}
		return record(ctx, r, now, audit.ActionAccept, audit.EntityInvite, inviteID, userID, map[string]any{
			"serial":     share.Serial,
			"permission": string(share.Permission),
		})
	})
	if err != nil {
		// An invite that lapsed during the attempt is marked expired even
		// though the transaction rolled back.
		if errors.Is(err, storeerr.ErrExpired) {
			s.expireInvite(ctx, inviteID, now)
		}
		return nil, err
	}

	s.notifyShares(ctx, share.Serial)
	return share, nil
}

// RevokeInvite withdraws a pending invite. Only the device owner may revoke.
func (s *Service) RevokeInvite(ctx context.Context, inviteID, byUser string) (_ *sharing.Invite, err error) {
	defer s.observe("revoke_invite", time.Now(), &err)

	now := s.now()
	var inv *sharing.Invite
	err = s.inTx(ctx, "revoking invite", func(r repos) error {
		existing, err := r.sharing.GetInvite(ctx, inviteID, now)
		if err != nil {
			return err
		}
		if _, err := requireOwner(ctx, r, existing.Serial, byUser); err != nil {
			return err
		}
		inv, err = r.sharing.RevokeInvite(ctx, inviteID, now)
		if err != nil {
			return err
		}
		return record(ctx, r, now, audit.ActionRevoke, audit.EntityInvite, inviteID, byUser, map[string]any{
			"serial": inv.Serial,
		})
	})
	if err != nil {
		if errors.Is(err, storeerr.ErrInvalidState) {
			s.expireInvite(ctx, inviteID, now)
		}
		return nil, err
	}
	return inv, nil
}

// ListShares returns the shares of a device to its owner.
func (s *Service) ListShares(ctx context.Context, serial, byUser string) (_ []sharing.Share, err error) {
	defer s.observe("list_shares", time.Now(), &err)

	if _, err := requireOwner(ctx, s.repos, serial, byUser); err != nil {
		return nil, err
	}
	return s.repos.sharing.ListShares(ctx, serial)
}

// ListSharedWithUser returns the devices shared with userID.
func (s *Service) ListSharedWithUser(ctx context.Context, userID string) (_ []sharing.Share, err error) {
	defer s.observe("list_shared_with_user", time.Now(), &err)
	return s.repos.sharing.ListSharedWithUser(ctx, userID)
}

// RevokeShare removes userID's access to serial. Only the owner may revoke.
func (s *Service) RevokeShare(ctx context.Context, serial, userID, byUser string) (err error) {
	defer s.observe("revoke_share", time.Now(), &err)

	now := s.now()
	err = s.inTx(ctx, "revoking share", func(r repos) error {
		if _, err := requireOwner(ctx, r, serial, byUser); err != nil {
			return err
		}
		if err := r.sharing.RevokeShare(ctx, serial, userID); err != nil {
			return err
		}
		return record(ctx, r, now, audit.ActionRevoke, audit.EntityShare, serial, byUser, map[string]any{
			"user_id": userID,
		})
	})
	if err != nil {
		return err
	}

	s.notifyShares(ctx, serial)
	return nil
}

// expireInvite persists the lazy expiry of an invite after the transaction
// that observed it rolled back.
func (s *Service) expireInvite(ctx context.Context, inviteID string, now int64) {
	if _, err := s.repos.sharing.GetInvite(ctx, inviteID, now); err != nil {
		s.logger.Warn("marking invite expired failed", "invite_id", inviteID, "error", err)
	}
}
