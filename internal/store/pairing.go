package store

import (
	"context"
	"time"

	"github.com/nerrad567/thermostat-core/internal/audit"
	"github.com/nerrad567/thermostat-core/internal/identity"
	"github.com/nerrad567/thermostat-core/internal/pairing"
)

// IssueEntryKey creates a pairing code for serial. A zero ttl uses the
// configured entry key lifetime.
func (s *Service) IssueEntryKey(ctx context.Context, serial string, ttl time.Duration) (_ *pairing.EntryKey, err error) {
	defer s.observe("issue_entry_key", time.Now(), &err)
	if ttl == 0 {
		ttl = s.entryKeyTTL
	}
	return s.repos.pairing.Issue(ctx, serial, ttl, s.now())
}

// ActiveEntryKey returns the newest unexpired, unclaimed code for serial.
func (s *Service) ActiveEntryKey(ctx context.Context, serial string) (_ *pairing.EntryKey, err error) {
	defer s.observe("active_entry_key", time.Now(), &err)
	return s.repos.pairing.ActiveForSerial(ctx, serial, s.now())
}

// ClaimEntryKey binds the code's device to userID and returns the new owner
// record. The claim and the owner record commit together. When the device
// changes hands, shares and invites granted by the previous owner are removed.
func (s *Service) ClaimEntryKey(ctx context.Context, code, userID string) (_ *identity.Owner, err error) {
	defer s.observe("claim_entry_key", time.Now(), &err)

	now := s.now()
	var key *pairing.EntryKey
	var owner *identity.Owner
	var sharesCleared bool

	err = s.inTx(ctx, "claiming entry key", func(r repos) error {
		var err error
		key, err = r.pairing.Claim(ctx, code, userID, now)
		if err != nil {
			return err
		}

		details := map[string]any{"code": key.Code}
		prev, err := r.identity.GetOwner(ctx, key.Serial)
		switch {
		case err == nil && prev.UserID != userID:
			if _, err := r.sharing.DeleteForSerial(ctx, key.Serial); err != nil {
				return err
			}
			sharesCleared = true
			details["previous_owner"] = prev.UserID
		case err != nil && !isNotFound(err):
			return err
		}

		owner, err = r.identity.UpsertOwner(ctx, key.Serial, userID, now)
		if err != nil {
			return err
		}
		return record(ctx, r, now, audit.ActionClaim, audit.EntityDevice, key.Serial, userID, details)
	})
	if err != nil {
		return nil, err
	}

	s.notifyOwner(ctx, key.Serial, userID)
	if sharesCleared {
		s.notifyShares(ctx, key.Serial)
	}
	return owner, nil
}
