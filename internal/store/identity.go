package store

import (
	"context"
	"time"

	"github.com/nerrad567/thermostat-core/internal/audit"
	"github.com/nerrad567/thermostat-core/internal/identity"
	"github.com/nerrad567/thermostat-core/internal/sharing"
)

// CreateUser registers an account. An empty userID is generated; an empty
// password creates an account that cannot log in with a password.
func (s *Service) CreateUser(ctx context.Context, userID, email, password string) (_ *identity.User, err error) {
	defer s.observe("create_user", time.Now(), &err)
	return s.repos.identity.CreateUser(ctx, userID, email, password, s.now())
}

func (s *Service) GetUser(ctx context.Context, userID string) (_ *identity.User, err error) {
	defer s.observe("get_user", time.Now(), &err)
	return s.repos.identity.GetUser(ctx, userID)
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (_ *identity.User, err error) {
	defer s.observe("get_user_by_email", time.Now(), &err)
	return s.repos.identity.GetUserByEmail(ctx, email)
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (_ *identity.User, err error) {
	defer s.observe("authenticate", time.Now(), &err)
	return s.repos.identity.Authenticate(ctx, email, password)
}

func (s *Service) GetOwner(ctx context.Context, serial string) (_ *identity.Owner, err error) {
	defer s.observe("get_owner", time.Now(), &err)
	return s.repos.identity.GetOwner(ctx, serial)
}

// ListDevicesForUser returns the serials userID owns.
func (s *Service) ListDevicesForUser(ctx context.Context, userID string) (_ []string, err error) {
	defer s.observe("list_devices_for_user", time.Now(), &err)
	return s.repos.identity.ListDevicesForUser(ctx, userID)
}

// ReleaseDevice removes byUser's ownership of serial along with every
// share and pending invite, leaving the device free to be paired again.
// Device objects are kept.
func (s *Service) ReleaseDevice(ctx context.Context, serial, byUser string) (err error) {
	defer s.observe("release_device", time.Now(), &err)

	now := s.now()
	err = s.inTx(ctx, "releasing device", func(r repos) error {
		if _, err := requireOwner(ctx, r, serial, byUser); err != nil {
			return err
		}
		if err := r.identity.RemoveOwner(ctx, serial); err != nil {
			return err
		}
		if _, err := r.sharing.DeleteForSerial(ctx, serial); err != nil {
			return err
		}
		return record(ctx, r, now, audit.ActionRelease, audit.EntityDevice, serial, byUser, nil)
	})
	if err != nil {
		return err
	}

	s.notifyOwner(ctx, serial, "")
	s.notifyShares(ctx, serial)
	return nil
}

// Authorize returns nil if userID owns serial or holds a share on it that
// includes need. It returns ErrAccessDenied otherwise.
func (s *Service) Authorize(ctx context.Context, serial, userID string, need sharing.Permission) (err error) {
	defer s.observe("authorize", time.Now(), &err)

	if userID == "" {
		return ErrAccessDenied
	}
	owner, err := s.repos.identity.GetOwner(ctx, serial)
	switch {
	case err == nil && owner.UserID == userID:
		return nil
	case err != nil && !isNotFound(err):
		return err
	}

	share, err := s.repos.sharing.GetShare(ctx, serial, userID)
	if err != nil {
		if isNotFound(err) {
			return ErrAccessDenied
		}
		return err
	}
	if !share.Permission.Includes(need) {
		return ErrAccessDenied
	}
	return nil
}
