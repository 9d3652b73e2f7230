package store

import (
	"context"
	"time"

	"github.com/nerrad567/thermostat-core/internal/audit"
	"github.com/nerrad567/thermostat-core/internal/objects"
)

// GetObject returns the current value and revision of one device object.
func (s *Service) GetObject(ctx context.Context, serial, key string) (_ *objects.Object, err error) {
	defer s.observe("get_object", time.Now(), &err)
	return s.repos.objects.Get(ctx, serial, key)
}

// PutObject writes value if the stored revision equals expectedRevision
// (objects.CreateRevision to create). The new revision is returned.
func (s *Service) PutObject(ctx context.Context, serial, key string, expectedRevision int64, value string) (_ *objects.Object, err error) {
	defer s.observe("put_object", time.Now(), &err)

	obj, err := s.repos.objects.Put(ctx, serial, key, expectedRevision, value, s.now())
	if err != nil {
		return nil, err
	}
	s.notifyObject(ctx, *obj)
	return obj, nil
}

// ListObjects returns every object of a device ordered by key.
func (s *Service) ListObjects(ctx context.Context, serial string) (_ []objects.Object, err error) {
	defer s.observe("list_objects", time.Now(), &err)
	return s.repos.objects.List(ctx, serial)
}

// ListSerials returns every serial that has at least one object.
func (s *Service) ListSerials(ctx context.Context) (_ []string, err error) {
	defer s.observe("list_serials", time.Now(), &err)
	return s.repos.objects.ListSerials(ctx)
}

// DeleteDevice removes a device: its objects, owner, invites, shares,
// entry keys and cached integration data. Only the owner may delete an
// owned device; an unowned device may be deleted by anyone the caller's
// transport trusts (byUser may be empty).
//
// Sessions and logs are kept; they are an append-only record.
func (s *Service) DeleteDevice(ctx context.Context, serial, byUser string) (err error) {
	defer s.observe("delete_device", time.Now(), &err)

	now := s.now()
	var keys []string
	var hadOwner bool

	err = s.inTx(ctx, "deleting device", func(r repos) error {
		owner, err := r.identity.GetOwner(ctx, serial)
		switch {
		case err == nil:
			if owner.UserID != byUser {
				return ErrNotOwner
			}
			hadOwner = true
		case !isNotFound(err):
			return err
		}

		objs, err := r.objects.List(ctx, serial)
		if err != nil {
			return err
		}
		for _, o := range objs {
			keys = append(keys, o.Key)
		}

		removed, err := r.objects.DeleteDevice(ctx, serial)
		if err != nil {
			return err
		}
		if hadOwner {
			if err := r.identity.RemoveOwner(ctx, serial); err != nil {
				return err
			}
		}
		shared, err := r.sharing.DeleteForSerial(ctx, serial)
		if err != nil {
			return err
		}
		entryKeys, err := r.pairing.DeleteForSerial(ctx, serial)
		if err != nil {
			return err
		}
		if r.cache != nil {
			if _, err := r.cache.DeleteForSerial(ctx, serial); err != nil {
				return err
			}
		}

		return record(ctx, r, now, audit.ActionDelete, audit.EntityDevice, serial, byUser, map[string]any{
			"objects":    removed,
			"sharing":    shared,
			"entry_keys": entryKeys,
		})
	})
	if err != nil {
		return err
	}

	// A cache outside SQLite cannot join the transaction.
	if s.repos.cache == nil {
		if _, cerr := s.cache.DeleteForSerial(ctx, serial); cerr != nil {
			s.logger.Warn("clearing integration cache for deleted device failed", "serial", serial, "error", cerr)
		}
	}

	s.notifyRemoved(ctx, serial, keys)
	return nil
}
