package store

import (
	"context"

	"github.com/nerrad567/thermostat-core/internal/objects"
	"github.com/nerrad567/thermostat-core/internal/sharing"
)

// Notifier is told about committed changes so they can be fanned out to
// subscribers. Calls happen after commit, on the caller's goroutine;
// returned errors are logged and otherwise ignored.
type Notifier interface {
	ObjectChanged(ctx context.Context, obj objects.Object) error
	// OwnerChanged reports a new owner, or "" when the device was released.
	OwnerChanged(ctx context.Context, serial, userID string) error
	SharesChanged(ctx context.Context, serial string, shares []sharing.Share) error
	// DeviceRemoved lists the object keys that existed when the device was deleted.
	DeviceRemoved(ctx context.Context, serial string, objectKeys []string) error
}

type noopNotifier struct{}

func (noopNotifier) ObjectChanged(context.Context, objects.Object) error          { return nil }
func (noopNotifier) OwnerChanged(context.Context, string, string) error           { return nil }
func (noopNotifier) SharesChanged(context.Context, string, []sharing.Share) error { return nil }
func (noopNotifier) DeviceRemoved(context.Context, string, []string) error        { return nil }

func (s *Service) notifyObject(ctx context.Context, obj objects.Object) {
	if err := s.notifier.ObjectChanged(ctx, obj); err != nil {
		s.logger.Warn("object change notification failed", "serial", obj.Serial, "key", obj.Key, "error", err)
	}
}

func (s *Service) notifyOwner(ctx context.Context, serial, userID string) {
	if err := s.notifier.OwnerChanged(ctx, serial, userID); err != nil {
		s.logger.Warn("owner change notification failed", "serial", serial, "error", err)
	}
}

// notifyShares publishes the device's current share list. It reads after
// commit, so concurrent changes may be folded into one message.
func (s *Service) notifyShares(ctx context.Context, serial string) {
	shares, err := s.repos.sharing.ListShares(ctx, serial)
	if err != nil {
		s.logger.Warn("reading shares for notification failed", "serial", serial, "error", err)
		return
	}
	if err := s.notifier.SharesChanged(ctx, serial, shares); err != nil {
		s.logger.Warn("share change notification failed", "serial", serial, "error", err)
	}
}

func (s *Service) notifyRemoved(ctx context.Context, serial string, keys []string) {
	if err := s.notifier.DeviceRemoved(ctx, serial, keys); err != nil {
		s.logger.Warn("device removal notification failed", "serial", serial, "error", err)
	}
}
