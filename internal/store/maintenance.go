package store

import (
	"context"
	"time"

	"github.com/nerrad567/thermostat-core/internal/audit"
)

// PruneResult counts what one maintenance pass cleaned up.
type PruneResult struct {
	EntryKeys int64 `json:"entry_keys"`
	Invites   int64 `json:"invites"`
}

// PruneExpired deletes unclaimed entry keys past their expiry and marks
// lapsed pending invites expired. Claimed keys and resolved invites are kept.
func (s *Service) PruneExpired(ctx context.Context) (_ *PruneResult, err error) {
	defer s.observe("prune_expired", time.Now(), &err)

	now := s.now()
	res := &PruneResult{}
	err = s.inTx(ctx, "pruning expired records", func(r repos) error {
		var err error
		if res.EntryKeys, err = r.pairing.PruneExpired(ctx, now); err != nil {
			return err
		}
		res.Invites, err = r.sharing.ExpirePending(ctx, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.EntryKeys > 0 || res.Invites > 0 {
		s.logger.Info("pruned expired records", "entry_keys", res.EntryKeys, "invites", res.Invites)
	}
	return res, nil
}

// ListAuditLogs returns audit entries matching filter, newest first.
func (s *Service) ListAuditLogs(ctx context.Context, filter audit.Filter) (_ *audit.ListResult, err error) {
	defer s.observe("list_audit_logs", time.Now(), &err)
	return s.repos.audit.List(ctx, filter)
}
