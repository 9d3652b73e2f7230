package store

import (
	"context"
	"time"

	"github.com/nerrad567/thermostat-core/internal/integration"
)

// GetCached returns a cached provider payload. A stale entry is returned
// together with integration.ErrStale so callers may serve it while
// refreshing.
func (s *Service) GetCached(ctx context.Context, serial, provider string) (_ *integration.Entry, err error) {
	defer s.observe("get_cached", time.Now(), &err)
	return s.cache.Get(ctx, serial, provider, s.now())
}

// PutCached stores a provider payload; the last write wins. A zero ttl uses
// the configured default.
func (s *Service) PutCached(ctx context.Context, serial, provider, value string, fetchedAt int64, ttl time.Duration) (err error) {
	defer s.observe("put_cached", time.Now(), &err)
	if ttl == 0 {
		ttl = s.cacheTTL
	}
	return s.cache.Put(ctx, integration.NewEntry(serial, provider, value, fetchedAt, ttl))
}

// UpsertIntegration creates or replaces a user's integration settings.
func (s *Service) UpsertIntegration(ctx context.Context, cfg integration.Config) (_ *integration.Config, err error) {
	defer s.observe("upsert_integration", time.Now(), &err)
	return s.configs.Upsert(ctx, cfg, s.now())
}

func (s *Service) GetIntegration(ctx context.Context, userID, typ string) (_ *integration.Config, err error) {
	defer s.observe("get_integration", time.Now(), &err)
	return s.configs.Get(ctx, userID, typ)
}

func (s *Service) ListIntegrations(ctx context.Context, userID string) (_ []integration.Config, err error) {
	defer s.observe("list_integrations", time.Now(), &err)
	return s.configs.List(ctx, userID)
}

// ListEnabledIntegrations returns every enabled integration of one type,
// across users. Used by fetch jobs.
func (s *Service) ListEnabledIntegrations(ctx context.Context, typ string) (_ []integration.Config, err error) {
	defer s.observe("list_enabled_integrations", time.Now(), &err)
	return s.configs.ListEnabled(ctx, typ)
}

func (s *Service) DeleteIntegration(ctx context.Context, userID, typ string) (err error) {
	defer s.observe("delete_integration", time.Now(), &err)
	return s.configs.Delete(ctx, userID, typ)
}
