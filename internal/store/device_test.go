package store

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/thermostat-core/internal/audit"
	"github.com/nerrad567/thermostat-core/internal/clock"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/database/databasetest"
	"github.com/nerrad567/thermostat-core/internal/integration"
	"github.com/nerrad567/thermostat-core/internal/ledger"
	"github.com/nerrad567/thermostat-core/internal/sharing"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

// seedDevice creates an owned device with objects, a share, a pending
// invite, a session and a cached weather entry.
func seedDevice(t *testing.T, h *harness) {
	t.Helper()
	ctx := t.Context()

	h.pair(t, serial, "owner")
	for _, key := range []string{"device." + serial, "shared." + serial} {
		if _, err := h.svc.PutObject(ctx, serial, key, 0, "{}"); err != nil {
			t.Fatalf("PutObject() error = %v", err)
		}
	}
	inv, err := h.svc.CreateInvite(ctx, sharing.InviteRequest{Serial: serial, InviterUserID: "owner", InviteeIdentifier: "guest"})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}
	if _, err := h.svc.AcceptInvite(ctx, inv.ID, "guest"); err != nil {
		t.Fatalf("AcceptInvite() error = %v", err)
	}
	if _, err := h.svc.CreateInvite(ctx, sharing.InviteRequest{Serial: serial, InviterUserID: "owner", InviteeIdentifier: "later"}); err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}
	sess, err := h.svc.OpenSession(ctx, serial, "/nest/transport", "")
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if _, err := h.svc.AppendLog(ctx, ledger.LogEntry{SessionID: sess.ID, Serial: serial, Direction: ledger.DirectionRequest, Payload: "{}"}); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	if err := h.svc.PutCached(ctx, serial, "weather", `{"temp":12}`, h.clock.NowMillis(), 0); err != nil {
		t.Fatalf("PutCached() error = %v", err)
	}
}

func TestDeleteDevice(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	seedDevice(t, h)

	if err := h.svc.DeleteDevice(ctx, serial, "guest"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("DeleteDevice(non-owner) error = %v, want ErrNotOwner", err)
	}
	if _, err := h.svc.GetObject(ctx, serial, "device."+serial); err != nil {
		t.Fatalf("objects removed by rejected delete: %v", err)
	}

	if err := h.svc.DeleteDevice(ctx, serial, "owner"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	if objs, _ := h.svc.ListObjects(ctx, serial); len(objs) != 0 {
		t.Errorf("objects after delete = %d", len(objs))
	}
	if _, err := h.svc.GetOwner(ctx, serial); !errors.Is(err, storeerr.ErrNotFound) {
		t.Errorf("GetOwner() after delete error = %v", err)
	}
	if shared, _ := h.svc.ListSharedWithUser(ctx, "guest"); len(shared) != 0 {
		t.Errorf("shares after delete = %+v", shared)
	}
	if _, err := h.svc.ActiveEntryKey(ctx, serial); !errors.Is(err, storeerr.ErrNotFound) {
		t.Errorf("ActiveEntryKey() after delete error = %v", err)
	}
	if _, err := h.svc.GetCached(ctx, serial, "weather"); !errors.Is(err, integration.ErrMissing) {
		t.Errorf("GetCached() after delete error = %v, want ErrMissing", err)
	}

	// The ledger is append-only and survives.
	if logs, _ := h.svc.RecentLogs(ctx, serial, 0); len(logs) != 1 {
		t.Errorf("logs after delete = %d, want 1", len(logs))
	}

	if keys := h.events.removed[serial]; len(keys) != 2 {
		t.Errorf("removal notification keys = %v", keys)
	}
	if got := h.auditActions(t, audit.Filter{Action: audit.ActionDelete}); len(got) != 1 {
		t.Errorf("delete audit = %v", got)
	}
}

func TestDeleteDevice_Unowned(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	if _, err := h.svc.PutObject(ctx, serial, "device."+serial, 0, "{}"); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if err := h.svc.DeleteDevice(ctx, serial, ""); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	if serials, _ := h.svc.ListSerials(ctx); len(serials) != 0 {
		t.Errorf("ListSerials() = %v", serials)
	}

	// Deleting nothing is not an error.
	if err := h.svc.DeleteDevice(ctx, "GHOST", ""); err != nil {
		t.Errorf("DeleteDevice(unknown) error = %v", err)
	}
}

func TestDeleteDevice_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup

	h := &harness{
		db:      databasetest.Open(t),
		clock:   clock.NewManual(0),
		events:  newFakeNotifier(),
		metrics: &fakeMetrics{outcomes: map[string][]string{}},
	}
	h.svc = New(h.db, Options{
		Clock:    h.clock,
		Cache:    integration.NewRedisCache(client, "test", time.Hour),
		Notifier: h.events,
		Metrics:  h.metrics,
	})
	ctx := t.Context()

	if err := h.svc.PutCached(ctx, serial, "weather", "{}", 0, time.Minute); err != nil {
		t.Fatalf("PutCached() error = %v", err)
	}
	if !mr.Exists("test:" + serial + ":weather") {
		t.Fatal("entry not written to redis")
	}

	if err := h.svc.DeleteDevice(ctx, serial, ""); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	if mr.Exists("test:" + serial + ":weather") {
		t.Error("redis entry survived device deletion")
	}
}

func TestReleaseDevice(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	seedDevice(t, h)

	if err := h.svc.ReleaseDevice(ctx, serial, "guest"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("ReleaseDevice(non-owner) error = %v", err)
	}
	if err := h.svc.ReleaseDevice(ctx, serial, "owner"); err != nil {
		t.Fatalf("ReleaseDevice() error = %v", err)
	}

	if _, err := h.svc.GetOwner(ctx, serial); !errors.Is(err, storeerr.ErrNotFound) {
		t.Errorf("GetOwner() after release error = %v", err)
	}
	if shared, _ := h.svc.ListSharedWithUser(ctx, "guest"); len(shared) != 0 {
		t.Errorf("shares after release = %+v", shared)
	}
	if objs, _ := h.svc.ListObjects(ctx, serial); len(objs) != 2 {
		t.Errorf("objects after release = %d, want 2", len(objs))
	}

	last := h.events.owners[len(h.events.owners)-1]
	if last != serial+"=" {
		t.Errorf("last owner notification = %q, want release", last)
	}

	// The device can be paired again.
	h.pair(t, serial, "next")
}

func TestPruneExpired(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.pair(t, serial, "owner")

	if _, err := h.svc.IssueEntryKey(ctx, "DEF456", time.Minute); err != nil {
		t.Fatalf("IssueEntryKey() error = %v", err)
	}
	if _, err := h.svc.CreateInvite(ctx, sharing.InviteRequest{
		Serial: serial, InviterUserID: "owner", InviteeIdentifier: "guest", TTL: time.Minute,
	}); err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}

	res, err := h.svc.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("PruneExpired() error = %v", err)
	}
	if *res != (PruneResult{}) {
		t.Errorf("PruneExpired() before expiry = %+v", res)
	}

	h.clock.Advance(2 * time.Hour)
	res, err = h.svc.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("PruneExpired() error = %v", err)
	}
	// The claimed key from pairing is kept.
	if res.EntryKeys != 1 || res.Invites != 1 {
		t.Errorf("PruneExpired() = %+v, want 1 key and 1 invite", res)
	}

	invites, err := h.svc.ListInvites(ctx, serial, "owner")
	if err != nil || len(invites) != 1 || invites[0].Status != sharing.StatusExpired {
		t.Errorf("ListInvites() = %+v, %v", invites, err)
	}
}

func TestCachedThroughStore(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.clock.Set(10_000)

	if _, err := h.svc.GetCached(ctx, serial, "weather"); !errors.Is(err, integration.ErrMissing) {
		t.Fatalf("GetCached(missing) error = %v", err)
	}
	if err := h.svc.PutCached(ctx, serial, "weather", `{"temp":12}`, 10_000, time.Minute); err != nil {
		t.Fatalf("PutCached() error = %v", err)
	}

	e, err := h.svc.GetCached(ctx, serial, "weather")
	if err != nil || e.Value != `{"temp":12}` {
		t.Fatalf("GetCached(fresh) = %+v, %v", e, err)
	}

	h.clock.Advance(2 * time.Minute)
	e, err = h.svc.GetCached(ctx, serial, "weather")
	if !errors.Is(err, storeerr.ErrStale) || e == nil || e.Value != `{"temp":12}` {
		t.Errorf("GetCached(stale) = %+v, %v; want entry with ErrStale", e, err)
	}

	if got := h.metrics.get("get_cached"); len(got) != 3 || got[2] != "stale" {
		t.Errorf("get_cached outcomes = %v", got)
	}
}

func TestPutCached_DefaultTTL(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	if err := h.svc.PutCached(ctx, serial, "weather", "{}", 0, 0); err != nil {
		t.Fatalf("PutCached() error = %v", err)
	}

	h.clock.Set(clock.Millis(DefaultCacheTTL))
	e, err := h.svc.GetCached(ctx, serial, "weather")
	if err != nil {
		t.Fatalf("GetCached(at ttl) error = %v", err)
	}
	if e.TTLMillis != 600_000 {
		t.Errorf("TTLMillis = %d, want 600000", e.TTLMillis)
	}

	h.clock.Advance(time.Millisecond)
	if _, err := h.svc.GetCached(ctx, serial, "weather"); !errors.Is(err, storeerr.ErrStale) {
		t.Errorf("GetCached(past ttl) error = %v, want ErrStale", err)
	}
}

func TestIntegrationConfigs(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	cfg, err := h.svc.UpsertIntegration(ctx, integration.Config{
		UserID: "u1", Type: "weather", Enabled: true, Settings: map[string]any{"postcode": "SW1A"},
	})
	if err != nil {
		t.Fatalf("UpsertIntegration() error = %v", err)
	}
	if cfg.Settings["postcode"] != "SW1A" {
		t.Errorf("settings = %v", cfg.Settings)
	}

	if _, err := h.svc.UpsertIntegration(ctx, integration.Config{UserID: "u2", Type: "weather"}); err != nil {
		t.Fatalf("UpsertIntegration() error = %v", err)
	}

	enabled, err := h.svc.ListEnabledIntegrations(ctx, "weather")
	if err != nil || len(enabled) != 1 || enabled[0].UserID != "u1" {
		t.Errorf("ListEnabledIntegrations() = %+v, %v", enabled, err)
	}
	all, err := h.svc.ListIntegrations(ctx, "u1")
	if err != nil || len(all) != 1 {
		t.Errorf("ListIntegrations() = %+v, %v", all, err)
	}

	if err := h.svc.DeleteIntegration(ctx, "u1", "weather"); err != nil {
		t.Fatalf("DeleteIntegration() error = %v", err)
	}
	if _, err := h.svc.GetIntegration(ctx, "u1", "weather"); !errors.Is(err, storeerr.ErrNotFound) {
		t.Errorf("GetIntegration() after delete error = %v", err)
	}
}
