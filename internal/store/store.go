package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nerrad567/thermostat-core/internal/audit"
	"github.com/nerrad567/thermostat-core/internal/clock"
	"github.com/nerrad567/thermostat-core/internal/credential"
	"github.com/nerrad567/thermostat-core/internal/identity"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/integration"
	"github.com/nerrad567/thermostat-core/internal/ledger"
	"github.com/nerrad567/thermostat-core/internal/objects"
	"github.com/nerrad567/thermostat-core/internal/pairing"
	"github.com/nerrad567/thermostat-core/internal/sharing"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultEntryKeyTTL = time.Hour
	DefaultInviteTTL   = 7 * 24 * time.Hour
	DefaultCacheTTL    = 10 * time.Minute
)

// Store is the operation surface consumed by transport handlers.
type Store interface {
	// Objects
	GetObject(ctx context.Context, serial, key string) (*objects.Object, error)
	PutObject(ctx context.Context, serial, key string, expectedRevision int64, value string) (*objects.Object, error)
	ListObjects(ctx context.Context, serial string) ([]objects.Object, error)
	ListSerials(ctx context.Context) ([]string, error)
	DeleteDevice(ctx context.Context, serial, byUser string) error

	// Sessions and logs
	OpenSession(ctx context.Context, serial, endpoint, client string) (*ledger.Session, error)
	CloseSession(ctx context.Context, sessionID string) error
	TouchSession(ctx context.Context, sessionID string) error
	AppendLog(ctx context.Context, entry ledger.LogEntry) (*ledger.LogEntry, error)
	RecentLogs(ctx context.Context, serial string, limit int) ([]ledger.LogEntry, error)

	// Identity
	CreateUser(ctx context.Context, userID, email, password string) (*identity.User, error)
	GetUser(ctx context.Context, userID string) (*identity.User, error)
	GetUserByEmail(ctx context.Context, email string) (*identity.User, error)
	Authenticate(ctx context.Context, email, password string) (*identity.User, error)
	GetOwner(ctx context.Context, serial string) (*identity.Owner, error)
	ListDevicesForUser(ctx context.Context, userID string) ([]string, error)
	ReleaseDevice(ctx context.Context, serial, byUser string) error
	Authorize(ctx context.Context, serial, userID string, need sharing.Permission) error

	// Pairing
	IssueEntryKey(ctx context.Context, serial string, ttl time.Duration) (*pairing.EntryKey, error)
	ActiveEntryKey(ctx context.Context, serial string) (*pairing.EntryKey, error)
	ClaimEntryKey(ctx context.Context, code, userID string) (*identity.Owner, error)

	// Sharing
	CreateInvite(ctx context.Context, req sharing.InviteRequest) (*sharing.Invite, error)
	GetInvite(ctx context.Context, inviteID string) (*sharing.Invite, error)
	ListInvites(ctx context.Context, serial, byUser string) ([]sharing.Invite, error)
	AcceptInvite(ctx context.Context, inviteID, userID string) (*sharing.Share, error)
	RevokeInvite(ctx context.Context, inviteID, byUser string) (*sharing.Invite, error)
	ListShares(ctx context.Context, serial, byUser string) ([]sharing.Share, error)
	ListSharedWithUser(ctx context.Context, userID string) ([]sharing.Share, error)
	RevokeShare(ctx context.Context, serial, userID, byUser string) error

	// Credentials
	IssueAPIKey(ctx context.Context, req credential.IssueRequest) (*credential.APIKey, string, error)
	ValidateAPIKey(ctx context.Context, secret string) (*credential.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID, byUser string) error
	ListAPIKeys(ctx context.Context, ownerUserID string) ([]credential.APIKey, error)

	// Integration cache and configs
	GetCached(ctx context.Context, serial, provider string) (*integration.Entry, error)
	PutCached(ctx context.Context, serial, provider, value string, fetchedAt int64, ttl time.Duration) error
	UpsertIntegration(ctx context.Context, cfg integration.Config) (*integration.Config, error)
	GetIntegration(ctx context.Context, userID, typ string) (*integration.Config, error)
	ListIntegrations(ctx context.Context, userID string) ([]integration.Config, error)
	ListEnabledIntegrations(ctx context.Context, typ string) ([]integration.Config, error)
	DeleteIntegration(ctx context.Context, userID, typ string) error

	// Maintenance
	PruneExpired(ctx context.Context) (*PruneResult, error)
	ListAuditLogs(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

var _ Store = (*Service)(nil)

// Logger is the logging interface used by the service.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives one observation per operation. *influxdb.Client
// satisfies it.
type Metrics interface {
	WriteStoreOperation(operation, outcome string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) WriteStoreOperation(string, string, time.Duration) {}

// Options configures a Service. Zero values select defaults.
type Options struct {
	Clock    clock.Clock
	Cache    integration.Cache // defaults to the SQLite cache on the same database
	Notifier Notifier
	Metrics  Metrics
	Logger   Logger

	EntryKeyTTL time.Duration
	InviteTTL   time.Duration
	CacheTTL    time.Duration
}

// Service implements Store on one SQLite database.
type Service struct {
	db    *database.DB
	repos repos

	cache    integration.Cache
	configs  *integration.ConfigRepository
	clock    clock.Clock
	notifier Notifier
	metrics  Metrics
	logger   Logger

	entryKeyTTL time.Duration
	inviteTTL   time.Duration
	cacheTTL    time.Duration
}

// repos is the set of repositories that take part in transactions.
type repos struct {
	objects  *objects.SQLiteRepository
	ledger   *ledger.Repository
	identity *identity.Repository
	pairing  *pairing.Repository
	sharing  *sharing.Repository
	creds    *credential.Repository
	audit    *audit.SQLiteRepository
	cache    *integration.SQLiteCache // nil when the cache lives elsewhere
}

func (r repos) bind(tx *sql.Tx) repos {
	b := repos{
		objects:  r.objects.WithExecutor(tx),
		ledger:   r.ledger.WithExecutor(tx),
		identity: r.identity.WithExecutor(tx),
		pairing:  r.pairing.WithExecutor(tx),
		sharing:  r.sharing.WithExecutor(tx),
		creds:    r.creds.WithExecutor(tx),
		audit:    r.audit.WithExecutor(tx),
	}
	if r.cache != nil {
		b.cache = r.cache.WithExecutor(tx)
	}
	return b
}

// New builds a Service on a migrated database.
func New(db *database.DB, opts Options) *Service {
	s := &Service{
		db:      db,
		configs: integration.NewConfigRepository(db),
		repos: repos{
			objects:  objects.NewSQLiteRepository(db),
			ledger:   ledger.NewRepository(db),
			identity: identity.NewRepository(db),
			pairing:  pairing.NewRepository(db),
			sharing:  sharing.NewRepository(db),
			creds:    credential.NewRepository(db),
			audit:    audit.NewSQLiteRepository(db),
		},
		cache:       opts.Cache,
		clock:       opts.Clock,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		entryKeyTTL: opts.EntryKeyTTL,
		inviteTTL:   opts.InviteTTL,
		cacheTTL:    opts.CacheTTL,
	}

	if s.cache == nil {
		s.cache = integration.NewSQLiteCache(db)
	}
	if c, ok := s.cache.(*integration.SQLiteCache); ok {
		s.repos.cache = c
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.entryKeyTTL <= 0 {
		s.entryKeyTTL = DefaultEntryKeyTTL
	}
	if s.inviteTTL <= 0 {
		s.inviteTTL = DefaultInviteTTL
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = DefaultCacheTTL
	}
	return s
}

// inTx runs fn with every repository bound to one transaction.
func (s *Service) inTx(ctx context.Context, op string, fn func(r repos) error) error {
	err := database.WithTx(ctx, s.db.DB, func(tx *sql.Tx) error {
		return fn(s.repos.bind(tx))
	})
	return storeerr.Infra(op, err)
}

// observe records the outcome of one operation. Call it deferred with a
// pointer to the named error result.
func (s *Service) observe(op string, start time.Time, errp *error) {
	err := *errp
	s.metrics.WriteStoreOperation(op, storeerr.Name(err), time.Since(start))

	switch {
	case err == nil:
	case storeerr.IsInfra(err):
		s.logger.Error("store operation failed", "operation", op, "error", err)
	default:
		s.logger.Debug("store operation rejected", "operation", op, "outcome", storeerr.Name(err), "error", err)
	}
}

func (s *Service) now() int64 {
	return s.clock.NowMillis()
}

// record appends an audit entry through r, inside the caller's transaction.
func record(ctx context.Context, r repos, now int64, action, entityType, entityID, userID string, details map[string]any) error {
	return r.audit.Create(ctx, &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Details:    details,
		CreatedAt:  now,
	})
}

// requireOwner returns ErrNotOwner unless userID owns serial.
func requireOwner(ctx context.Context, r repos, serial, userID string) (*identity.Owner, error) {
	owner, err := r.identity.GetOwner(ctx, serial)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotOwner
		}
		return nil, err
	}
	if userID == "" || owner.UserID != userID {
		return nil, ErrNotOwner
	}
	return owner, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storeerr.ErrNotFound)
}
