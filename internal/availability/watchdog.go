// Package availability tracks whether devices are online from their
// session activity in the ledger.
//
// A device is online while its newest session activity is younger than the
// timeout. The watchdog polls the ledger every check interval and reports
// each transition once; it keeps no state the ledger cannot rebuild, so a
// restart simply re-reports every recently active device.
package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/thermostat-core/internal/clock"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultTimeout       = 5 * time.Minute
	DefaultCheckInterval = 30 * time.Second
)

// lookbackFactor scales the timeout into the activity window queried on
// every pass after the first.
const lookbackFactor = 2

// ActivitySource reports the newest activity per serial at or after since.
// *ledger.Repository satisfies it.
type ActivitySource interface {
	LastActivity(ctx context.Context, since int64) (map[string]int64, error)
}

// Publisher is told about each transition.
type Publisher interface {
	AvailabilityChanged(ctx context.Context, serial string, online bool, lastSeen int64) error
}

// Metrics records each transition. *influxdb.Client satisfies it.
type Metrics interface {
	WriteAvailability(serial string, online bool, lastSeen time.Time)
}

// Logger is the logging interface used by the watchdog.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config holds watchdog settings and collaborators. Publisher, Metrics and
// Logger are optional.
type Config struct {
	Source        ActivitySource
	Clock         clock.Clock
	Timeout       time.Duration
	CheckInterval time.Duration
	Publisher     Publisher
	Metrics       Metrics
	Logger        Logger
}

// Status is the watchdog's view of one device.
type Status struct {
	Serial   string `json:"serial"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen"`
}

// Watchdog polls activity and reports online/offline transitions.
type Watchdog struct {
	cfg Config

	mu      sync.RWMutex
	devices map[string]Status
	primed  bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a watchdog. Call Start to begin polling, or Check to run a
// single pass.
func New(cfg Config) *Watchdog {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	return &Watchdog{
		cfg:     cfg,
		devices: make(map[string]Status),
		done:    make(chan struct{}),
	}
}

// Start runs Check immediately and then every check interval until ctx is
// cancelled or Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop halts polling and waits for the loop to exit. Safe to call twice.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watchdog) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	w.checkAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.checkAndLog(ctx)
		}
	}
}

func (w *Watchdog) checkAndLog(ctx context.Context) {
	if _, err := w.Check(ctx); err != nil && w.cfg.Logger != nil {
		w.cfg.Logger.Warn("availability check failed", "error", err)
	}
}

// Check runs one pass and returns the transitions it reported, ordered by
// serial. The first pass reads all activity; later passes read a window of
// twice the timeout and treat known devices missing from it as offline.
func (w *Watchdog) Check(ctx context.Context) ([]Status, error) {
	now := w.cfg.Clock.NowMillis()

	w.mu.RLock()
	since := int64(0)
	if w.primed {
		since = now - lookbackFactor*w.cfg.Timeout.Milliseconds()
	}
	w.mu.RUnlock()

	seen, err := w.cfg.Source.LastActivity(ctx, since)
	if err != nil {
		return nil, err
	}

	timeout := w.cfg.Timeout.Milliseconds()
	var changed []Status

	w.mu.Lock()
	for serial, last := range seen {
		st := Status{Serial: serial, Online: now-last < timeout, LastSeen: last}
		prev, known := w.devices[serial]
		w.devices[serial] = st
		// Devices first seen offline are reported too, so subscribers
		// learn their state after a restart.
		if !known || prev.Online != st.Online {
			changed = append(changed, st)
		}
	}
	for serial, prev := range w.devices {
		if _, ok := seen[serial]; ok || !prev.Online {
			continue
		}
		st := Status{Serial: serial, Online: false, LastSeen: prev.LastSeen}
		w.devices[serial] = st
		changed = append(changed, st)
	}
	w.primed = true
	w.mu.Unlock()

	sort.Slice(changed, func(i, j int) bool { return changed[i].Serial < changed[j].Serial })
	for _, st := range changed {
		w.report(ctx, st)
	}
	return changed, nil
}

func (w *Watchdog) report(ctx context.Context, st Status) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Debug("device availability changed", "serial", st.Serial, "online", st.Online)
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.WriteAvailability(st.Serial, st.Online, clock.Time(st.LastSeen))
	}
	if w.cfg.Publisher != nil {
		if err := w.cfg.Publisher.AvailabilityChanged(ctx, st.Serial, st.Online, st.LastSeen); err != nil && w.cfg.Logger != nil {
			w.cfg.Logger.Warn("publishing availability failed", "serial", st.Serial, "error", err)
		}
	}
}

// Get returns the last known status of serial.
func (w *Watchdog) Get(serial string) (Status, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st, ok := w.devices[serial]
	return st, ok
}

// Snapshot returns every known device ordered by serial.
func (w *Watchdog) Snapshot() []Status {
	w.mu.RLock()
	out := make([]Status, 0, len(w.devices))
	for _, st := range w.devices {
		out = append(out, st)
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}
