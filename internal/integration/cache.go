// Package integration holds per-device data fetched from third parties
// (weather, utility tariffs) and the per-user integration settings that
// drive those fetches.
//
// The cache is best-effort and last-write-wins. A read reports one of three
// outcomes: a fresh entry, ErrStale together with the entry (callers may
// serve it while refreshing), or ErrMissing.
package integration

import (
	"context"
	"time"

	"github.com/nerrad567/thermostat-core/internal/storeerr"
)

var (
	ErrMissing = storeerr.New("integration: cache entry", storeerr.ErrNotFound)
	ErrStale   = storeerr.New("integration: cache entry", storeerr.ErrStale)
	ErrInvalid = storeerr.New("integration: cache entry", storeerr.ErrInvalidArgument)
)

// Entry is one cached provider payload for a device.
type Entry struct {
	Serial    string `json:"serial"`
	Provider  string `json:"provider"`
	Value     string `json:"value"`
	FetchedAt int64  `json:"fetched_at"`
	TTLMillis int64  `json:"ttl_ms"`
}

// Stale reports whether the entry is past its TTL at now.
func (e Entry) Stale(now int64) bool {
	return now > e.FetchedAt+e.TTLMillis
}

// NewEntry builds an entry from a TTL duration.
func NewEntry(serial, provider, value string, fetchedAt int64, ttl time.Duration) Entry {
	return Entry{Serial: serial, Provider: provider, Value: value, FetchedAt: fetchedAt, TTLMillis: ttl.Milliseconds()}
}

func (e Entry) validate() error {
	if e.Serial == "" || e.Provider == "" || e.TTLMillis < 0 {
		return ErrInvalid
	}
	return nil
}

// Cache is implemented by SQLiteCache and RedisCache.
type Cache interface {
	// Get returns the entry, ErrStale with the entry, or ErrMissing.
	Get(ctx context.Context, serial, provider string, now int64) (*Entry, error)

	// Put overwrites the entry for (serial, provider).
	Put(ctx context.Context, e Entry) error

	// DeleteForSerial drops every entry of a device.
	DeleteForSerial(ctx context.Context, serial string) (int64, error)
}

// classify applies the staleness rule shared by every backend.
func classify(e *Entry, now int64) (*Entry, error) {
	if e.Stale(now) {
		return e, ErrStale
	}
	return e, nil
}
