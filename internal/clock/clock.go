// Package clock supplies millisecond timestamps, the canonical time unit of
// the store. Components take a Clock so tests can pin time.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time in milliseconds since the Unix epoch.
type Clock interface {
	NowMillis() int64
}

// System is the wall clock.
type System struct{}

// NowMillis implements Clock.
func (System) NowMillis() int64 { return time.Now().UnixMilli() }

// Manual is a Clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual returns a Manual clock starting at ms.
func NewManual(ms int64) *Manual {
	return &Manual{now: ms}
}

// NowMillis implements Clock.
func (m *Manual) NowMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to ms, which may be in the past.
func (m *Manual) Set(ms int64) {
	m.mu.Lock()
	m.now = ms
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d.Milliseconds()
	m.mu.Unlock()
}

// Millis converts a duration to whole milliseconds.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// Time converts a millisecond timestamp to a UTC time.Time.
func Time(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
