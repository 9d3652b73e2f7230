package store

import (
	"testing"
	"time"
)

type pruneRecorder struct {
	passes chan PruneResult
}

func (r *pruneRecorder) WritePrune(entryKeys, invites int64) {
	select {
	case r.passes <- PruneResult{EntryKeys: entryKeys, Invites: invites}:
	default:
	}
}

func TestPruner(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	if _, err := h.svc.IssueEntryKey(ctx, serial, time.Minute); err != nil {
		t.Fatalf("IssueEntryKey() error = %v", err)
	}
	h.clock.Advance(2 * time.Minute)

	rec := &pruneRecorder{passes: make(chan PruneResult, 16)}
	p := NewPruner(h.svc, 10*time.Millisecond, rec)
	p.Start(ctx)
	defer p.Stop()

	select {
	case got := <-rec.passes:
		if got.EntryKeys != 1 {
			t.Errorf("first pass = %+v, want 1 entry key", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no prune pass recorded")
	}

	select {
	case got := <-rec.passes:
		if got != (PruneResult{}) {
			t.Errorf("second pass = %+v, want nothing left", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pruner did not tick")
	}

	p.Stop()
	p.Stop()
}

func TestNewPruner_DefaultInterval(t *testing.T) {
	p := NewPruner(newHarness(t).svc, 0, nil)
	if p.interval != DefaultPruneInterval {
		t.Errorf("interval = %v, want %v", p.interval, DefaultPruneInterval)
	}
}
