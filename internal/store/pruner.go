package store

import (
	"context"
	"sync"
	"time"
)

// DefaultPruneInterval is used when NewPruner is given a non-positive interval.
const DefaultPruneInterval = 15 * time.Minute

// PruneMetrics records the outcome of each pass. *influxdb.Client satisfies it.
type PruneMetrics interface {
	WritePrune(entryKeys, invites int64)
}

// Pruner calls PruneExpired on a fixed interval.
type Pruner struct {
	svc      *Service
	interval time.Duration
	metrics  PruneMetrics

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPruner creates a pruner for svc. metrics may be nil.
func NewPruner(svc *Service, interval time.Duration, metrics PruneMetrics) *Pruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &Pruner{
		svc:      svc,
		interval: interval,
		metrics:  metrics,
		done:     make(chan struct{}),
	}
}

// Start prunes once immediately and then every interval until ctx is
// cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts the pruner and waits for an in-flight pass. Safe to call twice.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Pruner) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

func (p *Pruner) run(ctx context.Context) {
	res, err := p.svc.PruneExpired(ctx)
	if err != nil {
		p.svc.logger.Warn("prune pass failed", "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.WritePrune(res.EntryKeys, res.Invites)
	}
}
