// attempt_pruner.go implements AttemptPruner, which deletes expired
// failed-login counters from stores without native expiry.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AttemptStore is the pruning operation of the store.
type AttemptStore interface {
	PruneAttempts(ctx context.Context, now time.Time) (int64, error)
}

// AttemptPruner runs PruneAttempts on an interval.
type AttemptPruner struct {
	store    AttemptStore
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewAttemptPruner creates a pruner; interval defaults to one hour.
func NewAttemptPruner(store AttemptStore, interval time.Duration) *AttemptPruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &AttemptPruner{
		store:    store,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start prunes on every tick until ctx is cancelled or Stop is called.
func (p *AttemptPruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (p *AttemptPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}

// RunOnce prunes once and returns the number of counters removed.
func (p *AttemptPruner) RunOnce(ctx context.Context) int64 {
	n, err := p.store.PruneAttempts(ctx, p.now())
	if err != nil {
		slog.Warn("failed to prune login attempts", "error", err)
		return 0
	}
	if n > 0 {
		slog.Debug("pruned expired login attempts", "count", n)
	}
	return n
}
