package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically reclaims expired-but-unaccessed entries. Lazy expiry
// alone only frees space on the next write's eviction pass; the sweeper is
// the optional background task for idle stores.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.logger.Debug("stopping cache sweeper")
			return
		case <-ticker.C:
			if removed := sw.store.Sweep(ctx); removed > 0 {
				sw.logger.Debug("swept expired cache entries", zap.Int("removed", removed))
			}
		}
	}
}
