package cache

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/storage"
)

// evictLocked removes entries until both the size and the count budgets
// hold, or the store is empty. Expired entries go first regardless of
// recency (ties broken by last access), then least-recently-used, with
// access count and creation time as tie breakers. Callers hold mu.
func (s *Store) evictLocked(ctx context.Context, now time.Time) int {
	if !s.overBudgetLocked() {
		return 0
	}

	candidates := make([]*model.CacheMetadata, 0, len(s.index))
	for _, meta := range s.index {
		candidates = append(candidates, meta)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return evictBefore(candidates[i], candidates[j], now)
	})

	evicted := 0
	for _, meta := range candidates {
		if !s.overBudgetLocked() {
			break
		}
		if err := s.backing.Delete(ctx, storage.CacheKey(meta.Key)); err != nil {
			// Leave the entry indexed so a later pass retries the delete.
			s.logger.Warn("failed to evict cache entry",
				zap.String("key", meta.Key),
				zap.Error(err))
			continue
		}
		s.removeLocked(meta.Key)
		s.metrics.Evictions.Inc()
		evicted++
	}

	if evicted > 0 {
		s.logger.Debug("evicted cache entries",
			zap.Int("count", evicted),
			zap.Int("remaining", len(s.index)),
			zap.Int64("total_size", s.totalSize))
	}
	return evicted
}

func (s *Store) overBudgetLocked() bool {
	return s.totalSize > s.maxBytes || len(s.index) > s.maxEntries
}

// evictBefore orders eviction candidates: expired before unexpired, then
// by last access ascending, access count ascending, creation ascending.
func evictBefore(a, b *model.CacheMetadata, now time.Time) bool {
	aExpired, bExpired := a.IsExpired(now), b.IsExpired(now)
	if aExpired != bExpired {
		return aExpired
	}
	if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
	if aExpired {
		// Within the expired group only recency matters; fall through to a
		// stable key order for full determinism.
		return a.Key < b.Key
	}
	if a.AccessCount != b.AccessCount {
		return a.AccessCount < b.AccessCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Key < b.Key
}
