// Package cache implements the persistent, size- and count-bounded cache
// store. Entries expire lazily: an expired entry answers as a miss but is
// only reclaimed by the next eviction pass, an explicit sweep, or clear.
package cache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"goflare.io/satchel/internal/config"
	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/serialization"
	"goflare.io/satchel/pkg/storage"
)

// Store is the cache store. A single RWMutex serializes writes while reads
// share the lock; all entry metadata lives in an in-memory index backed by
// the durable store, and a ristretto layer keeps hot payloads decoded.
type Store struct {
	mu        sync.RWMutex
	backing   storage.Store
	index     map[string]*model.CacheMetadata
	totalSize int64

	maxBytes   int64
	maxEntries int
	excluded   map[string]struct{}

	hot     *ristretto.Cache
	filter  *Filter
	metrics *model.Metrics
	logger  *zap.Logger

	now func() time.Time
}

// NewStore creates a cache store and loads the existing entry index from
// the backing store.
func NewStore(ctx context.Context, backing storage.Store, cfg *config.Config, metrics *model.Metrics, logger *zap.Logger) (*Store, error) {
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(cfg.MaxCacheEntries) * 10,
		MaxCost:     cfg.MaxCacheBytes(),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create hot layer: %w", err)
	}

	excluded := make(map[string]struct{}, len(cfg.ExcludeHeaders))
	for _, h := range cfg.ExcludeHeaders {
		excluded[canonicalHeader(h)] = struct{}{}
	}

	s := &Store{
		backing:    backing,
		index:      make(map[string]*model.CacheMetadata),
		maxBytes:   cfg.MaxCacheBytes(),
		maxEntries: cfg.MaxCacheEntries,
		excluded:   excluded,
		hot:        hot,
		filter:     NewFilter(cfg.BloomFilterSettings.ExpectedItems, cfg.BloomFilterSettings.FalsePositiveRate),
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}

	if err := s.load(ctx); err != nil {
		hot.Close()
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}
	return s, nil
}

// load rebuilds the in-memory index from persisted entries.
func (s *Store) load(ctx context.Context) error {
	return s.backing.Scan(ctx, []byte(storage.PrefixCache), func(key, value []byte) error {
		var entry model.CacheEntry
		if err := serialization.DecodeEnvelope(value, model.SchemaVersion, &entry); err != nil {
			// An unreadable record is dropped rather than wedging startup.
			s.logger.Warn("dropping undecodable cache record",
				zap.ByteString("key", key),
				zap.Error(err))
			return s.backing.Delete(ctx, key)
		}

		meta := entry.Metadata.Clone()
		s.index[entry.Key] = &meta
		s.totalSize += meta.SizeInBytes
		s.filter.Add(entry.Key)
		return nil
	})
}

// Put stores a payload under key. A TTL, when given, sets the expiry to
// now+ttl; a zero TTL therefore creates an entry that is expired on
// arrival. Without a TTL the entry does not expire by time. Triggers an
// eviction check after the insert.
func (s *Store) Put(ctx context.Context, key string, data []byte, headers map[string]string, ttl ...time.Duration) error {
	if key == "" {
		return model.ErrInvalidEntry
	}

	now := s.now()
	meta := model.CacheMetadata{
		Key:            key,
		CreatedAt:      now,
		SizeInBytes:    int64(len(data)),
		LastAccessedAt: now,
		Headers:        s.filterHeaders(headers),
	}
	if len(ttl) > 0 {
		expiresAt := now.Add(ttl[0])
		meta.ExpiresAt = &expiresAt
	}
	if etag, ok := meta.Headers[canonicalHeader("ETag")]; ok {
		meta.ETag = etag
	}

	encoded, err := serialization.EncodeEnvelope(model.SchemaVersion, model.CacheEntry{
		Key:      key,
		Data:     data,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backing.Set(ctx, storage.CacheKey(key), encoded); err != nil {
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}

	if old, ok := s.index[key]; ok {
		s.totalSize -= old.SizeInBytes
	}
	s.index[key] = &meta
	s.totalSize += meta.SizeInBytes
	s.hot.Set(key, append([]byte(nil), data...), meta.SizeInBytes)
	s.filter.Add(key)

	s.evictLocked(ctx, now)
	return nil
}

// Get returns the entry for key, or a miss when the key is absent or the
// entry has expired. A hit increments the access count and touches the
// last-accessed time.
func (s *Store) Get(ctx context.Context, key string) (*model.CacheEntry, bool) {
	entry, stale, ok := s.get(ctx, key, false)
	if !ok || stale {
		return nil, false
	}
	return entry, true
}

// GetStale is Get for the stale-while-revalidate path: expired-but-present
// entries are returned with stale=true instead of answering as a miss.
func (s *Store) GetStale(ctx context.Context, key string) (*model.CacheEntry, bool, bool) {
	return s.get(ctx, key, true)
}

func (s *Store) get(ctx context.Context, key string, allowStale bool) (*model.CacheEntry, bool, bool) {
	if !s.filter.Test(key) {
		s.metrics.Misses.Inc()
		return nil, false, false
	}

	now := s.now()

	s.mu.RLock()
	meta, ok := s.index[key]
	var stale bool
	if ok {
		stale = meta.IsExpired(now)
	}
	var data []byte
	var hotOK bool
	if ok && (allowStale || !stale) {
		if v, found := s.hot.Get(key); found {
			data, hotOK = v.([]byte)
		}
	}
	s.mu.RUnlock()

	if !ok {
		s.metrics.Misses.Inc()
		return nil, false, false
	}
	if stale {
		s.metrics.Expirations.Inc()
		if !allowStale {
			s.metrics.Misses.Inc()
			return nil, false, false
		}
	}

	if !hotOK {
		loaded, err := s.loadData(ctx, key)
		if err != nil {
			// Store unavailable or entry undecodable: degrade to a miss.
			s.logger.Error("cache read failed, treating as miss",
				zap.String("key", key),
				zap.Error(err))
			s.metrics.Misses.Inc()
			return nil, false, false
		}
		data = loaded
	}

	entry, ok := s.touch(ctx, key, data, now)
	if !ok {
		// Removed between the read and the touch.
		s.metrics.Misses.Inc()
		return nil, false, false
	}

	s.metrics.Hits.Inc()
	return entry, stale, true
}

// loadData reads and decodes an entry's payload from the backing store.
func (s *Store) loadData(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.backing.Get(ctx, storage.CacheKey(key))
	if err != nil {
		return nil, err
	}
	var entry model.CacheEntry
	if err := serialization.DecodeEnvelope(raw, model.SchemaVersion, &entry); err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// touch records the access and persists the updated metadata.
func (s *Store) touch(ctx context.Context, key string, data []byte, now time.Time) (*model.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.index[key]
	if !ok {
		return nil, false
	}
	meta.Touch(now)

	entry := model.CacheEntry{Key: key, Data: data, Metadata: meta.Clone()}
	encoded, err := serialization.EncodeEnvelope(model.SchemaVersion, entry)
	if err == nil {
		err = s.backing.Set(ctx, storage.CacheKey(key), encoded)
	}
	if err != nil {
		// Losing access bookkeeping is tolerable; the in-memory index
		// still drives eviction ordering.
		s.logger.Warn("failed to persist access metadata",
			zap.String("key", key),
			zap.Error(err))
	}

	s.hot.Set(key, append([]byte(nil), data...), meta.SizeInBytes)
	return entry.Clone(), true
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backing.Delete(ctx, storage.CacheKey(key)); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	s.removeLocked(key)
	return nil
}

// Clear removes all entries unconditionally.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backing.DropPrefix(ctx, []byte(storage.PrefixCache)); err != nil {
		return fmt.Errorf("failed to clear cache namespace: %w", err)
	}
	s.index = make(map[string]*model.CacheMetadata)
	s.totalSize = 0
	s.hot.Clear()
	s.filter.Rebuild(nil)
	return nil
}

// EvictIfNeeded brings the store back within its size and count budgets.
// Returns the number of entries evicted.
func (s *Store) EvictIfNeeded(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(ctx, s.now())
}

// Sweep physically reclaims every expired entry and rebuilds the bloom
// filter, which cannot forget removed keys on its own.
func (s *Store) Sweep(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, meta := range s.index {
		if !meta.IsExpired(now) {
			continue
		}
		if err := s.backing.Delete(ctx, storage.CacheKey(key)); err != nil {
			s.logger.Warn("failed to reclaim expired entry",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		s.removeLocked(key)
		removed++
	}

	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	s.filter.Rebuild(keys)

	return removed
}

// Len returns the number of physically present entries, expired included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Size returns the cumulative payload size in bytes.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSize
}

// Close releases the hot layer. The backing store is owned by the caller.
func (s *Store) Close() {
	s.hot.Close()
}

// removeLocked drops a key from the index and hot layer. Callers hold mu
// and have already removed the persisted record.
func (s *Store) removeLocked(key string) {
	if meta, ok := s.index[key]; ok {
		s.totalSize -= meta.SizeInBytes
		delete(s.index, key)
	}
	s.hot.Del(key)
}

// filterHeaders copies headers, dropping the configured exclusions.
func (s *Store) filterHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, drop := s.excluded[canonicalHeader(k)]; drop {
			continue
		}
		out[canonicalHeader(k)] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func canonicalHeader(name string) string {
	return http.CanonicalHeaderKey(name)
}
