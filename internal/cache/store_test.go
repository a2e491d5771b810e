package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/satchel/internal/config"
	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/storage"
	"goflare.io/satchel/pkg/storage/memstore"
)

func newTestStore(t *testing.T, mutate func(*config.Config)) (*Store, *memstore.Store, *time.Time) {
	t.Helper()

	cfg := config.New()
	if mutate != nil {
		mutate(cfg)
	}

	backing := memstore.New()
	s, err := NewStore(context.Background(), backing, cfg, model.NewMetrics(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	now := time.Now()
	s.now = func() time.Time { return now }
	return s, backing, &now
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "users/1", []byte(`{"id":1}`), nil, time.Minute))

	entry, ok := s.Get(ctx, "users/1")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"id":1}`), entry.Data)
	assert.Equal(t, int64(1), entry.Metadata.AccessCount)

	entry, ok = s.Get(ctx, "users/1")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.Metadata.AccessCount)
}

func TestGetMiss(t *testing.T) {
	s, _, _ := newTestStore(t, nil)

	_, ok := s.Get(context.Background(), "absent")
	assert.False(t, ok)
	assert.Equal(t, int64(1), s.metrics.Misses.Load())
}

func TestZeroTTLExpiresOnArrival(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v"), nil, 0))

	_, ok := s.Get(ctx, "k")
	assert.False(t, ok)
	// Expiry is lazy: the record stays until a sweep or eviction reclaims it.
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(1), s.metrics.Expirations.Load())
}

func TestExpiryAfterClockAdvance(t *testing.T) {
	s, _, now := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v"), nil, time.Minute))

	_, ok := s.Get(ctx, "k")
	assert.True(t, ok)

	*now = now.Add(61 * time.Second)
	_, ok = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestNoTTLNeverExpires(t *testing.T) {
	s, _, now := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v"), nil))

	*now = now.Add(24 * 365 * time.Hour)
	_, ok := s.Get(ctx, "k")
	assert.True(t, ok)
}

func TestGetStaleServesExpired(t *testing.T) {
	s, _, now := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("old"), nil, time.Minute))
	*now = now.Add(2 * time.Minute)

	entry, stale, ok := s.GetStale(ctx, "k")
	require.True(t, ok)
	assert.True(t, stale)
	assert.Equal(t, []byte("old"), entry.Data)

	// The strict read still answers as a miss.
	_, ok = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestSweepReclaimsExpired(t *testing.T) {
	s, backing, now := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", []byte("1"), nil, time.Second))
	require.NoError(t, s.Put(ctx, "b", []byte("2"), nil, time.Second))
	require.NoError(t, s.Put(ctx, "live", []byte("3"), nil, time.Hour))

	*now = now.Add(time.Minute)
	assert.Equal(t, 2, s.Sweep(ctx))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, backing.Len())

	// The survivor stays reachable after the bloom filter rebuild.
	_, ok := s.Get(ctx, "live")
	assert.True(t, ok)
}

func TestCountBudgetEvictsLRU(t *testing.T) {
	s, _, now := newTestStore(t, func(cfg *config.Config) {
		cfg.MaxCacheEntries = 2
	})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "oldest", []byte("1"), nil))
	*now = now.Add(time.Second)
	require.NoError(t, s.Put(ctx, "middle", []byte("2"), nil))
	*now = now.Add(time.Second)
	require.NoError(t, s.Put(ctx, "newest", []byte("3"), nil))

	assert.Equal(t, 2, s.Len())
	_, _, ok := s.GetStale(ctx, "oldest")
	assert.False(t, ok)
	_, ok2 := s.Get(ctx, "middle")
	assert.True(t, ok2)
	_, ok3 := s.Get(ctx, "newest")
	assert.True(t, ok3)
	assert.Equal(t, int64(1), s.metrics.Evictions.Load())
}

func TestExpiredEvictedBeforeLRU(t *testing.T) {
	s, _, now := newTestStore(t, func(cfg *config.Config) {
		cfg.MaxCacheEntries = 2
	})
	ctx := context.Background()

	// The least recently used entry is live; the fresher one is expired.
	// Eviction must take the expired entry first.
	require.NoError(t, s.Put(ctx, "old-live", []byte("1"), nil))
	*now = now.Add(time.Second)
	require.NoError(t, s.Put(ctx, "expired", []byte("2"), nil, 0))
	*now = now.Add(time.Second)
	require.NoError(t, s.Put(ctx, "newest", []byte("3"), nil))

	assert.Equal(t, 2, s.Len())
	_, _, gone := s.GetStale(ctx, "expired")
	assert.False(t, gone)
	_, ok := s.Get(ctx, "old-live")
	assert.True(t, ok)
}

func TestSizeBudgetEviction(t *testing.T) {
	s, _, now := newTestStore(t, nil)
	s.maxBytes = 150
	ctx := context.Background()

	payload := make([]byte, 100)
	require.NoError(t, s.Put(ctx, "a", payload, nil))
	*now = now.Add(time.Second)
	require.NoError(t, s.Put(ctx, "b", payload, nil))
	*now = now.Add(time.Second)
	require.NoError(t, s.Put(ctx, "c", payload, nil))

	assert.LessOrEqual(t, s.Size(), int64(150))
	_, ok := s.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, int64(2), s.metrics.Evictions.Load())
}

func TestDeleteIdempotent(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "absent"))

	require.NoError(t, s.Put(ctx, "k", []byte("v"), nil))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, ok := s.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestClear(t *testing.T) {
	s, backing, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", []byte("1"), nil))
	require.NoError(t, s.Put(ctx, "b", []byte("2"), nil))

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(0), s.Size())
	assert.Equal(t, 0, backing.Len())

	_, ok := s.Get(ctx, "a")
	assert.False(t, ok)
}

func TestIndexSurvivesRestart(t *testing.T) {
	backing := memstore.New()
	cfg := config.New()
	ctx := context.Background()

	first, err := NewStore(ctx, backing, cfg, model.NewMetrics(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "a", []byte("1"), nil, time.Hour))
	require.NoError(t, first.Put(ctx, "b", []byte("22"), nil, time.Hour))
	first.Close()

	second, err := NewStore(ctx, backing, cfg, model.NewMetrics(), zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, 2, second.Len())
	assert.Equal(t, int64(3), second.Size())

	entry, ok := second.Get(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, []byte("22"), entry.Data)
}

func TestUndecodableRecordDroppedOnLoad(t *testing.T) {
	backing := memstore.New()
	ctx := context.Background()
	require.NoError(t, backing.Set(ctx, storage.CacheKey("bad"), []byte("not an envelope")))

	s, err := NewStore(ctx, backing, config.New(), model.NewMetrics(), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, backing.Len())
}

func TestExcludedHeadersNotPersisted(t *testing.T) {
	s, _, _ := newTestStore(t, func(cfg *config.Config) {
		cfg.ExcludeHeaders = []string{"authorization", "Set-Cookie"}
	})
	ctx := context.Background()

	headers := map[string]string{
		"Authorization": "Bearer secret",
		"set-cookie":    "session=1",
		"Content-Type":  "application/json",
		"etag":          `"v3"`,
	}
	require.NoError(t, s.Put(ctx, "k", []byte("v"), headers, time.Minute))

	entry, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.NotContains(t, entry.Metadata.Headers, "Authorization")
	assert.NotContains(t, entry.Metadata.Headers, "Set-Cookie")
	assert.Equal(t, "application/json", entry.Metadata.Headers["Content-Type"])
	assert.Equal(t, `"v3"`, entry.Metadata.ETag)
}

func TestPutEmptyKeyRejected(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	assert.ErrorIs(t, s.Put(context.Background(), "", []byte("v"), nil), model.ErrInvalidEntry)
}

func TestPutOverwriteAdjustsSize(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", make([]byte, 100), nil))
	require.NoError(t, s.Put(ctx, "k", make([]byte, 10), nil))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(10), s.Size())
}
