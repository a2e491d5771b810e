package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/satchel/internal/cache"
	"goflare.io/satchel/internal/config"
	"goflare.io/satchel/internal/utils"
	"goflare.io/satchel/pkg/connectivity"
	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/storage/memstore"
	"goflare.io/satchel/pkg/transport"
)

// fakeExec counts executions and delegates to a swappable handler.
type fakeExec struct {
	mu sync.Mutex
	fn func(ctx context.Context, req transport.Request) (*transport.Response, error)
	n  int
}

func (f *fakeExec) Execute(ctx context.Context, req transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.n++
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeExec) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func (f *fakeExec) set(fn func(ctx context.Context, req transport.Request) (*transport.Response, error)) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

func respondWith(body string) func(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: []byte(body)}, nil
	}
}

func failWith(kind transport.ErrorKind, status int) func(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return nil, transport.NewError(kind, status, assert.AnError)
	}
}

func newTestResolver(t *testing.T, exec transport.Executor, online bool) (*Resolver, *cache.Store, *connectivity.Manual) {
	t.Helper()

	monitor := connectivity.NewManual(connectivity.State{Online: online})

	cfg := config.New()
	cfg.Executor = exec
	cfg.Monitor = monitor

	store, err := cache.NewStore(context.Background(), memstore.New(), cfg, model.NewMetrics(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	r := New(context.Background(), store, cfg, model.NewMetrics(), zap.NewNop())
	t.Cleanup(r.Close)
	return r, store, monitor
}

const testURL = "https://api.example.com/items"

func testRequest() transport.Request {
	return transport.Request{Method: "GET", URL: testURL}
}

func testKey() string {
	return utils.CacheKey("GET", testURL)
}

func TestNetworkFirstOnlineCachesResult(t *testing.T) {
	exec := &fakeExec{fn: respondWith("fresh")}
	r, _, _ := newTestResolver(t, exec, true)
	ctx := context.Background()

	res, err := r.Resolve(ctx, testRequest(), model.NetworkFirst)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), res.Data)
	assert.False(t, res.FromCache)

	// The fetch refreshed the cache.
	cached, err := r.Resolve(ctx, testRequest(), model.CacheOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), cached.Data)
	assert.True(t, cached.FromCache)
	assert.Equal(t, 1, exec.calls())
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	exec := &fakeExec{fn: respondWith("v1")}
	r, _, _ := newTestResolver(t, exec, true)
	ctx := context.Background()

	_, err := r.Resolve(ctx, testRequest(), model.NetworkFirst)
	require.NoError(t, err)

	exec.set(failWith(transport.KindServer, 500))
	res, err := r.Resolve(ctx, testRequest(), model.NetworkFirst)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, []byte("v1"), res.Data)
}

func TestNetworkFirstFailureWithoutCache(t *testing.T) {
	exec := &fakeExec{fn: failWith(transport.KindServer, 503)}
	r, _, _ := newTestResolver(t, exec, true)

	_, err := r.Resolve(context.Background(), testRequest(), model.NetworkFirst)
	require.Error(t, err)
	assert.Equal(t, transport.KindServer, transport.KindOf(err))
}

func TestNetworkFirstOffline(t *testing.T) {
	exec := &fakeExec{fn: respondWith("never")}
	r, store, _ := newTestResolver(t, exec, false)
	ctx := context.Background()

	_, err := r.Resolve(ctx, testRequest(), model.NetworkFirst)
	assert.ErrorIs(t, err, ErrNoData)

	require.NoError(t, store.Put(ctx, testKey(), []byte("cached"), nil, time.Minute))
	res, err := r.Resolve(ctx, testRequest(), model.NetworkFirst)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, []byte("cached"), res.Data)
	assert.Equal(t, 0, exec.calls())
}

func TestCacheFirstHitSkipsNetwork(t *testing.T) {
	exec := &fakeExec{fn: respondWith("network")}
	r, store, _ := newTestResolver(t, exec, true)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testKey(), []byte("cached"), nil, time.Minute))

	res, err := r.Resolve(ctx, testRequest(), model.CacheFirst)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, []byte("cached"), res.Data)
	assert.Equal(t, 0, exec.calls())
}

func TestCacheFirstMissFetches(t *testing.T) {
	exec := &fakeExec{fn: respondWith("fetched")}
	r, _, _ := newTestResolver(t, exec, true)

	res, err := r.Resolve(context.Background(), testRequest(), model.CacheFirst)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, []byte("fetched"), res.Data)
	assert.Equal(t, 1, exec.calls())
}

func TestCacheFirstMissOffline(t *testing.T) {
	exec := &fakeExec{fn: respondWith("never")}
	r, _, _ := newTestResolver(t, exec, false)

	_, err := r.Resolve(context.Background(), testRequest(), model.CacheFirst)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 0, exec.calls())
}

func TestCacheOnlyNeverTouchesNetwork(t *testing.T) {
	exec := &fakeExec{fn: respondWith("never")}
	r, _, _ := newTestResolver(t, exec, true)

	_, err := r.Resolve(context.Background(), testRequest(), model.CacheOnly)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 0, exec.calls())
}

func TestNetworkOnlyOffline(t *testing.T) {
	exec := &fakeExec{fn: respondWith("never")}
	r, _, _ := newTestResolver(t, exec, false)

	_, err := r.Resolve(context.Background(), testRequest(), model.NetworkOnly)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, 0, exec.calls())
}

func TestNetworkOnlyDoesNotCache(t *testing.T) {
	exec := &fakeExec{fn: respondWith("ephemeral")}
	r, _, _ := newTestResolver(t, exec, true)
	ctx := context.Background()

	res, err := r.Resolve(ctx, testRequest(), model.NetworkOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte("ephemeral"), res.Data)

	_, err = r.Resolve(ctx, testRequest(), model.CacheOnly)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestStaleWhileRevalidateServesStaleAndRefreshes(t *testing.T) {
	exec := &fakeExec{fn: respondWith("fresh")}
	r, store, _ := newTestResolver(t, exec, true)
	ctx := context.Background()

	// Expired on arrival, so the next read is stale.
	require.NoError(t, store.Put(ctx, testKey(), []byte("old"), nil, 0))

	res, err := r.Resolve(ctx, testRequest(), model.StaleWhileRevalidate)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.True(t, res.Stale)
	assert.Equal(t, []byte("old"), res.Data)

	// Wait for the background refresh, then read the refreshed value.
	r.Close()
	require.Equal(t, 1, exec.calls())

	refreshed, err := r.Resolve(ctx, testRequest(), model.CacheOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), refreshed.Data)
}

func TestStaleWhileRevalidateOfflineServesStaleWithoutRefresh(t *testing.T) {
	exec := &fakeExec{fn: respondWith("never")}
	r, store, _ := newTestResolver(t, exec, false)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testKey(), []byte("old"), nil, 0))

	res, err := r.Resolve(ctx, testRequest(), model.StaleWhileRevalidate)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, []byte("old"), res.Data)
	assert.Equal(t, 0, exec.calls())
}

func TestStaleWhileRevalidateTotalMiss(t *testing.T) {
	exec := &fakeExec{fn: respondWith("first")}
	r, _, _ := newTestResolver(t, exec, true)

	res, err := r.Resolve(context.Background(), testRequest(), model.StaleWhileRevalidate)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, []byte("first"), res.Data)
}

func TestStaleWhileRevalidateMissOffline(t *testing.T) {
	exec := &fakeExec{fn: respondWith("never")}
	r, _, _ := newTestResolver(t, exec, false)

	_, err := r.Resolve(context.Background(), testRequest(), model.StaleWhileRevalidate)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestConcurrentFetchesDeduplicated(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExec{fn: func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		<-release
		return &transport.Response{StatusCode: 200, Body: []byte("shared")}, nil
	}}
	r, _, _ := newTestResolver(t, exec, true)

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), testRequest(), model.NetworkOnly)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	// Give the goroutines time to coalesce on the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, exec.calls())
	for _, res := range results {
		assert.Equal(t, []byte("shared"), res.Data)
	}
}

func TestUnknownStrategy(t *testing.T) {
	exec := &fakeExec{fn: respondWith("never")}
	r, _, _ := newTestResolver(t, exec, true)

	_, err := r.Resolve(context.Background(), testRequest(), model.Strategy(99))
	assert.Error(t, err)
}
