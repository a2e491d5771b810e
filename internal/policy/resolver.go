// Package policy decides the data path for each read: cache, network, or
// both, per the configured strategy and current connectivity.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/satchel/internal/cache"
	"goflare.io/satchel/internal/config"
	"goflare.io/satchel/internal/utils"
	"goflare.io/satchel/pkg/connectivity"
	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/transport"
)

var (
	// ErrNoData means neither the cache nor the network could satisfy the
	// read under the chosen strategy.
	ErrNoData = errors.New("no data available")
	// ErrOffline means the strategy requires the network and the device is
	// offline.
	ErrOffline = errors.New("offline")
)

// Result is a resolved read.
type Result struct {
	Data       []byte
	StatusCode int
	Headers    map[string]string
	FromCache  bool
	Stale      bool
}

// Resolver dispatches reads per strategy. Network fetches are deduplicated
// per key with singleflight and guarded by a circuit breaker.
type Resolver struct {
	cache   *cache.Store
	exec    transport.Executor
	monitor connectivity.Monitor
	breaker *gobreaker.CircuitBreaker
	sf      singleflight.Group

	cacheTTL time.Duration
	timeout  time.Duration

	metrics *model.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer

	// bg drives stale-while-revalidate refreshes so they outlive the
	// caller's context but stop on Close.
	bg context.Context
	wg sync.WaitGroup
}

// New creates a resolver. bg is the lifetime context for background
// refreshes.
func New(bg context.Context, cacheStore *cache.Store, cfg *config.Config, metrics *model.Metrics, logger *zap.Logger) *Resolver {
	return &Resolver{
		cache:    cacheStore,
		exec:     cfg.Executor,
		monitor:  cfg.Monitor,
		breaker:  gobreaker.NewCircuitBreaker(cfg.Breaker),
		cacheTTL: cfg.CacheDuration,
		timeout:  cfg.RequestTimeout,
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer("satchel/policy"),
		bg:       bg,
	}
}

// Resolve executes a read under the given strategy. Reads never fail on a
// plain cache miss when the strategy defines a fallback; they fail only
// when every permitted path is exhausted.
func (r *Resolver) Resolve(ctx context.Context, req transport.Request, strategy model.Strategy) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.Resolve", trace.WithAttributes(
		attribute.String("url", req.URL),
		attribute.String("strategy", strategy.String()),
	))
	defer span.End()

	key := utils.CacheKey(req.Method, req.URL)
	online := r.monitor.State().Online

	switch strategy {
	case model.NetworkFirst:
		return r.resolveNetworkFirst(ctx, key, req, online)
	case model.CacheFirst:
		return r.resolveCacheFirst(ctx, key, req, online)
	case model.CacheOnly:
		return r.cachedResult(ctx, key)
	case model.NetworkOnly:
		if !online {
			return nil, ErrOffline
		}
		return r.fetch(ctx, key, req, false)
	case model.StaleWhileRevalidate:
		return r.resolveStaleWhileRevalidate(ctx, key, req, online)
	default:
		return nil, fmt.Errorf("unknown strategy: %s", strategy)
	}
}

func (r *Resolver) resolveNetworkFirst(ctx context.Context, key string, req transport.Request, online bool) (*Result, error) {
	if online {
		res, err := r.fetch(ctx, key, req, true)
		if err == nil {
			return res, nil
		}
		if cached, cachedErr := r.cachedResult(ctx, key); cachedErr == nil {
			r.logger.Debug("network fetch failed, serving cached value",
				zap.String("url", req.URL),
				zap.Error(err))
			return cached, nil
		}
		return nil, err
	}
	return r.cachedResult(ctx, key)
}

func (r *Resolver) resolveCacheFirst(ctx context.Context, key string, req transport.Request, online bool) (*Result, error) {
	if res, err := r.cachedResult(ctx, key); err == nil {
		return res, nil
	}
	if !online {
		return nil, ErrNoData
	}
	return r.fetch(ctx, key, req, true)
}

func (r *Resolver) resolveStaleWhileRevalidate(ctx context.Context, key string, req transport.Request, online bool) (*Result, error) {
	entry, stale, ok := r.cache.GetStale(ctx, key)
	if ok {
		// Return immediately, fresh or stale; the refresh always runs in
		// the background when the network is reachable.
		if online {
			r.refreshAsync(key, req)
		}
		return resultFromEntry(entry, stale), nil
	}
	if !online {
		return nil, ErrNoData
	}
	return r.fetch(ctx, key, req, true)
}

// cachedResult serves a non-expired cached entry or ErrNoData.
func (r *Resolver) cachedResult(ctx context.Context, key string) (*Result, error) {
	entry, ok := r.cache.Get(ctx, key)
	if !ok {
		return nil, ErrNoData
	}
	return resultFromEntry(entry, false), nil
}

// fetch executes the request over the network, deduplicated per key, and
// refreshes the cache when cacheIt is set.
func (r *Resolver) fetch(ctx context.Context, key string, req transport.Request, cacheIt bool) (*Result, error) {
	v, err, _ := r.sf.Do(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		respAny, err := r.breaker.Execute(func() (any, error) {
			return r.exec.Execute(fetchCtx, req)
		})
		if err != nil {
			return nil, err
		}
		resp := respAny.(*transport.Response)

		if cacheIt {
			if putErr := r.cache.Put(ctx, key, resp.Body, resp.Headers, r.cacheTTL); putErr != nil {
				// A cache write failure degrades freshness, not the read.
				r.logger.Warn("failed to refresh cache after fetch",
					zap.String("url", req.URL),
					zap.Error(putErr))
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp := v.(*transport.Response)
	return &Result{
		Data:       resp.Body,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
	}, nil
}

// refreshAsync refreshes a key in the background. Singleflight keeps at
// most one refresh in flight per key.
func (r *Resolver) refreshAsync(key string, req transport.Request) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.fetch(r.bg, key, req, true); err != nil {
			r.logger.Debug("background refresh failed",
				zap.String("url", req.URL),
				zap.Error(err))
		}
	}()
}

// Close waits for in-flight background refreshes.
func (r *Resolver) Close() {
	r.wg.Wait()
}

func resultFromEntry(entry *model.CacheEntry, stale bool) *Result {
	return &Result{
		Data:      entry.Data,
		Headers:   entry.Metadata.Headers,
		FromCache: true,
		Stale:     stale,
	}
}
