// Package satchel is an offline-first data layer for client applications:
// a persistent cache store with TTL and bounded eviction, and a durable
// queue that records mutations attempted while disconnected and replays
// them, with backoff and conflict-aware sync, once connectivity returns.
package satchel

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/satchel/internal/cache"
	"goflare.io/satchel/internal/config"
	"goflare.io/satchel/internal/policy"
	"goflare.io/satchel/internal/queue"
	"goflare.io/satchel/internal/syncer"
	"goflare.io/satchel/internal/utils"
	"goflare.io/satchel/pkg/connectivity"
	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/storage/memstore"
	"goflare.io/satchel/pkg/transport"
)

// Result is a resolved read.
type Result = policy.Result

// Satchel owns the cache store, the request queue and the sync machinery
// over one backing store. Create with New, release with Close; lifecycle
// belongs to the application's composition root.
type Satchel struct {
	cfg         *config.Config
	cache       *cache.Store
	queue       *queue.Queue
	resolver    *policy.Resolver
	coordinator *syncer.Coordinator

	logger  *zap.Logger
	metrics *model.Metrics
	tracer  trace.Tracer

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New builds a Satchel instance. Without WithStore or WithBadgerPath the
// state lives in memory only and does not survive a restart.
func New(ctx context.Context, opts ...Option) (*Satchel, error) {
	cfg := config.New()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}
	if cfg.Executor == nil {
		cfg.Executor = transport.NewHTTP(transport.HTTPOptions{Logger: cfg.Logger})
	}
	if cfg.Monitor == nil {
		cfg.Monitor = connectivity.NewManual(connectivity.State{Online: true})
	}
	if cfg.Store == nil {
		cfg.Logger.Warn("no persistent store configured, state will not survive restarts")
		cfg.Store = memstore.New()
		cfg.OwnsStore = true
	}

	metrics := model.NewMetrics()

	closeOwnedStore := func() {
		if cfg.OwnsStore {
			if err := cfg.Store.Close(); err != nil {
				cfg.Logger.Warn("failed to close backing store", zap.Error(err))
			}
		}
	}

	cacheStore, err := cache.NewStore(ctx, cfg.Store, cfg, metrics, cfg.Logger)
	if err != nil {
		closeOwnedStore()
		return nil, err
	}

	q, err := queue.New(ctx, cfg.Store, cfg.MaxQueueSize, metrics, cfg.Logger, cfg.OnAbandon)
	if err != nil {
		cacheStore.Close()
		closeOwnedStore()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)

	s := &Satchel{
		cfg:         cfg,
		cache:       cacheStore,
		queue:       q,
		resolver:    policy.New(runCtx, cacheStore, cfg, metrics, cfg.Logger),
		coordinator: syncer.New(q, cfg, metrics, cfg.Logger),
		logger:      cfg.Logger,
		metrics:     metrics,
		tracer:      otel.Tracer("satchel"),
		cancel:      cancel,
	}

	go s.coordinator.Run(runCtx)
	if cfg.SweepInterval > 0 {
		go cache.NewSweeper(cacheStore, cfg.SweepInterval, cfg.Logger).Run(runCtx)
	}

	return s, nil
}

// Fetch resolves a read with the default cache strategy.
func (s *Satchel) Fetch(ctx context.Context, req transport.Request) (*Result, error) {
	return s.FetchWith(ctx, req, s.cfg.DefaultCacheStrategy)
}

// FetchWith resolves a read with an explicit strategy.
func (s *Satchel) FetchWith(ctx context.Context, req transport.Request, strategy model.Strategy) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "Satchel.Fetch", trace.WithAttributes(
		attribute.String("url", req.URL),
		attribute.String("strategy", strategy.String()),
	))
	defer span.End()

	res, err := s.resolver.Resolve(ctx, req, strategy)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// Put caches a value under key. The value is serialized with the
// configured codec; the TTL defaults to the configured cache duration.
func (s *Satchel) Put(ctx context.Context, key string, value any, ttl ...time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "Satchel.Put", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	var buf bytes.Buffer
	if err := s.cfg.Serialization.Encoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	return s.cache.Put(ctx, key, buf.Bytes(), nil, utils.GetExpirationTime(s.cfg.CacheDuration, ttl...))
}

// Get loads a cached value into value. Returns false on a miss, expired
// entries included.
func (s *Satchel) Get(ctx context.Context, key string, value any) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "Satchel.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	entry, ok := s.cache.Get(ctx, key)
	if !ok {
		return false, nil
	}
	if err := s.cfg.Serialization.Decoder(bytes.NewReader(entry.Data)).Decode(value); err != nil {
		return false, fmt.Errorf("failed to decode value: %w", err)
	}
	return true, nil
}

// Delete removes a cached entry. Deleting an absent key is a no-op.
func (s *Satchel) Delete(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, key)
}

// Clear removes all cached entries.
func (s *Satchel) Clear(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

// Enqueue durably queues a mutation for the next sync. The request's ID is
// filled in when empty.
func (s *Satchel) Enqueue(ctx context.Context, req *model.OfflineRequest) error {
	if err := s.queue.Enqueue(ctx, req); err != nil {
		return err
	}
	if s.cfg.Monitor.State().Online {
		s.coordinator.TriggerSync()
	}
	return nil
}

// Mutate executes a mutation now when the network allows, and otherwise
// queues it durably, returning ErrQueued. Retryable transport failures
// queue as well; non-retryable ones surface to the caller.
func (s *Satchel) Mutate(ctx context.Context, req *model.OfflineRequest) (*transport.Response, error) {
	ctx, span := s.tracer.Start(ctx, "Satchel.Mutate", trace.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("url", req.URL),
	))
	defer span.End()

	if s.cfg.Monitor.State().Online {
		execCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		resp, err := s.cfg.Executor.Execute(execCtx, transport.Request{
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    req.Body,
		})
		cancel()
		if err == nil {
			return resp, nil
		}
		if !transport.KindOf(err).Retryable() {
			span.RecordError(err)
			return nil, err
		}
		s.logger.Debug("mutation failed, queueing for sync",
			zap.String("url", req.URL),
			zap.Error(err))
	}

	if err := s.queue.Enqueue(ctx, req); err != nil {
		return nil, err
	}
	return nil, ErrQueued
}

// Sync drains the queue now, regardless of the auto-sync schedule. Sync
// constraints still apply.
func (s *Satchel) Sync(ctx context.Context) error {
	if !s.cfg.Monitor.State().Online {
		return ErrOffline
	}
	s.coordinator.Drain(ctx)
	return nil
}

// Pending returns the queued requests in drain order.
func (s *Satchel) Pending() []model.OfflineRequest {
	return s.queue.Snapshot()
}

// Dead returns the terminally failed requests, newest first.
func (s *Satchel) Dead(ctx context.Context) ([]model.DeadRequest, error) {
	return s.queue.DeadLetters(ctx)
}

// ClearDead drops the dead-letter records.
func (s *Satchel) ClearDead(ctx context.Context) error {
	return s.queue.ClearDead(ctx)
}

// Stats returns a snapshot of the activity counters.
func (s *Satchel) Stats() model.MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Online reports the current connectivity state.
func (s *Satchel) Online() bool {
	return s.cfg.Monitor.State().Online
}

// SetOnline flips connectivity when the instance runs on the built-in
// manual monitor. With a custom monitor this is a no-op; feed transitions
// through the monitor instead.
func (s *Satchel) SetOnline(online bool) {
	if manual, ok := s.cfg.Monitor.(*connectivity.Manual); ok {
		manual.SetOnline(online)
	}
}

// Close stops background work and releases resources. The backing store is
// closed only when this instance created it.
func (s *Satchel) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.resolver.Close()
		s.cache.Close()
		if s.cfg.OwnsStore {
			s.closeErr = s.cfg.Store.Close()
		}
	})
	return s.closeErr
}
