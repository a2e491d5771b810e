// Package syncer drains the request queue when connectivity allows. The
// coordinator is a two-state machine, Idle and Draining; drains are
// triggered by online transitions, the auto-sync ticker, or an explicit
// request, and gated by the configured sync constraints.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/satchel/internal/config"
	"goflare.io/satchel/internal/queue"
	"goflare.io/satchel/internal/retry"
	"goflare.io/satchel/pkg/conflict"
	"goflare.io/satchel/pkg/connectivity"
	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/transport"
)

// State is the coordinator's drain state.
type State int32

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	if s == StateDraining {
		return "draining"
	}
	return "idle"
}

// Coordinator drains the queue. All sync errors are handled here; nothing
// propagates past the terminal-abandonment signal.
type Coordinator struct {
	queue    *queue.Queue
	exec     transport.Executor
	monitor  connectivity.Monitor
	resolver conflict.Resolver
	breaker  *gobreaker.CircuitBreaker

	policy         config.SyncPolicy
	maxAttempts    int
	baseDelay      time.Duration
	multiplier     float64
	maxDelay       time.Duration
	requestTimeout time.Duration
	autoSync       bool
	syncInterval   time.Duration
	breakerWait    time.Duration

	state   atomic.Int32
	trigger chan struct{}
	metrics *model.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a coordinator over the given queue.
func New(q *queue.Queue, cfg *config.Config, metrics *model.Metrics, logger *zap.Logger) *Coordinator {
	breakerWait := cfg.Breaker.Timeout
	if breakerWait <= 0 {
		// gobreaker's own default open-state period.
		breakerWait = 60 * time.Second
	}

	return &Coordinator{
		queue:    q,
		exec:     cfg.Executor,
		monitor:  cfg.Monitor,
		resolver: cfg.Resolver,
		breaker:  gobreaker.NewCircuitBreaker(cfg.Breaker),

		policy:         cfg.SyncPolicy,
		maxAttempts:    cfg.RetryAttempts,
		baseDelay:      cfg.RetryDelay,
		multiplier:     cfg.RetryMultiplier,
		maxDelay:       cfg.MaxRetryDelay,
		requestTimeout: cfg.RequestTimeout,
		autoSync:       cfg.EnableAutoSync,
		syncInterval:   cfg.SyncInterval,
		breakerWait:    breakerWait,

		trigger: make(chan struct{}, 1),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// State returns the current drain state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// TriggerSync requests a drain. Safe to call from any goroutine; duplicate
// triggers collapse into one.
func (c *Coordinator) TriggerSync() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run reacts to connectivity transitions, the auto-sync ticker and explicit
// triggers until ctx is cancelled. Intended to run in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	var tick <-chan time.Time
	if c.autoSync && c.syncInterval > 0 {
		ticker := time.NewTicker(c.syncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	events := c.monitor.Events()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("stopping sync coordinator")
			return
		case state := <-events:
			if state.Online {
				c.drainIfAllowed(ctx)
			}
		case <-tick:
			c.drainIfAllowed(ctx)
		case <-c.trigger:
			c.drainIfAllowed(ctx)
		}
	}
}

func (c *Coordinator) drainIfAllowed(ctx context.Context) {
	if !c.policy.Allows(c.monitor.State()) {
		c.logger.Debug("sync constraints not met, staying idle")
		return
	}
	c.Drain(ctx)
}

// Drain runs one drain pass. A pass already in progress makes this a no-op,
// so duplicate connectivity notifications are harmless.
func (c *Coordinator) Drain(ctx context.Context) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		return
	}
	defer c.state.Store(int32(StateIdle))

	if !c.policy.Allows(c.monitor.State()) {
		return
	}

	c.metrics.Drains.Inc()
	c.logger.Debug("drain started", zap.Int("pending", c.queue.Len()))

	for {
		if ctx.Err() != nil {
			return
		}
		if !c.monitor.State().Online {
			// Abort cleanly; everything not completed stays queued.
			c.logger.Debug("went offline mid-drain, aborting")
			return
		}

		req, wait, ok := c.nextEligible()
		if !ok {
			if wait > 0 {
				// Everything left is backing off. Re-trigger once the
				// earliest delay has elapsed instead of spinning.
				time.AfterFunc(wait, c.TriggerSync)
				c.logger.Debug("remaining requests deferred", zap.Duration("wait", wait))
			}
			return
		}

		if !c.attempt(ctx, req) {
			return
		}
	}
}

// nextEligible walks the queue in drain order and returns the first request
// whose backoff delay has elapsed, or the time until one becomes eligible.
func (c *Coordinator) nextEligible() (model.OfflineRequest, time.Duration, bool) {
	now := c.now()
	var wait time.Duration

	for _, req := range c.queue.Snapshot() {
		at := c.eligibleAt(&req)
		if !at.After(now) {
			return req, 0, true
		}
		if d := at.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return model.OfflineRequest{}, wait, false
}

// eligibleAt computes when a request may next be attempted: immediately for
// fresh requests, otherwise lastAttemptAt plus the scheduler's delay for
// its failure count.
func (c *Coordinator) eligibleAt(req *model.OfflineRequest) time.Time {
	if req.RetryCount == 0 || req.LastAttemptAt == nil {
		return time.Time{}
	}
	delay := retry.NextDelay(req.RetryCount-1, c.baseDelay, c.multiplier, c.maxDelay)
	return req.LastAttemptAt.Add(delay)
}

// attempt executes one request and applies the outcome to the queue. It
// reports whether the drain pass may continue; a refusal by the circuit
// breaker aborts the pass, since no request would get through either.
func (c *Coordinator) attempt(ctx context.Context, req model.OfflineRequest) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	respAny, err := c.breaker.Execute(func() (any, error) {
		return c.exec.Execute(attemptCtx, transport.Request{
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    req.Body,
		})
	})

	if err == nil {
		if cerr := c.queue.Complete(ctx, req.ID); cerr != nil {
			c.logger.Error("failed to complete request", zap.String("id", req.ID), zap.Error(cerr))
			return false
		}
		c.logger.Debug("request replayed",
			zap.String("id", req.ID),
			zap.String("url", req.URL),
			zap.Int("retry_count", req.RetryCount))
		return true
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// Breaker state is local; the request was never sent, so its retry
		// accounting stays untouched. Retry the drain once the breaker's
		// open period has passed.
		c.logger.Debug("circuit breaker refused request, deferring drain",
			zap.String("id", req.ID),
			zap.Duration("wait", c.breakerWait))
		time.AfterFunc(c.breakerWait, c.TriggerSync)
		return false
	}

	resp, _ := respAny.(*transport.Response)

	switch kind := transport.KindOf(err); kind {
	case transport.KindConflict:
		c.handleConflict(ctx, req, resp, err)
	case transport.KindClient:
		c.abandon(ctx, req.ID, "non-retryable client error: "+err.Error())
	default:
		c.recordRetryable(ctx, req, err)
	}
	return true
}

// recordRetryable notes a retryable failure and abandons the request once
// its attempts are exhausted.
func (c *Coordinator) recordRetryable(ctx context.Context, req model.OfflineRequest, execErr error) {
	if err := c.queue.RecordFailure(ctx, req.ID, execErr); err != nil {
		if !errors.Is(err, queue.ErrNotFound) {
			c.logger.Error("failed to record attempt", zap.String("id", req.ID), zap.Error(err))
		}
		return
	}
	if retry.ShouldAbandon(req.RetryCount+1, c.maxAttempts) {
		c.abandon(ctx, req.ID, "retry attempts exhausted: "+execErr.Error())
		return
	}
	c.logger.Debug("request failed, will retry",
		zap.String("id", req.ID),
		zap.Int("retry_count", req.RetryCount+1),
		zap.Error(execErr))
}

// handleConflict defers to the caller-supplied hook. Its verdict is
// authoritative; without a hook the conflict is terminal.
func (c *Coordinator) handleConflict(ctx context.Context, req model.OfflineRequest, resp *transport.Response, execErr error) {
	c.metrics.Conflicts.Inc()

	if c.resolver == nil {
		c.abandon(ctx, req.ID, "conflict with no resolver configured: "+execErr.Error())
		return
	}

	info := conflict.Info{Message: execErr.Error()}
	var terr *transport.Error
	if errors.As(execErr, &terr) {
		info.StatusCode = terr.StatusCode
	}
	if resp != nil {
		info.RemoteETag = resp.ETag()
		info.RemoteBody = resp.Body
	}

	resolution, err := c.resolver.Resolve(ctx, req, info)
	if err != nil {
		c.logger.Error("conflict resolver failed", zap.String("id", req.ID), zap.Error(err))
		c.recordRetryable(ctx, req, execErr)
		return
	}

	switch resolution.Decision {
	case conflict.DecisionRetry:
		if resolution.NewBody != nil {
			if err := c.queue.UpdateBody(ctx, req.ID, resolution.NewBody); err != nil {
				c.logger.Error("failed to update request body", zap.String("id", req.ID), zap.Error(err))
			}
		}
		// A conflict retry still consumes an attempt so a livelocked
		// resolver cannot pin the queue forever.
		c.recordRetryable(ctx, req, execErr)
	case conflict.DecisionAbandon:
		c.abandon(ctx, req.ID, "abandoned by conflict resolver")
	case conflict.DecisionReplace:
		if err := c.queue.Complete(ctx, req.ID); err != nil {
			c.logger.Error("failed to complete replaced request", zap.String("id", req.ID), zap.Error(err))
			return
		}
		c.logger.Debug("conflict replaced with resolver result",
			zap.String("id", req.ID),
			zap.Int("result_bytes", len(resolution.Result)))
	}
}

func (c *Coordinator) abandon(ctx context.Context, id, reason string) {
	if err := c.queue.Abandon(ctx, id, reason); err != nil {
		c.logger.Error("failed to abandon request", zap.String("id", id), zap.Error(err))
	}
}
