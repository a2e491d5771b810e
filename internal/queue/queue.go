// Package queue implements the durable, priority-ordered queue of offline
// requests. Enqueued requests are persisted before Enqueue returns;
// dequeuing does not remove, so a crash mid-execution leaves the request
// re-deliverable (at-least-once).
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/serialization"
	"goflare.io/satchel/pkg/storage"
)

var (
	// ErrQueueFull is returned by Enqueue once the configured size cap is hit.
	ErrQueueFull = errors.New("request queue is full")
	// ErrNotFound is returned when an id is not in the active queue.
	ErrNotFound = errors.New("request not found in queue")
)

// Queue is the durable request queue.
type Queue struct {
	mu      sync.RWMutex
	backing storage.Store
	items   map[string]*model.OfflineRequest

	maxSize   int
	metrics   *model.Metrics
	logger    *zap.Logger
	onAbandon func(model.DeadRequest)

	now func() time.Time
}

// New creates a queue and reloads any requests that survived a restart.
// onAbandon, when non-nil, is invoked for every terminal abandonment.
func New(ctx context.Context, backing storage.Store, maxSize int, metrics *model.Metrics, logger *zap.Logger, onAbandon func(model.DeadRequest)) (*Queue, error) {
	q := &Queue{
		backing:   backing,
		items:     make(map[string]*model.OfflineRequest),
		maxSize:   maxSize,
		metrics:   metrics,
		logger:    logger,
		onAbandon: onAbandon,
		now:       time.Now,
	}

	err := backing.Scan(ctx, []byte(storage.PrefixQueue), func(key, value []byte) error {
		var req model.OfflineRequest
		if err := serialization.DecodeEnvelope(value, model.SchemaVersion, &req); err != nil {
			logger.Warn("dropping undecodable queued request",
				zap.ByteString("key", key),
				zap.Error(err))
			return backing.Delete(ctx, key)
		}
		q.items[req.ID] = &req
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load request queue: %w", err)
	}

	if len(q.items) > 0 {
		logger.Info("recovered queued requests", zap.Int("count", len(q.items)))
	}
	return q, nil
}

// Enqueue appends a request. The request is durable before Enqueue returns;
// a persistence failure is surfaced to the caller, never swallowed. A
// missing ID is filled in, a missing creation time stamped.
func (q *Queue) Enqueue(ctx context.Context, req *model.OfflineRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = q.now()
	}
	if err := req.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.items[req.ID]; !exists && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}

	if err := q.persistLocked(ctx, req); err != nil {
		return fmt.Errorf("failed to persist queued request: %w", err)
	}

	stored := req.Clone()
	q.items[req.ID] = &stored
	q.metrics.Enqueued.Inc()

	q.logger.Debug("request enqueued",
		zap.String("id", req.ID),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.String("priority", req.Priority.String()))
	return nil
}

// DequeueNext returns the request that drains next: highest priority, then
// earliest creation. The request stays in the queue until Complete or
// Abandon.
func (q *Queue) DequeueNext() (model.OfflineRequest, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var head *model.OfflineRequest
	for _, req := range q.items {
		if head == nil || drainBefore(req, head) {
			head = req
		}
	}
	if head == nil {
		return model.OfflineRequest{}, false
	}
	return head.Clone(), true
}

// RecordFailure notes a failed execution attempt.
func (q *Queue) RecordFailure(ctx context.Context, id string, execErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}

	now := q.now()
	req.RetryCount++
	req.LastAttemptAt = &now
	if execErr != nil {
		req.LastError = execErr.Error()
	}

	if err := q.persistLocked(ctx, req); err != nil {
		return fmt.Errorf("failed to persist failure record: %w", err)
	}
	return nil
}

// UpdateBody replaces the request body, as directed by the conflict hook.
func (q *Queue) UpdateBody(ctx context.Context, id string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	req.Body = append([]byte(nil), body...)

	if err := q.persistLocked(ctx, req); err != nil {
		return fmt.Errorf("failed to persist updated request: %w", err)
	}
	return nil
}

// Complete removes a successfully executed request. Completing an unknown
// id is a no-op, so duplicate completions after a crash replay are harmless.
func (q *Queue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; !ok {
		return nil
	}
	if err := q.backing.Delete(ctx, storage.QueueKey(id)); err != nil {
		return fmt.Errorf("failed to remove completed request: %w", err)
	}
	delete(q.items, id)
	q.metrics.Completed.Inc()
	return nil
}

// Abandon moves a request to the dead-letter namespace and emits the
// terminal-failure signal. Abandoning an unknown id is a no-op.
func (q *Queue) Abandon(ctx context.Context, id, reason string) error {
	q.mu.Lock()

	req, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return nil
	}

	dead := model.DeadRequest{
		Request:     req.Clone(),
		AbandonedAt: q.now(),
		Reason:      reason,
	}

	encoded, err := serialization.EncodeEnvelope(model.SchemaVersion, dead)
	if err == nil {
		err = q.backing.Set(ctx, storage.DeadKey(id), encoded)
	}
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("failed to record dead request: %w", err)
	}
	if err := q.backing.Delete(ctx, storage.QueueKey(id)); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("failed to remove abandoned request: %w", err)
	}
	delete(q.items, id)
	q.metrics.Abandoned.Inc()
	q.mu.Unlock()

	q.logger.Warn("request abandoned",
		zap.String("id", id),
		zap.String("url", dead.Request.URL),
		zap.Int("retry_count", dead.Request.RetryCount),
		zap.String("reason", reason))

	if q.onAbandon != nil {
		q.onAbandon(dead)
	}
	return nil
}

// Snapshot returns the active requests in dequeue order without mutating
// access state.
func (q *Queue) Snapshot() []model.OfflineRequest {
	q.mu.RLock()
	out := make([]model.OfflineRequest, 0, len(q.items))
	for _, req := range q.items {
		out = append(out, req.Clone())
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return drainBefore(&out[i], &out[j])
	})
	return out
}

// Len returns the number of active requests.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// DeadLetters returns the terminal records, newest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]model.DeadRequest, error) {
	var out []model.DeadRequest
	err := q.backing.Scan(ctx, []byte(storage.PrefixDead), func(key, value []byte) error {
		var dead model.DeadRequest
		if err := serialization.DecodeEnvelope(value, model.SchemaVersion, &dead); err != nil {
			return err
		}
		out = append(out, dead)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AbandonedAt.After(out[j].AbandonedAt)
	})
	return out, nil
}

// ClearDead drops the dead-letter namespace.
func (q *Queue) ClearDead(ctx context.Context) error {
	if err := q.backing.DropPrefix(ctx, []byte(storage.PrefixDead)); err != nil {
		return fmt.Errorf("failed to clear dead letters: %w", err)
	}
	return nil
}

// persistLocked writes the request's current state. Callers hold mu.
func (q *Queue) persistLocked(ctx context.Context, req *model.OfflineRequest) error {
	encoded, err := serialization.EncodeEnvelope(model.SchemaVersion, req)
	if err != nil {
		return err
	}
	return q.backing.Set(ctx, storage.QueueKey(req.ID), encoded)
}

// drainBefore orders requests: priority descending, creation ascending,
// id as the deterministic tie breaker.
func drainBefore(a, b *model.OfflineRequest) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
