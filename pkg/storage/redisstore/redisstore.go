// Package redisstore backs storage.Store with Redis, for deployments where
// the offline layer's state is shared with a server-side cache tier.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/satchel/pkg/storage"
)

const defaultTimeout = time.Second

// Options configures a redis-backed store.
type Options struct {
	// Client cannot be nil.
	Client redis.Cmdable
	// ClientCloser closes Client when Store.Close is called. Optional.
	ClientCloser io.Closer
	// Timeout bounds each redis operation. Default one second.
	Timeout time.Duration
	// KeyPrefix isolates this store's keys inside a shared redis database.
	KeyPrefix string
	// Logger is optional.
	Logger *zap.Logger
}

// Store is a Redis-backed storage.Store.
type Store struct {
	opts Options
}

// New creates a redis-backed store.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redisstore: nil client")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{opts: opts}, nil
}

func (s *Store) redisKey(key []byte) string {
	return s.opts.KeyPrefix + string(key)
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// Get returns the value for key, or storage.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	value, err := s.opts.Client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return value, nil
}

// Set stores value under key without a redis-side expiry; entry lifetime is
// managed by the cache store's own eviction, not by the engine.
func (s *Store) Set(ctx context.Context, key, value []byte) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.opts.Client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes key. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.opts.Client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Scan visits every key with the given prefix. Redis SCAN gives no ordering
// guarantee; callers that need order must sort.
func (s *Store) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	match := s.opts.KeyPrefix + string(prefix) + "*"

	var cursor uint64
	for {
		scanCtx, cancel := s.opContext(ctx)
		keys, next, err := s.opts.Client.Scan(scanCtx, cursor, match, 100).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}

		for _, redisKey := range keys {
			getCtx, cancel := s.opContext(ctx)
			value, err := s.opts.Client.Get(getCtx, redisKey).Bytes()
			cancel()
			if errors.Is(err, redis.Nil) {
				// Deleted between SCAN and GET.
				continue
			}
			if err != nil {
				return fmt.Errorf("redis get failed: %w", err)
			}
			if err := fn([]byte(redisKey[len(s.opts.KeyPrefix):]), value); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// DropPrefix removes every key with the given prefix.
func (s *Store) DropPrefix(ctx context.Context, prefix []byte) error {
	match := s.opts.KeyPrefix + string(prefix) + "*"

	var cursor uint64
	for {
		scanCtx, cancel := s.opContext(ctx)
		keys, next, err := s.opts.Client.Scan(scanCtx, cursor, match, 100).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}

		if len(keys) > 0 {
			delCtx, cancel := s.opContext(ctx)
			err = s.opts.Client.Del(delCtx, keys...).Err()
			cancel()
			if err != nil {
				return fmt.Errorf("redis del failed: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes the client if a closer was provided.
func (s *Store) Close() error {
	if s.opts.ClientCloser != nil {
		return s.opts.ClientCloser.Close()
	}
	return nil
}
