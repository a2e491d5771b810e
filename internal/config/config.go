package config

import (
	"errors"
	"io"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/satchel/pkg/conflict"
	"goflare.io/satchel/pkg/connectivity"
	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/serialization"
	"goflare.io/satchel/pkg/storage"
	"goflare.io/satchel/pkg/transport"
)

var (
	ErrInvalidCacheBudget = errors.New("cache budgets must be positive")
	ErrInvalidQueueSize   = errors.New("max queue size must be positive")
	ErrInvalidRetryConfig = errors.New("retry configuration is invalid")
)

// SyncPolicy gates automatic drains beyond plain connectivity.
type SyncPolicy struct {
	RequireUnmeteredNetwork bool
	RequireCharging         bool
}

// Allows reports whether draining may start under the given network state.
func (p SyncPolicy) Allows(state connectivity.State) bool {
	if !state.Online {
		return false
	}
	if p.RequireUnmeteredNetwork && state.Metered {
		return false
	}
	if p.RequireCharging && !state.Charging {
		return false
	}
	return true
}

// BloomFilterConfig sizes the cache's fast-miss filter.
type BloomFilterConfig struct {
	ExpectedItems     uint
	FalsePositiveRate float64
}

// SerializationConfig selects how cached payload values are encoded.
type SerializationConfig struct {
	Type    string
	Encoder func(io.Writer) serialization.Encoder
	Decoder func(io.Reader) serialization.Decoder
}

// Config carries every knob of the data layer. Built by the root package's
// functional options; components read it, never mutate it.
type Config struct {
	// Cache.
	DefaultCacheStrategy model.Strategy
	CacheDuration        time.Duration
	MaxCacheSizeInMB     int
	MaxCacheEntries      int
	ExcludeHeaders       []string
	SweepInterval        time.Duration // 0 disables the periodic sweep

	// Queue and retry.
	MaxQueueSize    int
	RetryAttempts   int
	RetryDelay      time.Duration
	RetryMultiplier float64
	MaxRetryDelay   time.Duration

	// Sync.
	EnableAutoSync bool
	SyncInterval   time.Duration
	SyncPolicy     SyncPolicy
	RequestTimeout time.Duration

	// Resilience and observability.
	Breaker             gobreaker.Settings
	BloomFilterSettings BloomFilterConfig
	Serialization       SerializationConfig
	Logger              *zap.Logger

	// Collaborators. Store, Executor and Monitor get defaults in the
	// composition root when unset; Resolver and OnAbandon stay nil-able.
	Store     storage.Store
	OwnsStore bool // Close() also closes Store
	Executor  transport.Executor
	Monitor   connectivity.Monitor
	Resolver  conflict.Resolver
	OnAbandon func(model.DeadRequest)
}

// New returns a Config with production defaults.
func New() *Config {
	return &Config{
		DefaultCacheStrategy: model.NetworkFirst,
		CacheDuration:        5 * time.Minute,
		MaxCacheSizeInMB:     50,
		MaxCacheEntries:      1000,
		SweepInterval:        0,

		MaxQueueSize:    1000,
		RetryAttempts:   3,
		RetryDelay:      time.Second,
		RetryMultiplier: 2.0,
		MaxRetryDelay:   30 * time.Second,

		EnableAutoSync: true,
		SyncInterval:   5 * time.Minute,
		RequestTimeout: 30 * time.Second,

		Breaker: gobreaker.Settings{
			Name:        "satchel-transport",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
		BloomFilterSettings: BloomFilterConfig{
			ExpectedItems:     10000,
			FalsePositiveRate: 0.01,
		},
		Serialization: SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		},
	}
}

// Validate checks the configuration for values no component can honor.
func (c *Config) Validate() error {
	if c.MaxCacheSizeInMB <= 0 || c.MaxCacheEntries <= 0 {
		return ErrInvalidCacheBudget
	}
	if c.MaxQueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	if c.RetryAttempts < 1 || c.RetryDelay <= 0 || c.RetryMultiplier < 1.0 || c.MaxRetryDelay < c.RetryDelay {
		return ErrInvalidRetryConfig
	}
	return nil
}

// MaxCacheBytes converts the size budget to bytes.
func (c *Config) MaxCacheBytes() int64 {
	return int64(c.MaxCacheSizeInMB) * 1024 * 1024
}
