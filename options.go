package satchel

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"goflare.io/satchel/internal/config"
	"goflare.io/satchel/pkg/conflict"
	"goflare.io/satchel/pkg/connectivity"
	"goflare.io/satchel/pkg/model"
	"goflare.io/satchel/pkg/serialization"
	"goflare.io/satchel/pkg/storage"
	"goflare.io/satchel/pkg/storage/badgerstore"
	"goflare.io/satchel/pkg/transport"
)

// Option configures a Satchel instance.
type Option func(*config.Config) error

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config.Config) error {
		cfg.Logger = logger
		return nil
	}
}

// WithStore sets the persistent backing store. Lifecycle stays with the
// caller; Close does not close a store supplied here.
func WithStore(store storage.Store) Option {
	return func(cfg *config.Config) error {
		cfg.Store = store
		return nil
	}
}

// WithBadgerPath opens a BadgerDB store at path, owned (and closed) by the
// Satchel instance.
func WithBadgerPath(path string) Option {
	return func(cfg *config.Config) error {
		store, err := badgerstore.New(badgerstore.Options{Path: path, Logger: cfg.Logger})
		if err != nil {
			return err
		}
		cfg.Store = store
		cfg.OwnsStore = true
		return nil
	}
}

// WithTransport sets the network executor.
func WithTransport(exec transport.Executor) Option {
	return func(cfg *config.Config) error {
		cfg.Executor = exec
		return nil
	}
}

// WithConnectivityMonitor sets the connectivity signal source.
func WithConnectivityMonitor(monitor connectivity.Monitor) Option {
	return func(cfg *config.Config) error {
		cfg.Monitor = monitor
		return nil
	}
}

// WithConflictResolver sets the hook invoked when a queued request hits a
// remote conflict.
func WithConflictResolver(resolver conflict.Resolver) Option {
	return func(cfg *config.Config) error {
		cfg.Resolver = resolver
		return nil
	}
}

// WithOnAbandon registers the observer for terminal abandonments.
func WithOnAbandon(fn func(model.DeadRequest)) Option {
	return func(cfg *config.Config) error {
		cfg.OnAbandon = fn
		return nil
	}
}

// WithDefaultCacheStrategy sets the read strategy used by Fetch.
func WithDefaultCacheStrategy(name string) Option {
	return func(cfg *config.Config) error {
		strategy, err := model.ParseStrategy(name)
		if err != nil {
			return err
		}
		cfg.DefaultCacheStrategy = strategy
		return nil
	}
}

// WithCacheDuration sets the default TTL for cached entries.
func WithCacheDuration(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.CacheDuration = d
		return nil
	}
}

// WithMaxCacheSizeInMB sets the cache size budget.
func WithMaxCacheSizeInMB(mb int) Option {
	return func(cfg *config.Config) error {
		cfg.MaxCacheSizeInMB = mb
		return nil
	}
}

// WithMaxCacheEntries sets the cache entry-count budget.
func WithMaxCacheEntries(n int) Option {
	return func(cfg *config.Config) error {
		cfg.MaxCacheEntries = n
		return nil
	}
}

// WithExcludeHeaders names response headers that are never persisted.
func WithExcludeHeaders(names ...string) Option {
	return func(cfg *config.Config) error {
		cfg.ExcludeHeaders = append(cfg.ExcludeHeaders, names...)
		return nil
	}
}

// WithSweepInterval enables the periodic sweep that reclaims expired
// entries between writes. Zero leaves lazy expiry only.
func WithSweepInterval(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.SweepInterval = d
		return nil
	}
}

// WithMaxQueueSize caps the number of pending offline requests.
func WithMaxQueueSize(n int) Option {
	return func(cfg *config.Config) error {
		cfg.MaxQueueSize = n
		return nil
	}
}

// WithRetryAttempts sets how many failed executions a request survives
// before it is abandoned.
func WithRetryAttempts(n int) Option {
	return func(cfg *config.Config) error {
		cfg.RetryAttempts = n
		return nil
	}
}

// WithRetryDelay sets the base backoff delay.
func WithRetryDelay(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.RetryDelay = d
		return nil
	}
}

// WithRetryMultiplier sets the exponential backoff multiplier.
func WithRetryMultiplier(m float64) Option {
	return func(cfg *config.Config) error {
		cfg.RetryMultiplier = m
		return nil
	}
}

// WithMaxRetryDelay caps the backoff delay.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.MaxRetryDelay = d
		return nil
	}
}

// WithAutoSync controls the periodic background drain.
func WithAutoSync(enabled bool, interval time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.EnableAutoSync = enabled
		if interval > 0 {
			cfg.SyncInterval = interval
		}
		return nil
	}
}

// WithSyncConstraints gates automatic drains on network conditions.
func WithSyncConstraints(requireUnmeteredNetwork, requireCharging bool) Option {
	return func(cfg *config.Config) error {
		cfg.SyncPolicy = config.SyncPolicy{
			RequireUnmeteredNetwork: requireUnmeteredNetwork,
			RequireCharging:         requireCharging,
		}
		return nil
	}
}

// WithRequestTimeout bounds each transport execution.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.RequestTimeout = d
		return nil
	}
}

// WithSerialization selects how cached values are encoded.
func WithSerialization(serializer string) Option {
	return func(cfg *config.Config) error {
		switch serializer {
		case serialization.JSONType:
			cfg.Serialization.Type = serialization.JSONType
			cfg.Serialization.Encoder = serialization.JSONEncoder
			cfg.Serialization.Decoder = serialization.JSONDecoder
		case serialization.GobType:
			cfg.Serialization.Type = serialization.GobType
			cfg.Serialization.Encoder = serialization.GobEncoder
			cfg.Serialization.Decoder = serialization.GobDecoder
		default:
			return fmt.Errorf("unsupported serialization type: %s", serializer)
		}
		return nil
	}
}
