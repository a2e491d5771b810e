package satchel

import (
	"fmt"

	"github.com/spf13/viper"
)

// FromFile loads the recognized configuration options from a YAML, JSON or
// TOML file. Returned options apply in file order and compose with
// programmatic ones:
//
//	opts, err := satchel.FromFile("offline.yaml")
//	s, err := satchel.New(ctx, append(opts, satchel.WithLogger(logger))...)
func FromFile(path string) ([]Option, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var opts []Option

	if v.IsSet("defaultCacheStrategy") {
		opts = append(opts, WithDefaultCacheStrategy(v.GetString("defaultCacheStrategy")))
	}
	if v.IsSet("cacheDuration") {
		opts = append(opts, WithCacheDuration(v.GetDuration("cacheDuration")))
	}
	if v.IsSet("maxCacheSizeInMB") {
		opts = append(opts, WithMaxCacheSizeInMB(v.GetInt("maxCacheSizeInMB")))
	}
	if v.IsSet("maxCacheEntries") {
		opts = append(opts, WithMaxCacheEntries(v.GetInt("maxCacheEntries")))
	}
	if v.IsSet("excludeHeaders") {
		opts = append(opts, WithExcludeHeaders(v.GetStringSlice("excludeHeaders")...))
	}
	if v.IsSet("sweepInterval") {
		opts = append(opts, WithSweepInterval(v.GetDuration("sweepInterval")))
	}
	if v.IsSet("maxQueueSize") {
		opts = append(opts, WithMaxQueueSize(v.GetInt("maxQueueSize")))
	}
	if v.IsSet("retryAttempts") {
		opts = append(opts, WithRetryAttempts(v.GetInt("retryAttempts")))
	}
	if v.IsSet("retryDelay") {
		opts = append(opts, WithRetryDelay(v.GetDuration("retryDelay")))
	}
	if v.IsSet("retryMultiplier") {
		opts = append(opts, WithRetryMultiplier(v.GetFloat64("retryMultiplier")))
	}
	if v.IsSet("maxRetryDelay") {
		opts = append(opts, WithMaxRetryDelay(v.GetDuration("maxRetryDelay")))
	}
	if v.IsSet("enableAutoSync") || v.IsSet("syncInterval") {
		enabled := true
		if v.IsSet("enableAutoSync") {
			enabled = v.GetBool("enableAutoSync")
		}
		opts = append(opts, WithAutoSync(enabled, v.GetDuration("syncInterval")))
	}
	if v.IsSet("requireUnmeteredNetwork") || v.IsSet("requireCharging") {
		opts = append(opts, WithSyncConstraints(
			v.GetBool("requireUnmeteredNetwork"),
			v.GetBool("requireCharging"),
		))
	}
	if v.IsSet("requestTimeout") {
		opts = append(opts, WithRequestTimeout(v.GetDuration("requestTimeout")))
	}
	if v.IsSet("serialization") {
		opts = append(opts, WithSerialization(v.GetString("serialization")))
	}
	if v.IsSet("storePath") {
		opts = append(opts, WithBadgerPath(v.GetString("storePath")))
	}

	return opts, nil
}
