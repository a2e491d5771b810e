package utils

import (
	"fmt"
	"hash/fnv"
	"time"
)

// CacheKey derives a stable cache key from a read request's method and URL.
func CacheKey(method, url string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(method))
	_, _ = h.Write([]byte{' '})
	_, _ = h.Write([]byte(url))
	return fmt.Sprintf("%016x", h.Sum64())
}

// GetExpirationTime picks the first explicit TTL, falling back to the default.
func GetExpirationTime(defaultTTL time.Duration, ttl ...time.Duration) time.Duration {
	if len(ttl) > 0 {
		return ttl[0]
	}
	return defaultTTL
}
