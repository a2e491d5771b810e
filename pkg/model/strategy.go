package model

import "fmt"

// Strategy selects the data path for a read: which of cache and network is
// consulted, and in what order.
type Strategy int8

const (
	// NetworkFirst fetches from the network and falls back to the cache.
	NetworkFirst Strategy = iota
	// CacheFirst returns cached data when present and only then hits the network.
	CacheFirst
	// CacheOnly never touches the network.
	CacheOnly
	// NetworkOnly never touches the cache.
	NetworkOnly
	// StaleWhileRevalidate returns cached data immediately, fresh or stale,
	// and refreshes it in the background.
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case NetworkFirst:
		return "network-first"
	case CacheFirst:
		return "cache-first"
	case CacheOnly:
		return "cache-only"
	case NetworkOnly:
		return "network-only"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return fmt.Sprintf("strategy(%d)", int8(s))
	}
}

// ParseStrategy converts a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "network-first", "networkFirst":
		return NetworkFirst, nil
	case "cache-first", "cacheFirst":
		return CacheFirst, nil
	case "cache-only", "cacheOnly":
		return CacheOnly, nil
	case "network-only", "networkOnly":
		return NetworkOnly, nil
	case "stale-while-revalidate", "staleWhileRevalidate":
		return StaleWhileRevalidate, nil
	default:
		return NetworkFirst, fmt.Errorf("unknown cache strategy: %q", s)
	}
}
