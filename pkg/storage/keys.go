package storage

// Key namespace prefixes. The backing store holds three logical namespaces
// with no cross-namespace keys:
//
//	Data Type        Prefix  Key Format      Value Type
//	===========================================================
//	Cache entries    "c:"    c:<cacheKey>    CacheEntry envelope (JSON)
//	Queued requests  "q:"    q:<requestID>   OfflineRequest envelope (JSON)
//	Dead requests    "d:"    d:<requestID>   DeadRequest envelope (JSON)
const (
	PrefixCache = "c:"
	PrefixQueue = "q:"
	PrefixDead  = "d:"
)

// CacheKey builds the storage key for a cache entry.
func CacheKey(key string) []byte {
	return []byte(PrefixCache + key)
}

// QueueKey builds the storage key for a queued request.
func QueueKey(id string) []byte {
	return []byte(PrefixQueue + id)
}

// DeadKey builds the storage key for a dead-letter record.
func DeadKey(id string) []byte {
	return []byte(PrefixDead + id)
}
