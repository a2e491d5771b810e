package model

import (
	"errors"
	"time"
)

// SchemaVersion is the current on-disk schema for persisted cache entries
// and queued requests. Bump when the serialized layout changes.
const SchemaVersion = 1

var (
	// ErrInvalidEntry is returned when a cache entry violates its invariants.
	ErrInvalidEntry = errors.New("invalid cache entry")
	// ErrInvalidRequest is returned when an offline request violates its invariants.
	ErrInvalidRequest = errors.New("invalid offline request")
)

// CacheMetadata describes a cached payload. All mutation goes through the
// cache store; callers only ever see copies.
type CacheMetadata struct {
	Key            string            `json:"key"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	SizeInBytes    int64             `json:"size_in_bytes"`
	AccessCount    int64             `json:"access_count"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	ETag           string            `json:"etag,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// IsExpired reports whether the entry has passed its expiry at the given
// instant. Entries without an expiry never expire by time.
func (m *CacheMetadata) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// Touch records a read access.
func (m *CacheMetadata) Touch(now time.Time) {
	m.AccessCount++
	m.LastAccessedAt = now
}

// Validate checks the metadata invariants.
func (m *CacheMetadata) Validate() error {
	if m.Key == "" {
		return ErrInvalidEntry
	}
	if m.SizeInBytes < 0 || m.AccessCount < 0 {
		return ErrInvalidEntry
	}
	if m.LastAccessedAt.Before(m.CreatedAt) {
		return ErrInvalidEntry
	}
	// A zero TTL legitimately produces expiresAt == createdAt ("expired on
	// arrival"), so only a strictly earlier expiry is rejected.
	if m.ExpiresAt != nil && m.ExpiresAt.Before(m.CreatedAt) {
		return ErrInvalidEntry
	}
	return nil
}

// Clone returns a deep copy.
func (m *CacheMetadata) Clone() CacheMetadata {
	out := *m
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	if m.Headers != nil {
		out.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// CacheEntry couples an opaque serialized payload with its metadata.
type CacheEntry struct {
	Key      string        `json:"key"`
	Data     []byte        `json:"data"`
	Metadata CacheMetadata `json:"metadata"`
}

// Clone returns a deep copy so external holders cannot mutate store-owned state.
func (e *CacheEntry) Clone() *CacheEntry {
	out := &CacheEntry{
		Key:      e.Key,
		Metadata: e.Metadata.Clone(),
	}
	if e.Data != nil {
		out.Data = make([]byte, len(e.Data))
		copy(out.Data, e.Data)
	}
	return out
}
