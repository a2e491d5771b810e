package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMetadataIsExpired(t *testing.T) {
	now := time.Now()

	noExpiry := CacheMetadata{Key: "k", CreatedAt: now, LastAccessedAt: now}
	assert.False(t, noExpiry.IsExpired(now.Add(100*365*24*time.Hour)))

	at := now.Add(time.Minute)
	withExpiry := CacheMetadata{Key: "k", CreatedAt: now, LastAccessedAt: now, ExpiresAt: &at}
	assert.False(t, withExpiry.IsExpired(now))
	assert.False(t, withExpiry.IsExpired(at.Add(-time.Nanosecond)))
	assert.True(t, withExpiry.IsExpired(at))
	assert.True(t, withExpiry.IsExpired(at.Add(time.Second)))
}

func TestCacheMetadataZeroTTLExpiredOnArrival(t *testing.T) {
	now := time.Now()
	at := now
	m := CacheMetadata{Key: "k", CreatedAt: now, LastAccessedAt: now, ExpiresAt: &at}

	assert.NoError(t, m.Validate())
	assert.True(t, m.IsExpired(now))
}

func TestCacheMetadataValidate(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name string
		meta CacheMetadata
		ok   bool
	}{
		{"valid", CacheMetadata{Key: "k", CreatedAt: now, LastAccessedAt: now}, true},
		{"empty key", CacheMetadata{CreatedAt: now, LastAccessedAt: now}, false},
		{"negative size", CacheMetadata{Key: "k", CreatedAt: now, LastAccessedAt: now, SizeInBytes: -1}, false},
		{"accessed before created", CacheMetadata{Key: "k", CreatedAt: now, LastAccessedAt: earlier}, false},
		{"expires before created", CacheMetadata{Key: "k", CreatedAt: now, LastAccessedAt: now, ExpiresAt: &earlier}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEntry)
			}
		})
	}
}

func TestCacheEntryCloneIsDeep(t *testing.T) {
	at := time.Now().Add(time.Minute)
	entry := &CacheEntry{
		Key:  "k",
		Data: []byte("payload"),
		Metadata: CacheMetadata{
			Key:       "k",
			ExpiresAt: &at,
			Headers:   map[string]string{"Content-Type": "application/json"},
		},
	}

	clone := entry.Clone()
	clone.Data[0] = 'X'
	clone.Metadata.Headers["Content-Type"] = "text/plain"
	*clone.Metadata.ExpiresAt = time.Time{}

	assert.Equal(t, []byte("payload"), entry.Data)
	assert.Equal(t, "application/json", entry.Metadata.Headers["Content-Type"])
	assert.Equal(t, at, *entry.Metadata.ExpiresAt)
}

func TestPriorityJSONByName(t *testing.T) {
	data, err := json.Marshal(PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, `"high"`, string(data))

	var p Priority
	require.NoError(t, json.Unmarshal([]byte(`"low"`), &p))
	assert.Equal(t, PriorityLow, p)

	assert.Error(t, json.Unmarshal([]byte(`"urgent"`), &p))
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)

	_, err = ParsePriority("critical")
	assert.Error(t, err)
}

func TestOfflineRequestValidate(t *testing.T) {
	now := time.Now()

	valid := OfflineRequest{ID: "1", Method: "POST", URL: "https://api.example.com/notes"}
	assert.NoError(t, valid.Validate())

	missingURL := OfflineRequest{ID: "1", Method: "POST"}
	assert.ErrorIs(t, missingURL.Validate(), ErrInvalidRequest)

	// lastAttemptAt must be set exactly when retryCount > 0.
	failedWithoutStamp := OfflineRequest{ID: "1", Method: "POST", URL: "u", RetryCount: 1}
	assert.ErrorIs(t, failedWithoutStamp.Validate(), ErrInvalidRequest)

	stampWithoutFailure := OfflineRequest{ID: "1", Method: "POST", URL: "u", LastAttemptAt: &now}
	assert.ErrorIs(t, stampWithoutFailure.Validate(), ErrInvalidRequest)

	consistent := OfflineRequest{ID: "1", Method: "POST", URL: "u", RetryCount: 2, LastAttemptAt: &now}
	assert.NoError(t, consistent.Validate())
}

func TestOfflineRequestCloneIsDeep(t *testing.T) {
	now := time.Now()
	req := OfflineRequest{
		ID:            "1",
		Method:        "POST",
		URL:           "u",
		Headers:       map[string]string{"Authorization": "Bearer x"},
		Body:          []byte("body"),
		RetryCount:    1,
		LastAttemptAt: &now,
	}

	clone := req.Clone()
	clone.Body[0] = 'X'
	clone.Headers["Authorization"] = "none"
	*clone.LastAttemptAt = time.Time{}

	assert.Equal(t, []byte("body"), req.Body)
	assert.Equal(t, "Bearer x", req.Headers["Authorization"])
	assert.Equal(t, now, *req.LastAttemptAt)
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in       string
		expected Strategy
	}{
		{"network-first", NetworkFirst},
		{"networkFirst", NetworkFirst},
		{"cache-first", CacheFirst},
		{"cacheOnly", CacheOnly},
		{"network-only", NetworkOnly},
		{"staleWhileRevalidate", StaleWhileRevalidate},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := ParseStrategy("freshest")
	assert.Error(t, err)
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Hits.Inc()
	m.Hits.Inc()
	m.Misses.Inc()
	m.Abandoned.Inc()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.Equal(t, int64(1), snap.Abandoned)
	assert.Equal(t, int64(0), snap.Evictions)
}
