package cache

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Filter is a concurrency-safe bloom filter over cache keys. A negative
// answer short-circuits the miss path before any entry bookkeeping runs.
// Blooms cannot delete, so the filter over-approximates membership until
// the next Rebuild.
type Filter struct {
	mu       sync.RWMutex
	bf       *bloom.BloomFilter
	expected uint
	fpRate   float64
}

// NewFilter sizes a filter for the expected item count and false-positive rate.
func NewFilter(expected uint, fpRate float64) *Filter {
	if expected == 0 {
		expected = 1
	}
	return &Filter{
		bf:       bloom.NewWithEstimates(expected, fpRate),
		expected: expected,
		fpRate:   fpRate,
	}
}

// Add marks a key as present.
func (f *Filter) Add(key string) {
	f.mu.Lock()
	f.bf.AddString(key)
	f.mu.Unlock()
}

// Test reports whether the key may be present. False means definitely absent.
func (f *Filter) Test(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.TestString(key)
}

// Rebuild replaces the filter's contents with the given keys, clearing
// members accumulated for since-removed entries.
func (f *Filter) Rebuild(keys []string) {
	expected := f.expected
	if uint(len(keys)) > expected {
		expected = uint(len(keys))
	}

	next := bloom.NewWithEstimates(expected, f.fpRate)
	for _, key := range keys {
		next.AddString(key)
	}

	f.mu.Lock()
	f.bf = next
	f.mu.Unlock()
}
