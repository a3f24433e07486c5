// Package dedup provides a best-effort duplicate pre-filter for message
// intake. It uses a sliding window of two bloom filters keyed on the
// webhook configuration and the submitter's idempotency key. A hit only
// means "probably seen recently": callers treat it as advisory and the
// delivery pipeline stays correct without it.
package dedup

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// filterSet implements a sliding window bloom filter using two underlying
// bloom filters. Keys are always added to the "current" filter, while
// lookups check both "current" and "previous". Periodic rotation swaps
// current to previous and creates a fresh current filter, providing a
// bounded time window for deduplication.
type filterSet struct {
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	mu       sync.RWMutex
	window   time.Duration
	capacity uint
	fpRate   float64
}

func newFilterSet(window time.Duration, capacity uint, fpRate float64) *filterSet {
	return &filterSet{
		current:  bloom.NewWithEstimates(capacity, fpRate),
		previous: bloom.NewWithEstimates(capacity, fpRate),
		window:   window,
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// testAndAdd checks whether the key exists in either filter. If found it
// returns true; if not it adds the key to the current filter and returns
// false. Safe for concurrent use.
func (f *filterSet) testAndAdd(key string) bool {
	data := []byte(key)

	f.mu.RLock()
	if f.current.Test(data) || f.previous.Test(data) {
		f.mu.RUnlock()
		return true
	}
	f.mu.RUnlock()

	f.mu.Lock()
	// Double-check after acquiring the write lock to avoid a race where
	// another goroutine added the same key between RUnlock and Lock.
	if f.current.Test(data) || f.previous.Test(data) {
		f.mu.Unlock()
		return true
	}
	f.current.Add(data)
	f.mu.Unlock()

	return false
}

// rotate swaps the current filter to previous and creates a fresh current
// filter. Called every window/2 so keys stay visible for at least one full
// window duration.
func (f *filterSet) rotate() {
	f.mu.Lock()
	f.previous = f.current
	f.current = bloom.NewWithEstimates(f.capacity, f.fpRate)
	f.mu.Unlock()
}
