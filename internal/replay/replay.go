// Package replay implements the at-most-once credential cache of
// spec.md §4.G: a bounded map of credential fingerprints to their
// expiry, supporting atomic test-and-insert and periodic purge.
package replay

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FingerprintLen is the fixed length a mac_tag is truncated to before
// use as a replay-cache key (spec.md §3: "fingerprint ... truncated to
// a fixed length if longer than needed").
const FingerprintLen = 16

// Fingerprint derives a fixed-length cache key from a credential's
// mac_tag.
func Fingerprint(macTag []byte) [FingerprintLen]byte {
	var fp [FingerprintLen]byte
	if len(macTag) >= FingerprintLen {
		copy(fp[:], macTag[:FingerprintLen])
		return fp
	}
	copy(fp[:], macTag)
	return fp
}

// Verdict is the result of a Remember call.
type Verdict uint8

const (
	Fresh Verdict = iota
	Replayed
)

// Cache is the narrow interface the decode engine depends on (Design
// Note "Provider indirection"): an in-memory implementation backed by
// an LRU and an optional sqlite-persisted implementation both satisfy
// it.
type Cache interface {
	// Remember performs an atomic test-and-insert: the first call for
	// a given fingerprint returns Fresh; every later call returns
	// Replayed while the stored expiry is still in the future. Once the
	// stored expiry has passed, the entry counts as absent even before
	// Purge removes it: the next call returns Fresh and stores the new
	// expiry.
	Remember(fp [FingerprintLen]byte, expiry time.Time) (Verdict, error)
	// Purge removes every entry whose expiry has already passed and
	// returns how many were removed.
	Purge(now time.Time) (removed int, err error)
}

// MemoryCache is an in-process Cache backed by an LRU of bounded
// capacity (spec.md §4.G "Bounded memory": at most the credentials
// that fit within the maximum TTL under the current mint rate — here
// approximated as a fixed entry-count ceiling set by the caller from
// that same budget). A single mutex gives purge exclusive access to
// the whole cache for the scan's duration, matching the spec's
// "a single purge acquires exclusive access to the cache."
type MemoryCache struct {
	mu  sync.Mutex
	lru *lru.Cache[[FingerprintLen]byte, time.Time]
}

// NewMemoryCache builds a MemoryCache holding at most capacity entries.
func NewMemoryCache(capacity int) (*MemoryCache, error) {
	c, err := lru.New[[FingerprintLen]byte, time.Time](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: c}, nil
}

// Remember implements Cache.
func (c *MemoryCache) Remember(fp [FingerprintLen]byte, expiry time.Time) (Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existingExpiry, ok := c.lru.Get(fp); ok {
		if existingExpiry.After(time.Now()) {
			return Replayed, nil
		}
		// Entry expired but purge has not yet run; treat it as absent
		// and refresh the expiry (see Cache.Remember).
	}
	c.lru.Add(fp, expiry)
	return Fresh, nil
}

// Purge implements Cache.
func (c *MemoryCache) Purge(now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		expiry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if expiry.Before(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of fingerprints currently tracked, for tests
// and diagnostics.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
