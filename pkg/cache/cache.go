// Package cache provides a concurrency-safe in-memory TTL cache with an
// injectable clock, lazy expiry, threshold sweeps and capacity eviction.
package cache

import (
	"sync"
	"time"
)

// Cache is a generic TTL cache. The zero value is not usable; call New.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	data    map[K]entry[V]
	clock   Clock
	ttl     time.Duration
	sweepAt int
	max     int
}

type entry[V any] struct {
	v       V
	created time.Time
	exp     time.Time // zero means no expiration
}

type options struct {
	clock   Clock
	ttl     time.Duration
	sweepAt int
	max     int
}

// Option configures a Cache.
type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTTL sets the default entry lifetime used by Put. ttl<=0 means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithSweepThreshold makes Put purge expired entries whenever the cache holds more than n entries.
func WithSweepThreshold(n int) Option {
	return func(o *options) { o.sweepAt = n }
}

// WithMaxEntries bounds the cache; the oldest entries are evicted first.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.max = n }
}

// New creates an empty cache.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	o := options{clock: SystemClock}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = SystemClock
	}
	return &Cache[K, V]{
		data:    make(map[K]entry[V]),
		clock:   o.clock,
		ttl:     o.ttl,
		sweepAt: o.sweepAt,
		max:     o.max,
	}
}

// Get returns the value for key. Expired entries are removed on access.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	now := c.clock.Now()
	c.mu.RLock()
	ent, ok := c.data[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if ent.expired(now) {
		c.mu.Lock()
		// re-check, a concurrent Put may have refreshed it
		if cur, ok := c.data[key]; ok && cur.expired(now) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return ent.v, true
}

// Put stores value under key with the default TTL.
func (c *Cache[K, V]) Put(key K, value V) {
	c.PutTTL(key, value, c.ttl)
}

// PutTTL stores value under key with an explicit TTL. ttl<=0 means no expiration.
func (c *Cache[K, V]) PutTTL(key K, value V, ttl time.Duration) {
	now := c.clock.Now()
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = entry[V]{v: value, created: now, exp: exp}
	if c.sweepAt > 0 && len(c.data) > c.sweepAt {
		c.evictExpiredLocked(now)
	}
	if c.max > 0 {
		for len(c.data) > c.max {
			c.evictOldestLocked()
		}
	}
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// EvictExpired removes every expired entry and returns how many were removed.
func (c *Cache[K, V]) EvictExpired() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictExpiredLocked(now)
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *Cache[K, V]) evictExpiredLocked(now time.Time) int {
	n := 0
	for k, e := range c.data {
		if e.expired(now) {
			delete(c.data, k)
			n++
		}
	}
	return n
}

func (c *Cache[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for k, e := range c.data {
		if !found || e.created.Before(oldest) {
			oldestKey, oldest, found = k, e.created, true
		}
	}
	if found {
		delete(c.data, oldestKey)
	}
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.exp.IsZero() && now.After(e.exp)
}
