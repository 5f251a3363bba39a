package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// entry is a single cached value with its expiry.
type entry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

// Stats is a point-in-time view of a cache's counters.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Sets    uint64
	Size    int
	HitRate float64 // percent, rounded to one decimal; 0 when no lookups yet
}

// MarshalJSON renders the hit rate as "NN.N%".
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Hits    uint64 `json:"hits"`
		Misses  uint64 `json:"misses"`
		Sets    uint64 `json:"sets"`
		Size    int    `json:"size"`
		HitRate string `json:"hit_rate"`
	}{s.Hits, s.Misses, s.Sets, s.Size, fmt.Sprintf("%.1f%%", s.HitRate)})
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// TTL is a keyed store whose entries expire independently.
// Callers must treat returned values as immutable.
type TTL[V any] struct {
	defaultTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[V]
	hits    uint64
	misses  uint64
	sets    uint64
}

// New creates a cache whose entries live for defaultTTL unless Set with an explicit TTL.
func New[V any](defaultTTL time.Duration, opts ...Option) *TTL[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[V]{
		defaultTTL: defaultTTL,
		now:        o.now,
		entries:    make(map[string]*entry[V]),
	}
}

// DefaultTTL returns the TTL applied by Set.
func (c *TTL[V]) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Get returns the live value for key. An expired entry is evicted and counted as a miss.
func (c *TTL[V]) Get(key string) (V, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		var zero V
		return zero, false
	}

	c.hits++
	return e.value, true
}

// Set stores value under key with the default TTL, replacing any existing entry.
func (c *TTL[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value with an explicit TTL. A non-positive ttl means the default TTL.
func (c *TTL[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()

	c.mu.Lock()
	c.entries[key] = &entry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
	c.sets++
	c.mu.Unlock()
}

// Delete removes key. Returns true if it was present.
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// DeleteFunc removes every entry for which match returns true, expired or not,
// and returns how many were removed. match runs with the cache locked.
func (c *TTL[V]) DeleteFunc(match func(key string, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if match(key, e.value) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes every entry and returns how many were removed.
func (c *TTL[V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*entry[V])
	return n
}

// SweepExpired removes all entries whose TTL has elapsed and returns how many were removed.
func (c *TTL[V]) SweepExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// GetOrCompute returns the cached value for key, or calls factory and caches its result.
// A factory error is treated as absence: nothing is stored and the error is returned.
//
// Concurrent callers racing on the same missing key each invoke factory; the last
// write wins. The lock is never held while factory runs.
func (c *TTL[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, factory func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := factory(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	c.SetWithTTL(key, v, ttl)
	return v, nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the current counters.
func (c *TTL[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:   c.hits,
		Misses: c.misses,
		Sets:   c.sets,
		Size:   len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = math.Round(float64(c.hits)/float64(total)*1000) / 10
	}
	return s
}
