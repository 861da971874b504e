// Package cache implements the frequency-gated cache shared by the scan
// pipeline and the plain text search path. Entries are only persisted once a
// key has been requested a threshold number of times, which keeps one-off
// queries from polluting the store. All operations are safe to call when the
// backing store is unreachable; the cache then degrades to a no-op.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// ErrMiss is returned by a Store when a key is not present.
var ErrMiss = errors.New("cache: miss")

const (
	// DefaultThreshold is the access count a key must reach before a
	// write is persisted.
	DefaultThreshold = 3

	// DefaultTTL expires both values and frequency counters.
	DefaultTTL = 24 * time.Hour

	// disableWindow is how long the cache stays bypassed after repeated
	// store failures.
	disableWindow = 60 * time.Second

	// failureLimit is the consecutive failure count that trips the
	// breaker.
	failureLimit = 3

	freqPrefix = "freq:"
)

// Store is the key-value backend contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Incr atomically increments a counter and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a key's time-to-live.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Get returns a value, or ErrMiss when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes a value with a time-to-live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache is the frequency-gated read/write layer. A nil *Cache is valid and
// behaves as a permanent miss.
type Cache struct {
	store     Store
	threshold int64
	ttl       time.Duration

	mu            sync.Mutex
	failures      int
	disabledUntil time.Time
}

// Option configures a Cache.
type Option func(*Cache)

func WithThreshold(n int64) Option {
	return func(c *Cache) { c.threshold = n }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// New builds a cache over the given store. A nil store yields a cache that
// always misses.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:     store,
		threshold: DefaultThreshold,
		ttl:       DefaultTTL,
	}
	if v := os.Getenv("CACHE_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.threshold = n
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read increments the key's access counter and returns the cached value if
// present. The returned frequency is what Write expects back; it is 1 when
// the store is unavailable so that gating still behaves sensibly.
func (c *Cache) Read(ctx context.Context, key string) ([]byte, int64) {
	if c == nil || c.store == nil || c.disabled() {
		return nil, 1
	}

	freq, err := c.store.Incr(ctx, freqPrefix+key)
	if err != nil {
		c.recordFailure(err)
		return nil, 1
	}
	if freq == 1 {
		// First sighting: bound the counter's lifetime.
		if err := c.store.Expire(ctx, freqPrefix+key, c.ttl); err != nil {
			c.recordFailure(err)
			return nil, freq
		}
	}

	value, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.recordFailure(err)
		}
		return nil, freq
	}

	c.recordSuccess()
	return value, freq
}

// Write persists value only once the key's access frequency has reached the
// threshold. Failures are logged and swallowed; callers never see them.
func (c *Cache) Write(ctx context.Context, key string, value []byte, freq int64) {
	if c == nil || c.store == nil || c.disabled() {
		return
	}
	if freq < c.threshold {
		return
	}

	if err := c.store.Set(ctx, key, value, c.ttl); err != nil {
		c.recordFailure(err)
		return
	}
	c.recordSuccess()
}

func (c *Cache) disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.disabledUntil)
}

func (c *Cache) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	if c.failures >= failureLimit {
		c.disabledUntil = time.Now().Add(disableWindow)
		c.failures = 0
		slog.Warn("cache store failing, bypassing cache for cool-down window",
			"window", disableWindow, "err", err)
		return
	}
	slog.Debug("cache store error", "err", err)
}

func (c *Cache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
}
