// Package daycache caches JSON values under keys scoped to the current
// local calendar day. A date change is the only invalidation: reads on
// a new day miss, and the next write prunes every older key for the
// same prefix.
package daycache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/laopeng-portal/internal/localstore"
)

// Cache is a day-scoped cache over a [localstore.Storage]. Every error
// is logged and absorbed; callers only ever observe a miss.
type Cache struct {
	storage localstore.Storage
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used to compute today's key.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache over storage.
func New(storage localstore.Storage, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		storage: storage,
		logger:  logger.With("component", "daycache"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key returns the storage key for prefix on t's local calendar date,
// formatted prefix_YYYY-M-D without zero padding.
func Key(prefix string, t time.Time) string {
	t = t.Local()
	return fmt.Sprintf("%s_%d-%d-%d", prefix, t.Year(), int(t.Month()), t.Day())
}

func (c *Cache) todayKey(prefix string) string {
	return Key(prefix, c.now())
}

// Read returns today's cached value for prefix. Absence, a storage
// failure, or a decode failure all report ok=false.
func Read[T any](c *Cache, prefix string) (T, bool) {
	var zero T
	key := c.todayKey(prefix)

	raw, ok, err := c.storage.Get(key)
	if err != nil {
		c.logger.Debug("cache read failed", "key", key, "error", err)
		return zero, false
	}
	if !ok || raw == "" {
		return zero, false
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		c.logger.Debug("cache entry undecodable", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// Write prunes every other key sharing prefix+"_" and stores data under
// today's key. Failures (quota, encoding, storage) are logged and the
// write is abandoned.
func (c *Cache) Write(prefix string, data any) {
	key := c.todayKey(prefix)

	keys, err := c.storage.Keys()
	if err != nil {
		c.logger.Warn("cache prune skipped", "prefix", prefix, "error", err)
	}
	for _, k := range keys {
		if k != key && strings.HasPrefix(k, prefix+"_") {
			if err := c.storage.Remove(k); err != nil {
				c.logger.Warn("cache prune failed", "key", k, "error", err)
				continue
			}
			c.logger.Debug("pruned stale cache entry", "key", k)
		}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("cache value unencodable", "key", key, "error", err)
		return
	}
	if err := c.storage.Set(key, string(raw)); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
		return
	}
	c.logger.Debug("cache written", "key", key, "bytes", len(raw))
}
