// Package cache provides TTL caching for upstream pricing lookups.
//
// A Store holds raw entries; Cache layers expiry, JSON encoding and
// duplicate-fetch suppression on top. Expiry is always judged by the Cache's
// clock, so a Store never decides whether an entry is fresh.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/codyseavey/card-pricing/internal/metrics"
)

// Entry is one cached value together with when it was fetched
type Entry struct {
	Key       string        `json:"key"`
	Value     []byte        `json:"value"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry's age has reached its TTL
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.FetchedAt) >= e.TTL
}

// Store is a key/value backend for entries
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
	Name() string
}

// Cache wraps a Store with a clock and a logger
type Cache struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
	group  singleflight.Group
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides time.Now, used by tests to step past a TTL
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a Cache on top of store
func New(store Store, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invalidate drops a key
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// lookup returns the cached bytes for key, or false when missing or expired
func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("store", c.store.Name()), zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if entry.Expired(c.now()) {
		c.Invalidate(ctx, key)
		return nil, false
	}
	return entry.Value, true
}

func (c *Cache) put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	entry := Entry{Key: key, Value: value, FetchedAt: c.now(), TTL: ttl}
	if err := c.store.Set(ctx, entry); err != nil {
		c.logger.Warn("cache write failed", zap.String("store", c.store.Name()), zap.String("key", key), zap.Error(err))
	}
}

// GetOrFetch returns the cached value for key, calling fetch on a miss and
// caching its result for ttl. Errors from fetch are returned and not cached.
// Concurrent misses for the same key share one fetch; a caller whose shared
// fetch was cancelled by another caller's context fetches once more with its
// own.
func GetOrFetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	if raw, ok := c.lookup(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			metrics.CacheHitsTotal.WithLabelValues(c.store.Name()).Inc()
			return v, nil
		}
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	}
	metrics.CacheMissesTotal.WithLabelValues(c.store.Name()).Inc()

	for attempt := 0; ; attempt++ {
		res, err, shared := c.group.Do(key, func() (any, error) {
			v, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			raw, err := json.Marshal(v)
			if err != nil {
				// Still usable, just not cacheable
				c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
				return v, nil
			}
			c.put(ctx, key, raw, ttl)
			return v, nil
		})
		if err == nil {
			v, _ := res.(T)
			return v, nil
		}
		if attempt == 0 && shared && isContextErr(err) && ctx.Err() == nil {
			continue
		}
		return zero, err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
