package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Status reports how a Remember call was served.
type Status string

const (
	StatusHit   Status = "HIT"
	StatusStale Status = "STALE"
	StatusMiss  Status = "MISS"
)

// Loader produces the value for a key on a miss or a background refresh.
type Loader func(ctx context.Context) ([]byte, error)

// Peeked is the non-mutating view of a key's derived state.
type Peeked struct {
	Has   bool
	Fresh bool
	Stale bool
}

const defaultRefreshTimeout = 30 * time.Second

// Cache is the read-through cache service. Values within the TTL window are
// served directly; values inside the SWR window are served stale while a
// single background refresh runs; anything older blocks on the loader.
type Cache struct {
	store          Store
	logger         *slog.Logger
	loads          singleflight.Group
	refreshes      singleflight.Group
	refreshTimeout time.Duration
	now            func() time.Time
}

func New(store Store, logger *slog.Logger) *Cache {
	return &Cache{
		store:          store,
		logger:         logger,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
	}
}

// Remember returns the cached value for key, loading it when missing or
// expired. A stale value is returned immediately and refreshed once in the
// background; a refresh failure keeps the stale value servable.
func (c *Cache) Remember(ctx context.Context, key string, ttl, swr time.Duration, loader Loader) ([]byte, Status, error) {
	entry, err := c.store.Get(ctx, key)
	if err == nil {
		age := c.now().Sub(entry.StoredAt)
		if age < ttl {
			return entry.Value, StatusHit, nil
		}
		if age < ttl+swr {
			c.refreshInBackground(key, ttl, swr, loader)
			return entry.Value, StatusStale, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		c.logger.Warn("cache read failed, falling through to loader", "key", key, "error", err)
	}

	value, loadErr, _ := c.loads.Do(key, func() (any, error) {
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key, Entry{Value: loaded, StoredAt: c.now()}, ttl+swr); err != nil {
			c.logger.Warn("failed to store cache entry", "key", key, "error", err)
		}
		return loaded, nil
	})
	if loadErr != nil {
		return nil, StatusMiss, loadErr
	}
	return value.([]byte), StatusMiss, nil
}

// Peek reports the derived state of a key without touching entry state or
// triggering loads.
func (c *Cache) Peek(ctx context.Context, key string, ttl, swr time.Duration) Peeked {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		return Peeked{}
	}

	age := c.now().Sub(entry.StoredAt)
	switch {
	case age < ttl:
		return Peeked{Has: true, Fresh: true}
	case age < ttl+swr:
		return Peeked{Has: true, Stale: true}
	default:
		return Peeked{Has: true}
	}
}

// Del invalidates the given keys. Every write path that mutates an
// underlying document must call this with the document key and any list keys
// that could include it.
func (c *Cache) Del(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to invalidate cache key", "key", key, "error", err)
		}
	}
}

func (c *Cache) Close() error {
	return c.store.Close()
}

// refreshInBackground kicks off at most one concurrent loader run per key.
// Readers who got the stale value never see a refresh error.
func (c *Cache) refreshInBackground(key string, ttl, swr time.Duration, loader Loader) {
	go func() {
		_, _, _ = c.refreshes.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
			defer cancel()

			value, err := loader(ctx)
			if err != nil {
				// The stale entry stays servable until it fully expires.
				c.logger.Warn("background cache refresh failed", "key", key, "error", err)
				return nil, err
			}
			if err := c.store.Set(ctx, key, Entry{Value: value, StoredAt: c.now()}, ttl+swr); err != nil {
				c.logger.Warn("failed to store refreshed cache entry", "key", key, "error", err)
			}
			return nil, nil
		})
	}()
}
