// Package cache provides the read-through cache used by the admin read
// endpoints.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("key not found")

// Entry is a stored cache value. Freshness is derived from StoredAt at read
// time, never persisted.
type Entry struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"storedAt"`
}

// Store is the backing entry store. maxAge bounds how long a backend may
// keep an entry at all (TTL + SWR); the fresh/stale split is computed by the
// cache service on top.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, entry Entry, maxAge time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewStore(cfg Config) (Store, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryStore()
	case "redis":
		return NewRedisStore(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

// Key helpers shared by every endpoint and write path that must invalidate.

func OrderKey(orderID string) string {
	return "order:" + orderID
}

func AdminOrdersKey() string {
	return "admin:orders"
}

func AdminBacklogKey() string {
	return "admin:orders:backlog"
}

func AdminProductsKey() string {
	return "admin:products"
}

func AdminSummaryKey() string {
	return "admin:summary"
}

func AdminConfigKey() string {
	return "admin:config"
}

// OrderWriteKeys lists every key a mutation of the given order document can
// render stale.
func OrderWriteKeys(orderID string) []string {
	return []string{
		OrderKey(orderID),
		AdminOrdersKey(),
		AdminBacklogKey(),
		AdminSummaryKey(),
	}
}
