// Package events carries order status changes from the write path to the
// notification mirror.
package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loomshop/loomshop/internal/models"
)

// StatusChanged is published after an order status transition commits.
type StatusChanged struct {
	OrderID uuid.UUID          `json:"orderId"`
	From    models.OrderStatus `json:"from"`
	To      models.OrderStatus `json:"to"`
}

// Bus is a fire-and-forget broadcast channel for status changes. Publish
// must not block the write path on slow subscribers.
type Bus interface {
	Publish(ctx context.Context, event StatusChanged) error
	Subscribe(ctx context.Context) (<-chan StatusChanged, error)
	Close() error
}

type Config struct {
	Provider string // "memory" or "redis"
	RedisURL string
}

func NewBus(cfg Config) (Bus, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryBus(), nil
	case "redis":
		return NewRedisBus(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown event bus provider: %s", cfg.Provider)
	}
}
