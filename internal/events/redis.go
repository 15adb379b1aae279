package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomshop/loomshop/internal/logging"
)

const redisChannel = "orders:status"

// RedisBus broadcasts status changes over a Redis pub/sub channel so every
// instance behind the load balancer sees transitions committed by its peers.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(connectionString string) (*RedisBus, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBus{client: client}, nil
}

func (b *RedisBus) Publish(ctx context.Context, event StatusChanged) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode status event: %w", err)
	}
	return b.client.Publish(ctx, redisChannel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan StatusChanged, error) {
	sub := b.client.Subscribe(ctx, redisChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close() //nolint
		return nil, fmt.Errorf("failed to subscribe to %s: %w", redisChannel, err)
	}

	out := make(chan StatusChanged, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		logger := logging.FromContext(ctx, nil)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var event StatusChanged
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Warn("dropping malformed status event", "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
