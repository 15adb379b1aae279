package events

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// MemoryBus fans events out to in-process subscribers. An event is dropped
// for a subscriber whose buffer is full rather than stalling Publish.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[chan StatusChanged]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[chan StatusChanged]struct{})}
}

func (b *MemoryBus) Publish(_ context.Context, event StatusChanged) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan StatusChanged, error) {
	ch := make(chan StatusChanged, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}
