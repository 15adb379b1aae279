package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type MemoryStore struct {
	cache *lru.Cache[string, memoryItem]
}

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

const defaultMemoryCacheSize = 10_000

func NewMemoryStore() (*MemoryStore, error) {
	c, err := lru.New[string, memoryItem](defaultMemoryCacheSize)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: c}, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	_ = ctx
	cached, exists := m.cache.Get(key)
	if !exists {
		return Entry{}, ErrNotFound
	}

	if time.Now().After(cached.expiresAt) {
		m.cache.Remove(key)
		return Entry{}, ErrNotFound
	}

	return cached.entry, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, entry Entry, maxAge time.Duration) error {
	_ = ctx
	m.cache.Add(key, memoryItem{
		entry:     entry,
		expiresAt: time.Now().Add(maxAge),
	})
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.cache.Remove(key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
