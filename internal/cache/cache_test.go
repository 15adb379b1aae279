package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testTTL = 60 * time.Second
	testSWR = 300 * time.Second
)

func newTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()

	store, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	c := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func waitForLoaderCalls(t *testing.T, calls *atomic.Int64, want int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("loader calls = %d, want %d", calls.Load(), want)
}

func TestRememberFreshStaleExpired(t *testing.T) {
	t.Parallel()

	c, now := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int64
	loader := func(context.Context) ([]byte, error) {
		n := calls.Add(1)
		return []byte(fmt.Sprintf("v%d", n)), nil
	}

	// t=0: miss, blocking load.
	value, status, err := c.Remember(ctx, "k", testTTL, testSWR, loader)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if status != StatusMiss || string(value) != "v1" {
		t.Fatalf("got (%q, %s), want (v1, MISS)", value, status)
	}

	// t=30s: fresh hit, no loader call.
	*now = now.Add(30 * time.Second)
	value, status, err = c.Remember(ctx, "k", testTTL, testSWR, loader)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if status != StatusHit || string(value) != "v1" {
		t.Fatalf("got (%q, %s), want (v1, HIT)", value, status)
	}
	if calls.Load() != 1 {
		t.Fatalf("loader called %d times during fresh window", calls.Load())
	}

	// t=120s: stale, old value served immediately, one background refresh.
	*now = now.Add(90 * time.Second)
	value, status, err = c.Remember(ctx, "k", testTTL, testSWR, loader)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if status != StatusStale || string(value) != "v1" {
		t.Fatalf("got (%q, %s), want (v1, STALE)", value, status)
	}
	waitForLoaderCalls(t, &calls, 2)

	// After the refresh the entry is fresh again.
	value, status, err = c.Remember(ctx, "k", testTTL, testSWR, loader)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if status != StatusHit || string(value) != "v2" {
		t.Fatalf("got (%q, %s), want (v2, HIT)", value, status)
	}

	// t >= TTL+SWR past the refresh: fully expired, blocking load.
	*now = now.Add(testTTL + testSWR + time.Second)
	value, status, err = c.Remember(ctx, "k", testTTL, testSWR, loader)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if status != StatusMiss || string(value) != "v3" {
		t.Fatalf("got (%q, %s), want (v3, MISS)", value, status)
	}
}

func TestRememberSingleFlightOnMiss(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int64
	release := make(chan struct{})
	loader := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	const readers = 8
	var wg sync.WaitGroup
	results := make([]string, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, _, err := c.Remember(ctx, "k", testTTL, testSWR, loader)
			if err != nil {
				t.Errorf("Remember: %v", err)
				return
			}
			results[i] = string(value)
		}(i)
	}

	waitForLoaderCalls(t, &calls, 1)
	// Give every reader time to join the in-flight load before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("loader called %d times, want 1", calls.Load())
	}
	for i, got := range results {
		if got != "v" {
			t.Fatalf("reader %d got %q, want v", i, got)
		}
	}
}

func TestStaleSurvivesFailedRefresh(t *testing.T) {
	t.Parallel()

	c, now := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int64
	loader := func(context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			return []byte("v1"), nil
		}
		return nil, errors.New("backend down")
	}

	if _, _, err := c.Remember(ctx, "k", testTTL, testSWR, loader); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	*now = now.Add(testTTL + time.Second)
	value, status, err := c.Remember(ctx, "k", testTTL, testSWR, loader)
	if err != nil {
		t.Fatalf("stale read must not surface refresh error: %v", err)
	}
	if status != StatusStale || string(value) != "v1" {
		t.Fatalf("got (%q, %s), want (v1, STALE)", value, status)
	}
	waitForLoaderCalls(t, &calls, 2)

	// The failed refresh must not evict the still-valid stale value.
	value, status, err = c.Remember(ctx, "k", testTTL, testSWR, loader)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if string(value) != "v1" || status != StatusStale {
		t.Fatalf("got (%q, %s), want (v1, STALE)", value, status)
	}
}

func TestPeekDoesNotLoad(t *testing.T) {
	t.Parallel()

	c, now := newTestCache(t)
	ctx := context.Background()

	if p := c.Peek(ctx, "k", testTTL, testSWR); p.Has {
		t.Fatalf("Peek on empty cache reported a value")
	}

	loader := func(context.Context) ([]byte, error) { return []byte("v"), nil }
	if _, _, err := c.Remember(ctx, "k", testTTL, testSWR, loader); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	if p := c.Peek(ctx, "k", testTTL, testSWR); !p.Has || !p.Fresh || p.Stale {
		t.Fatalf("Peek fresh = %+v", p)
	}

	*now = now.Add(testTTL + time.Second)
	if p := c.Peek(ctx, "k", testTTL, testSWR); !p.Has || p.Fresh || !p.Stale {
		t.Fatalf("Peek stale = %+v", p)
	}
}

func TestDelInvalidates(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int64
	loader := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("v"), nil
	}

	if _, _, err := c.Remember(ctx, "k", testTTL, testSWR, loader); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	c.Del(ctx, "k")

	_, status, err := c.Remember(ctx, "k", testTTL, testSWR, loader)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if status != StatusMiss || calls.Load() != 2 {
		t.Fatalf("after Del: status=%s calls=%d, want MISS and 2", status, calls.Load())
	}
}
