package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loomshop/loomshop/internal/cache"
	"github.com/loomshop/loomshop/internal/config"
)

func testCachedHandlers(t *testing.T) *Handlers {
	t.Helper()

	store, err := cache.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Handlers{
		config: &config.Config{
			CacheTTL: time.Minute,
			CacheSWR: 5 * time.Minute,
		},
		cache:  cache.New(store, logger),
		logger: logger,
	}
}

// A listing request with a non-default limit must never read from or write
// to the route's cached payload, whose size is fixed by the default limit.
func TestServeListBypassesCacheForCustomLimit(t *testing.T) {
	t.Parallel()

	h := testCachedHandlers(t)
	loads := 0
	load := func(limit int) func(ctx context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			loads++
			return map[string]int{"limit": limit}, nil
		}
	}

	get := func(limit int) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		h.serveList(w, r, limit, cache.AdminOrdersKey(), load(limit))
		return w
	}

	// Default limit populates the cache.
	if w := get(defaultAdminListLimit); w.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("X-Cache = %q, want MISS", w.Header().Get("X-Cache"))
	}

	// A custom limit bypasses it and returns its own payload.
	w := get(5)
	if got := w.Header().Get("X-Cache"); got != "BYPASS" {
		t.Fatalf("X-Cache = %q, want BYPASS", got)
	}
	var body map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["limit"] != 5 {
		t.Errorf("limit in payload = %d, want 5", body["limit"])
	}
	if loads != 2 {
		t.Fatalf("loader ran %d times, want 2", loads)
	}

	// The custom limit must not have disturbed the cached default payload.
	w = get(defaultAdminListLimit)
	if got := w.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("X-Cache = %q, want HIT", got)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode cached body: %v", err)
	}
	if body["limit"] != defaultAdminListLimit {
		t.Errorf("cached payload limit = %d, want %d", body["limit"], defaultAdminListLimit)
	}
	if loads != 2 {
		t.Errorf("loader ran %d times after cache hit, want 2", loads)
	}
}
