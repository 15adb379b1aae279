package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/loomshop/loomshop/internal/cache"
	"github.com/loomshop/loomshop/internal/db"
	"github.com/loomshop/loomshop/internal/models"
	"github.com/loomshop/loomshop/internal/services"
)

const defaultAdminListLimit = 100

// serveCached runs an admin read through the read-through cache and stamps
// the response with the cache outcome.
func (h *Handlers) serveCached(w http.ResponseWriter, r *http.Request, key string, load func(ctx context.Context) (any, error)) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	payload, status, err := h.cache.Remember(ctx, key, h.config.CacheTTL, h.config.CacheSWR, func(ctx context.Context) ([]byte, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		logger.Error("admin read failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load data")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d, stale-while-revalidate=%d",
		int(h.config.CacheTTL.Seconds()), int(h.config.CacheSWR.Seconds())))
	w.Header().Set("X-Cache", string(status))
	_, _ = w.Write(payload)
}

// serveDirect answers an admin read without touching the cache. Requests
// with a non-default limit take this path: the cached payloads are keyed
// per route, so a differently sized response must never land under or be
// served from those keys.
func (h *Handlers) serveDirect(w http.ResponseWriter, r *http.Request, load func(ctx context.Context) (any, error)) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	value, err := load(ctx)
	if err != nil {
		logger.Error("admin read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load data")
		return
	}

	w.Header().Set("X-Cache", "BYPASS")
	writeJSON(w, http.StatusOK, value)
}

// serveList routes a limited admin listing through the cache only for the
// default limit, which is the only size the cached payload holds.
func (h *Handlers) serveList(w http.ResponseWriter, r *http.Request, limit int, key string, load func(ctx context.Context) (any, error)) {
	if limit != defaultAdminListLimit {
		h.serveDirect(w, r, load)
		return
	}
	h.serveCached(w, r, key, load)
}

// AdminListOrders handles GET /admin/orders. With ?backlog=1 it returns
// only orders whose confirmation email never settled.
func (h *Handlers) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	limit := listLimit(r)

	if r.URL.Query().Get("backlog") == "1" {
		h.serveList(w, r, limit, cache.AdminBacklogKey(), func(ctx context.Context) (any, error) {
			return h.adminService.ListBacklog(ctx, limit)
		})
		return
	}

	h.serveList(w, r, limit, cache.AdminOrdersKey(), func(ctx context.Context) (any, error) {
		return h.adminService.ListOrders(ctx, limit)
	})
}

// AdminListProducts handles GET /admin/products.
func (h *Handlers) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	limit := listLimit(r)
	h.serveList(w, r, limit, cache.AdminProductsKey(), func(ctx context.Context) (any, error) {
		return h.adminService.ListProducts(ctx, limit)
	})
}

// AdminSummary handles GET /admin/summary.
func (h *Handlers) AdminSummary(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, cache.AdminSummaryKey(), func(ctx context.Context) (any, error) {
		return h.adminService.Summarize(ctx)
	})
}

type statusUpdateRequest struct {
	Status string `json:"status" validate:"required"`
}

// AdminUpdateOrderStatus handles POST /admin/orders/{id}/status.
func (h *Handlers) AdminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req statusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.adminService.UpdateStatus(ctx, orderID, models.OrderStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, db.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, db.ErrInvalidStatusTransition):
			writeError(w, http.StatusConflict, "status cannot move backward")
		default:
			var userErr services.UserError
			if errors.As(err, &userErr) {
				writeError(w, http.StatusBadRequest, userErr.Message)
				return
			}
			logger.Error("status update failed", "error", err, "order_id", orderID)
			writeError(w, http.StatusInternalServerError, "failed to update status")
		}
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// AdminGetConfig handles GET /admin/config.
func (h *Handlers) AdminGetConfig(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, cache.AdminConfigKey(), func(ctx context.Context) (any, error) {
		return h.adminService.GetSettings(ctx)
	})
}

// AdminPutConfig handles PUT /admin/config.
func (h *Handlers) AdminPutConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	var settings db.AdminSettings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.adminService.PutSettings(ctx, &settings); err != nil {
		logger.Error("failed to store settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultAdminListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return defaultAdminListLimit
	}
	return limit
}
