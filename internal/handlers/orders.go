package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/loomshop/loomshop/internal/catalog"
	"github.com/loomshop/loomshop/internal/db"
	"github.com/loomshop/loomshop/internal/models"
	"github.com/loomshop/loomshop/internal/services"
)

type checkoutItemRequest struct {
	ID        string `json:"id"`
	Slug      string `json:"slug,omitempty"`
	Title     string `json:"title,omitempty"`
	Size      string `json:"size,omitempty"`
	Qty       int    `json:"qty" validate:"min=0"`
	UnitPrice int64  `json:"unitPrice,omitempty"` // client hint, never trusted
	Image     string `json:"image,omitempty"`
}

type checkoutRequest struct {
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email" validate:"omitempty,email"`
	} `json:"customer"`
	ShippingAddress string                `json:"shippingAddress,omitempty"`
	Items           []checkoutItemRequest `json:"items"`
	ClientTotals    *struct {
		Shipping int64  `json:"shipping"`
		Currency string `json:"currency,omitempty"`
	} `json:"clientTotals,omitempty"`
}

type computedTotals struct {
	Subtotal int64  `json:"subtotal"`
	Shipping int64  `json:"shipping"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type checkoutResponse struct {
	OrderID        string         `json:"orderId"`
	GatewayOrderID string         `json:"gatewayOrderId"`
	Provider       string         `json:"provider"`
	Mode           string         `json:"mode"`
	Computed       computedTotals `json:"computed"`
}

// CreateOrder handles POST /orders: price the cart server-side, persist a
// draft and open a gateway order for the client to pay against.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := services.CheckoutInput{
		Customer: models.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
		},
		ShippingAddress: req.ShippingAddress,
		OwnerEmail:      req.Customer.Email,
	}
	if identity := IdentityFromContext(ctx); identity != nil {
		input.OwnerUID = identity.UID
		if input.OwnerEmail == "" {
			input.OwnerEmail = identity.Email
		}
	}
	if req.ClientTotals != nil {
		input.ShippingCents = req.ClientTotals.Shipping
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, catalog.CheckoutLine{
			ID:             item.ID,
			Slug:           item.Slug,
			Title:          item.Title,
			Size:           item.Size,
			Qty:            item.Qty,
			UnitPriceCents: item.UnitPrice,
			Image:          item.Image,
		})
	}

	result, err := h.orderService.Checkout(ctx, input)
	if err != nil {
		var userErr services.UserError
		if errors.As(err, &userErr) {
			writeError(w, http.StatusBadRequest, userErr.Message)
			return
		}
		logger.Error("checkout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	amounts := result.Order.Amounts
	writeJSON(w, http.StatusOK, checkoutResponse{
		OrderID:        result.Order.ID.String(),
		GatewayOrderID: result.GatewayOrderID,
		Provider:       result.Provider,
		Mode:           result.Mode,
		Computed: computedTotals{
			Subtotal: amounts.SubtotalCents,
			Shipping: amounts.ShippingCents,
			Total:    amounts.TotalCents,
			Currency: amounts.Currency,
		},
	})
}

type verifyRequest struct {
	OrderID          string `json:"orderId,omitempty" validate:"omitempty,uuid"`
	GatewayOrderID   string `json:"gatewayOrderId" validate:"required"`
	GatewayPaymentID string `json:"gatewayPaymentId" validate:"required"`
	GatewaySignature string `json:"gatewaySignature,omitempty"`
}

type verifyResponse struct {
	Success  bool   `json:"success"`
	Verified bool   `json:"verified"`
	OrderID  string `json:"orderId"`
}

// VerifyOrder handles POST /orders/verify. The endpoint is idempotent:
// repeat calls with the same identifiers return the same success response.
func (h *Handlers) VerifyOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := services.VerifyInput{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.GatewaySignature,
	}
	if req.OrderID != "" {
		orderID, err := uuid.Parse(req.OrderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid order id")
			return
		}
		input.OrderID = orderID
	} else {
		// No storefront order id supplied. Key the record off the
		// gateway order so the payment is never lost.
		input.OrderID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.GatewayOrderID))
	}

	order, err := h.orderService.Verify(ctx, input)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentNotVerified):
			writeError(w, http.StatusBadRequest, "payment verification failed")
		case errors.Is(err, db.ErrTxRetriesExhausted):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "verification busy, retry")
		default:
			logger.Error("verify failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to verify payment")
		}
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success:  true,
		Verified: true,
		OrderID:  order.ID.String(),
	})
}

// GetOrder handles GET /orders/{id}. Only the order's owner may read it.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity := IdentityFromContext(ctx)
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.orderService.GetForOwner(ctx, orderID, identity.UID, identity.Email)
	if err != nil {
		if errors.Is(err, db.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.loggerFromContext(ctx).Error("order lookup failed", "error", err, "order_id", orderID)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	writeJSON(w, http.StatusOK, order)
}
