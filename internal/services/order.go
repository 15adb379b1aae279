package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/loomshop/loomshop/internal/cache"
	"github.com/loomshop/loomshop/internal/catalog"
	"github.com/loomshop/loomshop/internal/db"
	"github.com/loomshop/loomshop/internal/events"
	"github.com/loomshop/loomshop/internal/logging"
	"github.com/loomshop/loomshop/internal/models"
	"github.com/loomshop/loomshop/internal/observability"
	"github.com/loomshop/loomshop/internal/payments"
)

// UserError marks a failure caused by the request itself. Handlers map it
// to a 4xx instead of a 500.
type UserError struct {
	Message string
}

func (e UserError) Error() string {
	return e.Message
}

var (
	ErrEmptyCart          = UserError{Message: "cart is empty"}
	ErrZeroTotal          = UserError{Message: "order total must be positive"}
	ErrPaymentNotVerified = errors.New("payment verification failed")
)

type orderStore interface {
	CreateDraft(ctx context.Context, order *models.Order) error
	SetGatewayOrder(ctx context.Context, orderID uuid.UUID, provider, mode, gatewayOrderID string) error
	VerifyAndMarkPaid(ctx context.Context, params db.VerifyParams) (*db.VerifyResult, error)
	GetForOwner(ctx context.Context, orderID uuid.UUID, uid, emailLower string) (*models.Order, error)
	ListNotificationBacklog(ctx context.Context, limit int) ([]*models.Order, error)
}

type itemResolver interface {
	Resolve(ctx context.Context, lines []catalog.CheckoutLine) ([]models.OrderItem, error)
}

type orderNotifier interface {
	Notify(ctx context.Context, orderID uuid.UUID, kind string) error
}

// settingsReader exposes the stored admin configuration that overrides the
// static config at request time.
type settingsReader interface {
	Get(ctx context.Context) (*db.AdminSettings, error)
}

// OrderService owns the checkout and payment-verification flows.
type OrderService struct {
	orders   orderStore
	resolver itemResolver
	gateway  payments.Provider
	bus      events.Bus
	notifier orderNotifier
	cache    *cache.Cache
	settings settingsReader

	shippingFlatRateCents int64
	currency              string
	logger                *slog.Logger
}

func NewOrderService(
	orders *db.OrderStore,
	resolver *catalog.Resolver,
	gateway payments.Provider,
	bus events.Bus,
	notifier orderNotifier,
	cacheSvc *cache.Cache,
	settings *db.SettingsStore,
	shippingFlatRateCents int64,
	currency string,
	logger *slog.Logger,
) *OrderService {
	svc := &OrderService{
		orders:                orders,
		resolver:              resolver,
		gateway:               gateway,
		bus:                   bus,
		notifier:              notifier,
		cache:                 cacheSvc,
		shippingFlatRateCents: shippingFlatRateCents,
		currency:              currency,
		logger:                logger,
	}
	if settings != nil {
		svc.settings = settings
	}
	return svc
}

// shippingFlatRate returns the stored flat-rate override when one is
// configured, otherwise the static rate from the environment.
func (s *OrderService) shippingFlatRate(ctx context.Context) int64 {
	if s.settings == nil {
		return s.shippingFlatRateCents
	}
	stored, err := s.settings.Get(ctx)
	if err != nil {
		s.loggerFromContext(ctx).Warn("admin settings unavailable, using configured flat rate", "error", err)
		return s.shippingFlatRateCents
	}
	if stored.ShippingFlatRateCents != nil && *stored.ShippingFlatRateCents >= 0 {
		return *stored.ShippingFlatRateCents
	}
	return s.shippingFlatRateCents
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type CheckoutInput struct {
	Customer        models.Customer
	ShippingAddress string
	Items           []catalog.CheckoutLine
	ShippingCents   int64
	OwnerUID        string
	OwnerEmail      string
}

type CheckoutResult struct {
	Order          *models.Order
	GatewayOrderID string
	Provider       string
	Mode           string
}

// Checkout resolves the cart against the catalog, persists a draft order
// and registers it with the payment gateway. Client prices are ignored; the
// catalog is the only price source.
func (s *OrderService) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.checkout",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Checkout"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("order.checkout.received", 1)
	recordFailure := func(reason string) {
		meter.Count("order.checkout.failed", 1, observability.WithReason(reason))
	}

	if len(input.Items) == 0 {
		recordFailure("empty_cart")
		return nil, ErrEmptyCart
	}

	items, err := s.resolver.Resolve(ctx, input.Items)
	if err != nil {
		var notFound *catalog.ProductNotFoundError
		if errors.As(err, &notFound) {
			recordFailure("unknown_product")
			return nil, UserError{Message: notFound.Error()}
		}
		recordFailure("resolve_failed")
		return nil, fmt.Errorf("failed to resolve cart: %w", err)
	}

	shipping := catalog.ClampShipping(input.ShippingCents, s.shippingFlatRate(ctx))
	amounts := catalog.ComputeAmounts(items, shipping, s.currency)
	if amounts.TotalCents <= 0 {
		recordFailure("zero_total")
		return nil, ErrZeroTotal
	}

	order := &models.Order{
		Status:          models.StatusCreated,
		Customer:        input.Customer,
		ShippingAddress: input.ShippingAddress,
		Items:           items,
		Amounts:         amounts,
		OwnerUID:        input.OwnerUID,
		OwnerEmailLower: strings.ToLower(input.OwnerEmail),
	}
	if err := s.orders.CreateDraft(ctx, order); err != nil {
		recordFailure("store_failed")
		return nil, fmt.Errorf("failed to create draft order: %w", err)
	}

	gatewayOrder, err := s.gateway.CreateOrder(ctx, payments.CreateOrderParams{
		AmountCents: amounts.TotalCents,
		Currency:    amounts.Currency,
		Receipt:     order.ID.String(),
	})
	if err != nil {
		recordFailure("gateway_failed")
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}

	if err := s.orders.SetGatewayOrder(ctx, order.ID, s.gateway.Name(), s.gateway.Mode(), gatewayOrder.ID); err != nil {
		recordFailure("store_failed")
		return nil, fmt.Errorf("failed to attach gateway order: %w", err)
	}

	logger.Info("draft order created",
		"order_id", order.ID,
		"gateway_order_id", gatewayOrder.ID,
		"total_cents", amounts.TotalCents,
		"mode", s.gateway.Mode(),
	)

	return &CheckoutResult{
		Order:          order,
		GatewayOrderID: gatewayOrder.ID,
		Provider:       s.gateway.Name(),
		Mode:           s.gateway.Mode(),
	}, nil
}

type VerifyInput struct {
	OrderID          uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Verify checks the gateway proof, then applies the paid transition exactly
// once. Replays of an already-paid order succeed without side effects.
func (s *OrderService) Verify(ctx context.Context, input VerifyInput) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.verify",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Verify"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("order.verify.received", 1)

	err := s.gateway.VerifyPayment(ctx, payments.VerifyParams{
		GatewayOrderID:   input.GatewayOrderID,
		GatewayPaymentID: input.GatewayPaymentID,
		Signature:        input.Signature,
	})
	if err != nil {
		if errors.Is(err, payments.ErrVerificationFailed) {
			meter.Count("order.verify.rejected", 1)
			logger.Warn("payment verification rejected",
				"order_id", input.OrderID, "gateway_order_id", input.GatewayOrderID)
			return nil, ErrPaymentNotVerified
		}
		meter.Count("order.verify.failed", 1, observability.WithReason("gateway_error"))
		return nil, fmt.Errorf("gateway verification: %w", err)
	}

	result, err := s.orders.VerifyAndMarkPaid(ctx, db.VerifyParams{
		OrderID:          input.OrderID,
		Provider:         s.gateway.Name(),
		Mode:             s.gateway.Mode(),
		GatewayOrderID:   input.GatewayOrderID,
		GatewayPaymentID: input.GatewayPaymentID,
		GatewaySignature: input.Signature,
		CreateIfMissing:  true,
	})
	if err != nil {
		meter.Count("order.verify.failed", 1, observability.WithReason("store_failed"))
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}

	if !result.Transitioned {
		meter.Count("order.verify.replayed", 1)
		logger.Info("verify replay, no transition", "order_id", input.OrderID)
		if !result.AlreadyNotified && s.notifier != nil {
			// An earlier call marked the order paid but its confirmation
			// never settled. The replay picks the send back up.
			if err := s.notifier.Notify(ctx, result.Order.ID, models.KindCreated); err != nil {
				logger.Warn("notification attempt failed",
					"order_id", result.Order.ID, "kind", models.KindCreated, "error", err)
			}
		}
		return result.Order, nil
	}

	meter.Count("order.verify.paid", 1)
	logger.Info("order marked paid", "order_id", input.OrderID, "from", result.From)

	s.afterTransition(ctx, result.Order, result.From, models.StatusPaid, !result.AlreadyNotified)

	return result.Order, nil
}

// GetForOwner returns an order only when the caller owns it, matched by uid
// or by the email the order was placed with.
func (s *OrderService) GetForOwner(ctx context.Context, orderID uuid.UUID, uid, email string) (*models.Order, error) {
	return s.orders.GetForOwner(ctx, orderID, uid, strings.ToLower(email))
}

// SweepBacklog retries order-confirmation sends that never settled, e.g.
// after a provider outage. Run it periodically.
func (s *OrderService) SweepBacklog(ctx context.Context, limit int) (int, error) {
	logger := s.loggerFromContext(ctx)

	orders, err := s.orders.ListNotificationBacklog(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list notification backlog: %w", err)
	}

	retried := 0
	for _, order := range orders {
		if err := s.notifier.Notify(ctx, order.ID, models.KindCreated); err != nil {
			logger.Warn("backlog notify failed", "order_id", order.ID, "error", err)
			continue
		}
		retried++
	}

	if retried > 0 {
		logger.Info("notification backlog swept", "retried", retried)
	}
	return retried, nil
}

// afterTransition runs the post-commit side effects of a status change:
// cache invalidation, the status event, and the synchronous first notify
// attempt. None of them can fail the already-committed transition.
func (s *OrderService) afterTransition(ctx context.Context, order *models.Order, from, to models.OrderStatus, notify bool) {
	logger := s.loggerFromContext(ctx)

	if s.cache != nil {
		s.cache.Del(ctx, cache.OrderWriteKeys(order.ID.String())...)
	}

	if s.bus != nil {
		event := events.StatusChanged{OrderID: order.ID, From: from, To: to}
		if err := s.bus.Publish(ctx, event); err != nil {
			logger.Warn("failed to publish status event", "order_id", order.ID, "error", err)
		}
	}

	if notify && s.notifier != nil {
		kind := models.NotificationKind(to)
		if kind == "" {
			return
		}
		if err := s.notifier.Notify(ctx, order.ID, kind); err != nil {
			logger.Warn("notification attempt failed", "order_id", order.ID, "kind", kind, "error", err)
		}
	}
}
