package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/loomshop/loomshop/internal/cache"
	"github.com/loomshop/loomshop/internal/db"
	"github.com/loomshop/loomshop/internal/events"
	"github.com/loomshop/loomshop/internal/logging"
	"github.com/loomshop/loomshop/internal/models"
	"github.com/loomshop/loomshop/internal/observability"
)

var ErrInvalidStatus = UserError{Message: "unknown order status"}

type adminOrderStore interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Order, error)
	ListNotificationBacklog(ctx context.Context, limit int) ([]*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) (models.OrderStatus, error)
}

type productLister interface {
	List(ctx context.Context, limit int) ([]*models.Product, error)
}

type settingsStore interface {
	Get(ctx context.Context) (*db.AdminSettings, error)
	Put(ctx context.Context, settings *db.AdminSettings) error
}

// AdminService backs the back-office endpoints: order review, fulfilment
// status changes, revenue summary and stored configuration.
type AdminService struct {
	orders   adminOrderStore
	products productLister
	settings settingsStore
	bus      events.Bus
	notifier orderNotifier
	cache    *cache.Cache
	logger   *slog.Logger
}

func NewAdminService(
	orders *db.OrderStore,
	products *db.ProductStore,
	settings *db.SettingsStore,
	bus events.Bus,
	notifier orderNotifier,
	cacheSvc *cache.Cache,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		orders:   orders,
		products: products,
		settings: settings,
		bus:      bus,
		notifier: notifier,
		cache:    cacheSvc,
		logger:   logger,
	}
}

func (s *AdminService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func (s *AdminService) ListOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	return s.orders.ListRecent(ctx, limit)
}

func (s *AdminService) ListBacklog(ctx context.Context, limit int) ([]*models.Order, error) {
	return s.orders.ListNotificationBacklog(ctx, limit)
}

func (s *AdminService) ListProducts(ctx context.Context, limit int) ([]*models.Product, error) {
	return s.products.List(ctx, limit)
}

// UpdateStatus moves an order forward through fulfilment and kicks off the
// matching customer notification. Backward moves are rejected by the store.
func (s *AdminService) UpdateStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.admin.update_status",
		sentry.WithOpName("service.admin"),
		sentry.WithDescription("UpdateStatus"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	if !to.Valid() {
		return nil, ErrInvalidStatus
	}

	from, err := s.orders.UpdateStatus(ctx, orderID, to)
	if err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) || errors.Is(err, db.ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	meter.Count("order.status.updated", 1)
	logger.Info("order status updated", "order_id", orderID, "from", from, "to", to)

	if s.cache != nil {
		s.cache.Del(ctx, cache.OrderWriteKeys(orderID.String())...)
	}
	if s.bus != nil {
		event := events.StatusChanged{OrderID: orderID, From: from, To: to}
		if err := s.bus.Publish(ctx, event); err != nil {
			logger.Warn("failed to publish status event", "order_id", orderID, "error", err)
		}
	}
	if s.notifier != nil {
		if kind := models.NotificationKind(to); kind != "" {
			if err := s.notifier.Notify(ctx, orderID, kind); err != nil {
				logger.Warn("notification attempt failed", "order_id", orderID, "kind", kind, "error", err)
			}
		}
	}

	return s.orders.GetByID(ctx, orderID)
}

// Summary is the revenue and volume overview for the admin dashboard. Test
// mode traffic is counted separately and excluded from revenue.
type Summary struct {
	TotalOrders   int                        `json:"totalOrders"`
	ByStatus      map[models.OrderStatus]int `json:"byStatus"`
	RevenueCents  int64                      `json:"revenueCents"`
	Currency      string                     `json:"currency"`
	TestOrders    int                        `json:"testOrders"`
	PendingEmails int                        `json:"pendingEmails"`
}

const summaryScanLimit = 1000

func (s *AdminService) Summarize(ctx context.Context) (*Summary, error) {
	orders, err := s.orders.ListRecent(ctx, summaryScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for summary: %w", err)
	}

	summary := &Summary{ByStatus: make(map[models.OrderStatus]int)}
	for _, order := range orders {
		summary.TotalOrders++
		summary.ByStatus[order.Status]++

		if summary.Currency == "" {
			summary.Currency = order.Amounts.Currency
		}

		if order.IsTestPayment() {
			summary.TestOrders++
			continue
		}
		if order.Status.Rank() >= models.StatusPaid.Rank() {
			summary.RevenueCents += order.Amounts.TotalCents
		}
	}

	backlog, err := s.orders.ListNotificationBacklog(ctx, summaryScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backlog for summary: %w", err)
	}
	summary.PendingEmails = len(backlog)

	return summary, nil
}

func (s *AdminService) GetSettings(ctx context.Context) (*db.AdminSettings, error) {
	return s.settings.Get(ctx)
}

func (s *AdminService) PutSettings(ctx context.Context, settings *db.AdminSettings) error {
	if err := s.settings.Put(ctx, settings); err != nil {
		return fmt.Errorf("failed to store admin settings: %w", err)
	}
	if s.cache != nil {
		s.cache.Del(ctx, cache.AdminConfigKey())
	}
	return nil
}
