// Package app assembles the application from config: stores, cache, bus,
// payment and email providers, services and handlers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/loomshop/loomshop/internal/cache"
	"github.com/loomshop/loomshop/internal/catalog"
	"github.com/loomshop/loomshop/internal/config"
	"github.com/loomshop/loomshop/internal/crypto"
	"github.com/loomshop/loomshop/internal/db"
	"github.com/loomshop/loomshop/internal/email"
	"github.com/loomshop/loomshop/internal/events"
	"github.com/loomshop/loomshop/internal/handlers"
	"github.com/loomshop/loomshop/internal/notify"
	"github.com/loomshop/loomshop/internal/payments"
	"github.com/loomshop/loomshop/internal/services"
)

const shopName = "Loomshop"
const shopURL = "https://loomshop.app"

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *pgxpool.Pool
	Cache    *cache.Cache
	Bus      events.Bus
	Mirror   *events.Mirror
	Handlers *handlers.Handlers

	orderService *services.OrderService
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cacheStore, err := cache.NewStore(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}
	cacheSvc := cache.New(cacheStore, logger.With("component", "cache"))

	bus, err := events.NewBus(events.Config{
		Provider: cfg.EventBusProvider,
		RedisURL: cfg.RedisConnectionString,
	})
	if err != nil {
		closeCache(logger, cacheSvc)
		database.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		closeBus(logger, bus)
		closeCache(logger, cacheSvc)
		database.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	orderStore := db.NewOrderStore(database)
	productStore := db.NewProductStore(database)
	settingsStore, err := db.NewSettingsStore(database, encryptor)
	if err != nil {
		closeBus(logger, bus)
		closeCache(logger, cacheSvc)
		database.Close()
		return nil, fmt.Errorf("failed to initialize settings store: %w", err)
	}

	gateway, err := payments.NewProvider(payments.Config{
		Provider:          cfg.PaymentProvider,
		Mode:              cfg.PaymentMode,
		CheckoutBaseURL:   cfg.CheckoutGatewayBaseURL,
		CheckoutKeyID:     cfg.CheckoutKeyID,
		CheckoutKeySecret: cfg.CheckoutKeySecret,
		StripeSecretKey:   cfg.StripeSecretKey,
	})
	if err != nil {
		closeBus(logger, bus)
		closeCache(logger, cacheSvc)
		database.Close()
		return nil, fmt.Errorf("failed to initialize payment provider: %w", err)
	}

	emailCfg := email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
		Domain:   cfg.EmailDomain,
	}
	emailProvider, err := email.NewProvider(emailCfg)
	if err != nil {
		closeBus(logger, bus)
		closeCache(logger, cacheSvc)
		database.Close()
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}

	renderer, err := email.NewRenderer(shopName, shopURL)
	if err != nil {
		closeBus(logger, bus)
		closeCache(logger, cacheSvc)
		database.Close()
		return nil, fmt.Errorf("failed to initialize email templates: %w", err)
	}

	dispatcher := notify.NewDispatcher(orderStore, settingsStore, emailProvider, emailCfg, renderer, cfg.AdminEmail)
	resolver := catalog.NewResolver(productStore)

	orderService := services.NewOrderService(
		orderStore,
		resolver,
		gateway,
		bus,
		dispatcher,
		cacheSvc,
		settingsStore,
		cfg.ShippingFlatRateCents,
		strings.ToUpper(cfg.Currency),
		logger.With("component", "order_service"),
	)
	adminService := services.NewAdminService(
		orderStore,
		productStore,
		settingsStore,
		bus,
		dispatcher,
		cacheSvc,
		logger.With("component", "admin_service"),
	)

	h, err := handlers.New(handlers.Dependencies{
		Config:       cfg,
		DB:           database,
		Cache:        cacheSvc,
		OrderService: orderService,
		AdminService: adminService,
		Logger:       logger,
	})
	if err != nil {
		closeBus(logger, bus)
		closeCache(logger, cacheSvc)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		DB:           database,
		Cache:        cacheSvc,
		Bus:          bus,
		Mirror:       events.NewMirror(bus, dispatcher),
		Handlers:     h,
		orderService: orderService,
	}, nil
}

// RunBackground starts the long-lived workers: the status-change mirror and
// the periodic notification backlog sweep. It returns immediately.
func (a *App) RunBackground(ctx context.Context) {
	go func() {
		if err := a.Mirror.Run(ctx); err != nil && ctx.Err() == nil {
			a.Logger.Error("status mirror stopped", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.orderService.SweepBacklog(ctx, 100); err != nil {
					a.Logger.Warn("backlog sweep failed", "error", err)
				}
			}
		}
	}()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Bus != nil {
		closeBus(a.Logger, a.Bus)
	}
	if a.Cache != nil {
		closeCache(a.Logger, a.Cache)
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	case "text", "":
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level: cfg.LogLevel,
		}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel}))
}

func closeCache(logger *slog.Logger, c *cache.Cache) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache", "error", err)
	}
}

func closeBus(logger *slog.Logger, bus events.Bus) {
	if bus == nil {
		return
	}
	if err := bus.Close(); err != nil && logger != nil {
		logger.Warn("failed to close event bus", "error", err)
	}
}
