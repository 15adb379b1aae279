package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	CacheProvider         string        `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	EventBusProvider      string        `env:"EVENT_BUS_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string        `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=EventBusProvider redis"`
	CacheTTL              time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	CacheSWR              time.Duration `env:"CACHE_SWR" envDefault:"300s"`

	Currency               string `env:"CURRENCY" envDefault:"usd" validate:"required,len=3"`
	ShippingFlatRateCents  int64  `env:"SHIPPING_FLAT_RATE_CENTS" envDefault:"1500" validate:"min=0"`
	PaymentProvider        string `env:"PAYMENT_PROVIDER" envDefault:"checkout" validate:"oneof=checkout stripe"`
	PaymentMode            string `env:"PAYMENT_MODE" envDefault:"live" validate:"oneof=live test"`
	CheckoutGatewayBaseURL string `env:"CHECKOUT_GATEWAY_BASE_URL" envDefault:"https://api.checkout-gateway.com" validate:"omitempty,url"`
	CheckoutKeyID          string `env:"CHECKOUT_KEY_ID"`
	CheckoutKeySecret      string `env:"CHECKOUT_KEY_SECRET"`
	StripeSecretKey        string `env:"STRIPE_SECRET_KEY"`

	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"resend" validate:"oneof=resend postmark mailgun"`
	EmailAPIKey   string `env:"EMAIL_API_KEY"`
	EmailFrom     string `env:"EMAIL_FROM" envDefault:"orders@loomshop.app"`
	EmailDomain   string `env:"EMAIL_DOMAIN"`
	AdminEmail    string `env:"ADMIN_EMAIL" validate:"omitempty,email"`

	AuthJWTSecret string   `env:"AUTH_JWT_SECRET,required" validate:"required"`
	AdminEmails   []string `env:"ADMIN_EMAILS" envSeparator:","`

	EncryptionKey string `env:"ENCRYPTION_KEY,required" validate:"required,len=32"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	switch c.PaymentProvider {
	case "checkout":
		if strings.TrimSpace(c.CheckoutKeyID) == "" || strings.TrimSpace(c.CheckoutKeySecret) == "" {
			return fmt.Errorf("CHECKOUT_KEY_ID and CHECKOUT_KEY_SECRET are required for the checkout payment provider")
		}
	case "stripe":
		if strings.TrimSpace(c.StripeSecretKey) == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe payment provider")
		}
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.CacheSWR < 0 {
		return fmt.Errorf("CACHE_SWR must not be negative")
	}

	return nil
}

// IsAdminEmail reports whether the given identity email is on the admin
// allowlist. Matching is case-insensitive.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, admin := range c.AdminEmails {
		if strings.ToLower(strings.TrimSpace(admin)) == email {
			return true
		}
	}
	return false
}
