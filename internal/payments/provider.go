// Package payments wraps the external payment gateway: minting remote
// gateway orders and verifying payment confirmations.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// ErrVerificationFailed means the payment confirmation tuple did not check
// out. It must never result in an order marked paid.
var ErrVerificationFailed = errors.New("payment verification failed")

// GatewayError wraps provider-side failures with detail for operator
// diagnosis. The draft order is left untouched when one occurs.
type GatewayError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// GatewayOrder is the provider's own order object, distinct from the
// internal order record.
type GatewayOrder struct {
	ID          string
	AmountCents int64
	Currency    string
}

type CreateOrderParams struct {
	// AmountCents is the authoritative total computed server-side. The
	// gateway response is never consulted for the amount.
	AmountCents int64
	Currency    string
	Receipt     string
}

type VerifyParams struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Provider is the gateway adapter contract. Mode distinguishes live from
// test traffic so reporting can exclude the latter.
type Provider interface {
	Name() string
	Mode() string
	CreateOrder(ctx context.Context, params CreateOrderParams) (*GatewayOrder, error)
	VerifyPayment(ctx context.Context, params VerifyParams) error
}

type Config struct {
	Provider string
	Mode     string

	CheckoutBaseURL   string
	CheckoutKeyID     string
	CheckoutKeySecret string

	StripeSecretKey string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "checkout":
		return NewCheckoutProvider(cfg.CheckoutBaseURL, cfg.CheckoutKeyID, cfg.CheckoutKeySecret, cfg.Mode), nil
	case "stripe":
		return NewStripeProvider(cfg.StripeSecretKey, cfg.Mode), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", cfg.Provider)
	}
}
