package payments

import (
	"context"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v84"
)

// StripeProvider backs the gateway adapter with Stripe PaymentIntents. The
// gateway order is the intent; verification retrieves the intent and checks
// it actually succeeded for the expected identifiers, since Stripe confirms
// server-side rather than handing the client a checksum.
type StripeProvider struct {
	client *stripeapi.Client
	mode   string
}

func NewStripeProvider(secretKey, mode string) *StripeProvider {
	return &StripeProvider{
		client: stripeapi.NewClient(secretKey),
		mode:   mode,
	}
}

func (p *StripeProvider) Name() string {
	return "stripe"
}

func (p *StripeProvider) Mode() string {
	return p.mode
}

func (p *StripeProvider) CreateOrder(ctx context.Context, params CreateOrderParams) (*GatewayOrder, error) {
	if ctx == nil {
		return nil, &GatewayError{Provider: p.Name(), Op: "create order", Err: fmt.Errorf("context is required")}
	}

	intentParams := &stripeapi.PaymentIntentCreateParams{
		Amount:   stripeapi.Int64(params.AmountCents),
		Currency: stripeapi.String(strings.ToLower(params.Currency)),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	if params.Receipt != "" {
		intentParams.Metadata = map[string]string{"receipt": params.Receipt}
	}

	intent, err := p.client.V1PaymentIntents.Create(ctx, intentParams)
	if err != nil {
		return nil, &GatewayError{Provider: p.Name(), Op: "create order", Err: err}
	}

	return &GatewayOrder{
		ID:          intent.ID,
		AmountCents: intent.Amount,
		Currency:    string(intent.Currency),
	}, nil
}

func (p *StripeProvider) VerifyPayment(ctx context.Context, params VerifyParams) error {
	if params.GatewayOrderID == "" {
		return fmt.Errorf("%w: missing gateway order id", ErrVerificationFailed)
	}

	intent, err := p.client.V1PaymentIntents.Retrieve(ctx, params.GatewayOrderID, nil)
	if err != nil {
		return &GatewayError{Provider: p.Name(), Op: "verify", Err: err}
	}

	if intent.Status != stripeapi.PaymentIntentStatusSucceeded {
		return fmt.Errorf("%w: payment intent %s is %s", ErrVerificationFailed, intent.ID, intent.Status)
	}
	if params.GatewayPaymentID != "" && intent.LatestCharge != nil && intent.LatestCharge.ID != params.GatewayPaymentID {
		return fmt.Errorf("%w: charge mismatch for intent %s", ErrVerificationFailed, intent.ID)
	}
	return nil
}
