package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckoutCreateOrder(t *testing.T) {
	t.Parallel()

	var gotBody checkoutOrderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key_id" || pass != "key_secret" {
			t.Errorf("missing or wrong basic auth")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(checkoutOrderResponse{ID: "gw_order_1", Amount: gotBody.Amount, Currency: gotBody.Currency})
	}))
	defer server.Close()

	provider := NewCheckoutProvider(server.URL, "key_id", "key_secret", "live")
	order, err := provider.CreateOrder(context.Background(), CreateOrderParams{
		AmountCents: 101400,
		Currency:    "usd",
		Receipt:     "order_abc",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if order.ID != "gw_order_1" {
		t.Fatalf("gateway order id = %q", order.ID)
	}
	if gotBody.Amount != 101400 || gotBody.Currency != "usd" || gotBody.Receipt != "order_abc" {
		t.Fatalf("request body = %+v", gotBody)
	}
}

func TestCheckoutCreateOrderGatewayFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"amount too small"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	provider := NewCheckoutProvider(server.URL, "key_id", "key_secret", "live")
	_, err := provider.CreateOrder(context.Background(), CreateOrderParams{AmountCents: 1, Currency: "usd"})

	var gatewayErr *GatewayError
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gatewayErr.Provider != "checkout" {
		t.Fatalf("provider = %q", gatewayErr.Provider)
	}
}

func TestCheckoutVerifyPayment(t *testing.T) {
	t.Parallel()

	const secret = "key_secret"
	valid := SignPayment(secret, "gw_order_1", "gw_pay_1")

	tests := []struct {
		name    string
		mode    string
		params  VerifyParams
		wantErr bool
	}{
		{
			name:   "valid signature",
			mode:   "live",
			params: VerifyParams{GatewayOrderID: "gw_order_1", GatewayPaymentID: "gw_pay_1", Signature: valid},
		},
		{
			name:    "tampered signature",
			mode:    "live",
			params:  VerifyParams{GatewayOrderID: "gw_order_1", GatewayPaymentID: "gw_pay_1", Signature: valid + "00"},
			wantErr: true,
		},
		{
			name:    "signature for different payment",
			mode:    "live",
			params:  VerifyParams{GatewayOrderID: "gw_order_1", GatewayPaymentID: "gw_pay_2", Signature: valid},
			wantErr: true,
		},
		{
			name:    "missing signature",
			mode:    "live",
			params:  VerifyParams{GatewayOrderID: "gw_order_1", GatewayPaymentID: "gw_pay_1"},
			wantErr: true,
		},
		{
			name:   "test mode skips signature",
			mode:   "test",
			params: VerifyParams{GatewayOrderID: "gw_order_1", GatewayPaymentID: "gw_pay_1"},
		},
		{
			name:    "test mode still needs identifiers",
			mode:    "test",
			params:  VerifyParams{GatewayOrderID: "gw_order_1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider := NewCheckoutProvider("http://unused", "key_id", secret, tt.mode)
			err := provider.VerifyPayment(context.Background(), tt.params)

			if tt.wantErr {
				if !errors.Is(err, ErrVerificationFailed) {
					t.Fatalf("expected ErrVerificationFailed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyPayment: %v", err)
			}
		})
	}
}
