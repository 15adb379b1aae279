package email

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loomshop/loomshop/internal/models"
)

func testOrder(t *testing.T) *models.Order {
	t.Helper()

	id, err := uuid.Parse("a1b2c3d4-0000-4000-8000-000000000000")
	if err != nil {
		t.Fatalf("parse uuid: %v", err)
	}

	return &models.Order{
		ID: id,
		Customer: models.Customer{
			Name:  "Priya Raman",
			Email: "priya@example.com",
		},
		Status: models.StatusPaid,
		Items: []models.OrderItem{
			{Title: "Handwoven Throw", Size: "L", Qty: 2, UnitPriceCents: 4500},
			{Title: "Coaster Set", Qty: 1, UnitPriceCents: 1200},
		},
		Amounts: models.Amounts{
			SubtotalCents: 10200,
			ShippingCents: 1500,
			TotalCents:    11700,
			Currency:      "USD",
		},
		Payment:   models.Payment{Mode: models.PaymentModeLive},
		CreatedAt: time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestCustomerEmailConfirmation(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("Loomshop", "https://loomshop.example")
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	msg, err := r.CustomerEmail(models.KindCreated, testOrder(t))
	if err != nil {
		t.Fatalf("CustomerEmail: %v", err)
	}

	if msg.To != "priya@example.com" {
		t.Errorf("To = %q, want customer email", msg.To)
	}
	if !strings.Contains(msg.Subject, "Order Confirmed") || !strings.Contains(msg.Subject, "A1B2C3D4") {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"Handwoven Throw", "x2", "$90.00", "$117.00", "March 14, 2026"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text body missing %q", want)
		}
	}
	if !strings.Contains(msg.HTML, "Handwoven Throw") {
		t.Errorf("HTML body missing item title")
	}
}

func TestCustomerEmailStatusUpdate(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("Loomshop", "https://loomshop.example")
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	order := testOrder(t)
	order.Status = models.StatusShipped

	msg, err := r.CustomerEmail("status:shipped", order)
	if err != nil {
		t.Fatalf("CustomerEmail: %v", err)
	}

	if !strings.Contains(msg.Subject, "Shipped") {
		t.Errorf("subject %q should mention Shipped", msg.Subject)
	}
	if !strings.Contains(msg.Text, "Shipped") {
		t.Errorf("text body should mention the status label")
	}
}

func TestCustomerEmailUnknownKind(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("Loomshop", "https://loomshop.example")
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	if _, err := r.CustomerEmail("bogus", testOrder(t)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestAdminEmailTestModeFlag(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("Loomshop", "https://loomshop.example")
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	order := testOrder(t)
	order.Payment.Mode = models.PaymentModeTest

	msg, err := r.AdminEmail(models.KindCreated, order, "ops@loomshop.example")
	if err != nil {
		t.Fatalf("AdminEmail: %v", err)
	}

	if !strings.HasPrefix(msg.Subject, "[TEST]") {
		t.Errorf("subject %q should carry the test prefix", msg.Subject)
	}
	if msg.To != "ops@loomshop.example" {
		t.Errorf("To = %q", msg.To)
	}
}

func TestFormatCents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cents    int64
		currency string
		want     string
	}{
		{11700, "USD", "$117.00"},
		{5, "USD", "$0.05"},
		{-2500, "EUR", "-€25.00"},
		{999, "INR", "₹9.99"},
		{1200, "SEK", "SEK 12.00"},
	}

	for _, tt := range tests {
		if got := FormatCents(tt.cents, tt.currency); got != tt.want {
			t.Errorf("FormatCents(%d, %q) = %q, want %q", tt.cents, tt.currency, got, tt.want)
		}
	}
}

func TestShortOrderID(t *testing.T) {
	t.Parallel()

	if got := ShortOrderID("a1b2c3d4-0000-4000-8000-000000000000"); got != "A1B2C3D4" {
		t.Errorf("ShortOrderID = %q", got)
	}
	if got := ShortOrderID("deadbeefcafe"); got != "DEADBEEF" {
		t.Errorf("ShortOrderID = %q", got)
	}
}
