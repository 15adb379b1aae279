package models

import (
	"testing"
	"time"
)

func TestNotificationKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   string
	}{
		{StatusCreated, ""},
		{StatusPaid, "created"},
		{StatusProcessing, "status:processing"},
		{StatusShipped, "status:shipped"},
		{StatusDelivered, "status:delivered"},
	}

	for _, tt := range tests {
		if got := NotificationKind(tt.status); got != tt.want {
			t.Errorf("NotificationKind(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusRank(t *testing.T) {
	t.Parallel()

	if StatusPaid.Rank() <= StatusCreated.Rank() {
		t.Fatalf("paid must rank after created")
	}
	if StatusDelivered.Rank() <= StatusShipped.Rank() {
		t.Fatalf("delivered must rank after shipped")
	}
	if OrderStatus("refunded").Rank() != -1 {
		t.Fatalf("unknown status must rank -1")
	}
}

func TestLedgerEntryDone(t *testing.T) {
	t.Parallel()

	now := time.Now()
	success := &EmailResult{SentAt: now, MessageID: "msg_1"}
	failed := &EmailResult{SentAt: now, Error: "provider down"}
	skipped := &EmailResult{SentAt: now, Skipped: true}

	tests := []struct {
		name  string
		entry *LedgerEntry
		want  bool
	}{
		{"nil entry", nil, false},
		{"both success", &LedgerEntry{Customer: success, Admin: success}, true},
		{"customer skipped counts as settled", &LedgerEntry{Customer: skipped, Admin: success}, true},
		{"customer failed keeps entry open", &LedgerEntry{Customer: failed, Admin: success}, false},
		{"missing admin keeps entry open", &LedgerEntry{Customer: success}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.entry.Done(); got != tt.want {
				t.Fatalf("Done() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProductUnitPricePrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		product Product
		want    int64
	}{
		{"explicit price wins", Product{PriceCents: 99900, PresalePriceCents: 79900, MRPCents: 119900}, 99900},
		{"presale before discounted", Product{PresalePriceCents: 79900, DiscountedPriceCents: 89900}, 79900},
		{"discounted before mrp", Product{DiscountedPriceCents: 89900, MRPCents: 119900}, 89900},
		{"mrp as last resort", Product{MRPCents: 119900}, 119900},
		{"nothing set", Product{}, 0},
		{"zero price falls through", Product{PriceCents: 0, MRPCents: 5000}, 5000},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.product.UnitPriceCents(); got != tt.want {
				t.Fatalf("UnitPriceCents() = %d, want %d", got, tt.want)
			}
		})
	}
}
