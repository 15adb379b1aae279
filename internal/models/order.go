package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusCreated    OrderStatus = "created"
	StatusPaid       OrderStatus = "paid"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
)

// statusRanks orders the lifecycle. Transitions must move forward.
var statusRanks = map[OrderStatus]int{
	StatusCreated:    0,
	StatusPaid:       1,
	StatusProcessing: 2,
	StatusShipped:    3,
	StatusDelivered:  4,
}

// Rank returns the position of the status in the lifecycle, or -1 for an
// unknown status.
func (s OrderStatus) Rank() int {
	if rank, ok := statusRanks[s]; ok {
		return rank
	}
	return -1
}

func (s OrderStatus) Valid() bool {
	return s.Rank() >= 0
}

// KindCreated is the notification kind for the order confirmation pair sent
// when payment lands. Later transitions notify under "status:<value>".
const KindCreated = "created"

// NotificationKind maps a status to its notification kind. The created →
// paid transition carries the order confirmation; the draft state itself is
// not notifiable.
func NotificationKind(status OrderStatus) string {
	switch status {
	case StatusCreated:
		return ""
	case StatusPaid:
		return KindCreated
	default:
		return "status:" + string(status)
	}
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type OrderItem struct {
	ProductRef     string `json:"productRef"`
	Title          string `json:"title"`
	Size           string `json:"size,omitempty"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unitPrice"`
	Image          string `json:"image,omitempty"`
}

type Amounts struct {
	SubtotalCents int64  `json:"subtotal"`
	ShippingCents int64  `json:"shipping"`
	TotalCents    int64  `json:"total"`
	Currency      string `json:"currency"`
}

const (
	PaymentModeLive = "live"
	PaymentModeTest = "test"
)

type Payment struct {
	Provider         string     `json:"provider,omitempty"`
	Status           string     `json:"status,omitempty"`
	GatewayOrderID   string     `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string     `json:"gatewayPaymentId,omitempty"`
	GatewaySignature string     `json:"gatewaySignature,omitempty"`
	VerifiedAt       *time.Time `json:"verifiedAt,omitempty"`
	Mode             string     `json:"mode,omitempty"`
}

// EmailResult records one send attempt outcome for a single recipient type.
// A result with a message ID, or one marked skipped, counts as settled.
type EmailResult struct {
	SentAt    time.Time `json:"sentAt"`
	MessageID string    `json:"messageId,omitempty"`
	Error     string    `json:"error,omitempty"`
	Skipped   bool      `json:"skipped,omitempty"`
}

// Settled reports whether this recipient half needs no further attempts.
func (r *EmailResult) Settled() bool {
	if r == nil {
		return false
	}
	return r.Skipped || (r.Error == "" && r.MessageID != "")
}

// LedgerEntry is the per-kind idempotency record for notification sends.
type LedgerEntry struct {
	SentAt   time.Time    `json:"sentAt"`
	Customer *EmailResult `json:"customer,omitempty"`
	Admin    *EmailResult `json:"admin,omitempty"`
}

// Done reports whether both recipient halves have a settled outcome, which
// makes any further notify call for this kind a no-op.
func (e *LedgerEntry) Done() bool {
	if e == nil {
		return false
	}
	return e.Customer.Settled() && e.Admin.Settled()
}

// EmailLedger maps notification kinds ("created", "status:shipped", ...) to
// their send records.
type EmailLedger map[string]*LedgerEntry

func (l EmailLedger) Entry(kind string) *LedgerEntry {
	if l == nil {
		return nil
	}
	return l[kind]
}

// Order is one purchase attempt, stored as a single document. Amounts are
// authoritative and computed server-side; client-submitted prices never
// reach this struct.
type Order struct {
	ID              uuid.UUID   `json:"id"`
	Status          OrderStatus `json:"status"`
	Customer        Customer    `json:"customer"`
	ShippingAddress string      `json:"shippingAddress,omitempty"`
	Items           []OrderItem `json:"items"`
	Amounts         Amounts     `json:"amounts"`
	Payment         Payment     `json:"payment"`
	OwnerUID        string      `json:"ownerUid,omitempty"`
	OwnerEmailLower string      `json:"ownerEmailLower,omitempty"`
	Email           EmailLedger `json:"email,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// IsTestPayment reports whether this order came from test/mock gateway
// traffic and should be excluded from revenue reporting.
func (o *Order) IsTestPayment() bool {
	return o != nil && o.Payment.Mode == PaymentModeTest
}
