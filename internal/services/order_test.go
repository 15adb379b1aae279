package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/loomshop/loomshop/internal/catalog"
	"github.com/loomshop/loomshop/internal/db"
	"github.com/loomshop/loomshop/internal/events"
	"github.com/loomshop/loomshop/internal/models"
	"github.com/loomshop/loomshop/internal/payments"
)

type fakeOrderStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*models.Order
	gateway map[uuid.UUID]string

	verifyResult *db.VerifyResult
	verifyErr    error
	verifyCalls  []db.VerifyParams
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:  make(map[uuid.UUID]*models.Order),
		gateway: make(map[uuid.UUID]string),
	}
}

func (f *fakeOrderStore) CreateDraft(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = uuid.New()
	order.Status = models.StatusCreated
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderStore) SetGatewayOrder(_ context.Context, orderID uuid.UUID, _, _, gatewayOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[orderID]; !ok {
		return db.ErrOrderNotFound
	}
	f.gateway[orderID] = gatewayOrderID
	return nil
}

func (f *fakeOrderStore) VerifyAndMarkPaid(_ context.Context, params db.VerifyParams) (*db.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls = append(f.verifyCalls, params)
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyResult, nil
}

func (f *fakeOrderStore) GetForOwner(_ context.Context, orderID uuid.UUID, uid, emailLower string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	if order.OwnerUID != uid && order.OwnerEmailLower != emailLower {
		return nil, db.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrderStore) ListNotificationBacklog(_ context.Context, _ int) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for _, order := range f.orders {
		entry := order.Email.Entry(models.KindCreated)
		if order.Status != models.StatusCreated && (entry == nil || !entry.Customer.Settled()) {
			out = append(out, order)
		}
	}
	return out, nil
}

type fakeResolver struct {
	items []models.OrderItem
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _ []catalog.CheckoutLine) ([]models.OrderItem, error) {
	return f.items, f.err
}

type fakeGateway struct {
	mode      string
	created   []payments.CreateOrderParams
	verifyErr error
}

func (f *fakeGateway) Name() string { return "checkout" }
func (f *fakeGateway) Mode() string {
	if f.mode == "" {
		return models.PaymentModeLive
	}
	return f.mode
}

func (f *fakeGateway) CreateOrder(_ context.Context, params payments.CreateOrderParams) (*payments.GatewayOrder, error) {
	f.created = append(f.created, params)
	return &payments.GatewayOrder{ID: "gw_123", AmountCents: params.AmountCents, Currency: params.Currency}, nil
}

func (f *fakeGateway) VerifyPayment(_ context.Context, _ payments.VerifyParams) error {
	return f.verifyErr
}

type notifyCall struct {
	orderID uuid.UUID
	kind    string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, orderID uuid.UUID, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{orderID: orderID, kind: kind})
	return f.err
}

func newTestOrderService(store *fakeOrderStore, resolver *fakeResolver, gw *fakeGateway, notifier *fakeNotifier) *OrderService {
	return &OrderService{
		orders:                store,
		resolver:              resolver,
		gateway:               gw,
		bus:                   events.NewMemoryBus(),
		notifier:              notifier,
		shippingFlatRateCents: 1500,
		currency:              "USD",
	}
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	resolved := []models.OrderItem{
		{ProductRef: "throw", Title: "Handwoven Throw", Qty: 2, UnitPriceCents: 4500},
	}

	store := newFakeOrderStore()
	gw := &fakeGateway{}
	svc := newTestOrderService(store, &fakeResolver{items: resolved}, gw, &fakeNotifier{})

	result, err := svc.Checkout(context.Background(), CheckoutInput{
		Customer:      models.Customer{Name: "Sam", Email: "Sam@Example.com"},
		Items:         []catalog.CheckoutLine{{ID: "throw", Qty: 2}},
		ShippingCents: 1500,
		OwnerEmail:    "Sam@Example.com",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if result.GatewayOrderID != "gw_123" {
		t.Errorf("GatewayOrderID = %q", result.GatewayOrderID)
	}
	if got := result.Order.Amounts.TotalCents; got != 10500 {
		t.Errorf("TotalCents = %d, want 10500", got)
	}
	if result.Order.OwnerEmailLower != "sam@example.com" {
		t.Errorf("OwnerEmailLower = %q, want lowercased", result.Order.OwnerEmailLower)
	}
	if len(gw.created) != 1 || gw.created[0].AmountCents != 10500 {
		t.Errorf("gateway saw %+v, want server-computed total", gw.created)
	}
	if store.gateway[result.Order.ID] != "gw_123" {
		t.Error("gateway order id not persisted")
	}
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	t.Parallel()

	svc := newTestOrderService(newFakeOrderStore(), &fakeResolver{}, &fakeGateway{}, &fakeNotifier{})

	_, err := svc.Checkout(context.Background(), CheckoutInput{})
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("err = %v, want ErrEmptyCart", err)
	}
}

func TestCheckoutRejectsZeroTotal(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{items: []models.OrderItem{{Title: "Free Sample", Qty: 1, UnitPriceCents: 0}}}
	store := newFakeOrderStore()
	svc := newTestOrderService(store, resolver, &fakeGateway{}, &fakeNotifier{})

	// Shipping below the flat rate clamps to zero, so the total is zero.
	_, err := svc.Checkout(context.Background(), CheckoutInput{
		Items:         []catalog.CheckoutLine{{ID: "sample", Qty: 1}},
		ShippingCents: 100,
	})
	if !errors.Is(err, ErrZeroTotal) {
		t.Fatalf("err = %v, want ErrZeroTotal", err)
	}
	if len(store.orders) != 0 {
		t.Error("no draft should be stored for a rejected cart")
	}
}

func TestCheckoutMapsUnknownProduct(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{err: &catalog.ProductNotFoundError{Index: 0, Line: catalog.CheckoutLine{ID: "ghost"}}}
	svc := newTestOrderService(newFakeOrderStore(), resolver, &fakeGateway{}, &fakeNotifier{})

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		Items: []catalog.CheckoutLine{{ID: "ghost", Qty: 1}},
	})

	var userErr UserError
	if !errors.As(err, &userErr) {
		t.Fatalf("err = %v, want UserError", err)
	}
}

func TestVerifyTransitionNotifies(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	store := newFakeOrderStore()
	store.verifyResult = &db.VerifyResult{
		Order:        &models.Order{ID: orderID, Status: models.StatusPaid},
		Transitioned: true,
		From:         models.StatusCreated,
	}

	notifier := &fakeNotifier{}
	svc := newTestOrderService(store, &fakeResolver{}, &fakeGateway{}, notifier)

	order, err := svc.Verify(context.Background(), VerifyInput{
		OrderID:          orderID,
		GatewayOrderID:   "gw_123",
		GatewayPaymentID: "pay_456",
		Signature:        "sig",
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if order.Status != models.StatusPaid {
		t.Errorf("status = %s, want paid", order.Status)
	}

	if len(store.verifyCalls) != 1 {
		t.Fatalf("VerifyAndMarkPaid called %d times", len(store.verifyCalls))
	}
	if !store.verifyCalls[0].CreateIfMissing {
		t.Error("verify should tolerate unknown orders")
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(notifier.calls))
	}
	if notifier.calls[0].kind != models.KindCreated {
		t.Errorf("notified kind %q, want %q", notifier.calls[0].kind, models.KindCreated)
	}
}

func TestVerifyReplayDoesNotNotify(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	store := newFakeOrderStore()
	store.verifyResult = &db.VerifyResult{
		Order:           &models.Order{ID: orderID, Status: models.StatusPaid},
		Transitioned:    false,
		From:            models.StatusPaid,
		AlreadyNotified: true,
	}

	notifier := &fakeNotifier{}
	svc := newTestOrderService(store, &fakeResolver{}, &fakeGateway{}, notifier)

	// Two replays in a row must both succeed and never notify.
	for i := 0; i < 2; i++ {
		order, err := svc.Verify(context.Background(), VerifyInput{
			OrderID:          orderID,
			GatewayOrderID:   "gw_123",
			GatewayPaymentID: "pay_456",
			Signature:        "sig",
		})
		if err != nil {
			t.Fatalf("Verify replay %d: %v", i, err)
		}
		if order.Status != models.StatusPaid {
			t.Errorf("replay %d status = %s", i, order.Status)
		}
	}

	if len(notifier.calls) != 0 {
		t.Errorf("notifier called %d times on replay, want 0", len(notifier.calls))
	}
}

func TestVerifyReplayRetriesUnsettledConfirmation(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	store := newFakeOrderStore()
	// Paid on an earlier call, but the confirmation never settled, e.g. the
	// process died between the transaction and the send.
	store.verifyResult = &db.VerifyResult{
		Order:           &models.Order{ID: orderID, Status: models.StatusPaid},
		Transitioned:    false,
		From:            models.StatusPaid,
		AlreadyNotified: false,
	}

	notifier := &fakeNotifier{}
	svc := newTestOrderService(store, &fakeResolver{}, &fakeGateway{}, notifier)

	order, err := svc.Verify(context.Background(), VerifyInput{
		OrderID:          orderID,
		GatewayOrderID:   "gw_123",
		GatewayPaymentID: "pay_456",
		Signature:        "sig",
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if order.Status != models.StatusPaid {
		t.Errorf("status = %s, want paid", order.Status)
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(notifier.calls))
	}
	if notifier.calls[0].kind != models.KindCreated {
		t.Errorf("notified kind %q, want %q", notifier.calls[0].kind, models.KindCreated)
	}
	if notifier.calls[0].orderID != orderID {
		t.Errorf("notified order %s, want %s", notifier.calls[0].orderID, orderID)
	}
}

func TestCheckoutUsesStoredFlatRate(t *testing.T) {
	t.Parallel()

	resolved := []models.OrderItem{
		{ProductRef: "throw", Title: "Handwoven Throw", Qty: 1, UnitPriceCents: 4500},
	}

	override := int64(900)
	store := newFakeOrderStore()
	svc := newTestOrderService(store, &fakeResolver{items: resolved}, &fakeGateway{}, &fakeNotifier{})
	svc.settings = &fakeSettingsStore{stored: &db.AdminSettings{ShippingFlatRateCents: &override}}

	result, err := svc.Checkout(context.Background(), CheckoutInput{
		Customer:      models.Customer{Email: "sam@example.com"},
		Items:         []catalog.CheckoutLine{{ID: "throw", Qty: 1}},
		ShippingCents: 900,
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if result.Order.Amounts.ShippingCents != override {
		t.Errorf("shipping = %d, want %d", result.Order.Amounts.ShippingCents, override)
	}
	if result.Order.Amounts.TotalCents != 4500+override {
		t.Errorf("total = %d, want %d", result.Order.Amounts.TotalCents, 4500+override)
	}
}

func TestVerifyRejectedSignature(t *testing.T) {
	t.Parallel()

	store := newFakeOrderStore()
	gw := &fakeGateway{verifyErr: payments.ErrVerificationFailed}
	svc := newTestOrderService(store, &fakeResolver{}, gw, &fakeNotifier{})

	_, err := svc.Verify(context.Background(), VerifyInput{
		OrderID:          uuid.New(),
		GatewayOrderID:   "gw_123",
		GatewayPaymentID: "pay_456",
		Signature:        "tampered",
	})
	if !errors.Is(err, ErrPaymentNotVerified) {
		t.Fatalf("err = %v, want ErrPaymentNotVerified", err)
	}
	if len(store.verifyCalls) != 0 {
		t.Error("store must not be touched when the gateway rejects the proof")
	}
}

func TestGetForOwner(t *testing.T) {
	t.Parallel()

	store := newFakeOrderStore()
	order := &models.Order{OwnerEmailLower: "sam@example.com"}
	if err := store.CreateDraft(context.Background(), order); err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}

	svc := newTestOrderService(store, &fakeResolver{}, &fakeGateway{}, &fakeNotifier{})

	if _, err := svc.GetForOwner(context.Background(), order.ID, "", "SAM@example.com"); err != nil {
		t.Fatalf("GetForOwner by email: %v", err)
	}
	if _, err := svc.GetForOwner(context.Background(), order.ID, "someone-else", "other@example.com"); !errors.Is(err, db.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound for non-owner", err)
	}
}

func TestSweepBacklog(t *testing.T) {
	t.Parallel()

	store := newFakeOrderStore()
	paid := &models.Order{Status: models.StatusPaid, Customer: models.Customer{Email: "a@example.com"}}
	if err := store.CreateDraft(context.Background(), paid); err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	paid.Status = models.StatusPaid // CreateDraft resets to created

	notifier := &fakeNotifier{}
	svc := newTestOrderService(store, &fakeResolver{}, &fakeGateway{}, notifier)

	retried, err := svc.SweepBacklog(context.Background(), 10)
	if err != nil {
		t.Fatalf("SweepBacklog: %v", err)
	}
	if retried != 1 {
		t.Fatalf("retried = %d, want 1", retried)
	}
	if len(notifier.calls) != 1 || notifier.calls[0].kind != models.KindCreated {
		t.Errorf("unexpected notify calls %+v", notifier.calls)
	}
}

func TestUserErrorMessage(t *testing.T) {
	t.Parallel()

	err := UserError{Message: "cart is empty"}
	if !strings.Contains(err.Error(), "cart") {
		t.Errorf("Error() = %q", err.Error())
	}
}
