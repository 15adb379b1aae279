package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomshop/loomshop/internal/models"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

// Recipient types in the email ledger.
const (
	RecipientCustomer = "customer"
	RecipientAdmin    = "admin"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `id, status, customer, shipping_address, items, amounts, payment,
	owner_uid, owner_email_lower, email, created_at, updated_at`

// CreateDraft inserts a new order with status created. The ID and timestamps
// are assigned here.
func (s *OrderStore) CreateDraft(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = models.StatusCreated
	}
	if order.Payment.Status == "" {
		order.Payment.Status = string(models.StatusCreated)
	}

	row, err := orderRowFromModel(order)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (id, status, customer, shipping_address, items, amounts, payment,
			owner_uid, owner_email_lower, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		order.ID, string(order.Status), row.customer, order.ShippingAddress, row.items,
		row.amounts, row.payment, order.OwnerUID, order.OwnerEmailLower, row.email,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create draft order: %w", err)
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, orderID))
}

// GetForOwner returns the order only when the caller's uid or lowercased
// email matches the order's owner tags.
func (s *OrderStore) GetForOwner(ctx context.Context, orderID uuid.UUID, uid, emailLower string) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + ` FROM orders
		WHERE id = $1 AND ((owner_uid <> '' AND owner_uid = $2) OR (owner_email_lower <> '' AND owner_email_lower = $3))
	`
	return s.scanOne(s.pool.QueryRow(ctx, query, orderID, uid, emailLower))
}

func (s *OrderStore) ListRecent(ctx context.Context, limit int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// ListNotificationBacklog returns orders past the draft state whose order
// confirmation still lacks a settled customer outcome. This is the
// operational alerting state: paid but never told the customer. The
// unsettled check runs in SQL before the limit, and the oldest entries come
// first, so no backlog order can hide behind newer traffic.
func (s *OrderStore) ListNotificationBacklog(ctx context.Context, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + ` FROM orders
		WHERE status <> $1
		  AND NOT (
			COALESCE((email #>> '{created,customer,skipped}')::boolean, false)
			OR (COALESCE(email #>> '{created,customer,messageId}', '') <> ''
				AND COALESCE(email #>> '{created,customer,error}', '') = '')
		  )
		ORDER BY created_at ASC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, string(models.StatusCreated), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// SetGatewayOrder records the remote gateway order minted for a draft. Only
// draft orders accept it; the paid transition goes through VerifyAndMarkPaid.
func (s *OrderStore) SetGatewayOrder(ctx context.Context, orderID uuid.UUID, provider, mode, gatewayOrderID string) error {
	query := `
		UPDATE orders
		SET payment = payment || jsonb_build_object('provider', $1::text, 'mode', $2::text, 'gatewayOrderId', $3::text),
		    updated_at = NOW()
		WHERE id = $4 AND status = $5
	`
	cmdTag, err := s.pool.Exec(ctx, query, provider, mode, gatewayOrderID, orderID, string(models.StatusCreated))
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected created", ErrInvalidStatusTransition)
	}
	return nil
}

type VerifyParams struct {
	OrderID          uuid.UUID
	Provider         string
	Mode             string
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	// CreateIfMissing covers out-of-band verify calls that reference an
	// order the store has never seen.
	CreateIfMissing bool
}

type VerifyResult struct {
	Order *models.Order
	// Transitioned is true when this call performed the created → paid
	// transition. False means payment was already applied.
	Transitioned bool
	From         models.OrderStatus
	// AlreadyNotified is true when the order-confirmation ledger entry was
	// complete before this call, making any notify a no-op.
	AlreadyNotified bool
}

// VerifyAndMarkPaid applies a verified payment to an order exactly once, as
// a single atomic read-modify-write transaction. Repeat calls with the same
// identifiers are no-ops that report success. Email ledger flags are never
// touched here; only the dispatcher writes those, after a send outcome.
func (s *OrderStore) VerifyAndMarkPaid(ctx context.Context, params VerifyParams) (*VerifyResult, error) {
	var result *VerifyResult

	err := runSerializableTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.getForUpdate(ctx, tx, params.OrderID)
		if errors.Is(err, ErrOrderNotFound) {
			if !params.CreateIfMissing {
				return err
			}
			order, err = s.insertMinimal(ctx, tx, params)
		}
		if err != nil {
			return err
		}

		alreadyPaid := order.Status.Rank() >= models.StatusPaid.Rank()
		alreadyNotified := order.Email.Entry(models.KindCreated).Done()
		if alreadyPaid && alreadyNotified {
			result = &VerifyResult{Order: order, From: order.Status, AlreadyNotified: true}
			return nil
		}

		from := order.Status
		transitioned := false
		if !alreadyPaid {
			order.Status = models.StatusPaid
			transitioned = true
		}

		if order.Payment.GatewayPaymentID == "" {
			now := time.Now().UTC()
			order.Payment.Provider = params.Provider
			order.Payment.Status = string(models.StatusPaid)
			order.Payment.GatewayOrderID = params.GatewayOrderID
			order.Payment.GatewayPaymentID = params.GatewayPaymentID
			order.Payment.GatewaySignature = params.GatewaySignature
			order.Payment.VerifiedAt = &now
			if order.Payment.Mode == "" {
				order.Payment.Mode = params.Mode
			}
		}

		paymentJSON, err := json.Marshal(order.Payment)
		if err != nil {
			return fmt.Errorf("failed to encode payment: %w", err)
		}

		query := `UPDATE orders SET status = $1, payment = $2, updated_at = NOW() WHERE id = $3`
		if _, err := tx.Exec(ctx, query, string(order.Status), paymentJSON, order.ID); err != nil {
			return err
		}

		result = &VerifyResult{Order: order, Transitioned: transitioned, From: from, AlreadyNotified: alreadyNotified}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatus performs an administrative status transition. Transitions are
// forward-only; a requested backward move returns
// ErrInvalidStatusTransition. The from-status is returned for event
// publishing.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) (models.OrderStatus, error) {
	if !to.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, to)
	}

	var from models.OrderStatus
	err := runSerializableTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.getForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		from = order.Status
		if to.Rank() <= from.Rank() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
		}

		query := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`
		_, err = tx.Exec(ctx, query, string(to), orderID)
		return err
	})
	if err != nil {
		return "", err
	}
	return from, nil
}

// RecordEmailResult writes one recipient half of a ledger entry. A slot that
// already holds a settled outcome is never overwritten, so a success is
// recorded at most once per (order, kind, recipient).
func (s *OrderStore) RecordEmailResult(ctx context.Context, orderID uuid.UUID, kind, recipient string, result models.EmailResult) error {
	if recipient != RecipientCustomer && recipient != RecipientAdmin {
		return fmt.Errorf("unknown email recipient type: %s", recipient)
	}

	return runSerializableTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.getForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		ledger := order.Email
		if ledger == nil {
			ledger = models.EmailLedger{}
		}
		entry := ledger[kind]
		if entry == nil {
			entry = &models.LedgerEntry{SentAt: result.SentAt}
			ledger[kind] = entry
		}

		switch recipient {
		case RecipientCustomer:
			if entry.Customer.Settled() {
				return nil
			}
			entry.Customer = &result
		case RecipientAdmin:
			if entry.Admin.Settled() {
				return nil
			}
			entry.Admin = &result
		}

		ledgerJSON, err := json.Marshal(ledger)
		if err != nil {
			return fmt.Errorf("failed to encode email ledger: %w", err)
		}

		query := `UPDATE orders SET email = $1, updated_at = NOW() WHERE id = $2`
		_, err = tx.Exec(ctx, query, ledgerJSON, orderID)
		return err
	})
}

func (s *OrderStore) getForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	return s.scanOne(tx.QueryRow(ctx, query, orderID))
}

// insertMinimal creates the minimal order record for a verify call whose
// order id was never seen. It carries no items or amounts; reporting treats
// it as gateway-mode traffic.
func (s *OrderStore) insertMinimal(ctx context.Context, tx pgx.Tx, params VerifyParams) (*models.Order, error) {
	order := &models.Order{
		ID:     params.OrderID,
		Status: models.StatusCreated,
		Payment: models.Payment{
			Provider: params.Provider,
			Status:   string(models.StatusCreated),
			Mode:     params.Mode,
		},
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	row, err := orderRowFromModel(order)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO orders (id, status, customer, shipping_address, items, amounts, payment,
			owner_uid, owner_email_lower, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		order.ID, string(order.Status), row.customer, order.ShippingAddress, row.items,
		row.amounts, row.payment, order.OwnerUID, order.OwnerEmailLower, row.email,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create minimal order: %w", err)
	}
	return order, nil
}

type orderRow struct {
	customer []byte
	items    []byte
	amounts  []byte
	payment  []byte
	email    []byte
}

func orderRowFromModel(order *models.Order) (*orderRow, error) {
	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode customer: %w", err)
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode items: %w", err)
	}
	amounts, err := json.Marshal(order.Amounts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode amounts: %w", err)
	}
	payment, err := json.Marshal(order.Payment)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment: %w", err)
	}
	email := order.Email
	if email == nil {
		email = models.EmailLedger{}
	}
	emailJSON, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("failed to encode email ledger: %w", err)
	}

	return &orderRow{customer: customer, items: items, amounts: amounts, payment: payment, email: emailJSON}, nil
}

func (s *OrderStore) scanOne(row pgx.Row) (*models.Order, error) {
	var (
		order    models.Order
		status   string
		customer []byte
		items    []byte
		amounts  []byte
		payment  []byte
		email    []byte
	)

	err := row.Scan(&order.ID, &status, &customer, &order.ShippingAddress, &items, &amounts,
		&payment, &order.OwnerUID, &order.OwnerEmailLower, &email, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	order.Status = models.OrderStatus(status)
	if err := decodeOrderDocs(&order, customer, items, amounts, payment, email); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *OrderStore) scanMany(rows pgx.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		order, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func decodeOrderDocs(order *models.Order, customer, items, amounts, payment, email []byte) error {
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &order.Customer); err != nil {
			return fmt.Errorf("failed to decode customer: %w", err)
		}
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return fmt.Errorf("failed to decode items: %w", err)
		}
	}
	if len(amounts) > 0 {
		if err := json.Unmarshal(amounts, &order.Amounts); err != nil {
			return fmt.Errorf("failed to decode amounts: %w", err)
		}
	}
	if len(payment) > 0 {
		if err := json.Unmarshal(payment, &order.Payment); err != nil {
			return fmt.Errorf("failed to decode payment: %w", err)
		}
	}
	if len(email) > 0 {
		if err := json.Unmarshal(email, &order.Email); err != nil {
			return fmt.Errorf("failed to decode email ledger: %w", err)
		}
	}
	return nil
}
