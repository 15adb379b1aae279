// Package notify sends the customer and admin emails for order lifecycle
// events, keeping delivery idempotent through the per-order email ledger.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/loomshop/loomshop/internal/db"
	"github.com/loomshop/loomshop/internal/email"
	"github.com/loomshop/loomshop/internal/logging"
	"github.com/loomshop/loomshop/internal/models"
)

// orderLedger is the slice of the order store the dispatcher needs.
type orderLedger interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	RecordEmailResult(ctx context.Context, orderID uuid.UUID, kind, recipient string, result models.EmailResult) error
}

// sender abstracts the email provider so tests can fake deliveries.
type sender interface {
	SendEmail(ctx context.Context, msg *email.Email) (string, error)
}

// settingsSource exposes the stored admin configuration: notification
// recipients and provider credential overrides.
type settingsSource interface {
	Get(ctx context.Context) (*db.AdminSettings, error)
}

// Dispatcher fans one notification kind out to the customer and the admin
// recipients. Each half settles independently in the ledger, so a retry
// after a partial failure only resends the half that failed.
type Dispatcher struct {
	orders     orderLedger
	provider   sender
	renderer   *email.Renderer
	adminEmail string
	settings   settingsSource
	fallback   email.Config
	group      singleflight.Group
	now        func() time.Time
}

func NewDispatcher(orders *db.OrderStore, settings *db.SettingsStore, provider email.Provider, fallback email.Config, renderer *email.Renderer, adminEmail string) *Dispatcher {
	d := &Dispatcher{
		orders:     orders,
		provider:   provider,
		renderer:   renderer,
		adminEmail: adminEmail,
		fallback:   fallback,
		now:        time.Now,
	}
	if settings != nil {
		d.settings = settings
	}
	return d
}

// delivery is the resolved provider and admin recipient list for one
// notification.
type delivery struct {
	sender  sender
	adminTo []string
}

// Notify sends the customer and admin emails for the given kind if the
// ledger has not already settled them. Send failures are recorded in the
// ledger and logged, never returned: the backlog sweep retries them later.
// The returned error covers only load and render problems. Concurrent calls
// for the same order and kind collapse into one delivery attempt.
func (d *Dispatcher) Notify(ctx context.Context, orderID uuid.UUID, kind string) error {
	_, err, _ := d.group.Do(orderID.String()+"/"+kind, func() (any, error) {
		return nil, d.notify(ctx, orderID, kind)
	})
	return err
}

func (d *Dispatcher) notify(ctx context.Context, orderID uuid.UUID, kind string) error {
	ctx = logging.WithAttrs(ctx, "order_id", orderID, "kind", kind)
	logger := logging.FromContext(ctx, nil)

	order, err := d.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order for notification: %w", err)
	}

	entry := order.Email.Entry(kind)
	if entry.Done() {
		logger.Debug("notification already settled")
		return nil
	}

	dlv := d.resolveDelivery(ctx)

	if entry == nil || !entry.Customer.Settled() {
		if err := d.sendCustomer(ctx, dlv, order, kind); err != nil {
			return err
		}
	}
	if entry == nil || !entry.Admin.Settled() {
		if err := d.sendAdmin(ctx, dlv, order, kind); err != nil {
			return err
		}
	}

	return nil
}

// resolveDelivery overlays the stored admin settings on the static email
// config. A missing or unreadable settings document falls back to the
// provider and recipient the process was started with.
func (d *Dispatcher) resolveDelivery(ctx context.Context) delivery {
	dlv := delivery{sender: d.provider}
	if d.adminEmail != "" {
		dlv.adminTo = []string{d.adminEmail}
	}

	if d.settings == nil {
		return dlv
	}
	settings, err := d.settings.Get(ctx)
	if err != nil {
		logging.FromContext(ctx, nil).Warn("admin settings unavailable, using static email config", "error", err)
		return dlv
	}

	if len(settings.NotifyEmails) > 0 {
		dlv.adminTo = settings.NotifyEmails
	}
	if settings.EmailProvider != "" || settings.EmailAPIKey != "" || settings.EmailFrom != "" || settings.EmailDomain != "" {
		provider, err := email.NewProviderFromSettings(settings, d.fallback)
		if err != nil {
			logging.FromContext(ctx, nil).Warn("stored email settings invalid, using static email config", "error", err)
			return dlv
		}
		dlv.sender = provider
	}
	return dlv
}

func (d *Dispatcher) sendCustomer(ctx context.Context, dlv delivery, order *models.Order, kind string) error {
	logger := logging.FromContext(ctx, nil)

	if order.Customer.Email == "" {
		// Nothing to deliver. Settle the slot so the backlog stops
		// picking this order up.
		result := models.EmailResult{SentAt: d.now(), Skipped: true}
		return d.record(ctx, order.ID, kind, db.RecipientCustomer, result)
	}

	msg, err := d.renderer.CustomerEmail(kind, order)
	if err != nil {
		return fmt.Errorf("render customer email: %w", err)
	}

	result := models.EmailResult{SentAt: d.now()}
	messageID, err := dlv.sender.SendEmail(ctx, msg)
	if err != nil {
		result.Error = err.Error()
		logger.Warn("customer email failed", "error", err)
	} else {
		result.MessageID = messageID
		logger.Info("customer email sent", "message_id", messageID)
	}

	return d.record(ctx, order.ID, kind, db.RecipientCustomer, result)
}

// sendAdmin delivers the alert to every configured recipient. The admin
// slot settles only when all of them were accepted, so a partial failure
// leaves the whole half retryable.
func (d *Dispatcher) sendAdmin(ctx context.Context, dlv delivery, order *models.Order, kind string) error {
	logger := logging.FromContext(ctx, nil)

	if len(dlv.adminTo) == 0 {
		result := models.EmailResult{SentAt: d.now(), Skipped: true}
		return d.record(ctx, order.ID, kind, db.RecipientAdmin, result)
	}

	result := models.EmailResult{SentAt: d.now()}
	var sendErrs []string
	for _, adminTo := range dlv.adminTo {
		msg, err := d.renderer.AdminEmail(kind, order, adminTo)
		if err != nil {
			return fmt.Errorf("render admin email: %w", err)
		}

		messageID, err := dlv.sender.SendEmail(ctx, msg)
		if err != nil {
			sendErrs = append(sendErrs, err.Error())
			logger.Warn("admin email failed", "to", adminTo, "error", err)
			continue
		}
		if result.MessageID == "" {
			result.MessageID = messageID
		}
		logger.Info("admin email sent", "to", adminTo, "message_id", messageID)
	}
	if len(sendErrs) > 0 {
		result.Error = strings.Join(sendErrs, "; ")
	}

	return d.record(ctx, order.ID, kind, db.RecipientAdmin, result)
}

func (d *Dispatcher) record(ctx context.Context, orderID uuid.UUID, kind, recipient string, result models.EmailResult) error {
	if err := d.orders.RecordEmailResult(ctx, orderID, kind, recipient, result); err != nil {
		return fmt.Errorf("record %s email result: %w", recipient, err)
	}
	return nil
}
