package events

import (
	"context"

	"github.com/google/uuid"

	"github.com/loomshop/loomshop/internal/logging"
	"github.com/loomshop/loomshop/internal/models"
)

// notifier is the dispatcher surface the mirror drives.
type notifier interface {
	Notify(ctx context.Context, orderID uuid.UUID, kind string) error
}

// Mirror consumes status changes off the bus and turns each into the
// matching notification. It is the async half of notification delivery:
// the write path publishes and moves on, the mirror does the sending.
type Mirror struct {
	bus      Bus
	notifier notifier
}

func NewMirror(bus Bus, n notifier) *Mirror {
	return &Mirror{bus: bus, notifier: n}
}

// Run blocks consuming events until ctx is cancelled or the bus closes.
// Notify errors are logged and the loop keeps going: the backlog sweep is
// the safety net for anything missed here.
func (m *Mirror) Run(ctx context.Context) error {
	events, err := m.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			m.handle(ctx, event)
		}
	}
}

func (m *Mirror) handle(ctx context.Context, event StatusChanged) {
	logger := logging.FromContext(ctx, nil)

	if event.To.Rank() < event.From.Rank() {
		logger.Warn("ignoring backward status event",
			"order_id", event.OrderID, "from", event.From, "to", event.To)
		return
	}

	kind := models.NotificationKind(event.To)
	if kind == "" {
		logger.Debug("status has no notification", "order_id", event.OrderID, "to", event.To)
		return
	}

	if err := m.notifier.Notify(ctx, event.OrderID, kind); err != nil {
		logger.Error("notification failed",
			"order_id", event.OrderID, "kind", kind, "error", err)
	}
}
