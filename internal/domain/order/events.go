package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventOrderCreated         EventType = "order.created"
	EventStatusChanged        EventType = "order.status_changed"
	EventPaymentStatusChanged EventType = "order.payment_status_changed"
	EventRefundRecorded       EventType = "order.refund_recorded"
)

// Event is published after the change it describes has committed.
type Event struct {
	ID         string
	Type       EventType
	OrderID    string
	OccurredAt time.Time
	From       string
	To         string
	Trigger    Trigger
	// Amount is the order total for order.created and the refund amount for
	// order.refund_recorded.
	Amount decimal.Decimal
}

// Publisher delivers lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...Event) error { return nil }

func newEvent(typ EventType, orderID string, at time.Time) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       typ,
		OrderID:    orderID,
		OccurredAt: at,
	}
}

func transitionEvent(t Transition) Event {
	typ := EventStatusChanged
	if t.Axis == AxisPayment {
		typ = EventPaymentStatusChanged
	}
	e := newEvent(typ, t.OrderID, t.At)
	e.From = t.From
	e.To = t.To
	e.Trigger = t.Trigger
	return e
}
