package order

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-store/internal/domain/inventory"
)

// Status is the fulfilment axis of an order.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// Statuses lists every fulfilment status.
var Statuses = []Status{
	StatusPendingPayment, StatusPaid, StatusProcessing,
	StatusShipped, StatusDelivered, StatusCancelled,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return slices.Contains(Statuses, s) }

// PaymentStatus is the money axis of an order.
type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPaid              PaymentStatus = "paid"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentFailed            PaymentStatus = "failed"
)

// PaymentStatuses lists every payment status.
var PaymentStatuses = []PaymentStatus{
	PaymentUnpaid, PaymentPaid, PaymentPartiallyRefunded,
	PaymentRefunded, PaymentFailed,
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool { return slices.Contains(PaymentStatuses, s) }

// StockState tracks what happened to the stock reserved at checkout, so the
// reservation is paired with exactly one release or fulfilment.
type StockState string

const (
	StockHeld      StockState = "held"
	StockReleased  StockState = "released"
	StockFulfilled StockState = "fulfilled"
)

// Customer is checkout metadata supplied by the buyer.
type Customer struct {
	Email           string
	Name            string
	ShippingAddress string
}

// Order is a customer order. Total is fixed at creation; refunds are tracked
// separately and never change it.
type Order struct {
	ID            string
	Status        Status
	PaymentStatus PaymentStatus
	StockState    StockState
	Total         decimal.Decimal
	Items         []OrderItem
	Customer      Customer
	PaymentRef    string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Transitions   []Transition
}

// OrderItem is a line of an order. Name and UnitPrice are snapshots taken at
// purchase time and stay valid after the product changes.
type OrderItem struct {
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// Subtotal returns Quantity × UnitPrice.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsTotal sums the item subtotals.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// StockLines returns the ledger lines held by this order.
func (o *Order) StockLines() []inventory.Line {
	lines := make([]inventory.Line, len(o.Items))
	for i, it := range o.Items {
		lines[i] = inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return lines
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.Transitions = slices.Clone(o.Transitions)
	return &c
}

// Axis names one of the two state axes of an order.
type Axis string

const (
	AxisStatus  Axis = "status"
	AxisPayment Axis = "payment"
)

// Trigger names who or what initiated a transition.
type Trigger string

const (
	TriggerCheckout Trigger = "checkout"
	TriggerCharge   Trigger = "charge"
	TriggerAdmin    Trigger = "admin"
	TriggerRefund   Trigger = "refund"
	TriggerCancel   Trigger = "cancel"
	TriggerTimeout  Trigger = "timeout"
)

// Transition is an audit entry for a committed state change.
type Transition struct {
	OrderID string
	Axis    Axis
	From    string
	To      string
	Trigger Trigger
	At      time.Time
}

// RefundStatus is the outcome of a refund attempt.
type RefundStatus string

const (
	RefundRequested RefundStatus = "requested"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Refund is an append-only record of a refund attempt against an order.
type Refund struct {
	ID          string
	OrderID     string
	Amount      decimal.Decimal
	Reason      string
	Status      RefundStatus
	ExternalRef string
	FailureMsg  string
	CreatedAt   time.Time
}

// RefundedTotal sums the completed refunds.
func RefundedTotal(refunds []Refund) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refunds {
		if r.Status == RefundCompleted {
			total = total.Add(r.Amount)
		}
	}
	return total
}
