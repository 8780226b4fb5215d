// Package admin is the administrative query and mutation surface. It holds no
// business rules: every call passes the authorization gate and then delegates
// to the order state machine or the refund coordinator.
package admin

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/refund"
)

// Actions checked by the Authorizer.
const (
	ActionListOrders          = "orders.list"
	ActionGetOrder            = "orders.get"
	ActionChangeOrderStatus   = "orders.change_status"
	ActionChangePaymentStatus = "orders.change_payment_status"
	ActionProcessRefund       = "orders.refund"
	ActionListRefunds         = "orders.list_refunds"
	ActionCancelOrder         = "orders.cancel"
)

// ErrUnknownTarget is returned for a target state outside the known set.
var ErrUnknownTarget = errors.New("unknown target state")

// Authorizer is the pass/fail gate in front of every admin call.
type Authorizer interface {
	Authorize(ctx context.Context, action string) error
}

// Surface exposes admin operations.
type Surface struct {
	auth    Authorizer
	orders  *order.Service
	refunds *refund.Coordinator
}

// NewSurface creates a Surface.
func NewSurface(auth Authorizer, orders *order.Service, refunds *refund.Coordinator) *Surface {
	return &Surface{auth: auth, orders: orders, refunds: refunds}
}

func (s *Surface) authorize(ctx context.Context, action string) error {
	if err := s.auth.Authorize(ctx, action); err != nil {
		zctx.From(ctx).Warn("Admin call rejected", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

// ListOrders returns orders matching filter, newest first.
func (s *Surface) ListOrders(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	if err := s.authorize(ctx, ActionListOrders); err != nil {
		return nil, err
	}
	return s.orders.List(ctx, filter)
}

// GetOrder returns an order with its transition history.
func (s *Surface) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	if err := s.authorize(ctx, ActionGetOrder); err != nil {
		return nil, err
	}
	return s.orders.Get(ctx, orderID)
}

// ChangeOrderStatus moves the fulfilment axis one legal step.
func (s *Surface) ChangeOrderStatus(ctx context.Context, orderID string, target order.Status) (*order.Order, error) {
	if err := s.authorize(ctx, ActionChangeOrderStatus); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, errors.Wrapf(ErrUnknownTarget, "status %q", target)
	}
	return s.orders.ChangeStatus(ctx, orderID, target, order.TriggerAdmin)
}

// ChangePaymentStatus records an out-of-band payment outcome.
func (s *Surface) ChangePaymentStatus(ctx context.Context, orderID string, target order.PaymentStatus) (*order.Order, error) {
	if err := s.authorize(ctx, ActionChangePaymentStatus); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, errors.Wrapf(ErrUnknownTarget, "payment status %q", target)
	}
	return s.orders.ChangePaymentStatus(ctx, orderID, target, order.TriggerAdmin)
}

// ProcessRefund refunds part or all of a paid order.
func (s *Surface) ProcessRefund(ctx context.Context, orderID string, amount decimal.Decimal, reason string) (*order.Order, error) {
	if err := s.authorize(ctx, ActionProcessRefund); err != nil {
		return nil, err
	}
	return s.refunds.ProcessRefund(ctx, orderID, amount, reason)
}

// ListRefunds returns every refund attempt recorded for an order.
func (s *Surface) ListRefunds(ctx context.Context, orderID string) ([]order.Refund, error) {
	if err := s.authorize(ctx, ActionListRefunds); err != nil {
		return nil, err
	}
	return s.refunds.ListRefunds(ctx, orderID)
}

// CancelOrder cancels an order, refunding and restocking as needed.
func (s *Surface) CancelOrder(ctx context.Context, orderID string) (*order.Order, error) {
	if err := s.authorize(ctx, ActionCancelOrder); err != nil {
		return nil, err
	}
	return s.refunds.CancelOrder(ctx, orderID)
}
