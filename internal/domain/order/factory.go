package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/internal/domain/cart"
	"github.com/xenking/kart-store/internal/domain/inventory"
	"github.com/xenking/kart-store/internal/domain/product"
)

// Factory creates orders from validated carts. Reserving stock for every
// line and persisting the order happen in one transaction: either the order
// exists with all of its stock held, or nothing changed.
type Factory struct {
	repo Repository
	opts options
}

// NewFactory creates a Factory persisting through repo.
func NewFactory(repo Repository, opts ...Option) *Factory {
	return &Factory{repo: repo, opts: newOptions(opts)}
}

// Create reserves stock and persists a PendingPayment order. A failed
// reservation is reported as *inventory.InsufficientStockError naming the
// product, or *product.NotFoundError when the product disappeared after
// validation.
func (f *Factory) Create(ctx context.Context, priced *cart.Priced, customer Customer) (*Order, error) {
	if priced == nil || len(priced.Lines) == 0 {
		return nil, cart.ErrEmptyCart
	}

	ctx, span := f.opts.tracer.Start(ctx, "order.Factory.Create",
		trace.WithAttributes(attribute.Int("lines", len(priced.Lines))))
	defer span.End()

	now := f.opts.now().UTC()
	o := &Order{
		ID:            uuid.New().String(),
		Status:        StatusPendingPayment,
		PaymentStatus: PaymentUnpaid,
		StockState:    StockHeld,
		Customer:      customer,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.Items = make([]OrderItem, len(priced.Lines))
	for i, l := range priced.Lines {
		o.Items[i] = OrderItem{
			OrderID:     o.ID,
			ProductID:   l.ProductID,
			ProductName: l.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		}
	}
	o.Total = o.ItemsTotal()
	o.Transitions = []Transition{{
		OrderID: o.ID,
		Axis:    AxisStatus,
		To:      string(StatusPendingPayment),
		Trigger: TriggerCheckout,
		At:      now,
	}}

	err := f.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := inventory.ReserveAll(ctx, tx.Ledger(), priced.InventoryLines()); err != nil {
			return err
		}
		if err := tx.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := tx.AppendTransitions(ctx, o.Transitions); err != nil {
			return errors.Wrap(err, "append transitions")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, f.mapReserveError(ctx, err)
	}

	f.opts.metrics.orderCreated(ctx)
	created := newEvent(EventOrderCreated, o.ID, now)
	created.To = string(o.Status)
	created.Trigger = TriggerCheckout
	created.Amount = o.Total
	publish(ctx, f.opts.publisher, []Event{created})

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.Stringer("total", o.Total),
		zap.Int("items", len(o.Items)),
	)
	return o, nil
}

func (f *Factory) mapReserveError(ctx context.Context, err error) error {
	var insufficient *inventory.InsufficientStockError
	if errors.As(err, &insufficient) {
		f.opts.metrics.checkoutRejected(ctx, "insufficient_stock")
		return err
	}
	if errors.Is(err, product.ErrNotFound) {
		f.opts.metrics.checkoutRejected(ctx, "product_not_found")
		return err
	}
	return errors.Wrap(err, "checkout")
}

func publish(ctx context.Context, p Publisher, events []Event) {
	if len(events) == 0 {
		return
	}
	if err := p.Publish(ctx, events...); err != nil {
		zctx.From(ctx).Warn("Publish order events", zap.Error(err), zap.Int("events", len(events)))
	}
}
