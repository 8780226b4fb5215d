// Package checkout turns a cart snapshot into a PendingPayment order.
package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/internal/domain/cart"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/idempotency"
)

// Request is a checkout submission.
type Request struct {
	// IdempotencyKey deduplicates client retries. Empty disables dedup.
	IdempotencyKey string
	Lines          []cart.Line
	Customer       order.Customer
}

// OrderReader loads previously created orders for replayed requests.
type OrderReader interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// Service validates carts and creates orders.
type Service struct {
	validator *cart.Validator
	factory   *order.Factory
	orders    OrderReader
	idem      idempotency.Store
}

// NewService creates a Service. A nil store disables idempotency keys.
func NewService(validator *cart.Validator, factory *order.Factory, orders OrderReader, idem idempotency.Store) *Service {
	return &Service{
		validator: validator,
		factory:   factory,
		orders:    orders,
		idem:      idem,
	}
}

// Place validates the cart, reserves stock and creates the order. The
// returned flag reports whether the order was created by an earlier request
// carrying the same idempotency key.
func (s *Service) Place(ctx context.Context, req Request) (*order.Order, bool, error) {
	if req.IdempotencyKey == "" || s.idem == nil {
		o, err := s.place(ctx, req)
		return o, false, err
	}

	orderID, claimed, err := s.idem.Claim(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		o, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return nil, false, errors.Wrap(err, "replay checkout")
		}
		return o, true, nil
	}

	o, err := s.place(ctx, req)
	// Release or complete the claim even if the client went away.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		if aerr := s.idem.Abandon(ctx, req.IdempotencyKey); aerr != nil {
			zctx.From(ctx).Warn("Abandon idempotency key", zap.Error(aerr))
		}
		return nil, false, err
	}
	if cerr := s.idem.Complete(ctx, req.IdempotencyKey, o.ID); cerr != nil {
		zctx.From(ctx).Warn("Complete idempotency key",
			zap.String("order_id", o.ID), zap.Error(cerr))
	}
	return o, false, nil
}

func (s *Service) place(ctx context.Context, req Request) (*order.Order, error) {
	priced, err := s.validator.Validate(ctx, cart.Snapshot{Lines: cart.Dedupe(req.Lines)})
	if err != nil {
		return nil, err
	}
	return s.factory.Create(ctx, priced, req.Customer)
}
