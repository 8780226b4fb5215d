package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-store/internal/domain/payment"
)

// SandboxConfig controls which calls the sandbox rejects.
type SandboxConfig struct {
	// ChargeLimit declines charges above it. Zero means no limit.
	ChargeLimit decimal.Decimal
	// DeclineRefunds declines every refund.
	DeclineRefunds bool
}

// Sandbox is an in-process gateway. Calls with a repeated idempotency key
// return the first outcome.
type Sandbox struct {
	cfg SandboxConfig

	mu       sync.Mutex
	outcomes map[string]sandboxOutcome
	captured map[string]decimal.Decimal
	refunded map[string]decimal.Decimal
}

type sandboxOutcome struct {
	res payment.Result
	err error
}

var _ payment.Adapter = (*Sandbox)(nil)

// NewSandbox creates a Sandbox.
func NewSandbox(cfg SandboxConfig) *Sandbox {
	return &Sandbox{
		cfg:      cfg,
		outcomes: make(map[string]sandboxOutcome),
		captured: make(map[string]decimal.Decimal),
		refunded: make(map[string]decimal.Decimal),
	}
}

func (s *Sandbox) Charge(ctx context.Context, req payment.ChargeRequest) (payment.Result, error) {
	if err := ctx.Err(); err != nil {
		return payment.Result{}, errors.Wrap(payment.ErrAdapter, err.Error())
	}
	return s.once(req.IdempotencyKey, func() (payment.Result, error) {
		if !req.Amount.IsPositive() {
			return payment.Result{}, errors.Wrapf(payment.ErrPaymentDeclined, "amount %s", req.Amount)
		}
		if !s.cfg.ChargeLimit.IsZero() && req.Amount.GreaterThan(s.cfg.ChargeLimit) {
			return payment.Result{}, errors.Wrapf(payment.ErrPaymentDeclined,
				"amount %s above limit %s", req.Amount, s.cfg.ChargeLimit)
		}
		ref := "ch_" + uuid.New().String()
		s.captured[ref] = req.Amount
		return payment.Result{ExternalRef: ref}, nil
	})
}

func (s *Sandbox) Refund(ctx context.Context, req payment.RefundRequest) (payment.Result, error) {
	if err := ctx.Err(); err != nil {
		return payment.Result{}, errors.Wrap(payment.ErrAdapter, err.Error())
	}
	return s.once(req.IdempotencyKey, func() (payment.Result, error) {
		if s.cfg.DeclineRefunds {
			return payment.Result{}, errors.Wrap(payment.ErrRefundDeclined, "refunds disabled")
		}
		captured, ok := s.captured[req.ChargeRef]
		if !ok {
			return payment.Result{}, errors.Wrapf(payment.ErrRefundDeclined, "unknown charge %q", req.ChargeRef)
		}
		left := captured.Sub(s.refunded[req.ChargeRef])
		if req.Amount.GreaterThan(left) {
			return payment.Result{}, errors.Wrapf(payment.ErrRefundDeclined,
				"amount %s above refundable %s", req.Amount, left)
		}
		s.refunded[req.ChargeRef] = s.refunded[req.ChargeRef].Add(req.Amount)
		return payment.Result{ExternalRef: fmt.Sprintf("re_%s", uuid.New().String())}, nil
	})
}

func (s *Sandbox) once(key string, fn func() (payment.Result, error)) (payment.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key != "" {
		if o, ok := s.outcomes[key]; ok {
			return o.res, o.err
		}
	}
	res, err := fn()
	if key != "" {
		s.outcomes[key] = sandboxOutcome{res: res, err: err}
	}
	return res, err
}
