package payment

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// GuardConfig bounds every adapter call.
type GuardConfig struct {
	// Timeout applies to each attempt separately.
	Timeout time.Duration
	// MaxAttempts caps the number of attempts for transient failures.
	MaxAttempts uint
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// Guard wraps an Adapter with per-attempt timeouts and bounded retries of
// transient failures. Declines are returned immediately. A timed out attempt
// is reported as ErrAdapter, never as success.
type Guard struct {
	next Adapter
	cfg  GuardConfig
}

var _ Adapter = (*Guard)(nil)

// NewGuard wraps next with the given limits.
func NewGuard(next Adapter, cfg GuardConfig) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	return &Guard{next: next, cfg: cfg}
}

// Charge implements Adapter.
func (g *Guard) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	return g.do(ctx, "charge", req.OrderID, func(ctx context.Context) (Result, error) {
		return g.next.Charge(ctx, req)
	})
}

// Refund implements Adapter.
func (g *Guard) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	return g.do(ctx, "refund", req.OrderID, func(ctx context.Context) (Result, error) {
		return g.next.Refund(ctx, req)
	})
}

func (g *Guard) do(ctx context.Context, op, orderID string, call func(ctx context.Context) (Result, error)) (Result, error) {
	lg := zctx.From(ctx).With(zap.String("op", op), zap.String("order_id", orderID))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.InitialBackoff

	attempt := 0
	res, err := backoff.Retry(ctx, func() (Result, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		res, err := call(attemptCtx)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = errors.Wrapf(ErrAdapter, "%s timed out after %s", op, g.cfg.Timeout)
		}
		if !IsTransient(err) {
			return Result{}, backoff.Permanent(err)
		}
		lg.Warn("Payment adapter call failed", zap.Int("attempt", attempt), zap.Error(err))
		return Result{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(g.cfg.MaxAttempts),
	)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrAdapter) {
			// Parent context gave up; still a failed call, not an unknown one.
			return Result{}, errors.Wrapf(ErrAdapter, "%s aborted: %v", op, err)
		}
		return Result{}, err
	}
	return res, nil
}
