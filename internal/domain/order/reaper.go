package order

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Reaper periodically cancels PendingPayment orders whose payment never
// arrived, returning their reserved stock.
type Reaper struct {
	svc      *Service
	ttl      time.Duration
	interval time.Duration
	batch    int
	// OnPass is called after every completed pass.
	OnPass func()
}

// NewReaper creates a Reaper expiring orders older than ttl every interval.
func NewReaper(svc *Service, ttl, interval time.Duration) *Reaper {
	return &Reaper{svc: svc, ttl: ttl, interval: interval, batch: 100}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	lg := zctx.From(ctx).Named("reaper")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.svc.ExpirePending(ctx, r.ttl, r.batch)
			if err != nil {
				lg.Error("Expire pending orders", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("Expired pending orders", zap.Int("count", n))
			}
			if r.OnPass != nil {
				r.OnPass()
			}
		}
	}
}
