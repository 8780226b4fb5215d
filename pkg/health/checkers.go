package health

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the result of p.Ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// ErrCheck adapts calls returning a status object with an Err method, such
// as the go-redis Ping command.
func ErrCheck[T interface{ Err() error }](call func(ctx context.Context) T) CheckFunc {
	return func(ctx context.Context) error {
		return call(ctx).Err()
	}
}

// GoroutineCountCheck fails when the goroutine count exceeds threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Heartbeat is beaten by background loops. A loop that stops beating fails
// its HeartbeatCheck.
type Heartbeat struct {
	last atomic.Int64
}

// Beat records the current time.
func (h *Heartbeat) Beat() {
	h.last.Store(time.Now().UnixNano())
}

// HeartbeatCheck fails when hb has not beaten within maxAge. A heartbeat
// that never beat passes, so a loop still starting up is not reported.
func HeartbeatCheck(hb *Heartbeat, maxAge time.Duration) CheckFunc {
	return func(_ context.Context) error {
		last := hb.last.Load()
		if last == 0 {
			return nil
		}
		if age := time.Since(time.Unix(0, last)); age > maxAge {
			return errors.Errorf("last heartbeat %s ago exceeds %s", age.Round(time.Second), maxAge)
		}
		return nil
	}
}
