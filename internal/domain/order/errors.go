package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrConcurrentModification is returned when a per-order or per-product
	// lock could not be obtained in time or a serialization conflict was
	// detected. The whole operation may be retried.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// InvalidTransitionError reports a rejected state change.
type InvalidTransitionError struct {
	Axis Axis
	From string
	To   string
	// Reason is set when the pair exists in the table but a guard failed.
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid %s transition from %s to %s", e.Axis, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
