package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the order engine instruments.
type Metrics struct {
	created     metric.Int64Counter
	rejected    metric.Int64Counter
	transitions metric.Int64Counter
}

// NewMetrics creates the instruments from the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("github.com/xenking/kart-store/internal/domain/order")

	created, err := meter.Int64Counter("kart.orders.created",
		metric.WithDescription("Orders created by checkout"))
	if err != nil {
		return nil, errors.Wrap(err, "orders created counter")
	}
	rejected, err := meter.Int64Counter("kart.checkout.rejected",
		metric.WithDescription("Checkouts rejected during stock reservation"))
	if err != nil {
		return nil, errors.Wrap(err, "checkout rejected counter")
	}
	transitions, err := meter.Int64Counter("kart.orders.transitions",
		metric.WithDescription("Committed order state transitions"))
	if err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}

	return &Metrics{
		created:     created,
		rejected:    rejected,
		transitions: transitions,
	}, nil
}

func (m *Metrics) orderCreated(ctx context.Context) {
	m.created.Add(ctx, 1)
}

func (m *Metrics) checkoutRejected(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) transitioned(ctx context.Context, ts []Transition) {
	for _, t := range ts {
		m.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("axis", string(t.Axis)),
			attribute.String("to", t.To),
			attribute.String("trigger", string(t.Trigger)),
		))
	}
}
