package order

import (
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Option configures Factory and Service.
type Option func(*options)

type options struct {
	publisher Publisher
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		publisher: nopPublisher{},
		tracer:    tracenoop.NewTracerProvider().Tracer(""),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics, _ = NewMetrics(metricnoop.NewMeterProvider())
	}
	return o
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer("github.com/xenking/kart-store/internal/domain/order")
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
