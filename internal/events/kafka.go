// Package events delivers order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-store/internal/domain/order"
)

// DefaultTopic receives every order lifecycle event.
const DefaultTopic = "kart.order-events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events keyed by order id, so one order's events stay in
// one partition and keep their commit order.
type Kafka struct {
	w messageWriter
}

var _ order.Publisher = (*Kafka)(nil)

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// Publish writes events synchronously.
func (k *Kafka) Publish(ctx context.Context, events ...order.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		msgs[i] = kafka.Message{
			Key:   []byte(e.OrderID),
			Value: Encode(e),
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(e.Type)},
			},
		}
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.w.Close()
}

// Encode renders an event as JSON.
func Encode(ev order.Event) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(ev.ID) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(ev.Type)) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(ev.OrderID) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		if ev.From != "" {
			e.Field("from", func(e *jx.Encoder) { e.Str(ev.From) })
		}
		if ev.To != "" {
			e.Field("to", func(e *jx.Encoder) { e.Str(ev.To) })
		}
		if ev.Trigger != "" {
			e.Field("trigger", func(e *jx.Encoder) { e.Str(string(ev.Trigger)) })
		}
		if !ev.Amount.IsZero() {
			e.Field("amount", func(e *jx.Encoder) { e.Str(ev.Amount.StringFixed(2)) })
		}
	})
	return e.Bytes()
}
