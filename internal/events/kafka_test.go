package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-store/internal/domain/order"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func decodeFields(t *testing.T, data []byte) map[string]string {
	t.Helper()
	fields := map[string]string{}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		fields[key] = v
		return err
	})
	require.NoError(t, err)
	return fields
}

func TestEncode(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	fields := decodeFields(t, Encode(order.Event{
		ID:         "ev1",
		Type:       order.EventStatusChanged,
		OrderID:    "o1",
		OccurredAt: at,
		From:       "paid",
		To:         "processing",
		Trigger:    order.TriggerAdmin,
	}))
	assert.Equal(t, map[string]string{
		"id":          "ev1",
		"type":        "order.status_changed",
		"order_id":    "o1",
		"occurred_at": "2026-03-01T11:00:00Z",
		"from":        "paid",
		"to":          "processing",
		"trigger":     "admin",
	}, fields)

	fields = decodeFields(t, Encode(order.Event{
		ID:         "ev2",
		Type:       order.EventRefundRecorded,
		OrderID:    "o1",
		OccurredAt: at,
		To:         "completed",
		Amount:     decimal.RequireFromString("4.5"),
	}))
	assert.Equal(t, "4.50", fields["amount"])
	assert.NotContains(t, fields, "from")
	assert.NotContains(t, fields, "trigger")
}

func TestKafka_Publish(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{w: w}
	ctx := context.Background()

	require.NoError(t, k.Publish(ctx))
	assert.Empty(t, w.msgs)

	require.NoError(t, k.Publish(ctx,
		order.Event{ID: "a", Type: order.EventOrderCreated, OrderID: "o1"},
		order.Event{ID: "b", Type: order.EventStatusChanged, OrderID: "o2"},
	))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, []byte("o1"), w.msgs[0].Key)
	assert.Equal(t, []kafka.Header{{Key: "event-type", Value: []byte("order.created")}}, w.msgs[0].Headers)
	assert.Equal(t, []byte("o2"), w.msgs[1].Key)

	w.err = errors.New("broker down")
	err := k.Publish(ctx, order.Event{ID: "c", OrderID: "o3"})
	require.ErrorContains(t, err, "write messages")

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}
