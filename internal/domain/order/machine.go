package order

import (
	"fmt"
	"slices"
)

// Effect is a side effect bound to a transition. Effects run in the same
// transaction as the state change.
type Effect uint8

const (
	EffectNone Effect = iota
	// EffectReleaseStock returns held stock to the ledger.
	EffectReleaseStock
	// EffectFulfilStock moves held stock out of the reserved pool.
	EffectFulfilStock
	// EffectSyncPaid advances status PendingPayment -> Paid together with
	// paymentStatus Unpaid -> Paid, so the pair is never observed apart.
	EffectSyncPaid
)

type rule struct {
	triggers []Trigger
	// guard returns a non-empty reason when the transition must be refused.
	guard  func(o *Order) string
	effect Effect
}

type statusEdge struct{ from, to Status }

type paymentEdge struct{ from, to PaymentStatus }

// statusRules is the complete fulfilment transition table. Pairs not listed
// here are illegal.
var statusRules = map[statusEdge]rule{
	{StatusPendingPayment, StatusPaid}: {
		triggers: []Trigger{TriggerCharge, TriggerAdmin},
		guard:    paymentIs(PaymentPaid),
	},
	{StatusPaid, StatusProcessing}: {
		triggers: []Trigger{TriggerAdmin},
	},
	{StatusProcessing, StatusShipped}: {
		triggers: []Trigger{TriggerAdmin},
		effect:   EffectFulfilStock,
	},
	{StatusShipped, StatusDelivered}: {
		triggers: []Trigger{TriggerAdmin},
	},
	{StatusPendingPayment, StatusCancelled}: {
		triggers: []Trigger{TriggerAdmin, TriggerCancel, TriggerTimeout},
		guard:    paymentIs(PaymentUnpaid, PaymentFailed),
		effect:   EffectReleaseStock,
	},
	{StatusPaid, StatusCancelled}: {
		triggers: []Trigger{TriggerCancel},
		guard:    paymentIs(PaymentRefunded),
		effect:   EffectReleaseStock,
	},
}

// paymentRules is the complete payment transition table.
var paymentRules = map[paymentEdge]rule{
	{PaymentUnpaid, PaymentPaid}: {
		triggers: []Trigger{TriggerCharge, TriggerAdmin},
		guard:    statusIs(StatusPendingPayment),
		effect:   EffectSyncPaid,
	},
	{PaymentUnpaid, PaymentFailed}: {
		triggers: []Trigger{TriggerCharge, TriggerAdmin},
		guard:    statusIs(StatusPendingPayment),
		effect:   EffectReleaseStock,
	},
	{PaymentPaid, PaymentPartiallyRefunded}: {
		triggers: []Trigger{TriggerRefund},
	},
	{PaymentPaid, PaymentRefunded}: {
		triggers: []Trigger{TriggerRefund},
	},
	{PaymentPartiallyRefunded, PaymentRefunded}: {
		triggers: []Trigger{TriggerRefund},
	},
}

func paymentIs(allowed ...PaymentStatus) func(o *Order) string {
	return func(o *Order) string {
		if slices.Contains(allowed, o.PaymentStatus) {
			return ""
		}
		return fmt.Sprintf("payment status is %s", o.PaymentStatus)
	}
}

func statusIs(allowed ...Status) func(o *Order) string {
	return func(o *Order) string {
		if slices.Contains(allowed, o.Status) {
			return ""
		}
		return fmt.Sprintf("order status is %s", o.Status)
	}
}

// CanTransitionStatus reports whether from -> to appears in the table,
// ignoring triggers and guards.
func CanTransitionStatus(from, to Status) bool {
	_, ok := statusRules[statusEdge{from, to}]
	return ok
}

// CanTransitionPayment reports whether from -> to appears in the table,
// ignoring triggers and guards.
func CanTransitionPayment(from, to PaymentStatus) bool {
	_, ok := paymentRules[paymentEdge{from, to}]
	return ok
}

// CheckStatus validates moving o to status to on behalf of trig and returns
// the effect that must accompany the change.
func CheckStatus(o *Order, to Status, trig Trigger) (Effect, error) {
	r, ok := statusRules[statusEdge{o.Status, to}]
	return check(r, ok, o, trig, &InvalidTransitionError{
		Axis: AxisStatus,
		From: string(o.Status),
		To:   string(to),
	})
}

// CheckPayment validates moving o to payment status to on behalf of trig.
func CheckPayment(o *Order, to PaymentStatus, trig Trigger) (Effect, error) {
	r, ok := paymentRules[paymentEdge{o.PaymentStatus, to}]
	return check(r, ok, o, trig, &InvalidTransitionError{
		Axis: AxisPayment,
		From: string(o.PaymentStatus),
		To:   string(to),
	})
}

func check(r rule, ok bool, o *Order, trig Trigger, rejected *InvalidTransitionError) (Effect, error) {
	if !ok {
		return EffectNone, rejected
	}
	if !slices.Contains(r.triggers, trig) {
		rejected.Reason = fmt.Sprintf("not allowed for trigger %s", trig)
		return EffectNone, rejected
	}
	if r.guard != nil {
		if reason := r.guard(o); reason != "" {
			rejected.Reason = reason
			return EffectNone, rejected
		}
	}
	return r.effect, nil
}
