package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-store/internal/domain/checkout"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/payment"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
)

// placeOrder validates the cart snapshot, reserves stock and creates a
// PendingPayment order. A repeated Idempotency-Key returns the original
// order with 200 instead of 201.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	req := checkout.Request{IdempotencyKey: r.Header.Get(idempotencyKeyHeader)}
	if err := decodeBody(w, r, func(d *jx.Decoder) error {
		return decodeCheckout(d, &req)
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, replayed, err := h.checkout.Place(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		w.Header().Set(replayedHeader, "true")
		status = http.StatusOK
	}
	writeOrder(w, status, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// payOrder charges the order synchronously.
func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Pay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// paymentCallback applies a charge outcome reported by the gateway.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeBody(w, r, func(d *jx.Decoder) error {
		return decodeCallback(d, &req)
	}); err != nil {
		writeError(w, r, err)
		return
	}

	outcome := order.ChargeOutcome{ExternalRef: req.ExternalRef}
	switch req.Status {
	case "succeeded":
		if req.ExternalRef == "" {
			writeError(w, r, badRequest(errors.New("externalRef is required for a succeeded charge")))
			return
		}
	case "failed":
		msg := req.Message
		if msg == "" {
			msg = "gateway reported failure"
		}
		outcome.Err = errors.Wrap(payment.ErrPaymentDeclined, msg)
	default:
		writeError(w, r, badRequest(errors.Errorf("unknown charge status %q", req.Status)))
		return
	}
	if req.OrderID == "" {
		writeError(w, r, badRequest(errors.New("orderId is required")))
		return
	}

	o, err := h.orders.ApplyCharge(r.Context(), req.OrderID, outcome)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}
