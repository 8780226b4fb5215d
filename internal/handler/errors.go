package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/internal/domain/admin"
	"github.com/xenking/kart-store/internal/domain/auth"
	"github.com/xenking/kart-store/internal/domain/cart"
	"github.com/xenking/kart-store/internal/domain/inventory"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/payment"
	"github.com/xenking/kart-store/internal/domain/product"
	"github.com/xenking/kart-store/internal/domain/refund"
	"github.com/xenking/kart-store/internal/idempotency"
	"github.com/xenking/kart-store/pkg/httpmiddleware"
)

var (
	errNotFound      = errors.New("not found")
	errInvalidNumber = errors.New("invalid number")
)

// badRequestError wraps malformed input.
type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &badRequestError{err: err} }

// apiError is the mapped form of a domain error.
type apiError struct {
	status  int
	reason  string
	message string
	details func(e *jx.Encoder)
}

// classify maps an error to its HTTP representation.
func classify(err error) apiError {
	var (
		badReq      *badRequestError
		transition  *order.InvalidTransitionError
		short *inventory.InsufficientStockError
		quantity    *cart.InvalidQuantityError
		notFound    *product.NotFoundError
		amount      *refund.InvalidAmountError
	)
	switch {
	case errors.As(err, &badReq):
		return apiError{status: http.StatusBadRequest, reason: "bad_request", message: badReq.Error()}
	case errors.Is(err, errNotFound):
		return apiError{status: http.StatusNotFound, reason: "not_found", message: "resource not found"}
	case errors.Is(err, order.ErrNotFound):
		return apiError{status: http.StatusNotFound, reason: "order_not_found", message: err.Error()}
	case errors.Is(err, auth.ErrUnauthorized):
		return apiError{status: http.StatusUnauthorized, reason: "unauthorized", message: "unauthorized"}
	case errors.Is(err, auth.ErrForbidden):
		return apiError{status: http.StatusForbidden, reason: "forbidden", message: err.Error()}
	case errors.As(err, &transition):
		return apiError{
			status:  http.StatusConflict,
			reason:  "invalid_transition",
			message: transition.Error(),
			details: func(e *jx.Encoder) {
				e.Field("axis", func(e *jx.Encoder) { e.Str(string(transition.Axis)) })
				e.Field("from", func(e *jx.Encoder) { e.Str(transition.From) })
				e.Field("to", func(e *jx.Encoder) { e.Str(transition.To) })
				if transition.Reason != "" {
					e.Field("reason", func(e *jx.Encoder) { e.Str(transition.Reason) })
				}
			},
		}
	case errors.As(err, &short):
		return apiError{
			status:  http.StatusConflict,
			reason:  "insufficient_stock",
			message: short.Error(),
			details: func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(short.ProductID) })
				e.Field("requested", func(e *jx.Encoder) { e.Int(short.Requested) })
				e.Field("available", func(e *jx.Encoder) { e.Int(short.Available) })
			},
		}
	case errors.Is(err, order.ErrConcurrentModification):
		return apiError{status: http.StatusConflict, reason: "concurrent_modification", message: "order is being modified, retry the request"}
	case errors.Is(err, idempotency.ErrInProgress):
		return apiError{status: http.StatusConflict, reason: "request_in_progress", message: err.Error()}
	case errors.Is(err, cart.ErrEmptyCart):
		return apiError{status: http.StatusUnprocessableEntity, reason: "empty_cart", message: err.Error()}
	case errors.As(err, &quantity):
		return apiError{
			status:  http.StatusUnprocessableEntity,
			reason:  "invalid_quantity",
			message: quantity.Error(),
			details: func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(quantity.ProductID) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(quantity.Quantity) })
			},
		}
	case errors.As(err, &notFound):
		return apiError{
			status:  http.StatusUnprocessableEntity,
			reason:  "product_not_found",
			message: notFound.Error(),
			details: func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(notFound.ProductID) })
			},
		}
	case errors.As(err, &amount):
		return apiError{
			status:  http.StatusUnprocessableEntity,
			reason:  "invalid_amount",
			message: amount.Error(),
			details: func(e *jx.Encoder) {
				e.Field("amount", func(e *jx.Encoder) { encodeMoney(e, amount.Amount) })
				e.Field("refundable", func(e *jx.Encoder) { encodeMoney(e, amount.Refundable) })
			},
		}
	case errors.Is(err, admin.ErrUnknownTarget):
		return apiError{status: http.StatusUnprocessableEntity, reason: "invalid_target", message: err.Error()}
	case errors.Is(err, payment.ErrPaymentDeclined):
		return apiError{status: http.StatusPaymentRequired, reason: "payment_declined", message: err.Error()}
	case errors.Is(err, payment.ErrRefundDeclined):
		return apiError{status: http.StatusPaymentRequired, reason: "refund_declined", message: err.Error()}
	case errors.Is(err, payment.ErrAdapter):
		return apiError{status: http.StatusBadGateway, reason: "payment_gateway_error", message: "payment gateway unavailable"}
	default:
		return apiError{status: http.StatusInternalServerError, reason: "internal", message: "internal server error"}
	}
}

// writeError renders err as {"code", "reason", "message", "details"}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	lg := zctx.From(r.Context())
	switch {
	case ae.status == http.StatusBadGateway:
		lg.Warn("Payment gateway failure", zap.Error(err))
	case ae.status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Error(err))
	default:
		lg.Debug("Request rejected", zap.Int("status", ae.status), zap.Error(err))
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(ae.status) })
		e.Field("reason", func(e *jx.Encoder) { e.Str(ae.reason) })
		e.Field("message", func(e *jx.Encoder) { e.Str(ae.message) })
		if ae.details != nil {
			e.Field("details", func(e *jx.Encoder) { e.Obj(ae.details) })
		}
		if id := httpmiddleware.RequestIDFromContext(r.Context()); id != "" {
			e.Field("requestId", func(e *jx.Encoder) { e.Str(id) })
		}
	})
	writeJSON(w, ae.status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
