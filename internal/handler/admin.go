package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-store/internal/domain/order"
)

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := order.ListFilter{
		Status:        order.Status(q.Get("status")),
		PaymentStatus: order.PaymentStatus(q.Get("paymentStatus")),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, r, badRequest(errors.Errorf("invalid %s %q", name, raw)))
			return
		}
		*dst = v
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, r, badRequest(errors.Errorf("unknown status %q", filter.Status)))
		return
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		writeError(w, r, badRequest(errors.Errorf("unknown payment status %q", filter.PaymentStatus)))
		return
	}

	orders, err := h.admin.ListOrders(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.admin.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) adminChangeStatus(w http.ResponseWriter, r *http.Request) {
	var target string
	if err := decodeBody(w, r, func(d *jx.Decoder) error {
		return decodeStringField(d, "status", &target)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.admin.ChangeOrderStatus(r.Context(), chi.URLParam(r, "id"), order.Status(target))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) adminChangePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var target string
	if err := decodeBody(w, r, func(d *jx.Decoder) error {
		return decodeStringField(d, "paymentStatus", &target)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.admin.ChangePaymentStatus(r.Context(), chi.URLParam(r, "id"), order.PaymentStatus(target))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) adminProcessRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeBody(w, r, func(d *jx.Decoder) error {
		return decodeRefund(d, &req)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.admin.ProcessRefund(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) adminListRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := h.admin.ListRefunds(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, rf := range refunds {
			encodeRefund(e, rf)
		}
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) adminCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.admin.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}
