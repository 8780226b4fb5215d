package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-store/internal/domain/product"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list products"))
		return
	}
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, p := range products {
			encodeProduct(e, p)
		}
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			err = errNotFound
		}
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeProduct(&e, *p)
	writeJSON(w, http.StatusOK, e.Bytes())
}
