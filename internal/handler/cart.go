package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/checkout"
)

func (h *Handler) viewCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.checkout.ViewCart(r.Context(), SessionID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeView(w, http.StatusOK, v)
}

// addItem accepts {"productId": "...", "quantity": n}. Quantity may be a
// number or a string; anything unusable becomes 1.
func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var (
		req         checkout.AddItemRequest
		rawQuantity string
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			req.ProductID, err = d.Str()
		case "quantity":
			rawQuantity, err = rawScalar(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ProductID == "" {
		h.writeError(w, r, errors.Wrap(errBadBody, "productId is required"))
		return
	}
	req.Quantity = cart.ParseQuantity(rawQuantity)

	v, err := h.checkout.AddItem(r.Context(), SessionID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeView(w, http.StatusOK, v)
}

// setQuantity accepts {"quantity": n}; zero or less removes the line.
func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var rawQuantity string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		var err error
		rawQuantity, err = rawScalar(d)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.checkout.SetQuantity(r.Context(), SessionID(r.Context()), checkout.SetQuantityRequest{
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  cart.ParseSetQuantity(rawQuantity),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeView(w, http.StatusOK, v)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	v, err := h.checkout.RemoveItem(r.Context(), SessionID(r.Context()), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeView(w, http.StatusOK, v)
}

func (h *Handler) writeView(w http.ResponseWriter, status int, v *checkout.View) {
	writeJSON(w, status, func(e *jx.Encoder) { h.encodeView(e, v) })
}
