package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-storefront/internal/domain/checkout"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	req := checkout.CheckoutRequest{
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "customerName":
			dst = &req.CustomerName
		case "customerEmail":
			dst = &req.CustomerEmail
		case "customerPhone":
			dst = &req.CustomerPhone
		case "shippingAddress":
			dst = &req.ShippingAddress
		case "paymentMethod":
			dst = &req.PaymentMethod
		case "notes":
			dst = &req.Notes
		default:
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := d.Str()
		*dst = v
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	receipt, err := h.checkout.Checkout(r.Context(), SessionID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeReceipt(e, receipt) })
}
