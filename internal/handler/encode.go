package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

const maxBodyBytes = 64 << 10

var errBadBody = errors.New("malformed request body")

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeObject walks the top-level fields of a JSON object body.
func decodeObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 512)
	if err := d.Obj(fn); err != nil {
		return errors.Wrap(errBadBody, err.Error())
	}
	return nil
}

// rawScalar reads a string or number field verbatim so lenient parsers can
// interpret it. Anything else reads as "".
func rawScalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		return string(n), err
	default:
		return "", d.Skip()
	}
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func (h *Handler) imageURL(path string) string {
	if path == "" {
		return ""
	}
	return h.cfg.ImageBaseURL + path
}

func (h *Handler) encodeLine(e *jx.Encoder, l cart.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("productName", func(e *jx.Encoder) { e.Str(l.ProductName) })
		e.Field("price", func(e *jx.Encoder) { money(e, l.UnitPrice) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("total", func(e *jx.Encoder) { money(e, l.Total()) })
		if l.Image != "" {
			e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(l.Image)) })
		}
	})
}

func (h *Handler) encodeView(e *jx.Encoder, v *checkout.View) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range v.Cart.Lines {
					h.encodeLine(e, l)
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, v.Summary.Subtotal) })
		e.Field("itemCount", func(e *jx.Encoder) { e.Int(v.Summary.ItemCount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(v.Currency.String()) })
	})
}

func encodeReceipt(e *jx.Encoder, rc *checkout.Receipt) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(rc.OrderID) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(rc.OrderNumber) })
		e.Field("status", func(e *jx.Encoder) { e.Str(rc.Status.String()) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, rc.Subtotal) })
		e.Field("itemCount", func(e *jx.Encoder) { e.Int(rc.ItemCount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(rc.Currency.String()) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(rc.CreatedAt.UTC().Format(time.RFC3339)) })
	})
}

// encodeOrder writes the public view of an order. Customer contact details
// are never included.
func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("status", func(e *jx.Encoder) { e.Str(o.Status.String()) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("productName", func(e *jx.Encoder) { e.Str(it.ProductName) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { money(e, it.UnitPrice) })
						if it.Image != "" {
							e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(it.Image)) })
						}
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency.String()) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		e.Field("updatedAt", func(e *jx.Encoder) { e.Str(o.UpdatedAt.UTC().Format(time.RFC3339)) })
	})
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(p.ImageOrDefault())) })
		if p.Description != "" {
			e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		}
		e.Field("inStock", func(e *jx.Encoder) { e.Bool(p.Stock > 0) })
		e.Field("featured", func(e *jx.Encoder) { e.Bool(p.Featured) })
	})
}
