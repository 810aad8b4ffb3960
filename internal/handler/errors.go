package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/pkg/httpmiddleware"
)

// writeError maps domain errors to HTTP responses. Unknown errors are logged
// and reported as 500 without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		customerErr *checkout.InvalidCustomerInfoError
		reviewErr   *checkout.NeedsReviewError
		cartErr     *checkout.InvalidCartError
		persistErr  *checkout.PersistenceFailedError
		stockErr    *order.InsufficientStockError
	)

	switch {
	case errors.Is(err, errBadBody):
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkout.ErrEmptyCart):
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &customerErr):
		writeJSON(w, http.StatusUnprocessableEntity, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				errorFields(e, http.StatusUnprocessableEntity, customerErr.Error())
				e.Field("fields", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, f := range customerErr.Fields {
							e.Obj(func(e *jx.Encoder) {
								e.Field("field", func(e *jx.Encoder) { e.Str(f.Field) })
								e.Field("message", func(e *jx.Encoder) { e.Str(f.Message) })
							})
						}
					})
				})
			})
		})
	case errors.As(err, &cartErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, cartErr.Error())
	case errors.As(err, &reviewErr):
		view := &checkout.View{
			Cart:     reviewErr.Cart,
			Summary:  cart.Totals(reviewErr.Cart),
			Currency: h.checkout.Currency(),
		}
		writeJSON(w, http.StatusConflict, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				errorFields(e, http.StatusConflict, reviewErr.Error())
				e.Field("issues", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, is := range reviewErr.Issues {
							e.Obj(func(e *jx.Encoder) {
								e.Field("productId", func(e *jx.Encoder) { e.Str(is.ProductID) })
								e.Field("kind", func(e *jx.Encoder) { e.Str(string(is.Kind)) })
								if is.Detail != "" {
									e.Field("detail", func(e *jx.Encoder) { e.Str(is.Detail) })
								}
							})
						}
					})
				})
				e.Field("cart", func(e *jx.Encoder) { h.encodeView(e, view) })
			})
		})
	case errors.As(err, &stockErr):
		httpmiddleware.WriteError(w, http.StatusConflict, stockErr.Error())
	case errors.As(err, &persistErr):
		zctx.From(r.Context()).Error("Order not persisted",
			zap.Error(err),
			zap.Bool("unknown_outcome", persistErr.UnknownOutcome),
		)
		writeJSON(w, http.StatusServiceUnavailable, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				errorFields(e, http.StatusServiceUnavailable, "order could not be placed, please retry")
				e.Field("unknownOutcome", func(e *jx.Encoder) { e.Bool(persistErr.UnknownOutcome) })
			})
		})
	case errors.Is(err, product.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, order.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, "order not found")
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

func errorFields(e *jx.Encoder, code int, message string) {
	e.Field("code", func(e *jx.Encoder) { e.Int(code) })
	e.Field("message", func(e *jx.Encoder) { e.Str(message) })
}
