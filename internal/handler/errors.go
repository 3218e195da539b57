package handler

import (
	"net/http"
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/stock"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/domain/validation"
)

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var (
		invariant  *order.InvariantError
		transition *order.InvalidTransitionError
		payTrans   *payment.InvalidTransitionError
	)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, product.ErrVariantNotFound),
		errors.Is(err, product.ErrPrototypeNotFound),
		errors.Is(err, payment.ErrMethodNotFound),
		errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &invariant),
		errors.As(err, &transition),
		errors.As(err, &payTrans),
		errors.Is(err, order.ErrCompleted),
		errors.Is(err, order.ErrCanceled),
		errors.Is(err, order.ErrStale):
		return http.StatusConflict
	case errors.Is(err, promotion.ErrInvalidCode),
		errors.Is(err, promotion.ErrNotEligible),
		errors.Is(err, promotion.ErrExpired),
		errors.Is(err, promotion.ErrUsageLimitReached),
		errors.Is(err, stock.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	}
	if _, ok := validation.From(err); ok {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": {"code", "message", "errors"}}.
// Internal errors are logged and their message hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	fields, _ := validation.From(err)

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("code", func(e *jx.Encoder) { e.Int(status) })
					e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
					if len(fields) > 0 {
						e.Field("errors", func(e *jx.Encoder) { encodeFieldErrors(e, fields) })
					}
				})
			})
		})
	})
}

func encodeFieldErrors(e *jx.Encoder, errs validation.Errors) {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.ObjStart()
	for _, k := range keys {
		e.FieldStart(k)
		e.ArrStart()
		for _, m := range errs[k] {
			e.Str(m)
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}
