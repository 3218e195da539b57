package handler

import (
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/domain/validation"
)

// listOrders returns orders filtered by ?scope=complete|incomplete. Keys
// bound to a customer only see that customer's orders.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := order.Filter{Scope: order.Scope(q.Get("scope"))}
	switch f.Scope {
	case order.ScopeAll, order.ScopeComplete, order.ScopeIncomplete:
	default:
		writeError(w, r, validation.Errors{"scope": {"is invalid"}})
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, validation.Errors{"limit": {"must be a non-negative integer"}})
			return
		}
		f.Limit = n
	}
	if info, ok := auth.FromContext(r.Context()); ok && !info.HasScope(auth.ScopeAdmin) {
		f.UserID = info.UserID
	} else {
		f.UserID = q.Get("user_id")
	}

	orders, err := h.orders.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "email":
			req.Email, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if info, ok := auth.FromContext(r.Context()); ok {
		req.UserID = info.UserID
	}
	o, err := h.orders.Create(r.Context(), req)
	respondOrder(w, r, http.StatusCreated, o, err)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "number"))
	respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) addLineItem(w http.ResponseWriter, r *http.Request) {
	var req order.AddLineItemRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "variant_id":
			req.VariantID, err = d.Str()
		case "quantity":
			req.Quantity, err = d.Int()
		case "options":
			req.Options, err = decodeStringMap(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.AddLineItem(r.Context(), chi.URLParam(r, "number"), req)
	respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) emptyOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Empty(r.Context(), chi.URLParam(r, "number"))
	respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) setAddress(w http.ResponseWriter, r *http.Request) {
	var req order.AddressRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "email":
			req.Email, err = d.Str()
		case "bill_address":
			req.BillAddress, err = decodeAddress(d)
		case "ship_address":
			req.ShipAddress, err = decodeAddress(d)
		case "use_billing":
			req.UseBilling, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.UseBilling && req.BillAddress == nil {
		writeError(w, r, validation.Errors{"bill_address": {"can't be blank"}})
		return
	}
	o, err := h.orders.SetAddress(r.Context(), chi.URLParam(r, "number"), req)
	respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) createShipment(w http.ResponseWriter, r *http.Request) {
	var req order.ShipmentRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "stock_location_id":
			req.StockLocationID, err = d.Str()
		case "cost":
			req.Cost, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.CreateShipment(r.Context(), chi.URLParam(r, "number"), req)
	respondOrder(w, r, http.StatusOK, o, err)
}

// setShipmentsCost accepts {"costs": {"<shipment id>": "5.00"}}.
func (h *Handler) setShipmentsCost(w http.ResponseWriter, r *http.Request) {
	costs := map[string]decimal.Decimal{}
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "costs" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, id string) error {
			cost, err := decodeDecimal(d)
			costs[id] = cost
			return err
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.SetShipmentsCost(r.Context(), chi.URLParam(r, "number"), costs)
	respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) addPayments(w http.ResponseWriter, r *http.Request) {
	var attrs []order.PaymentAttributes
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "payments" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var a order.PaymentAttributes
			err := d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "payment_method_id":
					a.PaymentMethodID, err = d.Str()
				case "amount":
					a.Amount, err = decodeDecimal(d)
				default:
					err = d.Skip()
				}
				return err
			})
			attrs = append(attrs, a)
			return err
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	attrs, err = h.orders.ValidatePaymentsAttributes(r.Context(), attrs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.AddPayments(r.Context(), chi.URLParam(r, "number"), attrs)
	respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var code string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		code, err = d.Str()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if code == "" {
		writeError(w, r, validation.Errors{"code": {"can't be blank"}})
		return
	}
	o, err := h.orders.ApplyCoupon(r.Context(), chi.URLParam(r, "number"), code)
	respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) nextState(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Next(r.Context(), chi.URLParam(r, "number"))
	respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) restartCheckout(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.RestartCheckoutFlow(r.Context(), chi.URLParam(r, "number"))
	respondOrder(w, r, http.StatusOK, o, err)
}

// cancelOrder cancels the order on behalf of the key's user when the key has
// one, recording them as the canceler.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	var (
		o   *order.Order
		err error
	)
	if info, ok := auth.FromContext(r.Context()); ok && info.UserID != "" {
		o, err = h.orders.CanceledBy(r.Context(), number, info.UserID)
	} else {
		o, err = h.orders.Cancel(r.Context(), number)
	}
	respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) resumeOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Resume(r.Context(), chi.URLParam(r, "number"))
	respondOrder(w, r, http.StatusOK, o, err)
}

// associateUser attaches a user to the order. Non-admin keys may only attach
// the user they are bound to.
func (h *Handler) associateUser(w http.ResponseWriter, r *http.Request) {
	var (
		userID        string
		overrideEmail = true
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "user_id":
			userID, err = d.Str()
		case "override_email":
			overrideEmail, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if userID == "" {
		writeError(w, r, validation.Errors{"user_id": {"can't be blank"}})
		return
	}
	if info, ok := auth.FromContext(r.Context()); !ok || (!info.HasScope(auth.ScopeAdmin) && info.UserID != userID) {
		writeError(w, r, errors.Wrap(errForbidden, "only the key's own user can be associated"))
		return
	}
	o, err := h.orders.AssociateUser(r.Context(), chi.URLParam(r, "number"), userID, overrideEmail)
	respondOrder(w, r, http.StatusOK, o, err)
}

func respondOrder(w http.ResponseWriter, r *http.Request, status int, o *order.Order, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func decodeAddress(d *jx.Decoder) (*user.Address, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	a := &user.Address{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var (
			dst *string
			err error
		)
		switch key {
		case "firstname":
			dst = &a.FirstName
		case "lastname":
			dst = &a.LastName
		case "address1":
			dst = &a.Address1
		case "address2":
			dst = &a.Address2
		case "city":
			dst = &a.City
		case "zipcode":
			dst = &a.ZipCode
		case "phone":
			dst = &a.Phone
		case "state":
			dst = &a.State
		case "country":
			dst = &a.Country
		default:
			return d.Skip()
		}
		*dst, err = d.Str()
		return err
	})
	return a, err
}

func encodeAddress(e *jx.Encoder, name string, a *user.Address) {
	e.FieldStart(name)
	if a == nil {
		e.Null()
		return
	}
	e.ObjStart()
	for _, f := range []struct{ k, v string }{
		{"firstname", a.FirstName},
		{"lastname", a.LastName},
		{"address1", a.Address1},
		{"address2", a.Address2},
		{"city", a.City},
		{"zipcode", a.ZipCode},
		{"phone", a.Phone},
		{"state", a.State},
		{"country", a.Country},
	} {
		e.FieldStart(f.k)
		e.Str(f.v)
	}
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
	e.Field("number", func(e *jx.Encoder) { e.Str(o.Number) })
	e.Field("state", func(e *jx.Encoder) { e.Str(string(o.State)) })
	encodeOptString(e, "payment_state", string(o.PaymentState))
	encodeOptString(e, "email", o.Email)
	encodeOptString(e, "user_id", o.UserID)
	encodeOptString(e, "canceler_id", o.CancelerID)
	e.Field("guest_token", func(e *jx.Encoder) { e.Str(o.GuestToken) })
	e.Field("item_count", func(e *jx.Encoder) { e.Int(o.ItemCount) })
	encodeMoney(e, "item_total", o.ItemTotal)
	encodeMoney(e, "promo_total", o.PromoTotal)
	encodeMoney(e, "shipment_total", o.ShipmentTotal)
	encodeMoney(e, "additional_tax_total", o.AdditionalTaxTotal)
	encodeMoney(e, "included_tax_total", o.IncludedTaxTotal)
	encodeMoney(e, "payment_total", o.PaymentTotal)
	encodeMoney(e, "total", o.Total)
	encodeAddress(e, "bill_address", o.BillAddress)
	encodeAddress(e, "ship_address", o.ShipAddress)
	encodeTime(e, "completed_at", o.CompletedAt)
	encodeTime(e, "canceled_at", o.CanceledAt)

	e.FieldStart("line_items")
	e.ArrStart()
	for i := range o.LineItems {
		li := &o.LineItems[i]
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(li.ID) })
			e.Field("variant_id", func(e *jx.Encoder) { e.Str(li.VariantID) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(li.Quantity) })
			encodeMoney(e, "price", li.Price)
			encodeMoney(e, "amount", li.Amount())
			if len(li.Options) > 0 {
				e.Field("options", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						for _, k := range slices.Sorted(maps.Keys(li.Options)) {
							e.Field(k, func(e *jx.Encoder) { e.Str(li.Options[k]) })
						}
					})
				})
			}
		})
	}
	e.ArrEnd()

	e.FieldStart("shipments")
	e.ArrStart()
	for i := range o.Shipments {
		s := &o.Shipments[i]
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
			e.Field("number", func(e *jx.Encoder) { e.Str(s.Number) })
			e.Field("state", func(e *jx.Encoder) { e.Str(string(s.State)) })
			e.Field("stock_location_id", func(e *jx.Encoder) { e.Str(s.StockLocationID) })
			encodeMoney(e, "cost", s.Cost)
		})
	}
	e.ArrEnd()

	e.FieldStart("payments")
	e.ArrStart()
	for i := range o.Payments {
		p := &o.Payments[i]
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
			e.Field("payment_method_id", func(e *jx.Encoder) { e.Str(p.PaymentMethodID) })
			e.Field("state", func(e *jx.Encoder) { e.Str(string(p.State)) })
			encodeMoney(e, "amount", p.Amount)
		})
	}
	e.ArrEnd()

	e.FieldStart("adjustments")
	e.ArrStart()
	for i := range o.Adjustments {
		a := &o.Adjustments[i]
		e.Obj(func(e *jx.Encoder) {
			e.Field("kind", func(e *jx.Encoder) { e.Str(string(a.Kind)) })
			e.Field("label", func(e *jx.Encoder) { e.Str(a.Label) })
			encodeMoney(e, "amount", a.Amount)
			e.Field("eligible", func(e *jx.Encoder) { e.Bool(a.Eligible) })
			e.Field("included", func(e *jx.Encoder) { e.Bool(a.Included) })
			encodeOptString(e, "line_item_id", a.LineItemID)
		})
	}
	e.ArrEnd()
	e.ObjEnd()
}
