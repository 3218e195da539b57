package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/tagging"
	"github.com/xenking/storefront/internal/domain/validation"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	var f product.Filter
	if v := r.URL.Query().Get("include_archived"); v != "" {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, validation.Errors{"include_archived": {"must be a boolean"}})
			return
		}
		f.IncludeArchived = archived
	}
	products, err := h.products.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range products {
			encodeProduct(e, &products[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Get(r.Context(), chi.URLParam(r, "id"))
	respondProduct(w, r, http.StatusOK, p, err)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req product.CreateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			req.Name, err = d.Str()
		case "description":
			req.Description, err = d.Str()
		case "price":
			req.Price, err = decodePrice(d)
		case "sku":
			req.SKU, err = d.Str()
		case "slug":
			req.Slug, err = d.Str()
		case "available_on":
			req.AvailableOn, err = decodeTime(d)
		case "prototype_id":
			req.PrototypeID, err = d.Str()
		case "option_values":
			err = d.Arr(func(d *jx.Decoder) error {
				var c product.OptionChoice
				err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "option_type_id":
						c.OptionTypeID, err = d.Str()
					case "value_ids":
						c.ValueIDs, err = decodeStrings(d)
					default:
						err = d.Skip()
					}
					return err
				})
				req.OptionValues = append(req.OptionValues, c)
				return err
			})
		case "properties":
			err = d.Arr(func(d *jx.Decoder) error {
				var pp product.ProductProperty
				err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "name":
						pp.Name, err = d.Str()
					case "presentation":
						pp.Presentation, err = d.Str()
					case "value":
						pp.Value, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				})
				req.Properties = append(req.Properties, pp)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.Create(r.Context(), req)
	respondProduct(w, r, http.StatusCreated, p, err)
}

func (h *Handler) archiveProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Archive(r.Context(), chi.URLParam(r, "id"))
	respondProduct(w, r, http.StatusOK, p, err)
}

func (h *Handler) discontinueProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Discontinue(r.Context(), chi.URLParam(r, "id"))
	respondProduct(w, r, http.StatusOK, p, err)
}

func (h *Handler) updateSlug(w http.ResponseWriter, r *http.Request) {
	var slug string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "slug" {
			return d.Skip()
		}
		var err error
		slug, err = d.Str()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.UpdateSlug(r.Context(), chi.URLParam(r, "id"), slug)
	respondProduct(w, r, http.StatusOK, p, err)
}

func (h *Handler) setProperty(w http.ResponseWriter, r *http.Request) {
	var value, presentation string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "value":
			value, err = d.Str()
		case "presentation":
			presentation, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.SetProperty(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), value, presentation)
	respondProduct(w, r, http.StatusOK, p, err)
}

// tagProduct accepts {"context": "...", "tags": ["a", "b"]} or a comma
// separated "tag_list".
func (h *Handler) tagProduct(w http.ResponseWriter, r *http.Request) {
	var (
		tagContext string
		names      []string
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "context":
			tagContext, err = d.Str()
		case "tags":
			var list []string
			list, err = decodeStrings(d)
			names = append(names, list...)
		case "tag_list":
			var raw string
			raw, err = d.Str()
			names = append(names, tagging.ParseList(raw)...)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var tagger tagging.Tagger
	if info, ok := auth.FromContext(r.Context()); ok && info.UserID != "" {
		tagger = tagging.Tagger{ID: info.UserID, Type: "User"}
	}
	tags, err := h.products.Tag(r.Context(), chi.URLParam(r, "id"), tagContext, names, tagger)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, t := range tags {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(t.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(t.Name) })
			})
		}
		e.ArrEnd()
	})
}

// decodePrice accepts a number or a formatted string such as "$1,299.50".
func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() != jx.String {
		return decodeDecimal(d)
	}
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return product.ParsePrice(s)
}

func respondProduct(w http.ResponseWriter, r *http.Request, status int, p *product.Product, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeProduct(e, p) })
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
	e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
	e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
	e.Field("slug", func(e *jx.Encoder) { e.Str(p.Slug) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
	e.Field("sku", func(e *jx.Encoder) { e.Str(p.SKU()) })
	encodeMoney(e, "price", p.Price())
	e.Field("display_price", func(e *jx.Encoder) { e.Str(product.DisplayPrice(p.Price())) })
	encodeTime(e, "available_on", p.AvailableOn)
	encodeTime(e, "discontinue_on", p.DiscontinueOn)
	encodeTime(e, "deleted_at", p.DeletedAt)

	e.FieldStart("master")
	encodeVariant(e, &p.Master, p.OptionTypes)
	e.FieldStart("variants")
	e.ArrStart()
	for i := range p.Variants {
		encodeVariant(e, &p.Variants[i], p.OptionTypes)
	}
	e.ArrEnd()

	e.FieldStart("option_types")
	e.ArrStart()
	for _, ot := range p.OptionTypes {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(ot.ID) })
			e.Field("name", func(e *jx.Encoder) { e.Str(ot.Name) })
			e.Field("presentation", func(e *jx.Encoder) { e.Str(ot.Presentation) })
		})
	}
	e.ArrEnd()

	e.FieldStart("properties")
	e.ArrStart()
	for _, pp := range p.Properties {
		e.Obj(func(e *jx.Encoder) {
			e.Field("name", func(e *jx.Encoder) { e.Str(pp.Name) })
			e.Field("presentation", func(e *jx.Encoder) { e.Str(pp.Presentation) })
			e.Field("value", func(e *jx.Encoder) { e.Str(pp.Value) })
		})
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeVariant(e *jx.Encoder, v *product.Variant, types []product.OptionType) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(v.ID) })
	e.Field("sku", func(e *jx.Encoder) { e.Str(v.SKU) })
	e.Field("is_master", func(e *jx.Encoder) { e.Bool(v.IsMaster) })
	encodeMoney(e, "price", v.Price)
	if !v.IsMaster {
		e.Field("options_text", func(e *jx.Encoder) { e.Str(v.OptionsText(types)) })
	}
	e.FieldStart("option_value_ids")
	e.ArrStart()
	for _, ov := range v.OptionValues {
		e.Str(ov.ID)
	}
	e.ArrEnd()
	e.ObjEnd()
}
