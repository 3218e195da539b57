package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/validation"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON object from the request body and hands every field
// to fn. An empty body is treated as an empty object.
func decodeBody(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		return validation.BaseError("malformed JSON body: " + err.Error())
	}
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, errors.New("expected number or string")
	}
}

func decodeStringMap(d *jx.Decoder) (map[string]string, error) {
	out := map[string]string{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		out[key] = v
		return err
	})
	return out, err
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		v, err := d.Str()
		out = append(out, v)
		return err
	})
	return out, err
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeMoney(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	e.Str(d.StringFixed(2))
}

func encodeTime(e *jx.Encoder, name string, t *time.Time) {
	e.FieldStart(name)
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOptString(e *jx.Encoder, name, s string) {
	e.FieldStart(name)
	if s == "" {
		e.Null()
		return
	}
	e.Str(s)
}
