// Package validation holds field-level validation failures shared by the
// domain packages. A failure is recoverable: the caller corrects the input
// and resubmits.
package validation

import (
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

// Base is the field key for errors that concern the record as a whole.
const Base = "base"

// Errors maps a field name to the messages reported for it.
type Errors map[string][]string

// Add records msg for field.
func (e Errors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Has reports whether any message was recorded for field.
func (e Errors) Has(field string) bool {
	return len(e[field]) > 0
}

// Empty reports whether no field failed.
func (e Errors) Empty() bool {
	return len(e) == 0
}

// Err returns e as an error, or nil when nothing failed.
func (e Errors) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f)
		b.WriteString(" ")
		b.WriteString(strings.Join(e[f], ", "))
	}
	return b.String()
}

// BaseError returns Errors carrying a single record-level message.
func BaseError(msg string) Errors {
	return Errors{Base: {msg}}
}

// From extracts validation errors from err, if any.
func From(err error) (Errors, bool) {
	var verr Errors
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v using its `validate` struct tags and converts the
// failures into Errors keyed by the snake_case field name.
func Struct(v any) Errors {
	out := Errors{}
	err := structValidator.Struct(v)
	if err == nil {
		return out
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		out.Add(Base, err.Error())
		return out
	}
	for _, fe := range fieldErrs {
		out.Add(fieldName(fe), message(fe))
	}
	return out
}

func fieldName(fe validator.FieldError) string {
	return toSnake(fe.Field())
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "can't be blank"
	case "email":
		return "is invalid"
	case "gt", "gte", "min":
		return "must be greater than or equal to " + fe.Param()
	case "max", "lte":
		return "is too long"
	case "oneof":
		return "is not included in the list"
	default:
		return "is invalid"
	}
}

// toSnake converts a Go field name such as "ZipCode" into "zip_code".
func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
