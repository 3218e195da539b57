package validation

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string `validate:"required"`
	Email   string `validate:"omitempty,email"`
	ZipCode string `validate:"required"`
}

func TestStruct(t *testing.T) {
	errs := Struct(sample{Email: "nope"})

	assert.Equal(t, []string{"can't be blank"}, errs["name"])
	assert.Equal(t, []string{"is invalid"}, errs["email"])
	assert.True(t, errs.Has("zip_code"))
	assert.False(t, errs.Empty())
}

func TestStruct_Valid(t *testing.T) {
	errs := Struct(sample{Name: "a", ZipCode: "12345"})
	assert.True(t, errs.Empty())
	assert.NoError(t, errs.Err())
}

func TestFrom(t *testing.T) {
	err := errors.Wrap(BaseError("cannot destroy"), "archive product")

	verr, ok := From(err)
	require.True(t, ok)
	assert.Equal(t, []string{"cannot destroy"}, verr[Base])

	_, ok = From(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrors_Error(t *testing.T) {
	errs := Errors{}
	errs.Add("slug", "has already been taken")
	errs.Add("name", "can't be blank")

	assert.Equal(t, "validation failed: name can't be blank; slug has already been taken", errs.Error())
}
