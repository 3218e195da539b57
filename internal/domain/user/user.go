// Package user holds storefront customers and their addresses.
package user

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/validation"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("user not found")

// User is a storefront customer that orders can be associated with.
type User struct {
	ID          string
	Email       string
	BillAddress *Address
	ShipAddress *Address
}

// Address is a postal address. Orders keep their own snapshot of it.
type Address struct {
	FirstName string `json:"firstname" validate:"required"`
	LastName  string `json:"lastname" validate:"required"`
	Address1  string `json:"address1" validate:"required"`
	Address2  string `json:"address2"`
	City      string `json:"city" validate:"required"`
	ZipCode   string `json:"zipcode" validate:"required"`
	Phone     string `json:"phone"`
	State     string `json:"state"`
	Country   string `json:"country" validate:"required,len=2"`
}

// SameAs reports whether a and other describe the same location, ignoring
// case and surrounding whitespace.
func (a *Address) SameAs(other *Address) bool {
	if a == nil || other == nil {
		return a == other
	}
	eq := func(x, y string) bool {
		return strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(y))
	}
	return eq(a.FirstName, other.FirstName) &&
		eq(a.LastName, other.LastName) &&
		eq(a.Address1, other.Address1) &&
		eq(a.Address2, other.Address2) &&
		eq(a.City, other.City) &&
		eq(a.ZipCode, other.ZipCode) &&
		eq(a.Phone, other.Phone) &&
		eq(a.State, other.State) &&
		eq(a.Country, other.Country)
}

// Clone returns a copy of a, or nil.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// AddressValidator checks that an address is deliverable.
type AddressValidator interface {
	Validate(ctx context.Context, addr *Address) error
}

// FieldValidator validates addresses by their required fields only.
type FieldValidator struct{}

// Validate implements AddressValidator.
func (FieldValidator) Validate(_ context.Context, addr *Address) error {
	if addr == nil {
		return validation.BaseError("address is required")
	}
	return validation.Struct(addr).Err()
}

// Repository provides lookup of users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}
