package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// ErrMethodNotFound matches every *MethodNotFoundError.
var ErrMethodNotFound = errors.New("payment method not found")

// DisplayOn controls where a payment method is offered.
type DisplayOn string

const (
	DisplayBoth     DisplayOn = "both"
	DisplayFrontEnd DisplayOn = "front_end"
	DisplayBackEnd  DisplayOn = "back_end"
)

// Method is a way of paying, such as a credit card processor or a check.
type Method struct {
	ID        string
	Name      string
	DisplayOn DisplayOn
	Active    bool
}

// AvailableOn reports whether the method may be used on the given channel.
func (m *Method) AvailableOn(channel DisplayOn) bool {
	if !m.Active {
		return false
	}
	return m.DisplayOn == DisplayBoth || m.DisplayOn == channel
}

// MethodNotFoundError is returned when a payment references a method that
// does not exist or is not offered on the channel.
type MethodNotFoundError struct {
	MethodID string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("payment method %s not found", e.MethodID)
}

func (e *MethodNotFoundError) Unwrap() error { return ErrMethodNotFound }

// MethodRepository provides lookup of payment methods.
type MethodRepository interface {
	// Available returns the active methods offered on channel.
	Available(ctx context.Context, channel DisplayOn) ([]Method, error)
}
