package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrNumberTaken is returned by Repository.Create on a number collision.
	ErrNumberTaken = errors.New("order number already taken")
	// ErrStale is returned when an order was changed concurrently.
	ErrStale = errors.New("order was modified concurrently")
	// ErrCompleted is returned when a completed order is asked to change
	// anything but its administrative fields.
	ErrCompleted = errors.New("order is completed")
	// ErrCanceled is returned when a canceled order is asked to change.
	ErrCanceled = errors.New("order is canceled")
)

// InvariantError is a hard failure: the operation would break an order
// invariant and was aborted. Unlike validation errors it is not something
// the caller can fix by changing input.
type InvariantError struct {
	OrderID string
	Op      string
	Reason  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("order %s: %s: %s", e.OrderID, e.Op, e.Reason)
}

// InvalidTransitionError indicates an event that is not allowed from the
// order's current state.
type InvalidTransitionError struct {
	Number string
	From   State
	Event  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot %s from state %s", e.Number, e.Event, e.From)
}
