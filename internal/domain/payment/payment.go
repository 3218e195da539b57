// Package payment models order payments, the methods they are made with and
// the gateway that settles them.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a payment.
type State string

const (
	StateCheckout   State = "checkout"
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateVoid       State = "void"
	StateFailed     State = "failed"
	StateInvalid    State = "invalid"
)

// InvalidTransitionError is returned when a payment cannot move from its
// current state to the requested one.
type InvalidTransitionError struct {
	PaymentID string
	From      State
	To        State
}

func (e *InvalidTransitionError) Error() string {
	return "payment " + e.PaymentID + ": cannot transition from " + string(e.From) + " to " + string(e.To)
}

// Payment is a single tender applied to an order.
type Payment struct {
	ID              string
	OrderID         string
	PaymentMethodID string
	Amount          decimal.Decimal
	State           State
	ResponseCode    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Persisted reports whether the payment has been stored.
func (p *Payment) Persisted() bool {
	return !p.CreatedAt.IsZero()
}

// Valid reports whether the payment can still count towards the order total.
func (p *Payment) Valid() bool {
	switch p.State {
	case StateFailed, StateInvalid, StateVoid:
		return false
	default:
		return true
	}
}

// Completed reports whether the payment was captured.
func (p *Payment) Completed() bool {
	return p.State == StateCompleted
}

func (p *Payment) transition(to State, allowed ...State) error {
	for _, s := range allowed {
		if p.State == s {
			p.State = to
			return nil
		}
	}
	return &InvalidTransitionError{PaymentID: p.ID, From: p.State, To: to}
}

// Complete marks the payment as captured.
func (p *Payment) Complete() error {
	return p.transition(StateCompleted, StateCheckout, StatePending, StateProcessing)
}

// Fail marks the payment as failed.
func (p *Payment) Fail() error {
	return p.transition(StateFailed, StateCheckout, StatePending, StateProcessing)
}

// Void marks the payment as voided. Voiding a void payment is a no-op.
func (p *Payment) Void() error {
	if p.State == StateVoid {
		return nil
	}
	return p.transition(StateVoid, StateCheckout, StatePending, StateProcessing, StateCompleted)
}

// Process captures the payment through gw. A gateway error fails the payment.
func (p *Payment) Process(ctx context.Context, gw Gateway) error {
	if p.State != StateCheckout && p.State != StatePending {
		return nil
	}
	if err := gw.Capture(ctx, p); err != nil {
		if ferr := p.Fail(); ferr != nil {
			return errors.Wrap(ferr, "fail payment")
		}
		return errors.Wrapf(err, "capture payment %s", p.ID)
	}
	return p.Complete()
}

// Cancel voids a completed or pending payment through gw. Payments in any
// other state are left untouched.
func (p *Payment) Cancel(ctx context.Context, gw Gateway) error {
	if p.State != StateCompleted && p.State != StatePending {
		return nil
	}
	if err := gw.Void(ctx, p); err != nil {
		return errors.Wrapf(err, "void payment %s", p.ID)
	}
	return p.Void()
}

// Gateway settles payments with an external provider.
type Gateway interface {
	Capture(ctx context.Context, p *Payment) error
	Void(ctx context.Context, p *Payment) error
}

// ManualGateway accepts every capture and void. It stands in for offline
// tenders such as checks or cash on delivery.
type ManualGateway struct{}

// Capture implements Gateway.
func (ManualGateway) Capture(_ context.Context, p *Payment) error {
	p.ResponseCode = "manual"
	return nil
}

// Void implements Gateway.
func (ManualGateway) Void(context.Context, *Payment) error {
	return nil
}
