package order

import (
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/domain/validation"
)

// DefaultSteps is the checkout step list used when none is configured.
var DefaultSteps = []State{StateAddress, StateDelivery, StatePayment, StateConfirm, StateComplete}

// Config controls checkout behavior. It is passed explicitly to the flow and
// the service.
type Config struct {
	// AlwaysIncludeConfirmStep keeps the confirm step even when a valid
	// payment exists.
	AlwaysIncludeConfirmStep bool
	// RestockOnCancel returns the stock of finalized shipments when an
	// order is canceled, and takes it again when the order is resumed.
	RestockOnCancel bool
	// Steps is the ordered checkout step list. It must end with complete.
	Steps []State
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		AlwaysIncludeConfirmStep: true,
		Steps:                    slices.Clone(DefaultSteps),
	}
}

// Validate checks the step list.
func (c Config) Validate() error {
	if len(c.Steps) == 0 {
		return errors.New("checkout steps are empty")
	}
	seen := make(map[State]bool, len(c.Steps))
	for _, s := range c.Steps {
		if !slices.Contains(DefaultSteps, s) {
			return errors.Errorf("unknown checkout step %q", s)
		}
		if seen[s] {
			return errors.Errorf("duplicate checkout step %q", s)
		}
		seen[s] = true
	}
	if c.Steps[len(c.Steps)-1] != StateComplete {
		return errors.New("checkout steps must end with complete")
	}
	return nil
}

// ConfirmationRequired reports whether the confirm step applies to o: always
// when configured so or when the order is already confirming, otherwise only
// while no valid stored payment exists.
func ConfirmationRequired(o *Order, cfg Config) bool {
	return cfg.AlwaysIncludeConfirmStep ||
		o.State == StateConfirm ||
		!o.HasValidPersistedPayment()
}

// Flow is the checkout state machine.
type Flow struct {
	cfg       Config
	addresses user.AddressValidator
}

// NewFlow returns a Flow over cfg. Addresses are checked with addresses on
// leaving the address step.
func NewFlow(cfg Config, addresses user.AddressValidator) *Flow {
	return &Flow{cfg: cfg, addresses: addresses}
}

// Config returns the flow's configuration.
func (f *Flow) Config() Config {
	return f.cfg
}

// Steps returns the checkout steps that apply to o, in order.
func (f *Flow) Steps(o *Order) []State {
	out := make([]State, 0, len(f.cfg.Steps))
	for _, s := range f.cfg.Steps {
		if f.applies(o, s) {
			out = append(out, s)
		}
	}
	return out
}

func (f *Flow) applies(o *Order, s State) bool {
	switch s {
	case StatePayment:
		return o.PaymentRequired()
	case StateConfirm:
		return ConfirmationRequired(o, f.cfg)
	default:
		return true
	}
}

// Next checks the guard of the current state and moves o to the following
// applicable step. It does not run completion side effects.
func (f *Flow) Next(ctx context.Context, o *Order) (State, error) {
	from := o.State
	switch from {
	case StateComplete, StateCanceled, StateResumed:
		return from, &InvalidTransitionError{Number: o.Number, From: from, Event: "next"}
	}

	if err := f.guard(ctx, o); err != nil {
		return from, err
	}

	next, ok := f.following(o, from)
	if !ok {
		return from, &InvalidTransitionError{Number: o.Number, From: from, Event: "next"}
	}
	o.State = next
	return next, nil
}

func (f *Flow) following(o *Order, from State) (State, bool) {
	start := 0
	if from != StateCart {
		i := slices.Index(f.cfg.Steps, from)
		if i < 0 {
			return from, false
		}
		start = i + 1
	}
	for _, s := range f.cfg.Steps[start:] {
		if f.applies(o, s) {
			return s, true
		}
	}
	return from, false
}

// guard checks that o may leave its current state.
func (f *Flow) guard(ctx context.Context, o *Order) error {
	errs := validation.Errors{}
	switch o.State {
	case StateCart:
		if !o.CheckoutAllowed() {
			errs.Add("line_items", "can't be blank")
		}
	case StateAddress:
		if o.Email == "" {
			errs.Add("email", "can't be blank")
		}
		if err := f.checkAddress(ctx, "bill_address", o.BillAddress, errs); err != nil {
			return err
		}
		if err := f.checkAddress(ctx, "ship_address", o.ShipAddress, errs); err != nil {
			return err
		}
	case StateDelivery:
		if len(o.Shipments) == 0 {
			errs.Add("shipments", "can't be blank")
		}
	case StatePayment:
		if o.PaymentRequired() && o.ValidPaymentsTotal().LessThan(o.Total) {
			errs.Add("payments", "must cover the order total")
		}
	}
	return errs.Err()
}

func (f *Flow) checkAddress(ctx context.Context, field string, addr *user.Address, errs validation.Errors) error {
	if addr == nil {
		errs.Add(field, "can't be blank")
		return nil
	}
	if f.addresses == nil {
		return nil
	}
	err := f.addresses.Validate(ctx, addr)
	if err == nil {
		return nil
	}
	verr, ok := validation.From(err)
	if !ok {
		return errors.Wrapf(err, "validate %s", field)
	}
	for k, msgs := range verr {
		for _, m := range msgs {
			errs.Add(field+"."+k, m)
		}
	}
	return nil
}

// RestartCheckoutFlow puts o back at the start of checkout: cart when it has
// no line items, otherwise the first applicable step.
func (f *Flow) RestartCheckoutFlow(o *Order) {
	o.State = StateCart
	if !o.CheckoutAllowed() {
		return
	}
	if next, ok := f.following(o, StateCart); ok {
		o.State = next
	}
}
