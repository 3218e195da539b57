// Package tax computes tax amounts for order line items.
package tax

import (
	"github.com/shopspring/decimal"
)

// Computable is anything a tax can be computed on.
type Computable interface {
	TaxableAmount() decimal.Decimal
}

// Calculator computes the tax owed on a computable.
type Calculator interface {
	Compute(c Computable) decimal.Decimal
}

// DefaultTax applies a percentage rate. When Included is set the amount is
// assumed to already contain the tax and the contained portion is returned.
type DefaultTax struct {
	Rate     decimal.Decimal
	Included bool
}

// Compute implements Calculator.
func (t DefaultTax) Compute(c Computable) decimal.Decimal {
	amount := c.TaxableAmount()
	if amount.IsZero() || t.Rate.IsZero() {
		return decimal.Zero
	}
	if t.Included {
		net := amount.Div(decimal.NewFromInt(1).Add(t.Rate))
		return amount.Sub(net).Round(2)
	}
	return amount.Mul(t.Rate).Round(2)
}

// FlatRate charges a fixed amount per computable regardless of its value.
type FlatRate struct {
	Amount decimal.Decimal
}

// Compute implements Calculator.
func (f FlatRate) Compute(Computable) decimal.Decimal {
	return f.Amount.Round(2)
}

// Rate is a named tax applied to every line item.
type Rate struct {
	Name       string
	Included   bool
	Calculator Calculator
}

// NewRate returns a percentage rate using DefaultTax.
func NewRate(name string, amount decimal.Decimal, included bool) Rate {
	return Rate{
		Name:       name,
		Included:   included,
		Calculator: DefaultTax{Rate: amount, Included: included},
	}
}

// Compute returns the tax this rate adds to (or contains in) c.
func (r Rate) Compute(c Computable) decimal.Decimal {
	if r.Calculator == nil {
		return decimal.Zero
	}
	return r.Calculator.Compute(c)
}
