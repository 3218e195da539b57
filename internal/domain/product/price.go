package product

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ParsePrice parses a user supplied price, ignoring currency symbols, thousand
// separators and other non-price characters: "$1,299.50" is 1299.50.
func ParsePrice(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return decimal.Zero, errors.Errorf("invalid price %q", s)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid price %q", s)
	}
	return d, nil
}

// DisplayPrice formats an amount in dollars, e.g. "$10.55".
func DisplayPrice(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}
