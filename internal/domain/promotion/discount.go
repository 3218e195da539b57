package promotion

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Apply calculates the discount p grants on items. It returns ErrNotEligible
// when the items do not satisfy the minimum item count requirement.
func Apply(p *Promotion, items []Item) (Discount, error) {
	totalQty := totalQuantity(items)
	if p.MinItems > 0 && totalQty < p.MinItems {
		return Discount{}, ErrNotEligible
	}

	subtotal := calcSubtotal(items)

	var amount decimal.Decimal
	switch p.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(p.Value).Div(hundred)
	case DiscountFixed:
		amount = decimal.Min(p.Value, subtotal)
	case DiscountFreeLowest:
		amount = findLowestUnitPrice(items)
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", p.DiscountType)
	}

	if p.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, p.MaxDiscount)
	}

	return Discount{
		Amount:      floorAtZero(amount).Round(2),
		Description: p.Description,
	}, nil
}

// calcSubtotal returns the sum of price * quantity across all items.
func calcSubtotal(items []Item) decimal.Decimal {
	sum := zero
	for _, item := range items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

func totalQuantity(items []Item) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// findLowestUnitPrice returns the lowest unit price among the given items,
// or zero for an empty slice.
func findLowestUnitPrice(items []Item) decimal.Decimal {
	if len(items) == 0 {
		return zero
	}
	lowest := items[0].Price
	for _, item := range items[1:] {
		if item.Price.LessThan(lowest) {
			lowest = item.Price
		}
	}
	return lowest
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
