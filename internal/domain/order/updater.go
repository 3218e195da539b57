package order

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/tax"
)

// Updater recomputes the derived totals of an order. It never touches the
// checkout state, so it is safe to run after any mutation.
type Updater struct {
	rates []tax.Rate
}

// NewUpdater returns an Updater applying rates to every line item.
func NewUpdater(rates ...tax.Rate) *Updater {
	return &Updater{rates: rates}
}

// Update recomputes item count and total, line item taxes, promotion
// adjustments, shipment and payment totals, the grand total and, for
// completed or canceled orders, the payment state. Calling it again with
// unchanged inputs yields the same totals.
func (u *Updater) Update(o *Order) {
	o.ItemCount = o.Quantity()
	o.ItemTotal = o.Amount()

	u.updateTaxes(o)
	u.updatePromotions(o)

	o.ShipmentTotal = shipmentTotal(o)
	o.PaymentTotal = paymentTotal(o)
	o.Total = grandTotal(o)

	if o.Completed() || o.Canceled() {
		o.PaymentState = paymentState(o)
	}
}

// UpdateShipmentTotal recomputes only the shipment total and the grand total.
func (u *Updater) UpdateShipmentTotal(o *Order) {
	o.ShipmentTotal = shipmentTotal(o)
	o.Total = grandTotal(o)
}

func (u *Updater) updateTaxes(o *Order) {
	kept := make([]Adjustment, 0, len(o.Adjustments))
	existing := make(map[adjustmentKey]Adjustment)
	for _, a := range o.Adjustments {
		if a.Kind == AdjustmentTax {
			existing[keyOf(a)] = a
			continue
		}
		kept = append(kept, a)
	}

	o.AdditionalTaxTotal = decimal.Zero
	o.IncludedTaxTotal = decimal.Zero
	for i := range o.LineItems {
		li := &o.LineItems[i]
		li.AdditionalTaxTotal = decimal.Zero
		li.IncludedTaxTotal = decimal.Zero

		for _, r := range u.rates {
			amount := r.Compute(li)
			if amount.IsZero() {
				continue
			}
			a := Adjustment{
				OrderID:    o.ID,
				LineItemID: li.ID,
				Kind:       AdjustmentTax,
				SourceID:   r.Name,
				Label:      r.Name,
				Amount:     amount,
				Eligible:   true,
				Included:   r.Included,
			}
			a.ID = reuseID(existing, a)
			kept = append(kept, a)

			if r.Included {
				li.IncludedTaxTotal = li.IncludedTaxTotal.Add(amount)
			} else {
				li.AdditionalTaxTotal = li.AdditionalTaxTotal.Add(amount)
			}
		}
		li.PreTaxAmount = li.Amount().Sub(li.IncludedTaxTotal)

		o.AdditionalTaxTotal = o.AdditionalTaxTotal.Add(li.AdditionalTaxTotal)
		o.IncludedTaxTotal = o.IncludedTaxTotal.Add(li.IncludedTaxTotal)
	}
	o.Adjustments = kept
}

// updatePromotions re-evaluates every applied promotion. A promotion the
// order no longer qualifies for keeps its adjustment, marked ineligible with
// a zero amount.
func (u *Updater) updatePromotions(o *Order) {
	kept := make([]Adjustment, 0, len(o.Adjustments))
	existing := make(map[adjustmentKey]Adjustment)
	for _, a := range o.Adjustments {
		if a.Kind == AdjustmentPromotion {
			existing[keyOf(a)] = a
			continue
		}
		kept = append(kept, a)
	}

	items := o.PromotionItems()
	o.PromoTotal = decimal.Zero
	for i := range o.Promotions {
		p := &o.Promotions[i]
		a := Adjustment{
			OrderID:  o.ID,
			Kind:     AdjustmentPromotion,
			SourceID: p.ID,
			Label:    promotionLabel(p),
			Amount:   decimal.Zero,
		}
		if d, err := promotion.Apply(p, items); err == nil && len(items) > 0 {
			a.Amount = d.Amount.Neg()
			a.Eligible = true
			o.PromoTotal = o.PromoTotal.Add(a.Amount)
		}
		a.ID = reuseID(existing, a)
		kept = append(kept, a)
	}
	o.Adjustments = kept
}

func promotionLabel(p *promotion.Promotion) string {
	if p.Description != "" {
		return "Promotion (" + p.Description + ")"
	}
	return "Promotion (" + p.Code + ")"
}

type adjustmentKey struct {
	kind     AdjustmentKind
	lineItem string
	source   string
}

func keyOf(a Adjustment) adjustmentKey {
	return adjustmentKey{kind: a.Kind, lineItem: a.LineItemID, source: a.SourceID}
}

func reuseID(existing map[adjustmentKey]Adjustment, a Adjustment) string {
	if prev, ok := existing[keyOf(a)]; ok {
		return prev.ID
	}
	return uuid.New().String()
}

func shipmentTotal(o *Order) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range o.Shipments {
		sum = sum.Add(s.Cost)
	}
	return sum
}

func paymentTotal(o *Order) decimal.Decimal {
	sum := decimal.Zero
	for i := range o.Payments {
		if o.Payments[i].Completed() {
			sum = sum.Add(o.Payments[i].Amount)
		}
	}
	return sum
}

func grandTotal(o *Order) decimal.Decimal {
	return o.ItemTotal.
		Add(o.ShipmentTotal).
		Add(o.PromoTotal).
		Add(o.AdditionalTaxTotal).
		Round(2)
}

func paymentState(o *Order) PaymentState {
	if len(o.Payments) > 0 && allFailed(o) {
		return PaymentFailed
	}
	if o.Canceled() && o.PaymentTotal.IsZero() {
		return PaymentVoid
	}
	switch o.OutstandingBalance().Sign() {
	case 1:
		return PaymentBalanceDue
	case -1:
		return PaymentCreditOwed
	default:
		return PaymentPaid
	}
}

func allFailed(o *Order) bool {
	for i := range o.Payments {
		switch o.Payments[i].State {
		case payment.StateFailed, payment.StateInvalid:
		default:
			return false
		}
	}
	return true
}
