// Package order implements the order aggregate, the checkout state machine
// and the updater that keeps order totals consistent.
package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/user"
)

// State is a checkout state.
type State string

const (
	StateCart     State = "cart"
	StateAddress  State = "address"
	StateDelivery State = "delivery"
	StatePayment  State = "payment"
	StateConfirm  State = "confirm"
	StateComplete State = "complete"
	StateCanceled State = "canceled"
	StateResumed  State = "resumed"
)

// PaymentState summarizes how far a completed order is paid.
type PaymentState string

const (
	PaymentBalanceDue PaymentState = "balance_due"
	PaymentPaid       PaymentState = "paid"
	PaymentCreditOwed PaymentState = "credit_owed"
	PaymentFailed     PaymentState = "failed"
	PaymentVoid       PaymentState = "void"
)

// Order is the aggregate root of a customer purchase.
type Order struct {
	ID            string
	Number        string
	State         State
	Email         string
	UserID        string
	CreatedByID   string
	BillAddress   *user.Address
	ShipAddress   *user.Address
	ItemCount     int
	ItemTotal     decimal.Decimal
	PromoTotal    decimal.Decimal
	ShipmentTotal decimal.Decimal
	PaymentTotal  decimal.Decimal
	// AdditionalTaxTotal is tax charged on top of item prices.
	AdditionalTaxTotal decimal.Decimal
	// IncludedTaxTotal is tax already contained in item prices.
	IncludedTaxTotal decimal.Decimal
	Total            decimal.Decimal
	PaymentState     PaymentState
	LineItems        []LineItem
	Shipments        []Shipment
	Payments         []payment.Payment
	Adjustments      []Adjustment
	Promotions       []promotion.Promotion
	CompletedAt      *time.Time
	CanceledAt       *time.Time
	CancelerID       string
	GuestToken       string
	LockVersion      int
	CreatedAt        time.Time
	UpdatedAt        time.Time

	comparators []LineItemComparator
}

// Option configures a new Order.
type Option func(*Order)

// WithLineItemComparators sets the policies that decide whether an existing
// line item matches requested options. All of them must agree.
func WithLineItemComparators(cs ...LineItemComparator) Option {
	return func(o *Order) {
		o.comparators = cs
	}
}

// New returns an empty order in the cart state with a fresh number and guest
// token.
func New(opts ...Option) *Order {
	o := &Order{
		ID:         uuid.New().String(),
		Number:     GenerateNumber(),
		State:      StateCart,
		GuestToken: GenerateGuestToken(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// LineItem is a quantity of one variant in an order.
type LineItem struct {
	ID           string
	OrderID      string
	VariantID    string
	Quantity     int
	Price        decimal.Decimal
	PreTaxAmount decimal.Decimal
	// Options are caller supplied attributes compared by LineItemComparators.
	Options            map[string]string
	AdditionalTaxTotal decimal.Decimal
	IncludedTaxTotal   decimal.Decimal
}

// Amount returns price times quantity.
func (li *LineItem) Amount() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// TaxableAmount implements tax.Computable.
func (li *LineItem) TaxableAmount() decimal.Decimal {
	return li.Amount()
}

// AdjustmentKind identifies what produced an adjustment.
type AdjustmentKind string

const (
	AdjustmentPromotion AdjustmentKind = "promotion"
	AdjustmentTax       AdjustmentKind = "tax"
)

// Adjustment modifies an order or line item total. Promotion adjustments are
// negative. Included adjustments are informational: their amount is already
// part of the item price.
type Adjustment struct {
	ID         string
	OrderID    string
	LineItemID string
	Kind       AdjustmentKind
	SourceID   string
	Label      string
	Amount     decimal.Decimal
	Eligible   bool
	Included   bool
}

// Persisted reports whether the order has been stored.
func (o *Order) Persisted() bool {
	return !o.CreatedAt.IsZero()
}

// Completed reports whether checkout finished.
func (o *Order) Completed() bool {
	return o.CompletedAt != nil
}

// Canceled reports whether the order was canceled.
func (o *Order) Canceled() bool {
	return o.State == StateCanceled
}

// CheckoutAllowed reports whether the order has anything to check out.
func (o *Order) CheckoutAllowed() bool {
	return len(o.LineItems) > 0
}

// PaymentRequired reports whether the order needs to be paid for.
func (o *Order) PaymentRequired() bool {
	return o.Total.IsPositive()
}

// Amount sums price times quantity over the line items.
func (o *Order) Amount() decimal.Decimal {
	sum := decimal.Zero
	for i := range o.LineItems {
		sum = sum.Add(o.LineItems[i].Amount())
	}
	return sum
}

// Quantity sums the quantities of all line items.
func (o *Order) Quantity() int {
	n := 0
	for _, li := range o.LineItems {
		n += li.Quantity
	}
	return n
}

// TaxTotal is additional plus included tax.
func (o *Order) TaxTotal() decimal.Decimal {
	return o.AdditionalTaxTotal.Add(o.IncludedTaxTotal)
}

// PreTaxItemAmount sums the line items' pre-tax amounts.
func (o *Order) PreTaxItemAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range o.LineItems {
		sum = sum.Add(li.PreTaxAmount)
	}
	return sum
}

// OutstandingBalance is what remains to be paid. A canceled order owes
// nothing, so anything paid is owed back.
func (o *Order) OutstandingBalance() decimal.Decimal {
	if o.Canceled() {
		return o.PaymentTotal.Neg()
	}
	return o.Total.Sub(o.PaymentTotal)
}

// ValidPaymentsTotal sums payments that are neither failed, invalid nor void.
func (o *Order) ValidPaymentsTotal() decimal.Decimal {
	sum := decimal.Zero
	for i := range o.Payments {
		if o.Payments[i].Valid() {
			sum = sum.Add(o.Payments[i].Amount)
		}
	}
	return sum
}

// HasValidPersistedPayment reports whether a stored, valid payment exists.
func (o *Order) HasValidPersistedPayment() bool {
	for i := range o.Payments {
		if o.Payments[i].Persisted() && o.Payments[i].Valid() {
			return true
		}
	}
	return false
}

// QuantityOf returns the quantity ordered of variantID with options.
func (o *Order) QuantityOf(variantID string, options map[string]string) int {
	if li := o.FindLineItemByVariant(variantID, options); li != nil {
		return li.Quantity
	}
	return 0
}

// FindLineItemByVariant returns the line item for variantID whose options
// match, or nil.
func (o *Order) FindLineItemByVariant(variantID string, options map[string]string) *LineItem {
	for i := range o.LineItems {
		li := &o.LineItems[i]
		if li.VariantID == variantID && o.LineItemOptionsMatch(li, options) {
			return li
		}
	}
	return nil
}

// AddLineItem adds quantity of variantID at price, merging into an existing
// matching line item.
func (o *Order) AddLineItem(variantID string, quantity int, price decimal.Decimal, options map[string]string) *LineItem {
	if li := o.FindLineItemByVariant(variantID, options); li != nil {
		li.Quantity += quantity
		return li
	}
	o.LineItems = append(o.LineItems, LineItem{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		VariantID: variantID,
		Quantity:  quantity,
		Price:     price,
		Options:   options,
	})
	return &o.LineItems[len(o.LineItems)-1]
}

// HasPromotion reports whether a promotion with the given id is applied.
func (o *Order) HasPromotion(id string) bool {
	for _, p := range o.Promotions {
		if p.ID == id {
			return true
		}
	}
	return false
}

// PromotionItems converts the line items into promotion items.
func (o *Order) PromotionItems() []promotion.Item {
	items := make([]promotion.Item, len(o.LineItems))
	for i, li := range o.LineItems {
		items[i] = promotion.Item{
			VariantID: li.VariantID,
			Price:     li.Price,
			Quantity:  li.Quantity,
		}
	}
	return items
}

// AssociateUser attaches u to the order. The email is taken from u when
// overrideEmail is set or the order has none. The creator and addresses are
// filled only where blank. Nothing is persisted.
func (o *Order) AssociateUser(u *user.User, overrideEmail bool) {
	o.UserID = u.ID
	if overrideEmail || o.Email == "" {
		o.Email = u.Email
	}
	if o.CreatedByID == "" {
		o.CreatedByID = u.ID
	}
	if o.BillAddress == nil {
		o.BillAddress = u.BillAddress.Clone()
	}
	if o.ShipAddress == nil {
		o.ShipAddress = u.ShipAddress.Clone()
	}
}

// Empty removes line items, adjustments, shipments and promotions and zeroes
// the totals derived from them. Emptying a completed order is an invariant
// violation.
func (o *Order) Empty() error {
	if o.Completed() {
		return &InvariantError{OrderID: o.ID, Op: "empty", Reason: "cannot empty a completed order"}
	}
	o.LineItems = nil
	o.Adjustments = nil
	o.Shipments = nil
	o.Promotions = nil
	o.ItemCount = 0
	o.ItemTotal = decimal.Zero
	o.PromoTotal = decimal.Zero
	o.AdditionalTaxTotal = decimal.Zero
	o.IncludedTaxTotal = decimal.Zero
	o.ShipmentTotal = decimal.Zero
	return nil
}

// Filter narrows order listings.
type Filter struct {
	Scope  Scope
	UserID string
	Limit  int
}

// Scope selects orders by completion.
type Scope string

const (
	ScopeAll        Scope = ""
	ScopeComplete   Scope = "complete"
	ScopeIncomplete Scope = "incomplete"
)

// Matches reports whether o belongs to the scope.
func (s Scope) Matches(o *Order) bool {
	switch s {
	case ScopeComplete:
		return o.Completed()
	case ScopeIncomplete:
		return !o.Completed()
	default:
		return true
	}
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts a new order. It returns ErrNumberTaken when the order
	// number is already in use.
	Create(ctx context.Context, o *Order) error
	GetByNumber(ctx context.Context, number string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	// Lock loads the order with an exclusive row lock and runs fn inside one
	// transaction. The context passed to fn carries the transaction, so
	// repository calls and collaborators made through it join it. Returning
	// an error from fn rolls everything back.
	Lock(ctx context.Context, number string, fn func(ctx context.Context, o *Order) error) error
	// Save writes the whole aggregate, failing with ErrStale when the stored
	// lock version differs from o.LockVersion.
	Save(ctx context.Context, o *Order) error
	// PersistTotals writes only the total columns.
	PersistTotals(ctx context.Context, o *Order) error
	// SaveAssociation writes only user, email, creator and addresses.
	SaveAssociation(ctx context.Context, o *Order) error
}
