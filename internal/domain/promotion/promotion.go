// Package promotion applies coupon-code promotions to orders.
package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promotion discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the item total.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the item total.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest removes the cost of the cheapest unit in the order.
	DiscountFreeLowest DiscountType = "free_lowest"
)

var (
	// ErrInvalidCode is returned when a promotion code is not found or inactive.
	ErrInvalidCode = errors.New("invalid promotion code")
	// ErrNotEligible is returned when the order does not satisfy the
	// promotion's minimum item requirement.
	ErrNotEligible = errors.New("order is not eligible for promotion")
	// ErrExpired is returned when a promotion is outside its valid time window.
	ErrExpired = errors.New("promotion expired")
	// ErrUsageLimitReached is returned when a promotion has exhausted its allowed uses.
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
)

// Promotion defines a discount, the code that activates it and its
// eligibility constraints.
type Promotion struct {
	ID           string
	Code         string
	Description  string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinItems     int
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	// MaxDiscount caps the computed amount. Zero means no cap.
	MaxDiscount decimal.Decimal
	Active      bool
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Amount      decimal.Decimal
	Description string
}

// Item represents a line item for discount calculation purposes.
type Item struct {
	VariantID string
	Price     decimal.Decimal
	Quantity  int
}

// Repository provides lookup and usage accounting of promotions.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Promotion, error)
	IncrementUses(ctx context.Context, id string) error
}
