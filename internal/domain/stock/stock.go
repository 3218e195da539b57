// Package stock defines the inventory collaborator used when shipments are
// finalized and orders are canceled.
package stock

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrInsufficientStock is returned when a location cannot cover a decrement
// and backorders are not allowed.
var ErrInsufficientStock = errors.New("insufficient stock")

// Movement identifies a single stock change. Originator names the shipment
// (or other record) causing it, so retries of the same change are absorbed.
type Movement struct {
	LocationID   string
	VariantID    string
	Quantity     int
	OriginatorID string
}

// Mover applies stock movements. Implementations must be idempotent per
// (originator, location, variant): a repeated call with the same key must
// not move stock again.
type Mover interface {
	DecreaseStockForVariant(ctx context.Context, m Movement) error
	RestockVariant(ctx context.Context, m Movement) error
}
