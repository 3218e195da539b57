package order

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/stock"
)

// ShipmentState is the fulfilment state of a shipment.
type ShipmentState string

const (
	ShipmentPending  ShipmentState = "pending"
	ShipmentReady    ShipmentState = "ready"
	ShipmentShipped  ShipmentState = "shipped"
	ShipmentCanceled ShipmentState = "canceled"
)

// ManifestItem is a quantity of one variant packed into a shipment.
type ManifestItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// Shipment is a package sent from one stock location.
type Shipment struct {
	ID              string
	OrderID         string
	Number          string
	StockLocationID string
	Cost            decimal.Decimal
	State           ShipmentState
	Manifest        []ManifestItem
	FinalizedAt     *time.Time
	// StockCycle counts restocks. It is part of every stock movement key so
	// a shipment resumed after a cancel moves stock again.
	StockCycle int
}

func (s *Shipment) originator() string {
	return s.ID + "/" + strconv.Itoa(s.StockCycle)
}

// Finalized reports whether stock was taken for the shipment.
func (s *Shipment) Finalized() bool {
	return s.FinalizedAt != nil
}

// Finalize takes stock for every manifest item and marks the shipment ready.
// Finalizing a finalized shipment does nothing.
func (s *Shipment) Finalize(ctx context.Context, mover stock.Mover, now time.Time) error {
	if s.Finalized() {
		return nil
	}
	for _, item := range s.Manifest {
		err := mover.DecreaseStockForVariant(ctx, stock.Movement{
			LocationID:   s.StockLocationID,
			VariantID:    item.VariantID,
			Quantity:     item.Quantity,
			OriginatorID: s.originator(),
		})
		if err != nil {
			return errors.Wrapf(err, "decrease stock for variant %s", item.VariantID)
		}
	}
	s.FinalizedAt = &now
	s.State = ShipmentReady
	return nil
}

// Restock returns the stock of a finalized shipment and cancels it.
func (s *Shipment) Restock(ctx context.Context, mover stock.Mover) error {
	if !s.Finalized() {
		s.State = ShipmentCanceled
		return nil
	}
	for _, item := range s.Manifest {
		err := mover.RestockVariant(ctx, stock.Movement{
			LocationID:   s.StockLocationID,
			VariantID:    item.VariantID,
			Quantity:     item.Quantity,
			OriginatorID: s.originator(),
		})
		if err != nil {
			return errors.Wrapf(err, "restock variant %s", item.VariantID)
		}
	}
	s.FinalizedAt = nil
	s.State = ShipmentCanceled
	s.StockCycle++
	return nil
}

// BuildManifest packs all line items, one entry per variant.
func BuildManifest(items []LineItem) []ManifestItem {
	var out []ManifestItem
	index := make(map[string]int, len(items))
	for _, li := range items {
		if i, ok := index[li.VariantID]; ok {
			out[i].Quantity += li.Quantity
			continue
		}
		index[li.VariantID] = len(out)
		out = append(out, ManifestItem{VariantID: li.VariantID, Quantity: li.Quantity})
	}
	return out
}
