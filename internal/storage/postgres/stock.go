package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/stock"
)

const (
	movementKindSale    = "sale"
	movementKindRestock = "restock"

	// recordMovementSQL returns no row when the movement was already applied.
	recordMovementSQL = `INSERT INTO stock_movements (kind, originator_id, location_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, originator_id, location_id, variant_id) DO NOTHING
		RETURNING id`

	decreaseStockSQL = `UPDATE stock_items SET count_on_hand = count_on_hand - $3
		WHERE location_id = $1 AND variant_id = $2
		  AND (backorderable OR count_on_hand >= $3)`

	restockSQL = `INSERT INTO stock_items (location_id, variant_id, count_on_hand)
		VALUES ($1, $2, $3)
		ON CONFLICT (location_id, variant_id)
		DO UPDATE SET count_on_hand = stock_items.count_on_hand + EXCLUDED.count_on_hand`

	setStockSQL = `INSERT INTO stock_items (location_id, variant_id, count_on_hand, backorderable)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location_id, variant_id)
		DO UPDATE SET count_on_hand = EXCLUDED.count_on_hand, backorderable = EXCLUDED.backorderable`

	countOnHandSQL = `SELECT count_on_hand FROM stock_items WHERE location_id = $1 AND variant_id = $2`
)

var _ stock.Mover = (*StockRepository)(nil)

// StockRepository implements stock.Mover backed by PostgreSQL. Every movement
// is recorded under a unique key, so a repeated call is a no-op.
type StockRepository struct {
	pool *pgxpool.Pool
}

// NewStockRepository returns a StockRepository that uses the given pool.
func NewStockRepository(pool *pgxpool.Pool) *StockRepository {
	return &StockRepository{pool: pool}
}

// DecreaseStockForVariant takes m.Quantity units from the location. It fails
// with stock.ErrInsufficientStock when the location cannot cover it.
func (r *StockRepository) DecreaseStockForVariant(ctx context.Context, m stock.Movement) error {
	return r.move(ctx, movementKindSale, m, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, decreaseStockSQL, m.LocationID, m.VariantID, m.Quantity)
		if err != nil {
			return fmt.Errorf("decreasing stock of %q at %q: %w", m.VariantID, m.LocationID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("variant %q at %q: %w", m.VariantID, m.LocationID, stock.ErrInsufficientStock)
		}
		return nil
	})
}

// RestockVariant returns m.Quantity units to the location.
func (r *StockRepository) RestockVariant(ctx context.Context, m stock.Movement) error {
	return r.move(ctx, movementKindRestock, m, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, restockSQL, m.LocationID, m.VariantID, m.Quantity); err != nil {
			return fmt.Errorf("restocking %q at %q: %w", m.VariantID, m.LocationID, err)
		}
		return nil
	})
}

func (r *StockRepository) move(ctx context.Context, kind string, m stock.Movement, apply func(ctx context.Context, tx pgx.Tx) error) error {
	return inTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, recordMovementSQL,
			kind, m.OriginatorID, m.LocationID, m.VariantID, m.Quantity,
		).Scan(&id)
		switch {
		case err == nil:
			return apply(ctx, tx)
		case errors.Is(err, pgx.ErrNoRows):
			return nil
		default:
			return fmt.Errorf("recording %s movement for %q: %w", kind, m.OriginatorID, err)
		}
	})
}

// SetCountOnHand overwrites the stock of a variant at a location without
// recording a movement. It is used for inventory loads.
func (r *StockRepository) SetCountOnHand(ctx context.Context, locationID, variantID string, count int, backorderable bool) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, setStockSQL, locationID, variantID, count, backorderable); err != nil {
		return fmt.Errorf("setting stock of %q at %q: %w", variantID, locationID, err)
	}
	return nil
}

// CountOnHand returns the stock of a variant at a location, zero when none
// was ever recorded.
func (r *StockRepository) CountOnHand(ctx context.Context, locationID, variantID string) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, countOnHandSQL, locationID, variantID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading stock of %q at %q: %w", variantID, locationID, err)
	}
	return n, nil
}
