package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/promotion"
)

const (
	promotionColumns = `p.id, p.code, p.description, p.discount_type, p.value, p.min_items,
		p.valid_from, p.valid_until, p.max_uses, p.uses, p.max_discount, p.active`

	getPromotionByCodeSQL = `SELECT ` + promotionColumns + `
		FROM promotions p WHERE UPPER(p.code) = UPPER($1) AND p.active = TRUE`

	incrementPromotionUsesSQL = `UPDATE promotions SET uses = uses + 1 WHERE id = $1`

	upsertPromotionSQL = `INSERT INTO promotions (id, code, description, discount_type, value,
		min_items, valid_from, valid_until, max_uses, max_discount, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			min_items = EXCLUDED.min_items, valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until, max_uses = EXCLUDED.max_uses,
			max_discount = EXCLUDED.max_discount, active = EXCLUDED.active`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode looks up an active promotion by its code (case-insensitive).
// Returns promotion.ErrInvalidCode when no matching active promotion exists.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getPromotionByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrInvalidCode
		}
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}
	return &p, nil
}

// IncrementUses atomically increments the usage counter of a promotion. It
// joins the transaction carried by ctx, so a rolled back checkout does not
// count.
func (r *PromotionRepository) IncrementUses(ctx context.Context, id string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, incrementPromotionUsesSQL, id); err != nil {
		return fmt.Errorf("incrementing uses for promotion %q: %w", id, err)
	}
	return nil
}

// Upsert inserts or updates promotions in one batch. Usage counters of
// existing rows are kept.
func (r *PromotionRepository) Upsert(ctx context.Context, ps []promotion.Promotion) error {
	b := &pgx.Batch{}
	for _, p := range ps {
		b.Queue(upsertPromotionSQL, p.ID, p.Code, p.Description, p.DiscountType, p.Value,
			p.MinItems, p.ValidFrom, p.ValidUntil, p.MaxUses, p.MaxDiscount, p.Active)
	}
	if err := execBatch(ctx, conn(ctx, r.pool), b); err != nil {
		return fmt.Errorf("upserting %d promotions: %w", len(ps), err)
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p            promotion.Promotion
		discountType string
		value        decimal.Decimal
		minItems     int32
		validFrom    *time.Time
		validUntil   *time.Time
		maxUses      int32
		uses         int32
		maxDiscount  decimal.Decimal
	)
	err := row.Scan(
		&p.ID, &p.Code, &p.Description, &discountType, &value, &minItems,
		&validFrom, &validUntil, &maxUses, &uses, &maxDiscount, &p.Active,
	)
	p.DiscountType = promotion.DiscountType(discountType)
	p.Value = value
	p.MinItems = int(minItems)
	p.ValidFrom = validFrom
	p.ValidUntil = validUntil
	p.MaxUses = int(maxUses)
	p.Uses = int(uses)
	p.MaxDiscount = maxDiscount
	return p, err
}
