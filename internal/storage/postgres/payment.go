package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/payment"
)

const listPaymentMethodsSQL = `SELECT id, name, display_on, active
	FROM payment_methods
	WHERE active = TRUE AND display_on IN ('both', $1)
	ORDER BY name`

const upsertPaymentMethodSQL = `INSERT INTO payment_methods (id, name, display_on, active)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE
	SET name = EXCLUDED.name, display_on = EXCLUDED.display_on, active = EXCLUDED.active`

var _ payment.MethodRepository = (*PaymentMethodRepository)(nil)

// PaymentMethodRepository implements payment.MethodRepository backed by PostgreSQL.
type PaymentMethodRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentMethodRepository returns a PaymentMethodRepository that uses the given pool.
func NewPaymentMethodRepository(pool *pgxpool.Pool) *PaymentMethodRepository {
	return &PaymentMethodRepository{pool: pool}
}

// Available returns the active methods offered on channel.
func (r *PaymentMethodRepository) Available(ctx context.Context, channel payment.DisplayOn) ([]payment.Method, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listPaymentMethodsSQL, string(channel))
	if err != nil {
		return nil, fmt.Errorf("listing payment methods for %s: %w", channel, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (payment.Method, error) {
		var (
			m         payment.Method
			displayOn string
		)
		err := row.Scan(&m.ID, &m.Name, &displayOn, &m.Active)
		m.DisplayOn = payment.DisplayOn(displayOn)
		return m, err
	})
}

// Upsert stores the payment methods, replacing existing ones by id.
func (r *PaymentMethodRepository) Upsert(ctx context.Context, methods ...payment.Method) error {
	b := &pgx.Batch{}
	for _, m := range methods {
		b.Queue(upsertPaymentMethodSQL, m.ID, m.Name, string(m.DisplayOn), m.Active)
	}
	if err := execBatch(ctx, conn(ctx, r.pool), b); err != nil {
		return fmt.Errorf("upserting payment methods: %w", err)
	}
	return nil
}
