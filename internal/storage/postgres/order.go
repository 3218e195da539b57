package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/user"
)

const (
	orderColumns = `id, number, state, email, user_id, created_by_id, bill_address, ship_address,
		item_count, item_total, promo_total, shipment_total, payment_total,
		additional_tax_total, included_tax_total, total, payment_state,
		completed_at, canceled_at, canceler_id, guest_token, lock_version, created_at, updated_at`

	getOrderSQL       = `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`
	getOrderLockedSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR ($1 = 'complete') = (completed_at IS NOT NULL))
		  AND ($2 = '' OR user_id = $2)
		ORDER BY created_at DESC
		LIMIT NULLIF($3, 0)`

	createOrderSQL = `INSERT INTO orders (id, number, state, email, user_id, created_by_id,
		bill_address, ship_address, item_count, item_total, promo_total, shipment_total,
		payment_total, additional_tax_total, included_tax_total, total, payment_state,
		guest_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at`

	updateOrderSQL = `UPDATE orders SET state = $3, email = $4, user_id = $5, created_by_id = $6,
		bill_address = $7, ship_address = $8, item_count = $9, item_total = $10,
		promo_total = $11, shipment_total = $12, payment_total = $13,
		additional_tax_total = $14, included_tax_total = $15, total = $16,
		payment_state = $17, completed_at = $18, canceled_at = $19, canceler_id = $20,
		lock_version = lock_version + 1, updated_at = now()
		WHERE id = $1 AND lock_version = $2
		RETURNING lock_version, updated_at`

	updateOrderTotalsSQL = `UPDATE orders SET item_count = $2, item_total = $3, promo_total = $4,
		shipment_total = $5, payment_total = $6, additional_tax_total = $7,
		included_tax_total = $8, total = $9, payment_state = $10, updated_at = now()
		WHERE id = $1`

	updateOrderAssociationSQL = `UPDATE orders SET user_id = $2, email = $3, created_by_id = $4,
		bill_address = $5, ship_address = $6, updated_at = now()
		WHERE id = $1`

	listLineItemsSQL = `SELECT id, order_id, variant_id, quantity, price, pre_tax_amount, options,
		additional_tax_total, included_tax_total
		FROM line_items WHERE order_id = $1 ORDER BY position`

	upsertLineItemSQL = `INSERT INTO line_items (id, order_id, variant_id, quantity, price,
		pre_tax_amount, options, additional_tax_total, included_tax_total, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET quantity = EXCLUDED.quantity, price = EXCLUDED.price,
			pre_tax_amount = EXCLUDED.pre_tax_amount, options = EXCLUDED.options,
			additional_tax_total = EXCLUDED.additional_tax_total,
			included_tax_total = EXCLUDED.included_tax_total, position = EXCLUDED.position`

	listShipmentsSQL = `SELECT id, order_id, number, stock_location_id, cost, state, manifest,
		finalized_at, stock_cycle
		FROM shipments WHERE order_id = $1 ORDER BY number`

	upsertShipmentSQL = `INSERT INTO shipments (id, order_id, number, stock_location_id, cost,
		state, manifest, finalized_at, stock_cycle)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET cost = EXCLUDED.cost, state = EXCLUDED.state,
			manifest = EXCLUDED.manifest, finalized_at = EXCLUDED.finalized_at,
			stock_cycle = EXCLUDED.stock_cycle`

	listPaymentsSQL = `SELECT id, order_id, payment_method_id, amount, state, response_code,
		created_at, updated_at
		FROM payments WHERE order_id = $1 ORDER BY created_at, id`

	upsertPaymentSQL = `INSERT INTO payments (id, order_id, payment_method_id, amount, state,
		response_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET amount = EXCLUDED.amount, state = EXCLUDED.state,
			response_code = EXCLUDED.response_code, updated_at = now()`

	listAdjustmentsSQL = `SELECT id, order_id, line_item_id, kind, source_id, label, amount,
		eligible, included
		FROM adjustments WHERE order_id = $1 ORDER BY kind, line_item_id, source_id`

	upsertAdjustmentSQL = `INSERT INTO adjustments (id, order_id, line_item_id, kind, source_id,
		label, amount, eligible, included)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET label = EXCLUDED.label, amount = EXCLUDED.amount,
			eligible = EXCLUDED.eligible, included = EXCLUDED.included`

	listOrderPromotionsSQL = `SELECT ` + promotionColumns + `
		FROM promotions p JOIN order_promotions op ON op.promotion_id = p.id
		WHERE op.order_id = $1 ORDER BY op.position`

	upsertOrderPromotionSQL = `INSERT INTO order_promotions (order_id, promotion_id, position)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id, promotion_id) DO UPDATE SET position = EXCLUDED.position`

	pruneLineItemsSQL      = `DELETE FROM line_items WHERE order_id = $1 AND NOT (id = ANY($2))`
	pruneShipmentsSQL      = `DELETE FROM shipments WHERE order_id = $1 AND NOT (id = ANY($2))`
	prunePaymentsSQL       = `DELETE FROM payments WHERE order_id = $1 AND NOT (id = ANY($2))`
	pruneAdjustmentsSQL    = `DELETE FROM adjustments WHERE order_id = $1 AND NOT (id = ANY($2))`
	pruneOrderPromotionSQL = `DELETE FROM order_promotions WHERE order_id = $1 AND NOT (promotion_id = ANY($2))`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// order row is the aggregate root; child rows are upserted and pruned on
// every Save.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order row and its children. A taken number is reported
// as order.ErrNumberTaken.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return inTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, createOrderSQL,
			o.ID, o.Number, o.State, o.Email, nullable(o.UserID), nullable(o.CreatedByID),
			o.BillAddress, o.ShipAddress, o.ItemCount, o.ItemTotal, o.PromoTotal,
			o.ShipmentTotal, o.PaymentTotal, o.AdditionalTaxTotal, o.IncludedTaxTotal,
			o.Total, o.PaymentState, o.GuestToken,
		).Scan(&o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "orders_number_key") {
				return order.ErrNumberTaken
			}
			return fmt.Errorf("creating order %q: %w", o.Number, err)
		}
		return r.saveChildren(ctx, tx, o)
	})
}

// GetByNumber returns the order with all its children.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.load(ctx, conn(ctx, r.pool), getOrderSQL, number)
}

// List returns orders matching f, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, listOrdersSQL, string(f.Scope), f.UserID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	for i := range orders {
		if err := r.loadChildren(ctx, q, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Lock loads the order with SELECT ... FOR UPDATE and runs fn in the same
// transaction.
func (r *OrderRepository) Lock(ctx context.Context, number string, fn func(ctx context.Context, o *order.Order) error) error {
	return inTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		o, err := r.load(ctx, tx, getOrderLockedSQL, number)
		if err != nil {
			return err
		}
		return fn(ctx, o)
	})
}

// Save writes the order row with an optimistic lock check and replaces its
// children.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	return inTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, updateOrderSQL,
			o.ID, o.LockVersion, o.State, o.Email, nullable(o.UserID), nullable(o.CreatedByID),
			o.BillAddress, o.ShipAddress, o.ItemCount, o.ItemTotal, o.PromoTotal,
			o.ShipmentTotal, o.PaymentTotal, o.AdditionalTaxTotal, o.IncludedTaxTotal,
			o.Total, o.PaymentState, o.CompletedAt, o.CanceledAt, nullable(o.CancelerID),
		).Scan(&o.LockVersion, &o.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errors.Wrapf(order.ErrStale, "order %s", o.Number)
			}
			return fmt.Errorf("saving order %q: %w", o.Number, err)
		}
		return r.saveChildren(ctx, tx, o)
	})
}

// PersistTotals writes only the total columns.
func (r *OrderRepository) PersistTotals(ctx context.Context, o *order.Order) error {
	_, err := conn(ctx, r.pool).Exec(ctx, updateOrderTotalsSQL,
		o.ID, o.ItemCount, o.ItemTotal, o.PromoTotal, o.ShipmentTotal, o.PaymentTotal,
		o.AdditionalTaxTotal, o.IncludedTaxTotal, o.Total, o.PaymentState,
	)
	if err != nil {
		return fmt.Errorf("persisting totals of order %q: %w", o.Number, err)
	}
	return nil
}

// SaveAssociation writes only the user, email, creator and addresses.
func (r *OrderRepository) SaveAssociation(ctx context.Context, o *order.Order) error {
	_, err := conn(ctx, r.pool).Exec(ctx, updateOrderAssociationSQL,
		o.ID, nullable(o.UserID), o.Email, nullable(o.CreatedByID), o.BillAddress, o.ShipAddress,
	)
	if err != nil {
		return fmt.Errorf("saving association of order %q: %w", o.Number, err)
	}
	return nil
}

func (r *OrderRepository) load(ctx context.Context, q querier, sql, number string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, number)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", number, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", number, err)
	}
	if err := r.loadChildren(ctx, q, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) loadChildren(ctx context.Context, q querier, o *order.Order) error {
	var err error
	if o.LineItems, err = queryAll(ctx, q, listLineItemsSQL, o.ID, scanLineItem); err != nil {
		return fmt.Errorf("loading line items of %q: %w", o.Number, err)
	}
	if o.Shipments, err = queryAll(ctx, q, listShipmentsSQL, o.ID, scanShipment); err != nil {
		return fmt.Errorf("loading shipments of %q: %w", o.Number, err)
	}
	if o.Payments, err = queryAll(ctx, q, listPaymentsSQL, o.ID, scanPayment); err != nil {
		return fmt.Errorf("loading payments of %q: %w", o.Number, err)
	}
	if o.Adjustments, err = queryAll(ctx, q, listAdjustmentsSQL, o.ID, scanAdjustment); err != nil {
		return fmt.Errorf("loading adjustments of %q: %w", o.Number, err)
	}
	if o.Promotions, err = queryAll(ctx, q, listOrderPromotionsSQL, o.ID, scanPromotion); err != nil {
		return fmt.Errorf("loading promotions of %q: %w", o.Number, err)
	}
	return nil
}

func queryAll[T any](ctx context.Context, q querier, sql, id string, scan pgx.RowToFunc[T]) ([]T, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scan)
}

func (r *OrderRepository) saveChildren(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	b := &pgx.Batch{}

	ids := make([]string, 0, len(o.LineItems))
	for i, li := range o.LineItems {
		opts := li.Options
		if opts == nil {
			opts = map[string]string{}
		}
		b.Queue(upsertLineItemSQL, li.ID, o.ID, li.VariantID, li.Quantity, li.Price,
			li.PreTaxAmount, opts, li.AdditionalTaxTotal, li.IncludedTaxTotal, i)
		ids = append(ids, li.ID)
	}
	b.Queue(pruneLineItemsSQL, o.ID, ids)

	ids = make([]string, 0, len(o.Shipments))
	for _, s := range o.Shipments {
		manifest := s.Manifest
		if manifest == nil {
			manifest = []order.ManifestItem{}
		}
		b.Queue(upsertShipmentSQL, s.ID, o.ID, s.Number, s.StockLocationID, s.Cost,
			s.State, manifest, s.FinalizedAt, s.StockCycle)
		ids = append(ids, s.ID)
	}
	b.Queue(pruneShipmentsSQL, o.ID, ids)

	now := time.Now()
	ids = make([]string, 0, len(o.Payments))
	for i := range o.Payments {
		p := &o.Payments[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
			p.UpdatedAt = now
		}
		b.Queue(upsertPaymentSQL, p.ID, o.ID, p.PaymentMethodID, p.Amount, p.State,
			p.ResponseCode, p.CreatedAt)
		ids = append(ids, p.ID)
	}
	b.Queue(prunePaymentsSQL, o.ID, ids)

	ids = make([]string, 0, len(o.Adjustments))
	for _, a := range o.Adjustments {
		b.Queue(upsertAdjustmentSQL, a.ID, o.ID, a.LineItemID, a.Kind, a.SourceID,
			a.Label, a.Amount, a.Eligible, a.Included)
		ids = append(ids, a.ID)
	}
	b.Queue(pruneAdjustmentsSQL, o.ID, ids)

	ids = make([]string, 0, len(o.Promotions))
	for i, p := range o.Promotions {
		b.Queue(upsertOrderPromotionSQL, o.ID, p.ID, i)
		ids = append(ids, p.ID)
	}
	b.Queue(pruneOrderPromotionSQL, o.ID, ids)

	if err := execBatch(ctx, tx, b); err != nil {
		return fmt.Errorf("saving children of order %q: %w", o.Number, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                           order.Order
		userID, createdBy, canceler *string
		bill, ship        *user.Address
		state, payState   string
	)
	err := row.Scan(
		&o.ID, &o.Number, &state, &o.Email, &userID, &createdBy, &bill, &ship,
		&o.ItemCount, &o.ItemTotal, &o.PromoTotal, &o.ShipmentTotal, &o.PaymentTotal,
		&o.AdditionalTaxTotal, &o.IncludedTaxTotal, &o.Total, &payState,
		&o.CompletedAt, &o.CanceledAt, &canceler, &o.GuestToken, &o.LockVersion,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.State = order.State(state)
	o.PaymentState = order.PaymentState(payState)
	o.UserID = deref(userID)
	o.CreatedByID = deref(createdBy)
	o.CancelerID = deref(canceler)
	o.BillAddress = bill
	o.ShipAddress = ship
	return o, err
}

func scanLineItem(row pgx.CollectableRow) (order.LineItem, error) {
	var li order.LineItem
	err := row.Scan(
		&li.ID, &li.OrderID, &li.VariantID, &li.Quantity, &li.Price, &li.PreTaxAmount,
		&li.Options, &li.AdditionalTaxTotal, &li.IncludedTaxTotal,
	)
	return li, err
}

func scanShipment(row pgx.CollectableRow) (order.Shipment, error) {
	var (
		s     order.Shipment
		state string
	)
	err := row.Scan(
		&s.ID, &s.OrderID, &s.Number, &s.StockLocationID, &s.Cost, &state,
		&s.Manifest, &s.FinalizedAt, &s.StockCycle,
	)
	s.State = order.ShipmentState(state)
	return s, err
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p     payment.Payment
		state string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.PaymentMethodID, &p.Amount, &state, &p.ResponseCode,
		&p.CreatedAt, &p.UpdatedAt,
	)
	p.State = payment.State(state)
	return p, err
}

func scanAdjustment(row pgx.CollectableRow) (order.Adjustment, error) {
	var (
		a      order.Adjustment
		kind   string
		amount decimal.Decimal
	)
	err := row.Scan(
		&a.ID, &a.OrderID, &a.LineItemID, &kind, &a.SourceID, &a.Label, &amount,
		&a.Eligible, &a.Included,
	)
	a.Kind = order.AdjustmentKind(kind)
	a.Amount = amount
	return a, err
}
