package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, name, description, slug, status, available_on, discontinue_on,
		deleted_at, created_at, updated_at`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE $1 OR (status = 'active' AND deleted_at IS NULL)
		ORDER BY name, id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	insertProductSQL = `INSERT INTO products (id, name, description, slug, status, available_on,
		discontinue_on, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	updateProductSQL = `UPDATE products SET name = $2, description = $3, slug = $4, status = $5,
		available_on = $6, discontinue_on = $7, deleted_at = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	variantColumns = `id, product_id, sku, is_master, price, deleted_at`

	listVariantsSQL = `SELECT ` + variantColumns + ` FROM variants
		WHERE product_id = $1 ORDER BY is_master DESC, position`

	getVariantSQL = `SELECT ` + variantColumns + ` FROM variants WHERE id = $1 FOR SHARE`

	lockMasterSQL = `SELECT id FROM variants WHERE product_id = $1 AND is_master FOR UPDATE`

	upsertVariantSQL = `INSERT INTO variants (id, product_id, sku, is_master, price, position, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET sku = EXCLUDED.sku, price = EXCLUDED.price,
			position = EXCLUDED.position, deleted_at = EXCLUDED.deleted_at`

	listVariantOptionValuesSQL = `SELECT vov.variant_id, ov.id, ov.option_type_id, ov.name, ov.presentation
		FROM variant_option_values vov
		JOIN option_values ov ON ov.id = vov.option_value_id
		JOIN option_types ot ON ot.id = ov.option_type_id
		WHERE vov.variant_id = ANY($1)
		ORDER BY ot.name, ov.position`

	insertVariantOptionValueSQL = `INSERT INTO variant_option_values (variant_id, option_value_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	listProductOptionTypeIDsSQL = `SELECT option_type_id FROM product_option_types
		WHERE product_id = $1 ORDER BY position`

	upsertProductOptionTypeSQL = `INSERT INTO product_option_types (product_id, option_type_id, position)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, option_type_id) DO UPDATE SET position = EXCLUDED.position`

	listProductPropertiesSQL = `SELECT name, presentation, value FROM product_properties
		WHERE product_id = $1 ORDER BY name`

	deleteProductPropertiesSQL = `DELETE FROM product_properties WHERE product_id = $1`

	insertProductPropertySQL = `INSERT INTO product_properties (product_id, name, presentation, value)
		VALUES ($1, $2, $3, $4)`

	slugTakenSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE slug = $1 AND id <> $2)`

	skuTakenSQL = `SELECT EXISTS (SELECT 1 FROM variants
		WHERE sku = $1 AND deleted_at IS NULL AND product_id <> $2)`

	hasLineItemsSQL = `SELECT EXISTS (SELECT 1 FROM line_items li
		JOIN variants v ON v.id = li.variant_id
		WHERE v.product_id = $1 AND v.is_master)`
)

var (
	_ product.Repository        = (*ProductRepository)(nil)
	_ product.VariantRepository = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and
// product.VariantRepository backed by PostgreSQL.
type ProductRepository struct {
	pool    *pgxpool.Pool
	options *OptionRepository
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool, options: NewOptionRepository(pool)}
}

// List returns catalog products ordered by name. Archived products are
// included only when f asks for them.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, listProductsSQL, f.IncludeArchived)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	for i := range products {
		if err := r.loadChildren(ctx, q, &products[i]); err != nil {
			return nil, err
		}
	}
	return products, nil
}

// GetByID returns a single product with its variants, option types and
// properties.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	if err := r.loadChildren(ctx, q, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts p with its variants, option types and properties.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	return inTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertProductSQL,
			p.ID, p.Name, p.Description, p.Slug, p.Status, p.AvailableOn, p.DiscontinueOn, p.DeletedAt,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "products_slug_key") {
				return fmt.Errorf("creating product %q: slug %q: %w", p.ID, p.Slug, err)
			}
			return fmt.Errorf("creating product %q: %w", p.ID, err)
		}
		return r.saveChildren(ctx, tx, p)
	})
}

// Update writes p and its children.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	return inTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, updateProductSQL,
			p.ID, p.Name, p.Description, p.Slug, p.Status, p.AvailableOn, p.DiscontinueOn, p.DeletedAt,
		).Scan(&p.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return product.ErrNotFound
			}
			return fmt.Errorf("updating product %q: %w", p.ID, err)
		}
		return r.saveChildren(ctx, tx, p)
	})
}

// SlugTaken reports whether a product other than exceptProductID uses slug.
func (r *ProductRepository) SlugTaken(ctx context.Context, slug, exceptProductID string) (bool, error) {
	return r.exists(ctx, slugTakenSQL, slug, exceptProductID)
}

// SKUTaken reports whether a live variant of another product uses sku.
func (r *ProductRepository) SKUTaken(ctx context.Context, sku, exceptProductID string) (bool, error) {
	return r.exists(ctx, skuTakenSQL, sku, exceptProductID)
}

// HasLineItems reports whether any line item references the product's
// master variant.
func (r *ProductRepository) HasLineItems(ctx context.Context, productID string) (bool, error) {
	return r.exists(ctx, hasLineItemsSQL, productID)
}

// GetVariant returns a variant with its option values. Archived variants are
// returned too; callers check Deleted. The row is locked FOR SHARE, which
// lasts until the end of a transaction carried by ctx.
func (r *ProductRepository) GetVariant(ctx context.Context, id string) (*product.Variant, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, getVariantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting variant %q: %w", id, err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanVariant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrVariantNotFound
		}
		return nil, fmt.Errorf("getting variant %q: %w", id, err)
	}
	vs := []product.Variant{v}
	if err := loadVariantOptionValues(ctx, q, vs); err != nil {
		return nil, err
	}
	return &vs[0], nil
}

// LockMaster runs fn in a transaction that holds the product's master variant
// row FOR UPDATE.
func (r *ProductRepository) LockMaster(ctx context.Context, productID string, fn func(ctx context.Context) error) error {
	return inTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, lockMasterSQL, productID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return product.ErrNotFound
			}
			return fmt.Errorf("locking product %q: %w", productID, err)
		}
		return fn(ctx)
	})
}

func (r *ProductRepository) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var ok bool
	if err := conn(ctx, r.pool).QueryRow(ctx, sql, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return ok, nil
}

func (r *ProductRepository) loadChildren(ctx context.Context, q querier, p *product.Product) error {
	variants, err := queryAll(ctx, q, listVariantsSQL, p.ID, scanVariant)
	if err != nil {
		return fmt.Errorf("loading variants of %q: %w", p.ID, err)
	}
	if err := loadVariantOptionValues(ctx, q, variants); err != nil {
		return err
	}
	p.Variants = p.Variants[:0]
	for _, v := range variants {
		if v.IsMaster {
			p.Master = v
			continue
		}
		p.Variants = append(p.Variants, v)
	}

	rows, err := q.Query(ctx, listProductOptionTypeIDsSQL, p.ID)
	if err != nil {
		return fmt.Errorf("loading option types of %q: %w", p.ID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("loading option types of %q: %w", p.ID, err)
	}
	if p.OptionTypes, err = loadOptionTypes(ctx, q, ids); err != nil {
		return err
	}

	p.Properties, err = queryAll(ctx, q, listProductPropertiesSQL, p.ID, func(row pgx.CollectableRow) (product.ProductProperty, error) {
		var pp product.ProductProperty
		err := row.Scan(&pp.Name, &pp.Presentation, &pp.Value)
		return pp, err
	})
	if err != nil {
		return fmt.Errorf("loading properties of %q: %w", p.ID, err)
	}
	return nil
}

func (r *ProductRepository) saveChildren(ctx context.Context, tx pgx.Tx, p *product.Product) error {
	b := &pgx.Batch{}
	for i, v := range p.VariantsIncludingMaster() {
		b.Queue(upsertVariantSQL, v.ID, p.ID, v.SKU, v.IsMaster, v.Price, i, v.DeletedAt)
		for _, ov := range v.OptionValues {
			b.Queue(insertVariantOptionValueSQL, v.ID, ov.ID)
		}
	}
	for i, ot := range p.OptionTypes {
		b.Queue(upsertProductOptionTypeSQL, p.ID, ot.ID, i)
	}
	b.Queue(deleteProductPropertiesSQL, p.ID)
	for _, pp := range p.Properties {
		b.Queue(insertProductPropertySQL, p.ID, pp.Name, pp.Presentation, pp.Value)
	}
	if err := execBatch(ctx, tx, b); err != nil {
		return fmt.Errorf("saving children of product %q: %w", p.ID, err)
	}
	return nil
}

func loadVariantOptionValues(ctx context.Context, q querier, variants []product.Variant) error {
	if len(variants) == 0 {
		return nil
	}
	ids := make([]string, len(variants))
	index := make(map[string]int, len(variants))
	for i, v := range variants {
		ids[i] = v.ID
		index[v.ID] = i
	}

	rows, err := q.Query(ctx, listVariantOptionValuesSQL, ids)
	if err != nil {
		return fmt.Errorf("loading variant option values: %w", err)
	}
	var variantID string
	ov := product.OptionValue{}
	_, err = pgx.ForEachRow(rows, []any{&variantID, &ov.ID, &ov.OptionTypeID, &ov.Name, &ov.Presentation}, func() error {
		i := index[variantID]
		variants[i].OptionValues = append(variants[i].OptionValues, ov)
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading variant option values: %w", err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		status string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Slug, &status, &p.AvailableOn,
		&p.DiscontinueOn, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Status = product.Status(status)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (product.Variant, error) {
	var v product.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.IsMaster, &v.Price, &v.DeletedAt)
	return v, err
}
