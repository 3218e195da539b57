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
	listOptionTypesSQL = `SELECT id, name, presentation FROM option_types WHERE id = ANY($1)`

	listOptionValuesSQL = `SELECT id, option_type_id, name, presentation FROM option_values
		WHERE option_type_id = ANY($1) ORDER BY position, name`

	upsertOptionTypeSQL = `INSERT INTO option_types (id, name, presentation) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, presentation = EXCLUDED.presentation`

	upsertOptionValueSQL = `INSERT INTO option_values (id, option_type_id, name, presentation, position)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
			presentation = EXCLUDED.presentation, position = EXCLUDED.position`

	getPrototypeSQL = `SELECT id, name FROM prototypes WHERE id = $1`

	listPrototypePropertiesSQL = `SELECT id, name, presentation FROM prototype_properties
		WHERE prototype_id = $1 ORDER BY position`

	listPrototypeOptionTypeIDsSQL = `SELECT option_type_id FROM prototype_option_types
		WHERE prototype_id = $1 ORDER BY position`

	upsertPrototypeSQL = `INSERT INTO prototypes (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	upsertPrototypePropertySQL = `INSERT INTO prototype_properties (id, prototype_id, name, presentation, position)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
			presentation = EXCLUDED.presentation, position = EXCLUDED.position`

	upsertPrototypeOptionTypeSQL = `INSERT INTO prototype_option_types (prototype_id, option_type_id, position)
		VALUES ($1, $2, $3)
		ON CONFLICT (prototype_id, option_type_id) DO UPDATE SET position = EXCLUDED.position`
)

var _ product.OptionRepository = (*OptionRepository)(nil)

// OptionRepository implements product.OptionRepository backed by PostgreSQL.
type OptionRepository struct {
	pool *pgxpool.Pool
}

// NewOptionRepository returns an OptionRepository that uses the given pool.
func NewOptionRepository(pool *pgxpool.Pool) *OptionRepository {
	return &OptionRepository{pool: pool}
}

// GetOptionTypes returns the option types with their values, in the order
// of ids. Unknown ids are skipped.
func (r *OptionRepository) GetOptionTypes(ctx context.Context, ids []string) ([]product.OptionType, error) {
	return loadOptionTypes(ctx, conn(ctx, r.pool), ids)
}

// GetPrototype returns a prototype with its properties and option types.
func (r *OptionRepository) GetPrototype(ctx context.Context, id string) (*product.Prototype, error) {
	q := conn(ctx, r.pool)

	var p product.Prototype
	if err := q.QueryRow(ctx, getPrototypeSQL, id).Scan(&p.ID, &p.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrPrototypeNotFound
		}
		return nil, fmt.Errorf("getting prototype %q: %w", id, err)
	}

	var err error
	p.Properties, err = queryAll(ctx, q, listPrototypePropertiesSQL, id, func(row pgx.CollectableRow) (product.Property, error) {
		var prop product.Property
		err := row.Scan(&prop.ID, &prop.Name, &prop.Presentation)
		return prop, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading properties of prototype %q: %w", id, err)
	}

	typeIDs, err := queryAll(ctx, q, listPrototypeOptionTypeIDsSQL, id, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("loading option types of prototype %q: %w", id, err)
	}
	if p.OptionTypes, err = loadOptionTypes(ctx, q, typeIDs); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveOptionType stores an option type and its values.
func (r *OptionRepository) SaveOptionType(ctx context.Context, ot *product.OptionType) error {
	b := &pgx.Batch{}
	b.Queue(upsertOptionTypeSQL, ot.ID, ot.Name, ot.Presentation)
	for i, v := range ot.Values {
		b.Queue(upsertOptionValueSQL, v.ID, ot.ID, v.Name, v.Presentation, i)
	}
	if err := execBatch(ctx, conn(ctx, r.pool), b); err != nil {
		return fmt.Errorf("saving option type %q: %w", ot.Name, err)
	}
	return nil
}

// SavePrototype stores a prototype with its properties and option type
// links. The option types must already exist.
func (r *OptionRepository) SavePrototype(ctx context.Context, p *product.Prototype) error {
	b := &pgx.Batch{}
	b.Queue(upsertPrototypeSQL, p.ID, p.Name)
	for i, prop := range p.Properties {
		b.Queue(upsertPrototypePropertySQL, prop.ID, p.ID, prop.Name, prop.Presentation, i)
	}
	for i, ot := range p.OptionTypes {
		b.Queue(upsertPrototypeOptionTypeSQL, p.ID, ot.ID, i)
	}
	if err := execBatch(ctx, conn(ctx, r.pool), b); err != nil {
		return fmt.Errorf("saving prototype %q: %w", p.Name, err)
	}
	return nil
}

func loadOptionTypes(ctx context.Context, q querier, ids []string) ([]product.OptionType, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, listOptionTypesSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("loading option types: %w", err)
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.OptionType, error) {
		var ot product.OptionType
		err := row.Scan(&ot.ID, &ot.Name, &ot.Presentation)
		return ot, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading option types: %w", err)
	}
	byID := make(map[string]*product.OptionType, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}

	rows, err = q.Query(ctx, listOptionValuesSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("loading option values: %w", err)
	}
	var ov product.OptionValue
	_, err = pgx.ForEachRow(rows, []any{&ov.ID, &ov.OptionTypeID, &ov.Name, &ov.Presentation}, func() error {
		if ot, ok := byID[ov.OptionTypeID]; ok {
			ot.Values = append(ot.Values, ov)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading option values: %w", err)
	}

	out := make([]product.OptionType, 0, len(ids))
	for _, id := range ids {
		if ot, ok := byID[id]; ok {
			out = append(out, *ot)
		}
	}
	return out, nil
}
