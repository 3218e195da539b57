package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/tagging"
)

const (
	insertTagSQL = `INSERT INTO tags (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`

	getTagsByNameSQL = `SELECT id, name FROM tags WHERE name = ANY($1)`

	insertTaggingSQL = `INSERT INTO taggings (id, tag_id, taggable_id, taggable_type, context, tagger_id, tagger_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tag_id, taggable_id, taggable_type, context, tagger_id, tagger_type) DO NOTHING`

	listTagsSQL = `SELECT DISTINCT t.id, t.name
		FROM tags t JOIN taggings tg ON tg.tag_id = t.id
		WHERE tg.taggable_id = $1 AND tg.taggable_type = $2 AND tg.context = $3
		ORDER BY t.name`
)

var _ tagging.Repository = (*TaggingRepository)(nil)

// TaggingRepository implements tagging.Repository backed by PostgreSQL.
type TaggingRepository struct {
	pool *pgxpool.Pool
}

// NewTaggingRepository returns a TaggingRepository that uses the given pool.
func NewTaggingRepository(pool *pgxpool.Pool) *TaggingRepository {
	return &TaggingRepository{pool: pool}
}

// Tag creates missing tags and links them to target. Both steps tolerate
// concurrent writers: conflicting inserts are skipped.
func (r *TaggingRepository) Tag(ctx context.Context, target tagging.Target, tagContext string, names []string, tagger tagging.Tagger) ([]tagging.Tag, error) {
	var tags []tagging.Tag
	err := inTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, name := range names {
			b.Queue(insertTagSQL, uuid.New().String(), name)
		}
		if err := execBatch(ctx, tx, b); err != nil {
			return fmt.Errorf("creating tags: %w", err)
		}

		rows, err := tx.Query(ctx, getTagsByNameSQL, names)
		if err != nil {
			return fmt.Errorf("getting tags: %w", err)
		}
		found, err := pgx.CollectRows(rows, scanTag)
		if err != nil {
			return fmt.Errorf("getting tags: %w", err)
		}
		byName := make(map[string]tagging.Tag, len(found))
		for _, t := range found {
			byName[t.Name] = t
		}

		b = &pgx.Batch{}
		for _, name := range names {
			t := byName[name]
			tags = append(tags, t)
			b.Queue(insertTaggingSQL, uuid.New().String(), t.ID, target.ID, target.Type,
				tagContext, tagger.ID, tagger.Type)
		}
		if err := execBatch(ctx, tx, b); err != nil {
			return fmt.Errorf("tagging %s %q: %w", target.Type, target.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// List returns the tags linked to target in tagContext by any tagger.
func (r *TaggingRepository) List(ctx context.Context, target tagging.Target, tagContext string) ([]tagging.Tag, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listTagsSQL, target.ID, target.Type, tagContext)
	if err != nil {
		return nil, fmt.Errorf("listing tags of %s %q: %w", target.Type, target.ID, err)
	}
	return pgx.CollectRows(rows, scanTag)
}

func scanTag(row pgx.CollectableRow) (tagging.Tag, error) {
	var t tagging.Tag
	err := row.Scan(&t.ID, &t.Name)
	return t, err
}
