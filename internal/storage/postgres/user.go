package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/user"
)

const (
	getUserSQL = `SELECT id, email, bill_address, ship_address FROM users WHERE id = $1`

	upsertUserSQL = `INSERT INTO users (id, email, bill_address, ship_address)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email,
			bill_address = EXCLUDED.bill_address, ship_address = EXCLUDED.ship_address`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := conn(ctx, r.pool).QueryRow(ctx, getUserSQL, id).Scan(
		&u.ID, &u.Email, &u.BillAddress, &u.ShipAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	return &u, nil
}

// Upsert stores u, replacing its email and addresses if it exists.
func (r *UserRepository) Upsert(ctx context.Context, u *user.User) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertUserSQL, u.ID, u.Email, u.BillAddress, u.ShipAddress)
	if err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}
