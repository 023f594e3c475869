package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nghednh/flowershop-checkout/internal/domain/address"
)

const getAddressSQL = `SELECT id, owner_id, recipient, street, city, postal_code, phone
	FROM addresses WHERE id = $1 AND owner_id = $2`

var _ address.Repository = (*AddressRepository)(nil)

// AddressRepository implements address.Repository backed by PostgreSQL.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// GetForOwner returns the address only when it belongs to ownerID. A missing
// row and a foreign row both map to address.ErrNotFound.
func (r *AddressRepository) GetForOwner(ctx context.Context, id, ownerID string) (*address.Address, error) {
	rows, err := r.pool.Query(ctx, getAddressSQL, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("finding address %q: %w", id, err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[address.Address])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, address.ErrNotFound
		}
		return nil, fmt.Errorf("finding address %q: %w", id, err)
	}
	return &a, nil
}
