package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nghednh/flowershop-checkout/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT id, name, category, price, active
		FROM products WHERE id = $1 AND active`

	getProductsSQL = `SELECT id, name, category, price, active
		FROM products WHERE id = ANY($1)`

	listProductsSQL = `SELECT id, name, category, price, active
		FROM products WHERE active ORDER BY name`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID returns an active product, or catalog.ErrNotFound.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[catalog.Product])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("finding product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns the subset of the given products that exist. Missing IDs
// are simply absent from the result.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("finding products: %w", err)
	}

	products, err := pgx.CollectRows(rows, pgx.RowToStructByPos[catalog.Product])
	if err != nil {
		return nil, fmt.Errorf("finding products: %w", err)
	}
	return products, nil
}

// List returns all active products.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	products, err := pgx.CollectRows(rows, pgx.RowToStructByPos[catalog.Product])
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}
