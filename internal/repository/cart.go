package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nghednh/flowershop-checkout/internal/domain/cart"
)

const (
	getCartVersionSQL = `SELECT version FROM carts WHERE owner_id = $1`

	getCartLinesSQL = `SELECT product_id, quantity, unit_base_price, added_at
		FROM cart_lines WHERE owner_id = $1 ORDER BY added_at`

	ensureCartSQL = `INSERT INTO carts (owner_id) VALUES ($1) ON CONFLICT DO NOTHING`

	// The version bump doubles as the optimistic-concurrency check: zero
	// rows affected means the caller read a stale version.
	bumpCartVersionSQL = `UPDATE carts SET version = version + 1
		WHERE owner_id = $1 AND version = $2`

	upsertCartLineSQL = `INSERT INTO cart_lines (owner_id, product_id, quantity, unit_base_price, added_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity`

	deleteCartLineSQL  = `DELETE FROM cart_lines WHERE owner_id = $1 AND product_id = $2`
	deleteCartLinesSQL = `DELETE FROM cart_lines WHERE owner_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Every
// mutation runs in a transaction whose version bump enforces the optimistic
// concurrency contract.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the owner's cart. Users without a persisted cart get an empty
// cart at version zero; the row is created lazily on first mutation.
func (r *CartRepository) Get(ctx context.Context, ownerID string) (*cart.Cart, error) {
	c := &cart.Cart{OwnerID: ownerID}

	err := r.pool.QueryRow(ctx, getCartVersionSQL, ownerID).Scan(&c.Version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("getting cart %q: %w", ownerID, err)
	}

	rows, err := r.pool.Query(ctx, getCartLinesSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting cart lines %q: %w", ownerID, err)
	}
	c.Lines, err = pgx.CollectRows(rows, pgx.RowToStructByPos[cart.Line])
	if err != nil {
		return nil, fmt.Errorf("getting cart lines %q: %w", ownerID, err)
	}

	return c, nil
}

// UpsertLine writes the line's final state under the version check.
func (r *CartRepository) UpsertLine(ctx context.Context, ownerID string, line cart.Line, version int64) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := bumpVersion(ctx, tx, ownerID, version); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, upsertCartLineSQL,
			ownerID, line.ProductID, line.Quantity, line.UnitBasePrice, line.AddedAt,
		)
		if err != nil {
			return fmt.Errorf("upserting cart line %q: %w", line.ProductID, err)
		}
		return nil
	})
}

// RemoveLine deletes a line under the version check.
func (r *CartRepository) RemoveLine(ctx context.Context, ownerID, productID string, version int64) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := bumpVersion(ctx, tx, ownerID, version); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteCartLineSQL, ownerID, productID); err != nil {
			return fmt.Errorf("removing cart line %q: %w", productID, err)
		}
		return nil
	})
}

// Clear deletes every line under the version check. The cart row survives.
func (r *CartRepository) Clear(ctx context.Context, ownerID string, version int64) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := bumpVersion(ctx, tx, ownerID, version); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteCartLinesSQL, ownerID); err != nil {
			return fmt.Errorf("clearing cart %q: %w", ownerID, err)
		}
		return nil
	})
}

// bumpVersion lazily creates the cart row, then increments its version only
// if the supplied version is current. A stale version yields
// cart.ErrConcurrentModification.
func bumpVersion(ctx context.Context, tx pgx.Tx, ownerID string, version int64) error {
	if _, err := tx.Exec(ctx, ensureCartSQL, ownerID); err != nil {
		return fmt.Errorf("ensuring cart %q: %w", ownerID, err)
	}

	tag, err := tx.Exec(ctx, bumpCartVersionSQL, ownerID, version)
	if err != nil {
		return fmt.Errorf("bumping cart version %q: %w", ownerID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrConcurrentModification
	}
	return nil
}
