package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nghednh/flowershop-checkout/internal/domain/loyalty"
)

const (
	getAccountSQL = `SELECT owner_id, point_balance FROM loyalty_accounts WHERE owner_id = $1`

	getHistorySQL = `SELECT id, owner_id, order_id, type, points, created_at
		FROM loyalty_events WHERE owner_id = $1 ORDER BY created_at DESC`

	accruePointsSQL = `INSERT INTO loyalty_accounts (owner_id, point_balance) VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE
		SET point_balance = loyalty_accounts.point_balance + EXCLUDED.point_balance`

	// Conditional debit: zero rows affected means the balance cannot cover
	// the redemption (or the account does not exist, which is the same thing).
	redeemPointsSQL = `UPDATE loyalty_accounts
		SET point_balance = point_balance - $2
		WHERE owner_id = $1 AND point_balance >= $2`

	insertEventSQL = `INSERT INTO loyalty_events (id, owner_id, order_id, type, points)
		VALUES ($1, $2, $3, $4, $5)`
)

var _ loyalty.Repository = (*LoyaltyRepository)(nil)

// LoyaltyRepository implements loyalty.Repository backed by PostgreSQL.
// Balance adjustment and event append happen in one transaction.
type LoyaltyRepository struct {
	pool *pgxpool.Pool
}

// NewLoyaltyRepository returns a LoyaltyRepository that uses the given pool.
func NewLoyaltyRepository(pool *pgxpool.Pool) *LoyaltyRepository {
	return &LoyaltyRepository{pool: pool}
}

// Get returns the owner's account, with a zero balance when no row exists.
func (r *LoyaltyRepository) Get(ctx context.Context, ownerID string) (*loyalty.Account, error) {
	a := &loyalty.Account{OwnerID: ownerID}
	err := r.pool.QueryRow(ctx, getAccountSQL, ownerID).Scan(&a.OwnerID, &a.PointBalance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("getting loyalty account %q: %w", ownerID, err)
	}
	return a, nil
}

// History returns the owner's ledger events, newest first.
func (r *LoyaltyRepository) History(ctx context.Context, ownerID string) ([]loyalty.Event, error) {
	rows, err := r.pool.Query(ctx, getHistorySQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting loyalty history %q: %w", ownerID, err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToStructByPos[loyalty.Event])
	if err != nil {
		return nil, fmt.Errorf("getting loyalty history %q: %w", ownerID, err)
	}
	return events, nil
}

// Accrue credits points and appends the accrual event atomically.
func (r *LoyaltyRepository) Accrue(ctx context.Context, ownerID string, points int64, orderID string) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		return accrueTx(ctx, tx, ownerID, points, orderID)
	})
}

// Redeem debits points and appends the redemption event atomically. Returns
// loyalty.ErrInsufficientPoints when the balance does not cover the debit.
func (r *LoyaltyRepository) Redeem(ctx context.Context, ownerID string, points int64, orderID string) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		return redeemTx(ctx, tx, ownerID, points, orderID)
	})
}

// accrueTx is the accrual write, shared with the order repository's
// transactional units.
func accrueTx(ctx context.Context, tx pgx.Tx, ownerID string, points int64, orderID string) error {
	if _, err := tx.Exec(ctx, accruePointsSQL, ownerID, points); err != nil {
		return fmt.Errorf("accruing %d points for %q: %w", points, ownerID, err)
	}
	_, err := tx.Exec(ctx, insertEventSQL,
		uuid.New().String(), ownerID, orderID, loyalty.EventAccrual, points,
	)
	if err != nil {
		return fmt.Errorf("recording accrual event for %q: %w", ownerID, err)
	}
	return nil
}

// redeemTx is the conditional debit write, shared with the order
// repository's checkout unit.
func redeemTx(ctx context.Context, tx pgx.Tx, ownerID string, points int64, orderID string) error {
	tag, err := tx.Exec(ctx, redeemPointsSQL, ownerID, points)
	if err != nil {
		return fmt.Errorf("redeeming %d points for %q: %w", points, ownerID, err)
	}
	if tag.RowsAffected() == 0 {
		return loyalty.ErrInsufficientPoints
	}

	_, err = tx.Exec(ctx, insertEventSQL,
		uuid.New().String(), ownerID, orderID, loyalty.EventRedemption, points,
	)
	if err != nil {
		return fmt.Errorf("recording redemption event for %q: %w", ownerID, err)
	}
	return nil
}
