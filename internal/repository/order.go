package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nghednh/flowershop-checkout/internal/domain/cart"
	"github.com/nghednh/flowershop-checkout/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, owner_id, address_id, payment_method, lines,
			subtotal, discount, total, points_redeemed, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

	orderColumns = `id, owner_id, address_id, payment_method, lines, subtotal, discount,
		total, points_redeemed, points_refunded, status, tracking_ref, created_at, updated_at`

	getOrderSQL         = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForOwnerSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND owner_id = $2`

	setOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	setOrderStatusTrackingSQL = `UPDATE orders
		SET status = $3, tracking_ref = COALESCE(NULLIF($4, ''), tracking_ref), updated_at = NOW()
		WHERE id = $1 AND status = $2`

	cancelOrderSQL = `UPDATE orders SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
			AND status IN ('created', 'awaiting_payment', 'payment_failed')`

	insertPaymentSQL = `INSERT INTO payments (id, order_id, amount, status, provider_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`

	paymentColumns = `id, order_id, amount, status, provider_ref, created_at, updated_at`

	getPaymentByRefSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE provider_ref = $1`

	getPendingPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 AND status = 'pending'`

	// Conditional terminal transition; zero rows affected means the payment
	// already settled and the whole finalize unit must apply nothing.
	settlePaymentSQL = `UPDATE payments SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	voidPendingPaymentSQL = `UPDATE payments SET status = 'voided', updated_at = NOW()
		WHERE order_id = $1 AND status = 'pending'`

	// Conditional refund guard; zero rows affected means the redemption was
	// already compensated (or there was nothing to compensate).
	markPointsRefundedSQL = `UPDATE orders SET points_refunded = TRUE, updated_at = NOW()
		WHERE id = $1 AND points_redeemed > 0 AND NOT points_refunded`

	lockOrderForResumeSQL = `SELECT points_refunded FROM orders
		WHERE id = $1 AND owner_id = $2 AND status = 'payment_failed' FOR UPDATE`

	resumeOrderPaymentSQL = `UPDATE orders
		SET status = 'awaiting_payment', points_refunded = FALSE, updated_at = NOW()
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// CheckoutUnit, FinalizeUnit and CancelUnit writes each run in a single
// transaction; a crash between sub-steps never leaves points debited
// without an order or an order paid without its accrual.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateCheckout atomically debits redeemed points, persists the frozen
// order, and clears the source cart under its version check.
func (r *OrderRepository) CreateCheckout(ctx context.Context, unit order.CheckoutUnit) error {
	o := unit.Order

	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if unit.RedeemPoints > 0 {
			if err := redeemTx(ctx, tx, o.OwnerID, unit.RedeemPoints, o.ID); err != nil {
				return err
			}
		}

		if err := clearCartTx(ctx, tx, o.OwnerID, unit.CartVersion); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.OwnerID, o.AddressID, o.PaymentMethod, linesJSON,
			o.Subtotal, o.Discount, o.Total, o.PointsRedeemed, o.Status, o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}
		return nil
	})
}

// clearCartTx empties the cart inside the checkout transaction, guarded by
// the version the checkout read.
func clearCartTx(ctx context.Context, tx pgx.Tx, ownerID string, version int64) error {
	tag, err := tx.Exec(ctx, bumpCartVersionSQL, ownerID, version)
	if err != nil {
		return fmt.Errorf("bumping cart version %q: %w", ownerID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrConcurrentModification
	}
	if _, err := tx.Exec(ctx, deleteCartLinesSQL, ownerID); err != nil {
		return fmt.Errorf("clearing cart %q: %w", ownerID, err)
	}
	return nil
}

// Get returns an order by ID, or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (*order.Order, error) {
	return r.getOrder(ctx, getOrderSQL, orderID)
}

// GetForOwner returns the order only when it belongs to ownerID.
func (r *OrderRepository) GetForOwner(ctx context.Context, orderID, ownerID string) (*order.Order, error) {
	return r.getOrder(ctx, getOrderForOwnerSQL, orderID, ownerID)
}

func (r *OrderRepository) getOrder(ctx context.Context, query string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding order: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order: %w", err)
	}
	return o, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o         order.Order
		linesJSON []byte
		status    string
	)
	err := row.Scan(
		&o.ID, &o.OwnerID, &o.AddressID, &o.PaymentMethod, &linesJSON,
		&o.Subtotal, &o.Discount, &o.Total, &o.PointsRedeemed, &o.PointsRefunded, &status,
		&o.TrackingRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return nil, fmt.Errorf("unmarshaling order lines: %w", err)
	}
	o.Status = order.Status(status)
	return &o, nil
}

// CreatePayment records a new payment row.
func (r *OrderRepository) CreatePayment(ctx context.Context, p *order.Payment) error {
	_, err := r.pool.Exec(ctx, insertPaymentSQL,
		p.ID, p.OrderID, p.Amount, p.Status, p.ProviderRef, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// PaymentByProviderRef returns the payment and its order. An unknown
// reference yields order.ErrUnknownPaymentReference.
func (r *OrderRepository) PaymentByProviderRef(ctx context.Context, providerRef string) (*order.Payment, *order.Order, error) {
	p, err := r.getPayment(ctx, getPaymentByRefSQL, providerRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, order.ErrUnknownPaymentReference
		}
		return nil, nil, err
	}

	o, err := r.Get(ctx, p.OrderID)
	if err != nil {
		return nil, nil, err
	}
	return p, o, nil
}

// PendingPayment returns the order's pending payment, or nil when none exists.
func (r *OrderRepository) PendingPayment(ctx context.Context, orderID string) (*order.Payment, error) {
	p, err := r.getPayment(ctx, getPendingPaymentSQL, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *OrderRepository) getPayment(ctx context.Context, query string, args ...any) (*order.Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding payment: %w", err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[order.Payment])
	if err != nil {
		// Callers distinguish pgx.ErrNoRows through the wrap.
		return nil, fmt.Errorf("finding payment: %w", err)
	}
	return p, nil
}

// FinalizePayment applies the payment outcome, the order transition, and the
// loyalty accrual or refund in one transaction. The payment update is
// conditional on pending status; when it does not apply, the transaction is
// abandoned and applied=false is returned.
func (r *OrderRepository) FinalizePayment(ctx context.Context, unit order.FinalizeUnit) (bool, error) {
	applied := false
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, settlePaymentSQL, unit.PaymentID, unit.PaymentStatus)
		if err != nil {
			return fmt.Errorf("settling payment %q: %w", unit.PaymentID, err)
		}
		if tag.RowsAffected() == 0 {
			// Already settled by a concurrent delivery; apply nothing.
			return nil
		}

		tag, err = tx.Exec(ctx, setOrderStatusSQL, unit.OrderID, order.StatusAwaitingPayment, unit.OrderStatus)
		if err != nil {
			return fmt.Errorf("transitioning order %q: %w", unit.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("order %q not awaiting payment: %w", unit.OrderID, order.ErrInvalidTransition)
		}

		if unit.AccruePoints > 0 {
			if err := accrueTx(ctx, tx, unit.OwnerID, unit.AccruePoints, unit.OrderID); err != nil {
				return err
			}
		}
		if err := refundPointsTx(ctx, tx, unit.OrderID, unit.OwnerID, unit.RefundPoints); err != nil {
			return err
		}

		applied = true
		return nil
	})
	return applied, err
}

// refundPointsTx re-credits a provisional redemption at most once, keyed on
// the order's points_refunded flag. A second compensation attempt (failure
// then cancel, or repeated failures) is a no-op.
func refundPointsTx(ctx context.Context, tx pgx.Tx, orderID, ownerID string, points int64) error {
	if points <= 0 {
		return nil
	}
	tag, err := tx.Exec(ctx, markPointsRefundedSQL, orderID)
	if err != nil {
		return fmt.Errorf("marking order %q refunded: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	return accrueTx(ctx, tx, ownerID, points, orderID)
}

// CancelOrder moves the order to cancelled (guarded on a cancellable
// status), voids any pending payment, and refunds provisionally redeemed
// points, all in one transaction.
func (r *OrderRepository) CancelOrder(ctx context.Context, unit order.CancelUnit) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, cancelOrderSQL, unit.OrderID, unit.OwnerID)
		if err != nil {
			return fmt.Errorf("cancelling order %q: %w", unit.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrInvalidTransition
		}

		if _, err := tx.Exec(ctx, voidPendingPaymentSQL, unit.OrderID); err != nil {
			return fmt.Errorf("voiding payment for order %q: %w", unit.OrderID, err)
		}

		return refundPointsTx(ctx, tx, unit.OrderID, unit.OwnerID, unit.RefundPoints)
	})
}

// SetStatus conditionally moves an order between statuses, optionally
// recording a tracking reference.
func (r *OrderRepository) SetStatus(ctx context.Context, orderID string, from, to order.Status, trackingRef string) error {
	tag, err := r.pool.Exec(ctx, setOrderStatusTrackingSQL, orderID, from, to, trackingRef)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrInvalidTransition
	}
	return nil
}

// SetOrderPaymentState moves an order between payment-related statuses.
func (r *OrderRepository) SetOrderPaymentState(ctx context.Context, orderID string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, setOrderStatusSQL, orderID, from, to)
	if err != nil {
		return fmt.Errorf("updating order %q payment state: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrInvalidTransition
	}
	return nil
}

// ResumeOrderPayment moves a payment_failed order back to awaiting_payment,
// re-debiting the refunded redemption in the same transaction. The row is
// locked so concurrent retries cannot debit twice.
func (r *OrderRepository) ResumeOrderPayment(ctx context.Context, orderID, ownerID string, redeemPoints int64) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var refunded bool
		err := tx.QueryRow(ctx, lockOrderForResumeSQL, orderID, ownerID).Scan(&refunded)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrInvalidTransition
			}
			return fmt.Errorf("locking order %q for retry: %w", orderID, err)
		}

		if refunded && redeemPoints > 0 {
			if err := redeemTx(ctx, tx, ownerID, redeemPoints, orderID); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, resumeOrderPaymentSQL, orderID); err != nil {
			return fmt.Errorf("resuming order %q payment: %w", orderID, err)
		}
		return nil
	})
}
