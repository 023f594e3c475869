package order

import "context"

// CheckoutUnit is the atomic write of checkout step 3+4: loyalty debit,
// order creation and cart clear commit together or not at all.
type CheckoutUnit struct {
	Order *Order
	// RedeemPoints, when positive, debits the owner's loyalty account and
	// appends a redemption event inside the same transaction. A balance
	// shortfall aborts the whole unit with loyalty.ErrInsufficientPoints.
	RedeemPoints int64
	// CartVersion is the version the checkout read; the cart clear is
	// conditional on it so concurrent cart mutations abort the checkout
	// with cart.ErrConcurrentModification instead of losing lines.
	CartVersion int64
}

// FinalizeUnit is the atomic write of a payment outcome: the payment's
// terminal transition, the order's status change, and the loyalty
// accrual or compensating refund commit together.
//
// The payment update is conditional on the payment still being pending;
// when it is not, the unit applies nothing and the caller reports the
// existing terminal state (idempotent callback delivery).
type FinalizeUnit struct {
	PaymentID     string
	PaymentStatus PaymentStatus
	OrderID       string
	OrderStatus   Status
	OwnerID       string
	// AccruePoints credits points earned by a captured payment.
	AccruePoints int64
	// RefundPoints re-credits a provisional redemption after a failure.
	// The refund applies at most once per order, guarded by the order's
	// points_refunded flag.
	RefundPoints int64
}

// CancelUnit is the atomic write of a cancellation: the order moves to
// cancelled (guarded on a cancellable status), any pending payment is
// voided, and provisionally redeemed points are refunded.
type CancelUnit struct {
	OrderID string
	OwnerID string
	// RefundPoints re-credits the order's provisional redemption, unless a
	// prior payment failure already did (the points_refunded guard).
	RefundPoints int64
}

// Repository persists orders and payments. The *Unit methods are the
// transactional boundaries required by the concurrency model; everything
// else is a plain read or single-row write.
type Repository interface {
	// CreateCheckout applies a CheckoutUnit atomically.
	CreateCheckout(ctx context.Context, unit CheckoutUnit) error

	// Get returns an order by ID.
	Get(ctx context.Context, orderID string) (*Order, error)
	// GetForOwner returns the order only if it belongs to ownerID;
	// otherwise ErrNotFound.
	GetForOwner(ctx context.Context, orderID, ownerID string) (*Order, error)

	// CreatePayment records a new payment row.
	CreatePayment(ctx context.Context, p *Payment) error
	// PaymentByProviderRef returns the payment and its order, or
	// ErrUnknownPaymentReference.
	PaymentByProviderRef(ctx context.Context, providerRef string) (*Payment, *Order, error)
	// PendingPayment returns the order's pending payment, or nil when none exists.
	PendingPayment(ctx context.Context, orderID string) (*Payment, error)

	// FinalizePayment applies a FinalizeUnit atomically. applied is false
	// when the payment was already terminal; nothing is written in that case.
	FinalizePayment(ctx context.Context, unit FinalizeUnit) (applied bool, err error)

	// CancelOrder applies a CancelUnit atomically. Returns
	// ErrInvalidTransition when the order is no longer cancellable.
	CancelOrder(ctx context.Context, unit CancelUnit) error

	// SetStatus conditionally moves an order from one status to another,
	// recording an optional tracking reference. Returns ErrInvalidTransition
	// when the order is not in the expected status.
	SetStatus(ctx context.Context, orderID string, from, to Status, trackingRef string) error

	// SetOrderPaymentState moves an order between payment-related statuses
	// (awaiting_payment <-> payment_failed) without touching payments.
	SetOrderPaymentState(ctx context.Context, orderID string, from, to Status) error

	// ResumeOrderPayment moves a payment_failed order back to
	// awaiting_payment. When the failure refunded the redemption, the same
	// transaction debits it again so the frozen discount stays paid for; a
	// balance shortfall aborts with loyalty.ErrInsufficientPoints.
	ResumeOrderPayment(ctx context.Context, orderID, ownerID string, redeemPoints int64) error
}
