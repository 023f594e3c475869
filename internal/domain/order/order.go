package order

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the order lifecycle state.
//
// Success path: created -> awaiting_payment -> paid -> fulfilling -> delivered.
// Payment failure loops awaiting_payment -> payment_failed -> awaiting_payment.
// Cancellation is allowed from created, awaiting_payment and payment_failed.
// Delivered and cancelled are terminal.
type Status string

const (
	StatusCreated         Status = "created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaymentFailed   Status = "payment_failed"
	StatusPaid            Status = "paid"
	StatusFulfilling      Status = "fulfilling"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
)

// Sentinel errors for the orchestrator's operations.
var (
	// ErrNotFound is returned when an order does not exist or does not
	// belong to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrAddressNotFound is returned when the shipping address does not
	// exist or does not belong to the caller.
	ErrAddressNotFound = errors.New("address not found")
	// ErrAlreadyPaid is returned when cancellation loses the race against a
	// confirmed payment capture; the order proceeds as paid.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrInvalidTransition is returned for a status change the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrInvalidRedeemPoints is returned for a negative redemption request.
	ErrInvalidRedeemPoints = errors.New("redeem points must not be negative")
	// ErrUnknownPaymentReference is returned for a callback whose provider
	// reference matches no payment. Logged and dropped, never retried.
	ErrUnknownPaymentReference = errors.New("unknown payment reference")
)

// Line is a frozen copy of a cart line with its price resolved at checkout
// time. Once the order exists these values never change, regardless of
// later rule or catalog edits.
type Line struct {
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	UnitBasePrice decimal.Decimal `json:"unit_base_price"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	AppliedRuleID string          `json:"applied_rule_id,omitempty"`
}

// Order is a frozen ledger entry created once at checkout. Only Status,
// TrackingRef and UpdatedAt change afterwards; lines and amounts are
// immutable.
type Order struct {
	ID            string
	OwnerID       string
	AddressID     string
	PaymentMethod string
	Lines         []Line
	// Subtotal is the frozen total before loyalty redemption.
	Subtotal decimal.Decimal
	// Discount is the currency value of the redeemed points.
	Discount decimal.Decimal
	// Total is Subtotal minus Discount, floored at zero.
	Total          decimal.Decimal
	PointsRedeemed int64
	// PointsRefunded is set once the redemption has been compensated, so a
	// failure followed by a cancellation refunds at most once.
	PointsRefunded bool
	Status         Status
	TrackingRef    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Cancellable reports whether the order may still be cancelled by its owner.
func (o *Order) Cancellable() bool {
	switch o.Status {
	case StatusCreated, StatusAwaitingPayment, StatusPaymentFailed:
		return true
	default:
		return false
	}
}

// operatorTransitions lists the post-payment transitions operators may drive.
var operatorTransitions = map[Status][]Status{
	StatusFulfilling: {StatusDelivered, StatusCancelled},
}

// operatorTransitionAllowed reports whether an operator may move an order
// from one status to another.
func operatorTransitionAllowed(from, to Status) bool {
	for _, allowed := range operatorTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
