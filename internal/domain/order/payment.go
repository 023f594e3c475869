package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the payment lifecycle state. captured, failed, voided and
// refunded are terminal.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentCaptured PaymentStatus = "captured"
	PaymentFailed   PaymentStatus = "failed"
	PaymentVoided   PaymentStatus = "voided"
	PaymentRefunded PaymentStatus = "refunded"
)

// Terminal reports whether the status admits no further transitions.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

// Payment is one payment attempt for an order. ProviderRef is the gateway's
// reference and the idempotency key for callback delivery. At most one
// non-failed payment exists per order at a time.
type Payment struct {
	ID          string
	OrderID     string
	Amount      decimal.Decimal
	Status      PaymentStatus
	ProviderRef string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CallbackOutcome is the result the gateway reports for a payment.
type CallbackOutcome string

const (
	OutcomeSuccess CallbackOutcome = "success"
	OutcomeFailure CallbackOutcome = "failure"
)

// ErrAlreadyCaptured is returned by Gateway.Void when the provider reports
// the payment was captured before the void could take effect.
var ErrAlreadyCaptured = errors.New("payment already captured by provider")

// Gateway is the external payment provider boundary. Initiate must be safe
// to retry: implementations send the order ID as a stable idempotency key.
type Gateway interface {
	// Initiate creates a payment intent for the amount and returns the
	// provider's reference.
	Initiate(ctx context.Context, orderID string, amount decimal.Decimal) (providerRef string, err error)
	// Void cancels a not-yet-captured intent. Returns ErrAlreadyCaptured
	// when the provider confirms the payment went through.
	Void(ctx context.Context, providerRef string) error
}
