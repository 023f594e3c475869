// Package loyalty tracks per-user point balances as an append-only event
// ledger. The balance never goes negative: a redemption that would overdraw
// is rejected, not clamped. The ledger has no notion of a pending
// redemption; provisional semantics (redeem at checkout, refund on payment
// failure) are the order orchestrator's responsibility.
package loyalty

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// EventType distinguishes ledger entries.
type EventType string

const (
	EventAccrual    EventType = "accrual"
	EventRedemption EventType = "redemption"
)

// Sentinel errors.
var (
	// ErrInsufficientPoints is returned when a redemption exceeds the balance.
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	// ErrInvalidPoints is returned for non-positive point amounts.
	ErrInvalidPoints = errors.New("points must be positive")
)

// Event is an immutable ledger entry. OrderID links the event to the order
// that caused it, when there is one.
type Event struct {
	ID        string
	OwnerID   string
	OrderID   string
	Type      EventType
	Points    int64
	CreatedAt time.Time
}

// Account is a user's current point balance.
type Account struct {
	OwnerID      string
	PointBalance int64
}

// Repository persists accounts and events. Both mutators append the event
// and adjust the balance in one atomic step; Redeem is conditional on the
// balance covering the debit and returns ErrInsufficientPoints otherwise.
type Repository interface {
	Get(ctx context.Context, ownerID string) (*Account, error)
	History(ctx context.Context, ownerID string) ([]Event, error)
	Accrue(ctx context.Context, ownerID string, points int64, orderID string) error
	Redeem(ctx context.Context, ownerID string, points int64, orderID string) error
}

// Ledger exposes the loyalty operations with input validation on top of the
// repository's atomic primitives.
type Ledger struct {
	repo Repository
}

// NewLedger creates a Ledger.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Balance returns the account for ownerID, with a zero balance for users
// who have never earned points.
func (l *Ledger) Balance(ctx context.Context, ownerID string) (*Account, error) {
	return l.repo.Get(ctx, ownerID)
}

// History returns the account's ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, ownerID string) ([]Event, error) {
	return l.repo.History(ctx, ownerID)
}

// Accrue credits points to the account.
func (l *Ledger) Accrue(ctx context.Context, ownerID string, points int64, orderID string) error {
	if points <= 0 {
		return ErrInvalidPoints
	}
	return l.repo.Accrue(ctx, ownerID, points, orderID)
}

// Redeem debits points from the account. Fails with ErrInsufficientPoints
// when the balance does not cover the debit.
func (l *Ledger) Redeem(ctx context.Context, ownerID string, points int64, orderID string) error {
	if points <= 0 {
		return ErrInvalidPoints
	}
	return l.repo.Redeem(ctx, ownerID, points, orderID)
}
