package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for cart mutations.
var (
	// ErrConcurrentModification is returned when a mutation supplies a stale
	// cart version. This is an expected outcome of optimistic concurrency:
	// the caller re-reads the cart and retries.
	ErrConcurrentModification = errors.New("cart was modified concurrently")
	// ErrLineNotFound is returned when mutating a line that is not in the cart.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrEmptyCart is returned when checking out a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty")
)

// InvalidQuantityError indicates a non-positive quantity was supplied where
// a positive one is required.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d is invalid for product %s", e.Quantity, e.ProductID)
}

// Line is a single cart entry. UnitBasePrice is the catalog price snapshot
// taken when the line was first added; it does not track later catalog edits.
type Line struct {
	ProductID     string
	Quantity      int
	UnitBasePrice decimal.Decimal
	AddedAt       time.Time
}

// Cart is a user's mutable line collection. Version increments on every
// mutation and is the optimistic-concurrency token: mutations must supply
// the version they read.
type Cart struct {
	OwnerID string
	Lines   []Line
	Version int64
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Line returns the line for productID, or nil.
func (c *Cart) Line(productID string) *Line {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return &c.Lines[i]
		}
	}
	return nil
}

// Repository defines persistence operations for carts. Mutations are
// version-checked: a stale version yields ErrConcurrentModification and
// a successful mutation increments the stored version by one.
type Repository interface {
	// Get returns the owner's cart, or an empty version-0 cart if none
	// has been persisted yet.
	Get(ctx context.Context, ownerID string) (*Cart, error)
	// UpsertLine writes the line's final state (insert or replace).
	UpsertLine(ctx context.Context, ownerID string, line Line, version int64) error
	// RemoveLine deletes the line for productID.
	RemoveLine(ctx context.Context, ownerID, productID string, version int64) error
	// Clear removes every line, leaving an empty cart in place.
	Clear(ctx context.Context, ownerID string, version int64) error
}
