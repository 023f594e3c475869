// Package catalog defines the read-only contract against the product
// catalog collaborator. The checkout core only needs existence checks and
// base prices; catalog management lives elsewhere.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist or is
// not available for purchase.
var ErrNotFound = errors.New("product not found")

// Product is a purchasable catalog item.
type Product struct {
	ID       string
	Name     string
	Category string
	Price    decimal.Decimal
	Active   bool
}

// Repository defines read operations against the catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	List(ctx context.Context) ([]Product, error)
}
