// Package address defines the shipping address contract. Addresses are
// immutable from checkout's point of view; only ownership is verified here.
package address

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when an address does not exist or does not belong
// to the caller. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("address not found")

// Address is a shipping target owned by a user.
type Address struct {
	ID         string
	OwnerID    string
	Recipient  string
	Street     string
	City       string
	PostalCode string
	Phone      string
}

// Repository defines read operations for addresses.
type Repository interface {
	// GetForOwner returns the address only if it belongs to ownerID;
	// otherwise ErrNotFound.
	GetForOwner(ctx context.Context, id, ownerID string) (*Address, error)
}
