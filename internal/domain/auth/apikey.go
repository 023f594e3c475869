// Package auth defines the identity contract. The checkout core trusts the
// owner ID resolved here and performs only ownership checks; issuing and
// rotating keys is the seed tooling's job.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active key matches the supplied hash.
var ErrKeyNotFound = errors.New("api key not found")

// Key roles. Customers act only on their own carts and orders; operators
// additionally drive fulfilment transitions and manual ledger adjustments.
const (
	RoleCustomer = "customer"
	RoleOperator = "operator"
)

// APIKeyInfo describes a stored API key and the user it authenticates.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	OwnerID string
	Name    string
	Role    string
}

// Repository provides API key lookups.
type Repository interface {
	// FindByHash looks up an active key by its HMAC-SHA256 hash.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
