package store

import "context"

// Keys used by the storefront. The pending-checkout record is a singleton:
// at most one checkout may be in flight at a time.
const (
	KeyPendingCheckout = "checkout/pending"
	KeyLastResolved    = "checkout/last_resolved"
	KeySessionToken    = "session/token"

	cartKeyPrefix = "cart/"
)

// CartKey returns the store key for a cart record.
func CartKey(cartID string) string {
	return cartKeyPrefix + cartID
}

// Store is a durable key-value store. Records survive a process restart and
// are readable and writable without a network round trip.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
