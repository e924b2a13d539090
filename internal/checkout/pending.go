package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/storefront/internal/store"
)

// Status of an in-flight checkout marker.
type Status string

const (
	StatusInitiated       Status = "initiated"
	StatusAwaitingGateway Status = "awaiting_gateway"
	StatusResolved        Status = "resolved"
)

// validTransitions defines allowed marker transitions
var validTransitions = map[Status][]Status{
	StatusInitiated:       {StatusAwaitingGateway, StatusResolved},
	StatusAwaitingGateway: {StatusResolved},
	StatusResolved:        {}, // terminal state
}

// CanTransitionTo checks if the marker can move to the target status
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// PendingCheckout records a payment attempt that may be in flight at the
// external gateway. It is written before the browser leaves for the gateway
// and deleted once the outcome has been reconciled. At most one exists.
type PendingCheckout struct {
	Reference string          `json:"reference"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// LoadPending reads the pending-checkout marker, if any.
func LoadPending(ctx context.Context, s store.Store) (*PendingCheckout, bool, error) {
	data, ok, err := s.Get(ctx, store.KeyPendingCheckout)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load pending checkout: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var p PendingCheckout
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("failed to decode pending checkout: %w", err)
	}
	return &p, true, nil
}

// SavePending writes the marker.
func SavePending(ctx context.Context, s store.Store, p *PendingCheckout) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode pending checkout: %w", err)
	}
	if err := s.Set(ctx, store.KeyPendingCheckout, data); err != nil {
		return fmt.Errorf("failed to persist pending checkout: %w", err)
	}
	return nil
}

// DeletePending removes the marker.
func DeletePending(ctx context.Context, s store.Store) error {
	if err := s.Delete(ctx, store.KeyPendingCheckout); err != nil {
		return fmt.Errorf("failed to delete pending checkout: %w", err)
	}
	return nil
}
