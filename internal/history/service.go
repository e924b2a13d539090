package history

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/example/storefront/internal/backend"
)

// API is the slice of the backend client the history view needs.
type API interface {
	ListOrders(ctx context.Context) ([]backend.OrderSummary, error)
	GetOrder(ctx context.Context, orderID string) (*backend.OrderSummary, error)
}

// FixtureProvider supplies canned orders. Only test fixtures implement it;
// production wiring passes nil, and a backend failure is surfaced to the
// caller instead of being papered over with fabricated data.
type FixtureProvider interface {
	Orders() []backend.OrderSummary
}

// Service exposes the order history and receives confirmations from payment
// reconciliation.
type Service struct {
	api      API
	fixtures FixtureProvider

	mu        sync.RWMutex
	confirmed []backend.OrderSummary
}

func NewService(api API, fixtures FixtureProvider) *Service {
	return &Service{api: api, fixtures: fixtures}
}

// Confirm records a freshly reconciled order so it shows up immediately,
// before the backend list catches up.
func (s *Service) Confirm(order backend.OrderSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = append([]backend.OrderSummary{order}, s.confirmed...)
	log.Printf("[History] Recorded confirmed order %s", order.OrderID)
}

// List returns the order history, newest first, with locally confirmed
// orders merged in.
func (s *Service) List(ctx context.Context) ([]backend.OrderSummary, error) {
	if s.fixtures != nil {
		return s.fixtures.Orders(), nil
	}
	orders, err := s.api.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return s.mergeConfirmed(orders), nil
}

// Get returns one order by ID.
func (s *Service) Get(ctx context.Context, orderID string) (*backend.OrderSummary, error) {
	if s.fixtures != nil {
		for _, order := range s.fixtures.Orders() {
			if order.OrderID == orderID {
				return &order, nil
			}
		}
		return nil, backend.ErrNotFound
	}
	order, err := s.api.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	return order, nil
}

func (s *Service) mergeConfirmed(orders []backend.OrderSummary) []backend.OrderSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.confirmed) == 0 {
		return orders
	}
	seen := make(map[string]bool, len(orders))
	for _, order := range orders {
		seen[order.OrderID] = true
	}
	merged := orders
	for i := len(s.confirmed) - 1; i >= 0; i-- {
		if !seen[s.confirmed[i].OrderID] {
			merged = append([]backend.OrderSummary{s.confirmed[i]}, merged...)
		}
	}
	return merged
}
