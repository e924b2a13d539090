package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/storefront/internal/store"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidProduct  = errors.New("product_id is required")
	ErrInvalidPrice    = errors.New("unit price must not be negative")
)

// Item is a single cart line.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"image_ref,omitempty"`
}

// Cart is the persisted cart record. Items keep insertion order, and no two
// items share a product ID. Version is a monotonic stamp; on concurrent
// writers the later version wins.
type Cart struct {
	ID        string    `json:"id"`
	Items     []Item    `json:"items"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subtotal returns the sum of unit price times quantity over all items.
func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// ItemCount returns the sum of quantities over all items.
func (c Cart) ItemCount() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

func (c Cart) clone() Cart {
	cp := c
	cp.Items = make([]Item, len(c.Items))
	copy(cp.Items, c.Items)
	return cp
}

// Manager owns the cart state. Every mutation computes the new cart value,
// hands it to the write-through queue, and then notifies subscribers, so
// subscribers only ever observe values that have been queued for persistence.
// Mutations never wait for the disk write.
type Manager struct {
	mu    sync.Mutex
	store store.Store
	cart  Cart
	subs  []func(Cart)

	writes  chan Cart
	stop    chan struct{}
	stopped chan struct{}
}

// NewManager restores the cart for cartID from the durable store, or starts
// an empty one, and begins the write-through worker.
func NewManager(ctx context.Context, s store.Store, cartID string) (*Manager, error) {
	m := &Manager{
		store:   s,
		cart:    Cart{ID: cartID, Items: []Item{}},
		writes:  make(chan Cart, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	data, ok, err := s.Get(ctx, store.CartKey(cartID))
	if err != nil {
		return nil, fmt.Errorf("failed to restore cart %s: %w", cartID, err)
	}
	if ok {
		if err := json.Unmarshal(data, &m.cart); err != nil {
			return nil, fmt.Errorf("failed to decode cart %s: %w", cartID, err)
		}
	}

	go m.run()
	return m, nil
}

// Subscribe registers fn to be called with a snapshot after every mutation.
func (m *Manager) Subscribe(fn func(Cart)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Snapshot returns a copy of the current cart.
func (m *Manager) Snapshot() Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.clone()
}

func (m *Manager) Items() []Item {
	return m.Snapshot().Items
}

func (m *Manager) Subtotal() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Subtotal()
}

func (m *Manager) ItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.ItemCount()
}

// Add inserts a new item, or increments the quantity if the product is
// already in the cart. Non-positive quantities are rejected, not clamped.
func (m *Manager) Add(productID, name string, unitPrice decimal.Decimal, imageRef string, qty int) error {
	if productID == "" {
		return ErrInvalidProduct
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if unitPrice.IsNegative() {
		return ErrInvalidPrice
	}

	return m.mutate(func(c *Cart) bool {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items[i].Quantity += qty
				return true
			}
		}
		c.Items = append(c.Items, Item{
			ProductID: productID,
			Name:      name,
			UnitPrice: unitPrice,
			Quantity:  qty,
			ImageRef:  imageRef,
		})
		return true
	})
}

// Remove deletes the item entirely. Removing an absent product is a no-op.
func (m *Manager) Remove(productID string) error {
	if productID == "" {
		return ErrInvalidProduct
	}
	return m.mutate(func(c *Cart) bool {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
				return true
			}
		}
		return false
	})
}

// SetQuantity replaces the quantity for a product. Zero removes the entry;
// quantities below one never persist.
func (m *Manager) SetQuantity(productID string, qty int) error {
	if productID == "" {
		return ErrInvalidProduct
	}
	if qty < 0 {
		return ErrInvalidQuantity
	}
	if qty == 0 {
		return m.Remove(productID)
	}
	return m.mutate(func(c *Cart) bool {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				if c.Items[i].Quantity == qty {
					return false
				}
				c.Items[i].Quantity = qty
				return true
			}
		}
		return false
	})
}

// Clear empties the cart. Clearing an already-empty cart is a no-op, so a
// duplicate payment confirmation cannot double-clear.
func (m *Manager) Clear() error {
	return m.mutate(func(c *Cart) bool {
		if len(c.Items) == 0 {
			return false
		}
		c.Items = []Item{}
		return true
	})
}

// mutate applies fn to a copy of the cart under the lock. If fn reports a
// change, the new value gets a bumped version stamp, is queued for
// persistence, and is published to subscribers.
func (m *Manager) mutate(fn func(*Cart) bool) error {
	m.mu.Lock()
	next := m.cart.clone()
	if !fn(&next) {
		m.mu.Unlock()
		return nil
	}
	next.Version++
	next.UpdatedAt = time.Now()
	m.cart = next
	m.enqueue(next)
	subs := make([]func(Cart), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(next.clone())
	}
	return nil
}

// enqueue hands a cart value to the writer without blocking. A queued value
// that has not been written yet is superseded; the later write wins.
func (m *Manager) enqueue(c Cart) {
	for {
		select {
		case m.writes <- c:
			return
		default:
			select {
			case <-m.writes:
			default:
			}
		}
	}
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case c := <-m.writes:
			m.persist(c)
		case <-m.stop:
			// Flush anything still queued before exiting.
			select {
			case c := <-m.writes:
				m.persist(c)
			default:
			}
			return
		}
	}
}

func (m *Manager) persist(c Cart) {
	data, err := json.Marshal(c)
	if err != nil {
		log.Printf("[Cart] Failed to encode cart %s: %v", c.ID, err)
		return
	}
	if err := m.store.Set(context.Background(), store.CartKey(c.ID), data); err != nil {
		log.Printf("[Cart] Failed to persist cart %s (version %d): %v", c.ID, c.Version, err)
	}
}

// Close flushes pending writes and stops the writer.
func (m *Manager) Close() error {
	close(m.stop)
	<-m.stopped
	return nil
}
