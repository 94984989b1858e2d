// Package memory keeps the catalog and the order ledger in process memory.
// Per-product locks and staged writes give it the same placement guarantees
// as the Postgres driver, which makes it suitable for demos and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/online-store/internal/catalog"
	"github.com/vasiliy-maslov/online-store/internal/order"
)

type Store struct {
	mu         sync.RWMutex
	categories map[uuid.UUID]catalog.Category
	products   map[uuid.UUID]catalog.Product
	orders     map[uuid.UUID]order.Order
	byBuyer    map[uuid.UUID][]uuid.UUID
	rowLocks   map[uuid.UUID]chan struct{}

	lockTimeout time.Duration
	now         func() time.Time
}

func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		categories:  make(map[uuid.UUID]catalog.Category),
		products:    make(map[uuid.UUID]catalog.Product),
		orders:      make(map[uuid.UUID]order.Order),
		byBuyer:     make(map[uuid.UUID][]uuid.UUID),
		rowLocks:    make(map[uuid.UUID]chan struct{}),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) CreateCategory(_ context.Context, c *catalog.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[c.ID]; ok {
		return nil
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.categories[c.ID] = *c
	return nil
}

func (s *Store) CreateProduct(_ context.Context, p *catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return nil
	}
	if _, ok := s.categories[p.CategoryID]; !ok {
		return fmt.Errorf("memory: product %s references unknown category %s", p.ID, p.CategoryID)
	}
	if p.StockQuantity < 0 || p.UnitPrice.IsNegative() {
		return fmt.Errorf("memory: product %s has negative stock or price", p.ID)
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.products[p.ID] = *p
	return nil
}

// Catalog returns the read-only product view used outside transactions.
func (s *Store) Catalog() *CatalogReader {
	return &CatalogReader{store: s}
}

func (s *Store) History() *History {
	return &History{store: s}
}

type CatalogReader struct {
	store *Store
}

func (r *CatalogReader) GetByID(_ context.Context, id uuid.UUID) (*catalog.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.products[id]
	if !ok {
		return nil, &catalog.NotFoundError{ProductID: id}
	}
	return &p, nil
}

type History struct {
	store *Store
}

func (h *History) ListByBuyer(_ context.Context, buyerID uuid.UUID) ([]order.Order, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	ids := h.store.byBuyer[buyerID]
	orders := make([]order.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, cloneOrder(h.store.orders[id]))
	}

	slices.SortStableFunc(orders, func(a, b order.Order) int {
		if c := b.PlacedAt.Compare(a.PlacedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID.Bytes(), b.ID.Bytes())
	})

	return orders, nil
}

func (h *History) GetByID(_ context.Context, buyerID, orderID uuid.UUID) (*order.Order, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	o, ok := h.store.orders[orderID]
	if !ok || o.BuyerID != buyerID {
		return nil, order.ErrOrderNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

// WithinTx stages every write made through stores and applies them only when
// fn succeeds and ctx is still live.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, stores order.TxStores) error) error {
	tx := &tx{
		store: s,
		held:  make(map[uuid.UUID]chan struct{}),
		stock: make(map[uuid.UUID]int),
	}
	defer tx.release()

	if err := fn(ctx, order.TxStores{Catalog: tx, Ledger: tx}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("memory: transaction abandoned before commit")
		return err
	}

	tx.commit()
	return nil
}

func (s *Store) rowLock(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.rowLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[id] = ch
	}
	return ch
}

type tx struct {
	store  *Store
	held   map[uuid.UUID]chan struct{}
	stock  map[uuid.UUID]int
	orders []order.Order
}

func (t *tx) acquire(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.held[id]; ok {
		return nil
	}

	ch := t.store.rowLock(id)

	var timeout <-chan time.Time
	if t.store.lockTimeout > 0 {
		timer := time.NewTimer(t.store.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ch <- struct{}{}:
		t.held[id] = ch
		return nil
	case <-timeout:
		return fmt.Errorf("%w: product %s", order.ErrStockContention, id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}

func (t *tx) LockForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int {
		return bytes.Compare(a.Bytes(), b.Bytes())
	})

	sorted = slices.Compact(sorted)

	for _, id := range sorted {
		if err := t.acquire(ctx, id); err != nil {
			return nil, err
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	locked := make(map[uuid.UUID]catalog.Product, len(sorted))
	for _, id := range sorted {
		p, ok := t.store.products[id]
		if !ok {
			continue
		}
		if staged, ok := t.stock[id]; ok {
			p.StockQuantity = staged
		}
		locked[id] = p
	}
	return locked, nil
}

func (t *tx) DecrementStock(ctx context.Context, id uuid.UUID, amount int) error {
	if err := t.acquire(ctx, id); err != nil {
		return err
	}

	current, ok := t.stock[id]
	if !ok {
		t.store.mu.RLock()
		p, exists := t.store.products[id]
		t.store.mu.RUnlock()
		if !exists {
			return &catalog.NotFoundError{ProductID: id}
		}
		current = p.StockQuantity
	}

	if amount <= 0 || current < amount {
		return &catalog.InsufficientStockError{ProductID: id, Available: current, Requested: amount}
	}

	t.stock[id] = current - amount
	return nil
}

func (t *tx) CreateOrder(_ context.Context, o *order.Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("memory: failed to generate order ID: %w", err)
		}
		o.ID = id
	}

	t.store.mu.RLock()
	_, duplicate := t.store.orders[o.ID]
	for _, line := range o.Lines {
		if _, ok := t.store.products[line.ProductID]; !ok {
			t.store.mu.RUnlock()
			return fmt.Errorf("memory: order line references unknown product %s", line.ProductID)
		}
	}
	t.store.mu.RUnlock()

	if duplicate {
		return fmt.Errorf("memory: order %s already exists", o.ID)
	}

	for i := range o.Lines {
		line := &o.Lines[i]
		if line.Quantity <= 0 {
			return fmt.Errorf("memory: order line %d has non-positive quantity", i+1)
		}
		if line.ID == uuid.Nil {
			id, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("memory: failed to generate order line ID: %w", err)
			}
			line.ID = id
		}
		line.OrderID = o.ID
		if line.LineNo == 0 {
			line.LineNo = i + 1
		}
	}

	t.orders = append(t.orders, cloneOrder(*o))
	return nil
}

func (t *tx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	now := t.store.now().UTC()
	for id, qty := range t.stock {
		p := t.store.products[id]
		p.StockQuantity = qty
		p.UpdatedAt = now
		t.store.products[id] = p
	}

	for _, o := range t.orders {
		t.store.orders[o.ID] = o
		t.store.byBuyer[o.BuyerID] = append(t.store.byBuyer[o.BuyerID], o.ID)
	}
}

func cloneOrder(o order.Order) order.Order {
	o.Lines = slices.Clone(o.Lines)
	if o.Lines == nil {
		o.Lines = []order.OrderLine{}
	}
	return o
}
