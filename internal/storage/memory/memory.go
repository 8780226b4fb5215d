// Package memory is an in-process implementation of the catalog, stock
// ledger and order repositories. It backs tests and the api-server when no
// database is configured.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/kart-store/internal/domain/auth"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/product"
)

// DefaultLockTimeout bounds the wait for a per-order lock.
const DefaultLockTimeout = 5 * time.Second

var (
	_ product.Repository = (*Catalog)(nil)
	_ order.Repository   = (*Orders)(nil)
	_ auth.Repository    = (*Store)(nil)
)

// Store keeps all state in maps guarded by one mutex. Per-order locks are
// separate so a locked order does not block unrelated work. Catalog and
// Orders are views over the same state.
type Store struct {
	mu          sync.Mutex
	products    map[string]*product.Product
	orders      map[string]*order.Order
	transitions map[string][]order.Transition
	refunds     map[string][]order.Refund
	apikeys     map[string]auth.APIKeyInfo

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout sets how long LockForUpdate waits before failing with
// order.ErrConcurrentModification.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		products:    make(map[string]*product.Product),
		orders:      make(map[string]*order.Order),
		transitions: make(map[string][]order.Transition),
		refunds:     make(map[string][]order.Refund),
		apikeys:     make(map[string]auth.APIKeyInfo),
		locks:       make(map[string]chan struct{}),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the product repository view.
func (s *Store) Catalog() *Catalog { return &Catalog{s: s} }

// Orders returns the order repository view.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Catalog implements product.Repository.
type Catalog struct {
	s *Store
}

// Orders implements order.Repository.
type Orders struct {
	s *Store
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

// PutAPIKey registers an API key record.
func (s *Store) PutAPIKey(info auth.APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apikeys[info.KeyHash] = info
}

// FindByHash looks up an API key by its HMAC hash.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.apikeys[hash]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return &info, nil
}

// List returns all products ordered by id.
func (c *Catalog) List(_ context.Context) ([]product.Product, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]product.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// GetByID returns a product or a *product.NotFoundError.
func (c *Catalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, &product.NotFoundError{ProductID: id}
	}
	cp := *p
	return &cp, nil
}

// GetByIDs returns the products that exist among ids, in the order given.
func (c *Catalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

// Get returns a committed order with its transition history.
func (r *Orders) Get(_ context.Context, id string) (*order.Order, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *Store) loadLocked(id string) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	out := o.Clone()
	out.Transitions = slices.Clone(s.transitions[id])
	return out, nil
}

// List returns orders matching filter, newest first.
func (r *Orders) List(_ context.Context, filter order.ListFilter) ([]order.Order, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]order.Order, 0)
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.PaymentStatus != "" && o.PaymentStatus != filter.PaymentStatus {
			continue
		}
		out = append(out, *o.Clone())
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Refunds returns the committed refund records of an order, oldest first.
func (r *Orders) Refunds(_ context.Context, orderID string) ([]order.Refund, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.refunds[orderID]), nil
}

// StalePending returns ids of unpaid PendingPayment orders created before
// the given time, oldest first.
func (r *Orders) StalePending(_ context.Context, before time.Time, limit int) ([]string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*order.Order
	for _, o := range s.orders {
		if o.Status == order.StatusPendingPayment &&
			o.PaymentStatus == order.PaymentUnpaid &&
			o.CreatedAt.Before(before) {
			stale = append(stale, o)
		}
	}
	slices.SortFunc(stale, func(a, b *order.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]string, len(stale))
	for i, o := range stale {
		ids[i] = o.ID
	}
	return ids, nil
}

// lockOrder takes the exclusive lock for id. The returned func releases it.
func (s *Store) lockOrder(ctx context.Context, id string) (func(), error) {
	s.locksMu.Lock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	s.locksMu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, order.ErrConcurrentModification
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
