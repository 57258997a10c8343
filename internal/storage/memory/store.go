// Package memory keeps products, samples and the refresh signal in-process.
// It backs tests and dry runs; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Store implements tracker.Store in memory.
type Store struct {
	mu         sync.RWMutex
	products   map[int64]tracker.Product
	samples    []tracker.PriceSample
	signal     *tracker.UpdateSignal
	nextID     int64
	nextSample int64
	now        func() time.Time
}

var _ tracker.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		products: make(map[int64]tracker.Product),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListActiveProducts returns active products ordered by ID.
func (s *Store) ListActiveProducts(_ context.Context) ([]tracker.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sortProducts(out)
	return out, nil
}

// AppendSamples stores the batch. Every sample must reference a known product
// or nothing is written.
func (s *Store) AppendSamples(_ context.Context, samples []tracker.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range samples {
		if _, ok := s.products[sample.ProductID]; !ok {
			return tracker.ErrNotFound
		}
	}
	for _, sample := range samples {
		s.nextSample++
		sample.ID = s.nextSample
		if sample.CreatedAt.IsZero() {
			sample.CreatedAt = s.now()
		}
		s.samples = append(s.samples, sample)
	}
	return nil
}

// ReadSignal returns the current signal, if any.
func (s *Store) ReadSignal(_ context.Context) (tracker.UpdateSignal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.signal == nil {
		return tracker.UpdateSignal{}, false, nil
	}
	return *s.signal, true, nil
}

// WriteSignal replaces the signal.
func (s *Store) WriteSignal(_ context.Context, signal tracker.UpdateSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signal = &signal
	return nil
}

// CreateProduct inserts a product, rejecting duplicate URLs.
func (s *Store) CreateProduct(_ context.Context, product tracker.Product) (tracker.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.products {
		if existing.URL == product.URL {
			return tracker.Product{}, tracker.ErrDuplicateURL
		}
	}
	s.nextID++
	product.ID = s.nextID
	product.CustomSelector = strings.TrimSpace(product.CustomSelector)
	if product.CreatedAt.IsZero() {
		product.CreatedAt = s.now()
	}
	s.products[product.ID] = product
	return product, nil
}

// GetProduct fetches a product by ID.
func (s *Store) GetProduct(_ context.Context, id int64) (tracker.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return tracker.Product{}, tracker.ErrNotFound
	}
	return p, nil
}

// ListProducts returns every product ordered by ID.
func (s *Store) ListProducts(_ context.Context) ([]tracker.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sortProducts(out)
	return out, nil
}

// SetProductActive toggles whether cycles visit the product.
func (s *Store) SetProductActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return tracker.ErrNotFound
	}
	p.Active = active
	s.products[id] = p
	return nil
}

// DeleteProduct removes the product and its history.
func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return tracker.ErrNotFound
	}
	kept := s.samples[:0]
	for _, sample := range s.samples {
		if sample.ProductID != id {
			kept = append(kept, sample)
		}
	}
	s.samples = kept
	delete(s.products, id)
	return nil
}

// ListSamples returns a product's samples oldest first. A positive limit
// keeps only the most recent ones.
func (s *Store) ListSamples(_ context.Context, productID int64, limit int) ([]tracker.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.PriceSample
	for _, sample := range s.samples {
		if sample.ProductID == productID {
			out = append(out, sample)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func sortProducts(products []tracker.Product) {
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
}
