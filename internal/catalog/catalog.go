// Package catalog manages tracked products on behalf of the admin surface.
// Every change to the active set writes a fresh refresh signal so the worker
// picks it up on its next poll.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// ErrInvalid is returned when a new product fails validation.
var ErrInvalid = errors.New("invalid product")

// NewProduct is the input for Add.
type NewProduct struct {
	Name           string `json:"name" validate:"required,max=200"`
	URL            string `json:"url" validate:"required,max=2048,http_url"`
	CustomSelector string `json:"custom_selector,omitempty" validate:"max=500"`
}

// Status is the refresh state shown to users.
type Status struct {
	Signal *tracker.UpdateSignal `json:"signal,omitempty"`
	// Scanning is true while the latest signal is younger than the scanning window.
	Scanning bool `json:"scanning"`
}

// Config controls the service.
type Config struct {
	ScanningWindow time.Duration
}

// Service implements product management.
type Service struct {
	products tracker.CatalogStore
	signals  tracker.SignalStore
	clock    tracker.Clock
	cfg      Config
	validate *validator.Validate
	logger   *zap.Logger
}

// New constructs a Service.
func New(products tracker.CatalogStore, signals tracker.SignalStore, clock tracker.Clock, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		products: products,
		signals:  signals,
		clock:    clock,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("catalog"),
	}
}

// NormalizeURL trims the URL and adds https:// when no scheme is given.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}
	return raw
}

// Add validates and stores a product, then requests a refresh. A failed
// refresh is logged; the product stays created.
func (s *Service) Add(ctx context.Context, in NewProduct) (tracker.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = NormalizeURL(in.URL)
	in.CustomSelector = strings.TrimSpace(in.CustomSelector)
	if err := s.validate.Struct(in); err != nil {
		return tracker.Product{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	product, err := s.products.CreateProduct(ctx, tracker.Product{
		Name:           in.Name,
		URL:            in.URL,
		CustomSelector: in.CustomSelector,
		Active:         true,
	})
	if err != nil {
		return tracker.Product{}, fmt.Errorf("create product: %w", err)
	}
	s.logger.Info("product added", zap.Int64("product_id", product.ID), zap.String("url", product.URL))
	s.refreshAfterChange(ctx)
	return product, nil
}

// Get returns one product.
func (s *Service) Get(ctx context.Context, id int64) (tracker.Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return tracker.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// List returns all products, active or not.
func (s *Service) List(ctx context.Context) ([]tracker.Product, error) {
	products, err := s.products.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// Deactivate stops tracking a product but keeps its history.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if err := s.products.SetProductActive(ctx, id, false); err != nil {
		return fmt.Errorf("deactivate product %d: %w", id, err)
	}
	s.logger.Info("product deactivated", zap.Int64("product_id", id))
	s.refreshAfterChange(ctx)
	return nil
}

// Remove deletes a product and its history.
func (s *Service) Remove(ctx context.Context, id int64) error {
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}
	s.logger.Info("product removed", zap.Int64("product_id", id))
	s.refreshAfterChange(ctx)
	return nil
}

// History returns samples oldest first; a positive limit keeps the latest ones.
func (s *Service) History(ctx context.Context, id int64, limit int) ([]tracker.PriceSample, error) {
	if _, err := s.products.GetProduct(ctx, id); err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	samples, err := s.products.ListSamples(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list samples for %d: %w", id, err)
	}
	return samples, nil
}

// RequestRefresh overwrites the signal with the current time. The new value
// is always later than the stored one, so the watcher never mistakes it for
// an already processed request.
func (s *Service) RequestRefresh(ctx context.Context) (tracker.UpdateSignal, error) {
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	current, ok, err := s.signals.ReadSignal(ctx)
	if err != nil {
		return tracker.UpdateSignal{}, fmt.Errorf("read signal: %w", err)
	}
	if ok && !now.After(current.RequestedAt) {
		now = current.RequestedAt.Add(time.Microsecond)
	}
	signal := tracker.UpdateSignal{RequestedAt: now}
	if err := s.signals.WriteSignal(ctx, signal); err != nil {
		return tracker.UpdateSignal{}, fmt.Errorf("write signal: %w", err)
	}
	s.logger.Info("refresh requested", zap.Time("requested_at", now))
	return signal, nil
}

// Status reports the current signal and whether a scan is likely running.
func (s *Service) Status(ctx context.Context) (Status, error) {
	signal, ok, err := s.signals.ReadSignal(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read signal: %w", err)
	}
	if !ok {
		return Status{}, nil
	}
	age := s.clock.Now().Sub(signal.RequestedAt)
	return Status{
		Signal:   &signal,
		Scanning: age >= 0 && age < s.cfg.ScanningWindow,
	}, nil
}

func (s *Service) refreshAfterChange(ctx context.Context) {
	if _, err := s.RequestRefresh(ctx); err != nil {
		s.logger.Warn("refresh request after catalog change failed", zap.Error(err))
	}
}
