package tracker

import (
	"context"
	"io"
	"time"
)

// ProductStore lists the products a cycle should visit.
type ProductStore interface {
	ListActiveProducts(ctx context.Context) ([]Product, error)
}

// SampleStore appends price samples. A batch is committed all or nothing.
type SampleStore interface {
	AppendSamples(ctx context.Context, samples []PriceSample) error
}

// SignalStore reads and overwrites the refresh signal mailbox.
// ReadSignal reports ok=false when no signal was ever written.
type SignalStore interface {
	ReadSignal(ctx context.Context) (signal UpdateSignal, ok bool, err error)
	WriteSignal(ctx context.Context, signal UpdateSignal) error
}

// CatalogStore manages products and exposes history for the admin surface.
type CatalogStore interface {
	CreateProduct(ctx context.Context, product Product) (Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	SetProductActive(ctx context.Context, id int64, active bool) error
	DeleteProduct(ctx context.Context, id int64) error
	ListSamples(ctx context.Context, productID int64, limit int) ([]PriceSample, error)
}

// Store is the full persistence contract of a backend.
type Store interface {
	ProductStore
	SampleStore
	SignalStore
	CatalogStore
	Ping(ctx context.Context) error
	Close() error
}

// Migrator is implemented by stores with a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Engine starts one browsing session per update cycle.
type Engine interface {
	Launch(ctx context.Context) (Session, error)
}

// Session fetches product pages. Every Fetch uses a fresh, isolated page.
type Session interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
	Close() error
}

// Limiter paces requests per domain.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time and lets pollers wait (useful for testing).
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator produces cycle IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Archiver stores the rendered page of a product for later inspection.
type Archiver interface {
	Save(ctx context.Context, cycleID string, productID int64, page Page) (string, error)
}
