package tracker

import (
	"time"
)

// Product is a tracked page. URL is unique across the catalog.
type Product struct {
	ID             int64     `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	URL            string    `json:"url" db:"url"`
	CustomSelector string    `json:"custom_selector,omitempty" db:"custom_selector"`
	Active         bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// PriceSample is one observation of a product. Samples are never updated.
type PriceSample struct {
	ID        int64     `json:"id" db:"id"`
	ProductID int64     `json:"product_id" db:"product_id"`
	Price     float64   `json:"price" db:"price"`
	InStock   bool      `json:"in_stock" db:"in_stock"`
	CreatedAt time.Time `json:"timestamp" db:"timestamp"`
}

// UpdateSignal is the refresh request mailbox. Only the latest value matters.
type UpdateSignal struct {
	RequestedAt time.Time `json:"requested_at" db:"last_update_requested"`
}

// Same reports whether two signals carry the same request timestamp.
func (s UpdateSignal) Same(other UpdateSignal) bool {
	return s.RequestedAt.Equal(other.RequestedAt)
}

// FetchRequest describes one product page fetch.
type FetchRequest struct {
	ProductID int64
	URL       string
	// Selectors are tried in order; the first one yielding text wins.
	Selectors []string
}

// Page is the rendered result of a fetch.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	// PriceText holds the raw price text or the not-found sentinel.
	PriceText  string
	PriceFound bool
	Selector   string
	Content    string
	Duration   time.Duration
}

// OutcomeStatus labels a per-product result.
type OutcomeStatus string

const (
	// OutcomeSampled means a sample was produced.
	OutcomeSampled OutcomeStatus = "sampled"
	// OutcomeSkipped means the product produced no sample this cycle.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// ProductOutcome is the explicit result of processing one product.
type ProductOutcome struct {
	Product     Product
	Status      OutcomeStatus
	Sample      *PriceSample
	SkipReason  string
	Err         error
	PriceFound  bool
	Selector    string
	SnapshotURI string
}

// CycleReport summarizes one update cycle.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []ProductOutcome
	Committed  int
}

// Samples returns the samples produced by the cycle, in product order.
func (r CycleReport) Samples() []PriceSample {
	var out []PriceSample
	for _, o := range r.Outcomes {
		if o.Status == OutcomeSampled && o.Sample != nil {
			out = append(out, *o.Sample)
		}
	}
	return out
}

// Sampled counts products that produced a sample.
func (r CycleReport) Sampled() int {
	return r.count(OutcomeSampled)
}

// Skipped counts products that were skipped.
func (r CycleReport) Skipped() int {
	return r.count(OutcomeSkipped)
}

func (r CycleReport) count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Duration is the wall time of the cycle.
func (r CycleReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
