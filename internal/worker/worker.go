// Package worker runs update cycles: one browsing session, every active
// product visited once, one batch commit.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/extract"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// CycleCompletedEvent is the event type of published cycle summaries.
const CycleCompletedEvent = "cycle.completed"

// Config controls Runner behavior.
type Config struct {
	// PriceSelectors are tried after a product's own selector.
	PriceSelectors []string
	// Topic receives cycle summaries when a publisher is configured.
	Topic string
}

// Runner executes update cycles.
type Runner struct {
	products  tracker.ProductStore
	samples   tracker.SampleStore
	engine    tracker.Engine
	stock     *extract.StockDetector
	clock     tracker.Clock
	ids       tracker.IDGenerator
	limiter   tracker.Limiter
	archiver  tracker.Archiver
	publisher tracker.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. limiter, archiver and publisher may be nil.
func New(
	products tracker.ProductStore,
	samples tracker.SampleStore,
	engine tracker.Engine,
	stock *extract.StockDetector,
	clock tracker.Clock,
	ids tracker.IDGenerator,
	limiter tracker.Limiter,
	archiver tracker.Archiver,
	publisher tracker.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stock == nil {
		stock = extract.NewStockDetector(nil)
	}
	if len(cfg.PriceSelectors) == 0 {
		cfg.PriceSelectors = extract.DefaultPriceSelectors
	}
	return &Runner{
		products:  products,
		samples:   samples,
		engine:    engine,
		stock:     stock,
		clock:     clock,
		ids:       ids,
		limiter:   limiter,
		archiver:  archiver,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// RunCycle processes every active product once and commits the samples as
// one batch. Per-product failures become skipped outcomes; only listing,
// launching or committing abort the cycle, with an error wrapping
// tracker.ErrCycleAborted. The report is returned in both cases.
func (r *Runner) RunCycle(ctx context.Context) (tracker.CycleReport, error) {
	report := tracker.CycleReport{
		CycleID:   r.newCycleID(),
		StartedAt: r.clock.Now(),
	}
	logger := r.logger.With(zap.String("cycle_id", report.CycleID))

	err := r.runCycle(ctx, &report, logger)
	report.FinishedAt = r.clock.Now()

	status := "succeeded"
	if err != nil {
		status = "aborted"
		logger.Error("update cycle aborted", zap.Error(err))
	} else {
		logger.Info("update cycle finished",
			zap.Int("products", len(report.Outcomes)),
			zap.Int("sampled", report.Sampled()),
			zap.Int("skipped", report.Skipped()),
			zap.Int("committed", report.Committed),
			zap.Duration("duration", report.Duration()),
		)
	}
	metrics.ObserveCycle(status, report.Duration())
	return report, err
}

func (r *Runner) runCycle(ctx context.Context, report *tracker.CycleReport, logger *zap.Logger) error {
	products, err := r.products.ListActiveProducts(ctx)
	if err != nil {
		return fmt.Errorf("%w: list active products: %w", tracker.ErrCycleAborted, err)
	}
	if len(products) == 0 {
		logger.Info("no active products, nothing to do")
		return nil
	}

	if err := r.visitAll(ctx, report, products, logger); err != nil {
		return err
	}

	samples := report.Samples()
	if len(samples) > 0 {
		if err := r.samples.AppendSamples(ctx, samples); err != nil {
			return fmt.Errorf("%w: commit %d samples: %w", tracker.ErrCycleAborted, len(samples), err)
		}
		report.Committed = len(samples)
		metrics.ObserveCommit(len(samples))
	}

	r.publishSummary(ctx, *report, logger)
	return nil
}

// visitAll owns the session: it is closed before the commit on every path.
func (r *Runner) visitAll(
	ctx context.Context,
	report *tracker.CycleReport,
	products []tracker.Product,
	logger *zap.Logger,
) error {
	session, err := r.engine.Launch(ctx)
	if err != nil {
		return fmt.Errorf("%w: launch engine: %w", tracker.ErrCycleAborted, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("close session failed", zap.Error(cerr))
		}
	}()

	logger.Info("update cycle started", zap.Int("products", len(products)))
	for _, product := range products {
		outcome := r.processProduct(ctx, session, report.CycleID, product, logger)
		report.Outcomes = append(report.Outcomes, outcome)
		metrics.ObserveProduct(metrics.SanitizeSite(product.URL), string(outcome.Status), outcome.PriceFound)
	}
	return nil
}

func (r *Runner) processProduct(
	ctx context.Context,
	session tracker.Session,
	cycleID string,
	product tracker.Product,
	logger *zap.Logger,
) (outcome tracker.ProductOutcome) {
	plog := logger.With(
		zap.Int64("product_id", product.ID),
		zap.String("product_name", product.Name),
		zap.String("url", product.URL),
	)
	defer func() {
		if rec := recover(); rec != nil {
			outcome = skipped(product, "panic", fmt.Errorf("panic while processing product: %v", rec))
			plog.Error("product processing panicked", zap.Any("panic", rec))
		}
	}()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, product.URL); err != nil {
			plog.Warn("rate limit wait failed", zap.Error(err))
			return skipped(product, "rate limit", err)
		}
	}

	page, err := session.Fetch(ctx, tracker.FetchRequest{
		ProductID: product.ID,
		URL:       product.URL,
		Selectors: extract.SelectorsFor(product.CustomSelector, r.cfg.PriceSelectors),
	})
	if err != nil {
		plog.Warn("fetch failed, product skipped this cycle", zap.Error(err))
		return skipped(product, "fetch failed", err)
	}

	sample := &tracker.PriceSample{
		ProductID: product.ID,
		Price:     extract.ExtractPrice(page.PriceText),
		InStock:   r.stock.InStock(page.Content),
		CreatedAt: r.clock.Now(),
	}
	outcome = tracker.ProductOutcome{
		Product:    product,
		Status:     tracker.OutcomeSampled,
		Sample:     sample,
		PriceFound: page.PriceFound,
		Selector:   page.Selector,
	}
	if !page.PriceFound {
		plog.Warn("price element not found, recording 0")
	}

	if r.archiver != nil {
		uri, err := r.archiver.Save(ctx, cycleID, product.ID, page)
		if err != nil {
			plog.Warn("archive snapshot failed", zap.Error(err))
		} else {
			outcome.SnapshotURI = uri
		}
	}

	plog.Debug("product sampled",
		zap.Float64("price", sample.Price),
		zap.Bool("in_stock", sample.InStock),
		zap.String("selector", page.Selector),
		zap.Duration("fetch_duration", page.Duration),
	)
	return outcome
}

func skipped(product tracker.Product, reason string, err error) tracker.ProductOutcome {
	return tracker.ProductOutcome{
		Product:    product,
		Status:     tracker.OutcomeSkipped,
		SkipReason: reason,
		Err:        err,
	}
}

func (r *Runner) publishSummary(ctx context.Context, report tracker.CycleReport, logger *zap.Logger) {
	if r.cfg.Topic == "" || r.publisher == nil {
		return
	}
	samples := make([]map[string]any, 0, report.Committed)
	for _, s := range report.Samples() {
		samples = append(samples, map[string]any{
			"product_id": s.ProductID,
			"price":      s.Price,
			"in_stock":   s.InStock,
			"timestamp":  s.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	payload := map[string]any{
		"type":       CycleCompletedEvent,
		"cycle_id":   report.CycleID,
		"started_at": report.StartedAt.Format(time.RFC3339Nano),
		"sampled":    report.Sampled(),
		"skipped":    report.Skipped(),
		"committed":  report.Committed,
		"samples":    samples,
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, payload)
	if err != nil {
		logger.Warn("publish cycle summary failed", zap.Error(err))
		return
	}
	logger.Debug("cycle summary published", zap.String("message_id", id))
}

func (r *Runner) newCycleID() string {
	if r.ids == nil {
		return fmt.Sprintf("cycle-%d", r.clock.Now().UnixNano())
	}
	id, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("generate cycle id failed", zap.Error(err))
		return fmt.Sprintf("cycle-%d", r.clock.Now().UnixNano())
	}
	return id
}
