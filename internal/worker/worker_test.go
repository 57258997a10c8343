package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/archive"
	"github.com/JakeFAU/pricewatch/internal/extract"
	collyfetcher "github.com/JakeFAU/pricewatch/internal/fetcher/colly"
	pubmemory "github.com/JakeFAU/pricewatch/internal/publisher/memory"
	"github.com/JakeFAU/pricewatch/internal/storage/memory"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func TestRunCycleIsolatesProductFailures(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	a := addProduct(t, store, "A", "https://broken.test/a", "")
	b := addProduct(t, store, "B", "https://shop.test/b", "")
	session := newFakeSession()
	session.errs[a.URL] = errors.New("navigation timeout")
	session.pages[b.URL] = tracker.Page{PriceText: "19,90 €", PriceFound: true, Selector: ".price", Content: "En stock"}
	engine := &fakeEngine{session: session}

	runner := newRunner(store, engine, nil, nil, Config{})
	report, err := runner.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	require.Equal(t, tracker.OutcomeSkipped, report.Outcomes[0].Status)
	require.Equal(t, "fetch failed", report.Outcomes[0].SkipReason)
	require.ErrorContains(t, report.Outcomes[0].Err, "navigation timeout")
	require.Equal(t, tracker.OutcomeSampled, report.Outcomes[1].Status)
	require.Equal(t, 1, report.Committed)

	samples, err := store.ListSamples(context.Background(), b.ID, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.InDelta(t, 19.90, samples[0].Price, 1e-9)
	require.True(t, samples[0].InStock)

	none, err := store.ListSamples(context.Background(), a.ID, 0)
	require.NoError(t, err)
	require.Empty(t, none)
	require.Equal(t, 1, engine.launchCount())
	require.Equal(t, 1, session.closeCount())
}

func TestRunCycleTwiceAppendsDistinctSamples(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p := addProduct(t, store, "Lamp", "https://shop.test/lamp", "")
	session := newFakeSession()
	session.pages[p.URL] = tracker.Page{PriceText: "$49.99", PriceFound: true, Content: "In stock"}
	runner := newRunner(store, &fakeEngine{session: session}, nil, nil, Config{})

	_, err := runner.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = runner.RunCycle(context.Background())
	require.NoError(t, err)

	samples, err := store.ListSamples(context.Background(), p.ID, 0)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, samples[0].Price, samples[1].Price)
	require.Equal(t, samples[0].InStock, samples[1].InStock)
	require.True(t, samples[1].CreatedAt.After(samples[0].CreatedAt))
}

func TestRunCycleWithoutProductsIsNoop(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	inactive := addProduct(t, store, "Off", "https://shop.test/off", "")
	require.NoError(t, store.SetProductActive(context.Background(), inactive.ID, false))
	engine := &fakeEngine{session: newFakeSession()}

	report, err := newRunner(store, engine, nil, nil, Config{}).RunCycle(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Outcomes)
	require.Zero(t, engine.launchCount())
}

func TestRunCycleLaunchFailureAborts(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	addProduct(t, store, "Lamp", "https://shop.test/lamp", "")
	engine := &fakeEngine{launchErr: errors.New("chrome not found")}

	_, err := newRunner(store, engine, nil, nil, Config{}).RunCycle(context.Background())
	require.ErrorIs(t, err, tracker.ErrCycleAborted)
	require.ErrorContains(t, err, "chrome not found")
}

func TestRunCycleListFailureAborts(t *testing.T) {
	t.Parallel()

	products := failingProducts{err: errors.New("db down")}
	runner := New(products, memory.NewStore(), &fakeEngine{}, nil, newStepClock(), nil, nil, nil, nil, Config{}, zap.NewNop())
	_, err := runner.RunCycle(context.Background())
	require.ErrorIs(t, err, tracker.ErrCycleAborted)
}

func TestRunCycleCommitFailureAbortsAfterClosingSession(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p := addProduct(t, store, "Lamp", "https://shop.test/lamp", "")
	session := newFakeSession()
	session.pages[p.URL] = tracker.Page{PriceText: "10", PriceFound: true}
	pub := pubmemory.New()

	runner := New(store, failingSamples{}, &fakeEngine{session: session}, nil, newStepClock(), nil, nil, nil, pub,
		Config{Topic: "cycles"}, zap.NewNop())
	report, err := runner.RunCycle(context.Background())
	require.ErrorIs(t, err, tracker.ErrCycleAborted)
	require.Zero(t, report.Committed)
	require.Equal(t, 1, report.Sampled())
	require.Equal(t, 1, session.closeCount())
	require.Empty(t, pub.Messages())
}

func TestRunCycleRecoversFromPanics(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	a := addProduct(t, store, "A", "https://shop.test/a", "")
	b := addProduct(t, store, "B", "https://shop.test/b", "")
	session := newFakeSession()
	session.panics[a.URL] = true
	session.pages[b.URL] = tracker.Page{PriceText: "5", PriceFound: true}

	report, err := newRunner(store, &fakeEngine{session: session}, nil, nil, Config{}).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, "panic", report.Outcomes[0].SkipReason)
	require.Equal(t, tracker.OutcomeSampled, report.Outcomes[1].Status)
	require.Equal(t, 1, session.closeCount())
}

func TestRunCycleMissingPriceRecordsZero(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p := addProduct(t, store, "Lamp", "https://shop.test/lamp", "")
	session := newFakeSession()
	session.pages[p.URL] = tracker.Page{PriceText: extract.NotFoundText, Content: "Rupture"}

	report, err := newRunner(store, &fakeEngine{session: session}, nil, nil, Config{}).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, tracker.OutcomeSampled, report.Outcomes[0].Status)
	require.False(t, report.Outcomes[0].PriceFound)
	require.Zero(t, report.Outcomes[0].Sample.Price)
	require.False(t, report.Outcomes[0].Sample.InStock)
}

func TestRunCycleCustomSelectorFirst(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p := addProduct(t, store, "Lamp", "https://shop.test/lamp", "#deal")
	session := newFakeSession()
	session.pages[p.URL] = tracker.Page{PriceText: "1", PriceFound: true}

	_, err := newRunner(store, &fakeEngine{session: session}, nil, nil,
		Config{PriceSelectors: []string{".price", "#deal"}}).RunCycle(context.Background())
	require.NoError(t, err)
	reqs := session.requestLog()
	require.Len(t, reqs, 1)
	require.Equal(t, []string{"#deal", ".price"}, reqs[0].Selectors)
	require.Equal(t, p.ID, reqs[0].ProductID)
}

func TestRunCyclePublishesAndArchives(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p := addProduct(t, store, "Lamp", "https://shop.test/lamp", "")
	session := newFakeSession()
	session.pages[p.URL] = tracker.Page{PriceText: "12,50", PriceFound: true, Content: "<html>12,50 En stock</html>"}
	blobs := memory.NewBlobStore()
	arch, err := archive.New(blobs, "snapshots")
	require.NoError(t, err)
	pub := pubmemory.New()

	runner := New(store, store, &fakeEngine{session: session}, nil, newStepClock(), fixedIDs("cycle-42"), nil, arch, pub,
		Config{Topic: "cycles"}, zap.NewNop())
	report, err := runner.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cycle-42", report.CycleID)
	require.Contains(t, report.Outcomes[0].SnapshotURI, "memory://snapshots/cycle-42/")
	require.Len(t, blobs.Paths(), 1)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "cycles", msgs[0].Topic)
	payload := msgs[0].Payload.(map[string]any)
	require.Equal(t, CycleCompletedEvent, payload["type"])
	require.Equal(t, 1, payload["committed"])
}

func TestRunCyclePublishFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p := addProduct(t, store, "Lamp", "https://shop.test/lamp", "")
	session := newFakeSession()
	session.pages[p.URL] = tracker.Page{PriceText: "1", PriceFound: true}
	pub := pubmemory.New()
	pub.FailWith(errors.New("topic missing"))

	runner := New(store, store, &fakeEngine{session: session}, nil, newStepClock(), nil, nil, nil, pub,
		Config{Topic: "cycles"}, zap.NewNop())
	report, err := runner.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Committed)
}

func TestRunCycleLimiterErrorSkips(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p := addProduct(t, store, "Lamp", "https://shop.test/lamp", "")
	session := newFakeSession()
	session.pages[p.URL] = tracker.Page{PriceText: "1", PriceFound: true}

	report, err := newRunner(store, &fakeEngine{session: session}, failingLimiter{}, nil, Config{}).
		RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rate limit", report.Outcomes[0].SkipReason)
	require.Empty(t, session.requestLog())
}

func TestRunCycleEndToEndWithStaticEngine(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/lamp", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><div class="product-price">$49.99</div><p>In stock</p></body></html>`)
	})
	mux.HandleFunc("/stuck", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
		fmt.Fprint(w, `<span class="price">1,00</span>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := memory.NewStore()
	lamp := addProduct(t, store, "Lamp", srv.URL+"/lamp", "")
	stuck := addProduct(t, store, "Stuck", srv.URL+"/stuck", "")
	engine := collyfetcher.New(collyfetcher.Config{Timeout: 200 * time.Millisecond})

	report, err := newRunner(store, engine, nil, nil, Config{}).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Sampled())
	require.Equal(t, 1, report.Skipped())

	samples, err := store.ListSamples(context.Background(), lamp.ID, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.InDelta(t, 49.99, samples[0].Price, 1e-9)
	require.True(t, samples[0].InStock)

	none, err := store.ListSamples(context.Background(), stuck.ID, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

// --- helpers and fakes ---

func newRunner(store *memory.Store, engine tracker.Engine, limiter tracker.Limiter, arch tracker.Archiver, cfg Config) *Runner {
	return New(store, store, engine, nil, newStepClock(), nil, limiter, arch, nil, cfg, zap.NewNop())
}

func addProduct(t *testing.T, store *memory.Store, name, url, selector string) tracker.Product {
	t.Helper()
	p, err := store.CreateProduct(context.Background(), tracker.Product{
		Name: name, URL: url, CustomSelector: selector, Active: true,
	})
	require.NoError(t, err)
	return p
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type fixedIDs string

func (f fixedIDs) NewID() (string, error) { return string(f), nil }

type fakeEngine struct {
	mu        sync.Mutex
	session   *fakeSession
	launchErr error
	launches  int
}

func (e *fakeEngine) Launch(context.Context) (tracker.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launches++
	if e.launchErr != nil {
		return nil, e.launchErr
	}
	return e.session, nil
}

func (e *fakeEngine) launchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches
}

type fakeSession struct {
	mu       sync.Mutex
	pages    map[string]tracker.Page
	errs     map[string]error
	panics   map[string]bool
	requests []tracker.FetchRequest
	closed   int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		pages:  make(map[string]tracker.Page),
		errs:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (s *fakeSession) Fetch(_ context.Context, req tracker.FetchRequest) (tracker.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.panics[req.URL] {
		panic("renderer crashed")
	}
	if err, ok := s.errs[req.URL]; ok {
		return tracker.Page{}, err
	}
	if page, ok := s.pages[req.URL]; ok {
		page.URL = req.URL
		return page, nil
	}
	return tracker.Page{}, errors.New("unexpected url " + req.URL)
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) requestLog() []tracker.FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tracker.FetchRequest(nil), s.requests...)
}

type failingProducts struct{ err error }

func (f failingProducts) ListActiveProducts(context.Context) ([]tracker.Product, error) {
	return nil, f.err
}

type failingSamples struct{}

func (failingSamples) AppendSamples(context.Context, []tracker.PriceSample) error {
	return errors.New("serialization failure")
}

type failingLimiter struct{}

func (failingLimiter) Wait(context.Context, string) error {
	return context.DeadlineExceeded
}
