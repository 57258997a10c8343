// Package collyfetcher implements a static (no JavaScript) engine using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/pricewatch/internal/extract"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const defaultTimeout = 60 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
}

// Engine hands out sessions that share one connection pool per cycle.
type Engine struct {
	cfg Config
}

var _ tracker.Engine = (*Engine)(nil)

// New builds an Engine.
func New(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Engine{cfg: cfg}
}

// Launch returns a session with its own transport.
func (e *Engine) Launch(ctx context.Context) (tracker.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch static session: %w", err)
	}
	return &Session{cfg: e.cfg, transport: newHTTPTransport()}, nil
}

// Session fetches pages over plain HTTP. Each Fetch uses a fresh collector,
// so no cookies are shared between products.
type Session struct {
	cfg       Config
	transport *http.Transport

	mu     sync.Mutex
	closed bool
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchState struct {
	status   int
	finalURL string
	body     []byte
	err      error
}

// Fetch executes a single GET and looks up the price text.
func (s *Session) Fetch(ctx context.Context, request tracker.FetchRequest) (tracker.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return tracker.Page{}, tracker.ErrSessionClosed
	}

	start := time.Now()
	state := &fetchState{}
	collector := s.buildCollector(ctx, state)
	if err := s.runCollector(ctx, collector, request.URL, state); err != nil {
		return tracker.Page{}, err
	}

	html := string(state.body)
	text, selector, found := extract.LookupPriceText(html, request.Selectors)
	return tracker.Page{
		URL:        request.URL,
		FinalURL:   state.finalURL,
		StatusCode: state.status,
		PriceText:  text,
		PriceFound: found,
		Selector:   selector,
		Content:    html,
		Duration:   time.Since(start),
	}, nil
}

func (s *Session) buildCollector(ctx context.Context, state *fetchState) *colly.Collector {
	collector := colly.NewCollector(colly.AllowURLRevisit(), colly.StdlibContext(ctx))
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)
	collector.WithTransport(s.transport)
	s.configureCollectorHooks(collector, state)
	return collector
}

func (s *Session) configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		if s.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", s.cfg.AcceptLanguage)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.finalURL = r.Request.URL.String()
		state.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			state.status = r.StatusCode
			state.err = fmt.Errorf("%w: %d", tracker.ErrHTTPStatus, r.StatusCode)
			return
		}
		state.err = err
	})
}

func (s *Session) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The request carries ctx, so Visit returns promptly; wait for it so
		// nothing writes to state after Fetch returns.
		<-done
		return fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case err := <-done:
		if state.err != nil {
			return fmt.Errorf("fetch %s: %w", url, state.err)
		}
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

// Close drops idle connections. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.transport.CloseIdleConnections()
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
