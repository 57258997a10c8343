// Package watcher polls the refresh signal and runs one update cycle for
// every new value it observes.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// DefaultPollInterval is used when Config.PollInterval is not positive.
const DefaultPollInterval = 5 * time.Second

// Poll results reported to metrics.
const (
	resultError     = "error"
	resultAbsent    = "absent"
	resultUnchanged = "unchanged"
	resultTriggered = "triggered"
	resultFailed    = "failed"
)

// CycleRunner runs one update cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (tracker.CycleReport, error)
}

// Config controls polling.
type Config struct {
	PollInterval time.Duration
}

// Watcher holds the last processed signal in memory only. A restart forgets
// it, so the persisted signal is replayed once.
type Watcher struct {
	signals tracker.SignalStore
	runner  CycleRunner
	clock   tracker.Clock
	cfg     Config
	logger  *zap.Logger

	mu            sync.Mutex
	lastProcessed *tracker.UpdateSignal
}

// New constructs a Watcher.
func New(signals tracker.SignalStore, runner CycleRunner, clock tracker.Clock, cfg Config, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Watcher{
		signals: signals,
		runner:  runner,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("watcher"),
	}
}

// LastProcessed returns the marker, if any cycle completed since start.
func (w *Watcher) LastProcessed() (tracker.UpdateSignal, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastProcessed == nil {
		return tracker.UpdateSignal{}, false
	}
	return *w.lastProcessed, true
}

// Poll performs one iteration. It reports whether a cycle was run. The marker
// advances only when the cycle succeeds; a failed cycle is retried on the
// next poll.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	signal, ok, err := w.signals.ReadSignal(ctx)
	if err != nil {
		metrics.ObserveSignalPoll(resultError)
		w.logger.Warn("read signal failed, will retry", zap.Error(err))
		return false, fmt.Errorf("read signal: %w", err)
	}
	if !ok {
		metrics.ObserveSignalPoll(resultAbsent)
		return false, nil
	}
	if last, seen := w.LastProcessed(); seen && last.Same(signal) {
		metrics.ObserveSignalPoll(resultUnchanged)
		return false, nil
	}

	w.logger.Info("new update signal, starting cycle", zap.Time("requested_at", signal.RequestedAt))
	// A started cycle runs to completion even if ctx is canceled meanwhile.
	report, err := w.runner.RunCycle(context.WithoutCancel(ctx))
	if err != nil {
		metrics.ObserveSignalPoll(resultFailed)
		w.logger.Error("update cycle failed, signal will be retried",
			zap.String("cycle_id", report.CycleID),
			zap.Time("requested_at", signal.RequestedAt),
			zap.Error(err),
		)
		return true, fmt.Errorf("run cycle: %w", err)
	}

	w.mu.Lock()
	w.lastProcessed = &signal
	w.mu.Unlock()
	metrics.ObserveSignalPoll(resultTriggered)
	metrics.SetLastProcessedSignal(signal.RequestedAt)
	return true, nil
}

// Run polls until ctx is done. Poll errors are logged and never stop the
// loop. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started", zap.Duration("poll_interval", w.cfg.PollInterval))
	for {
		if ctx.Err() != nil {
			w.logger.Info("watcher stopped")
			return nil
		}
		_, _ = w.Poll(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil
		case <-w.clock.After(w.cfg.PollInterval):
		}
	}
}
