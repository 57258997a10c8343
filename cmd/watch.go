package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// newWatchCmd creates the long-running worker that polls for refresh signals.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll for refresh signals and run update cycles",
		Long: `Polls the refresh signal every watcher.poll_interval. Each new signal
triggers one update cycle over all active products. The last processed
signal is kept in memory only, so the latest signal is replayed once after
a restart. Prometheus metrics are served on metrics.addr.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	a, err := rt.App(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rt.cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              rt.cfg.Metrics.Addr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.Logger.Info("metrics server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer shutdownServer(srv, a.Logger)
	}

	a.Logger.Info("watching for refresh signals", zap.Duration("poll_interval", rt.cfg.Watcher.PollInterval))
	if err := a.Watcher.Run(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	a.Logger.Info("watcher stopped")
	return nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func shutdownServer(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
	}
}
