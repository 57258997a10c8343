// Package cmd defines the pricewatch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/app"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/logging"
)

// runtimeKeyType is the key for storing the command runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// newApp is the application factory. Tests replace it.
var newApp = app.New

// runtime carries what every subcommand needs. The App is built on first use
// so commands such as migrate never open the full stack.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    *app.App
}

func (r *runtime) App(ctx context.Context) (*app.App, error) {
	if r.app != nil {
		return r.app, nil
	}
	a, err := newApp(ctx, r.cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	r.app = a
	return a, nil
}

func (r *runtime) close() {
	if r.app != nil {
		r.app.Close()
		r.app = nil
		return
	}
	_ = r.logger.Sync()
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile, envFile string

	cmd := &cobra.Command{
		Use:   "pricewatch",
		Short: "Tracks product prices on demand.",
		Long: `pricewatch visits every active product page when a refresh is requested,
extracts price and availability, and stores one sample per product.
The watch command polls for refresh requests; the other commands manage
products, signals and the schema.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok {
				rt.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config; missing files are ignored")

	cmd.AddCommand(
		newWatchCmd(),
		newCycleCmd(),
		newServeCmd(),
		newSignalCmd(),
		newProductCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("command runtime not initialized")
	}
	return rt, nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return nil, err
	}
	return rt.App(ctx)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pricewatch:", err)
		os.Exit(1)
	}
}
