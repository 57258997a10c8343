package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newCycleCmd runs a single update cycle without waiting for a signal.
func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one update cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := a.Runner.RunCycle(ctx)
			if err != nil {
				return fmt.Errorf("run cycle: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cycle %s: %d products, %d sampled, %d skipped, %d committed in %s\n",
				report.CycleID, len(report.Outcomes), report.Sampled(), report.Skipped(),
				report.Committed, report.Duration().Round(time.Millisecond))
			for _, o := range report.Outcomes {
				if o.Sample != nil {
					fmt.Fprintf(out, "  #%d %s: %.2f in_stock=%t\n", o.Product.ID, o.Product.Name, o.Sample.Price, o.Sample.InStock)
					continue
				}
				fmt.Fprintf(out, "  #%d %s: skipped (%s)\n", o.Product.ID, o.Product.Name, o.SkipReason)
			}
			return nil
		},
	}
}
