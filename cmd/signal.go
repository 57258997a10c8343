package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newSignalCmd groups refresh signal commands.
func newSignalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Request a refresh or inspect the refresh signal",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "request",
			Short: "Ask the watcher to run an update cycle",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				signal, err := a.Catalog.RequestRefresh(cmd.Context())
				if err != nil {
					return fmt.Errorf("request refresh: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "refresh requested at %s\n", signal.RequestedAt.Format(time.RFC3339Nano))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the latest refresh signal",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				status, err := a.Catalog.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("signal status: %w", err)
				}
				out := cmd.OutOrStdout()
				if status.Signal == nil {
					fmt.Fprintln(out, "no refresh requested yet")
					return nil
				}
				state := "idle"
				if status.Scanning {
					state = "scanning"
				}
				fmt.Fprintf(out, "last refresh requested at %s (%s)\n",
					status.Signal.RequestedAt.Format(time.RFC3339Nano), state)
				return nil
			},
		},
	)
	return cmd
}
