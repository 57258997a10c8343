package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricewatch/internal/catalog"
)

// newProductCmd groups catalog management commands.
func newProductCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage tracked products",
	}
	cmd.AddCommand(
		newProductAddCmd(),
		newProductListCmd(),
		newProductIDCmd("remove", "Delete a product and its price history", func(cmd *cobra.Command, svc *catalog.Service, id int64) error {
			return svc.Remove(cmd.Context(), id)
		}),
		newProductIDCmd("deactivate", "Stop visiting a product, keeping its history", func(cmd *cobra.Command, svc *catalog.Service, id int64) error {
			return svc.Deactivate(cmd.Context(), id)
		}),
		newProductSamplesCmd(),
	)
	return cmd
}

func newProductAddCmd() *cobra.Command {
	var selector string
	cmd := &cobra.Command{
		Use:   "add NAME URL",
		Short: "Track a new product page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			product, err := a.Catalog.Add(cmd.Context(), catalog.NewProduct{
				Name:           args[0],
				URL:            args[1],
				CustomSelector: selector,
			})
			if err != nil {
				return fmt.Errorf("add product: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added product #%d %s (%s)\n", product.ID, product.Name, product.URL)
			return nil
		},
	}
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector tried before the default price selectors")
	return cmd
}

func newProductListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			products, err := a.Catalog.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list products: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tSELECTOR\tURL")
			for _, p := range products {
				fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", p.ID, p.Name, p.Active, p.CustomSelector, p.URL)
			}
			return tw.Flush()
		},
	}
}

func newProductIDCmd(use, short string, run func(*cobra.Command, *catalog.Service, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := run(cmd, a.Catalog, id); err != nil {
				return fmt.Errorf("%s product %d: %w", use, id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "product #%d: %s done\n", id, use)
			return nil
		},
	}
}

func newProductSamplesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "samples ID",
		Short: "Show the price history of a product, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			samples, err := a.Catalog.History(cmd.Context(), id, limit)
			if err != nil {
				return fmt.Errorf("product %d history: %w", id, err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIMESTAMP\tPRICE\tIN_STOCK")
			for _, s := range samples {
				fmt.Fprintf(tw, "%s\t%.2f\t%t\n", s.CreatedAt.Format(time.RFC3339), s.Price, s.InStock)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "keep only the latest N samples (0 = all)")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", raw)
	}
	return id, nil
}
