package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campuspay/campuspay/pkg/receipt"
)

func receiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Read receipts with a vision model",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "scan <image>",
		Short: "Extract the amount, date and items from a receipt photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			scanner, err := newReceiptScanner(cfg)
			if err != nil {
				return err
			}

			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			r, err := scanner.Scan(ctx, image)
			if err != nil {
				return err
			}
			return printReceipt(cmd, r)
		},
	})
	return cmd
}

func printReceipt(cmd *cobra.Command, r *receipt.Receipt) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), r)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Amount: %s %s\n", r.Amount, r.Currency)
	if r.Date != "" {
		fmt.Fprintf(out, "Date:   %s\n", r.Date)
	}
	if len(r.Items) > 0 {
		fmt.Fprintln(out, "Items:")
		for _, item := range r.Items {
			fmt.Fprintf(out, "  %s %s\n", padRight(item.Name, 28), item.Price)
		}
	}
	return nil
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
