package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/campuspay/campuspay/pkg/blockchain"
	"github.com/campuspay/campuspay/pkg/config"
	"github.com/campuspay/campuspay/pkg/indexer"
	"github.com/campuspay/campuspay/pkg/store"
	"github.com/campuspay/campuspay/pkg/wallet"
)

func historyCmd() *cobra.Command {
	var (
		limit int
		local bool
	)
	cmd := &cobra.Command{
		Use:   "history [address]",
		Short: "List recent transactions of an account (default: the connected wallet)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			st, err := store.Open(ctx, cfg.StoragePath())
			if err != nil {
				return err
			}
			defer st.Close()

			account, err := historyAccount(ctx, cfg, st, args)
			if err != nil {
				return err
			}

			if local {
				subs, err := st.ListSubmissions(ctx, account, limit)
				if err != nil {
					return err
				}
				return printSubmissions(cmd, subs)
			}

			endpoints, err := config.ResolveNetwork(cfg.Network)
			if err != nil {
				return err
			}
			txs, err := indexer.New(endpoints.Indexer).AccountTransactions(ctx, account, limit)
			if err != nil {
				return fmt.Errorf("fetch history: %w", err)
			}
			return printTransactions(cmd, account, txs, endpoints.Currency)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&local, "local", false, "list submissions recorded on this device instead of the indexer")
	return cmd
}

func historyAccount(ctx context.Context, cfg *config.Config, st *store.Store, args []string) (common.Address, error) {
	if len(args) == 1 {
		return parseAddress(args[0])
	}
	connector := cfg.Wallet.Connector
	if connector == "" {
		connector = wallet.ConnectorKeystore
	}
	stored, err := st.LoadSession(ctx, connector)
	if err != nil {
		return common.Address{}, err
	}
	if stored == nil {
		return common.Address{}, fmt.Errorf("%w: pass an address or connect a wallet", wallet.ErrNotConnected)
	}
	return stored.Account, nil
}

func printTransactions(cmd *cobra.Command, account common.Address, txs []indexer.Transaction, currency string) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), txs)
	}
	if len(txs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No transactions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDIRECTION\tAMOUNT\tSTATUS\tHASH")
	for _, tx := range txs {
		direction := "out"
		if tx.From != account {
			direction = "in"
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\n",
			tx.Timestamp.Local().Format(time.DateTime),
			direction,
			blockchain.FormatAmount(tx.Value, blockchain.NativeDecimals), currency,
			tx.Status,
			tx.Hash.Hex(),
		)
	}
	return w.Flush()
}

func printSubmissions(cmd *cobra.Command, subs []store.Submission) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), subs)
	}
	if len(subs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No submissions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tSTATUS\tBLOCK\tHASH")
	for _, s := range subs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.CreatedAt.Local().Format(time.DateTime), s.Kind, s.Status, s.BlockNumber, s.Hash.Hex())
	}
	return w.Flush()
}

func txCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tx <hash>",
		Short: "Look up one transaction on the indexer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			endpoints, err := config.ResolveNetwork(cfg.Network)
			if err != nil {
				return err
			}
			tx, err := indexer.New(endpoints.Indexer).Transaction(ctx, hash)
			if err != nil {
				return fmt.Errorf("fetch transaction: %w", err)
			}
			return printTransaction(cmd, tx, endpoints)
		},
	}
}

func printTransaction(cmd *cobra.Command, tx *indexer.Transaction, endpoints *config.NetworkEndpoints) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), tx)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Hash:   %s\n", tx.Hash.Hex())
	fmt.Fprintf(out, "Status: %s\n", tx.Status)
	fmt.Fprintf(out, "Block:  %d\n", tx.BlockNumber)
	fmt.Fprintf(out, "From:   %s\n", tx.From.Hex())
	if tx.To != nil {
		fmt.Fprintf(out, "To:     %s\n", tx.To.Hex())
	}
	fmt.Fprintf(out, "Value:  %s %s\n", blockchain.FormatAmount(tx.Value, blockchain.NativeDecimals), endpoints.Currency)
	if tx.Method != "" {
		fmt.Fprintf(out, "Method: %s\n", tx.Method)
	}
	if !tx.Timestamp.IsZero() {
		fmt.Fprintf(out, "Time:   %s\n", tx.Timestamp.Local().Format(time.DateTime))
	}
	if endpoints.Explorer != "" {
		fmt.Fprintf(out, "Explorer: %s/tx/%s\n", endpoints.Explorer, tx.Hash.Hex())
	}
	return nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", s)
	}
	return common.BytesToHash(b), nil
}
