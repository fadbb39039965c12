package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campuspay/campuspay/pkg/blockchain"
	"github.com/campuspay/campuspay/pkg/wallet"
)

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the wallet connection",
	}
	cmd.AddCommand(
		walletCreateCmd(),
		walletConnectCmd(),
		walletDisconnectCmd(),
		walletStatusCmd(),
		walletBalanceCmd(),
	)
	return cmd
}

// withApp loads config, builds the app and runs fn with it
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newApp(ctx, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func walletCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a local keystore wallet protected by a 4-digit PIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				if app.Keystore == nil {
					return fmt.Errorf("wallet create needs the keystore connector, current is %q", app.Connector.Name())
				}

				pin := app.Config.Wallet.PIN
				generated := false
				if pin == "" {
					var err error
					if pin, err = wallet.GeneratePIN(); err != nil {
						return err
					}
					generated = true
				}

				address, err := app.Keystore.CreateWallet(pin)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Wallet created: %s\n", address.Hex())
				if generated {
					fmt.Fprintf(out, "PIN: %s (write it down, it is not stored)\n", pin)
				}
				return nil
			})
		},
	}
}

func walletConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect the wallet and remember the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				if err := app.Wallet.Connect(ctx); err != nil {
					return err
				}
				return printSession(cmd, app)
			})
		},
	}
}

func walletDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the wallet and forget the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				if err := app.Wallet.Disconnect(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Disconnected")
				return nil
			})
		},
	}
}

func walletStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the remembered session and network",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				stored, err := app.Store.LoadSession(ctx, app.Connector.Name())
				if err != nil {
					return err
				}

				status := map[string]any{
					"network":   app.Endpoints.Name,
					"chain_id":  app.Endpoints.ChainID,
					"node":      app.Endpoints.Node.URL,
					"indexer":   app.Endpoints.Indexer.URL,
					"connector": app.Connector.Name(),
					"connected": stored != nil,
				}
				if stored != nil {
					status["account"] = stored.Account.Hex()
					status["since"] = stored.UpdatedAt
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), status)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Network:   %s (chain %d)\n", app.Endpoints.Name, app.Endpoints.ChainID)
				fmt.Fprintf(out, "Connector: %s\n", app.Connector.Name())
				if stored == nil {
					fmt.Fprintln(out, "Wallet:    not connected")
					return nil
				}
				fmt.Fprintf(out, "Wallet:    %s\n", stored.Account.Hex())
				return nil
			})
		},
	}
}

func walletBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the connected account's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				stored, err := app.Store.LoadSession(ctx, app.Connector.Name())
				if err != nil {
					return err
				}
				if stored == nil {
					return wallet.ErrNotConnected
				}

				balance, err := app.Network.Balance(ctx, stored.Account)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]string{
						"account":     stored.Account.Hex(),
						"balance":     blockchain.FormatAmount(balance, blockchain.NativeDecimals),
						"balance_wei": balance.String(),
						"currency":    app.Endpoints.Currency,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
					blockchain.FormatAmount(balance, blockchain.NativeDecimals), app.Endpoints.Currency)
				return nil
			})
		},
	}
}

func printSession(cmd *cobra.Command, app *App) error {
	view := newSessionView(app.Wallet.Session(), app.Endpoints.Currency)
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), view)
	}
	out := cmd.OutOrStdout()
	if !view.Connected {
		fmt.Fprintln(out, "Wallet not connected")
		return nil
	}
	fmt.Fprintf(out, "Connected: %s\n", view.Account)
	fmt.Fprintf(out, "Balance:   %s %s\n", view.Balance, view.Currency)
	return nil
}
