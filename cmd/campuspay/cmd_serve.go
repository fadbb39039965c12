package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/campuspay/campuspay/pkg/config"
	"github.com/campuspay/campuspay/pkg/logger"
	"github.com/campuspay/campuspay/pkg/receipt"
	"github.com/campuspay/campuspay/pkg/wallet"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP gateway for the campus app",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, os.Stdout)
			if err != nil {
				return err
			}
			defer app.Close()

			app.Wallet.OnChange(func(s wallet.Session) {
				fields := map[string]any{"connected": s.Connected()}
				if s.Account != nil {
					fields["account"] = s.Account.Hex()
					fields["balance_wei"] = bigString(s.Balance)
				}
				logger.InfoCF("gateway", "Wallet session changed", fields)
			})
			app.Wallet.Start(ctx)

			if err := app.Resume(ctx); err != nil {
				logger.WarnCF("gateway", "Could not resume wallet session", map[string]any{
					"error": err.Error(),
				})
			}

			if expr := cfg.Wallet.BalanceRefreshCron; expr != "" {
				refresher, err := wallet.NewBalanceRefresher(app.Wallet, expr)
				if err != nil {
					return err
				}
				go func() {
					if err := refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.ErrorCF("gateway", "Balance refresher stopped", map[string]any{
							"error": err.Error(),
						})
					}
				}()
			}

			deps := gatewayDeps{
				Wallet:      app.Wallet,
				Submitter:   app.Submitter,
				Submissions: app.Store,
				History:     app.Indexer,
				Contracts:   app.Submitter,
				Currency:    app.Endpoints.Currency,
			}
			if cfg.Receipt.Model != "" {
				deps.Receipts = &configScanner{cfg: cfg}
			}

			server := setupGatewayHTTP(cfg, deps)
			errCh := make(chan error, 1)
			go func() {
				logger.InfoCF("gateway", "Gateway listening", map[string]any{
					"addr":    server.Addr,
					"network": app.Endpoints.Name,
				})
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "%s Gateway on http://%s (Ctrl+C to stop)\n", logo, server.Addr)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("gateway: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.InfoC("gateway", "Shutting down")
			return server.Shutdown(shutdownCtx)
		},
	}
}

// configScanner builds a scanner per request so requests rotate across
// model_list entries sharing the receipt model name.
type configScanner struct {
	cfg *config.Config
}

func (s *configScanner) Scan(ctx context.Context, image []byte) (*receipt.Receipt, error) {
	scanner, err := newReceiptScanner(s.cfg)
	if err != nil {
		return nil, err
	}
	return scanner.Scan(ctx, image)
}
