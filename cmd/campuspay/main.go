// campuspay - campus payments, bill splitting, tickets and fundraising on an
// EVM test network.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/campuspay/campuspay/pkg/config"
	"github.com/campuspay/campuspay/pkg/logger"
)

const logo = "💳"

var (
	version = "dev"

	configPath string
	pinFlag    string
	jsonOutput bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "campuspay",
		Short:         "Campus wallet and transactions on a blockchain test network",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.campuspay/config.json)")
	root.PersistentFlags().StringVar(&pinFlag, "pin", "", "keystore wallet PIN (or CAMPUSPAY_WALLET_PIN)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		onboardCmd(),
		walletCmd(),
		payCmd(),
		splitCmd(),
		ticketCmd(),
		donateCmd(),
		historyCmd(),
		txCmd(),
		abiCmd(),
		receiptCmd(),
		serveCmd(),
	)
	return root
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("CAMPUSPAY_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".campuspay", "config.json")
}

// loadConfig reads the config and configures logging from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if pinFlag != "" {
		cfg.Wallet.PIN = pinFlag
	}
	if err := logger.Configure(os.Stderr, cfg.Logging.Format, cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, nil
}
