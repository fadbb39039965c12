package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/campuspay/campuspay/pkg/config"
)

//go:embed config.example.json
var exampleConfig []byte

func onboardCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Write a starter config and create the data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard(cmd, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")
	return cmd
}

func onboard(cmd *cobra.Command, force bool) error {
	out := cmd.OutOrStdout()
	path := getConfigPath()

	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(out, "Config already exists at %s\n", path)
		fmt.Fprintln(out, "Use existing config. Run 'campuspay onboard --force' to overwrite.")
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := writeExampleConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created config at %s\n", path)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(out, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	for _, dir := range []string{cfg.HomePath(), cfg.KeystorePath(), filepath.Dir(cfg.StoragePath())} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fmt.Fprintf(out, "%s campuspay is ready!\n", logo)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Create a wallet:   campuspay wallet create")
	fmt.Fprintln(out, "     or pair a phone:   set wallet.connector to \"relay\" and run campuspay wallet connect")
	fmt.Fprintln(out, "  2. Fund it from a faucet for your network, then: campuspay wallet balance")
	fmt.Fprintln(out, "  3. Add an API key to model_list in", path, "to scan receipts")
	return nil
}

// writeExampleConfig writes the example, converting it when path is YAML
func writeExampleConfig(path string) error {
	ext := filepath.Ext(path)
	if ext == ".yaml" || ext == ".yml" {
		tmp := filepath.Join(filepath.Dir(path), ".config.example.json")
		if err := os.WriteFile(tmp, exampleConfig, 0o600); err != nil {
			return err
		}
		defer os.Remove(tmp)
		cfg, err := config.LoadConfig(tmp)
		if err != nil {
			return err
		}
		return config.SaveConfig(path, cfg)
	}
	return os.WriteFile(path, exampleConfig, 0o600)
}
