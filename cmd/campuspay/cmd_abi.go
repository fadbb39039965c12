package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campuspay/campuspay/pkg/blockchain"
)

var abiNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func abiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abi",
		Short: "Manage contract ABIs in the workspace",
	}
	cmd.AddCommand(abiListCmd(), abiAddCmd())
	return cmd
}

func abiListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and workspace ABIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			abis, err := openABIs()
			if err != nil {
				return err
			}
			names := abis.ListABIs()
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), names)
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func abiAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <file.json>",
		Short: "Add an ABI to the workspace, overriding a built-in one of the same name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			if !abiNamePattern.MatchString(name) {
				return fmt.Errorf("invalid ABI name %q", name)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read ABI: %w", err)
			}

			abis, err := openABIs()
			if err != nil {
				return err
			}
			if err := abis.UploadABI(name, string(data)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added ABI %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "ABI name (default: file name without extension)")
	return cmd
}

func openABIs() (*blockchain.ABIManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return blockchain.NewABIManager(cfg.HomePath())
}
