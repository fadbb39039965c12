package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/campuspay/campuspay/pkg/blockchain"
	"github.com/campuspay/campuspay/pkg/submitter"
	"github.com/campuspay/campuspay/pkg/wallet"
)

func payCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "pay <to> <amount>",
		Short: "Send a payment with an optional note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := blockchain.ParseAmount(args[1], blockchain.NativeDecimals)
			if err != nil {
				return err
			}
			return submit(cmd, submitter.Request{
				Kind:   submitter.KindPayment,
				To:     to,
				Amount: amount,
				Note:   note,
			})
		},
	}
	cmd.Flags().StringVarP(&note, "note", "n", "", "note stored with the payment")
	return cmd
}

func splitCmd() *cobra.Command {
	var members int
	cmd := &cobra.Command{
		Use:   "split <expense-id> <total>",
		Short: "Contribute your share of a shared expense",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTargetID(args[0])
			if err != nil {
				return err
			}
			total, err := blockchain.ParseAmount(args[1], blockchain.NativeDecimals)
			if err != nil {
				return err
			}
			share, err := submitter.SplitShare(total, members)
			if err != nil {
				return err
			}
			return submit(cmd, submitter.Request{
				Kind:     submitter.KindSplit,
				Amount:   share,
				TargetID: id,
			})
		},
	}
	cmd.Flags().IntVarP(&members, "members", "m", submitter.MinSplitMembers, "number of people sharing the expense")
	cmd.AddCommand(lookupCmd("status <expense-id> [member]", "Show how much a member has contributed to an expense",
		func(ctx context.Context, app *App, id uint64, account common.Address) (*big.Int, error) {
			return app.Submitter.Contribution(ctx, id, account)
		}))
	return cmd
}

func ticketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket <event-id> [amount]",
		Short: "Buy an event ticket, paying the listed price unless amount is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTargetID(args[0])
			if err != nil {
				return err
			}
			req := submitter.Request{Kind: submitter.KindTicket, TargetID: id}
			if len(args) == 2 {
				if req.Amount, err = blockchain.ParseAmount(args[1], blockchain.NativeDecimals); err != nil {
					return err
				}
			}
			return submit(cmd, req)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "price <event-id>",
		Short: "Show the listed ticket price of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTargetID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *App) error {
				price, err := app.Submitter.TicketPrice(ctx, id)
				if err != nil {
					return err
				}
				return printAmount(cmd, app, map[string]any{"event_id": id}, price)
			})
		},
	})
	return cmd
}

func donateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "donate <campaign-id> <amount>",
		Short: "Donate to a fundraising campaign",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTargetID(args[0])
			if err != nil {
				return err
			}
			amount, err := blockchain.ParseAmount(args[1], blockchain.NativeDecimals)
			if err != nil {
				return err
			}
			return submit(cmd, submitter.Request{
				Kind:     submitter.KindDonation,
				Amount:   amount,
				TargetID: id,
			})
		},
	}
	cmd.AddCommand(lookupCmd("status <campaign-id> [donor]", "Show how much a donor has given to a campaign",
		func(ctx context.Context, app *App, id uint64, account common.Address) (*big.Int, error) {
			return app.Submitter.Donation(ctx, id, account)
		}))
	return cmd
}

type lookupFunc func(ctx context.Context, app *App, id uint64, account common.Address) (*big.Int, error)

// lookupCmd reads a per-account amount from a campus contract. The account
// defaults to the remembered wallet session.
func lookupCmd(use, short string, fn lookupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTargetID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *App) error {
				account, err := sessionAccount(ctx, app, args[1:])
				if err != nil {
					return err
				}
				amount, err := fn(ctx, app, id, account)
				if err != nil {
					return err
				}
				return printAmount(cmd, app, map[string]any{
					"id":      id,
					"account": account.Hex(),
				}, amount)
			})
		},
	}
}

// sessionAccount returns the address in args, or the remembered session's
func sessionAccount(ctx context.Context, app *App, args []string) (common.Address, error) {
	if len(args) > 0 {
		return parseAddress(args[0])
	}
	stored, err := app.Store.LoadSession(ctx, app.Connector.Name())
	if err != nil {
		return common.Address{}, err
	}
	if stored == nil {
		return common.Address{}, fmt.Errorf("%w: pass an address or connect a wallet", wallet.ErrNotConnected)
	}
	return stored.Account, nil
}

func printAmount(cmd *cobra.Command, app *App, view map[string]any, amount *big.Int) error {
	formatted := blockchain.FormatAmount(amount, blockchain.NativeDecimals)
	if jsonOutput {
		view["amount"] = formatted
		view["amount_wei"] = amount.String()
		view["currency"] = app.Endpoints.Currency
		return writeJSON(cmd.OutOrStdout(), view)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", formatted, app.Endpoints.Currency)
	return nil
}

// submit resumes the stored wallet session and submits req through it
func submit(cmd *cobra.Command, req submitter.Request) error {
	return withApp(cmd, func(ctx context.Context, app *App) error {
		if err := app.Resume(ctx); err != nil {
			return err
		}
		if _, ok := app.Wallet.Account(); !ok {
			return fmt.Errorf("%w: run `campuspay wallet connect` first", wallet.ErrNotConnected)
		}

		out := cmd.OutOrStdout()
		if !jsonOutput {
			fmt.Fprintf(out, "%s Submitting %s...\n", logo, req.Kind)
		}

		result, err := app.Submitter.Submit(ctx, req)
		if result == nil {
			return err
		}

		if jsonOutput {
			view := map[string]any{"result": result}
			if err != nil {
				view["error"] = err.Error()
			}
			if werr := writeJSON(out, view); werr != nil {
				return werr
			}
			return err
		}

		fmt.Fprintf(out, "Transaction: %s\n", result.Hash.Hex())
		if app.Endpoints.Explorer != "" {
			fmt.Fprintf(out, "Explorer:    %s/tx/%s\n", app.Endpoints.Explorer, result.Hash.Hex())
		}
		switch {
		case err == nil:
			fmt.Fprintf(out, "Confirmed in block %d\n", result.BlockNumber)
		case errors.Is(err, submitter.ErrNotConfirmed):
			fmt.Fprintf(out, "Not confirmed after %d rounds; check `campuspay history` later\n", result.Rounds)
		}
		return err
	})
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseTargetID(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return v, nil
}
