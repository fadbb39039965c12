package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/campuspay/campuspay/pkg/blockchain"
	"github.com/campuspay/campuspay/pkg/config"
	"github.com/campuspay/campuspay/pkg/indexer"
	"github.com/campuspay/campuspay/pkg/logger"
	"github.com/campuspay/campuspay/pkg/receipt"
	"github.com/campuspay/campuspay/pkg/store"
	"github.com/campuspay/campuspay/pkg/submitter"
	"github.com/campuspay/campuspay/pkg/wallet"
)

// App holds every service a command may need
type App struct {
	Config    *config.Config
	Endpoints *config.NetworkEndpoints
	Chain     *blockchain.Client
	Network   *blockchain.Network
	Contracts *blockchain.ContractService
	Store     *store.Store
	Connector wallet.Connector
	Keystore  *wallet.KeystoreConnector
	Wallet    *wallet.Manager
	Submitter *submitter.Submitter
	Indexer   *indexer.Client
}

// newApp resolves the network, dials the node and wires the wallet stack.
// qrOut receives relay pairing codes.
func newApp(ctx context.Context, cfg *config.Config, qrOut io.Writer) (*App, error) {
	endpoints, err := config.ResolveNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Endpoints: endpoints,
		Chain:     blockchain.NewClient(),
		Indexer:   indexer.New(endpoints.Indexer),
	}

	st, err := store.Open(ctx, cfg.StoragePath())
	if err != nil {
		return nil, err
	}
	app.Store = st

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	chain := endpoints.Chain()
	if err := app.Chain.AddChain(dialCtx, chain); err != nil {
		app.Close()
		return nil, err
	}
	if app.Network, err = app.Chain.Network(chain.ChainID); err != nil {
		app.Close()
		return nil, err
	}

	abis, err := blockchain.NewABIManager(cfg.HomePath())
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Contracts = blockchain.NewContractService(abis)

	if err := app.buildConnector(cfg, qrOut); err != nil {
		app.Close()
		return nil, err
	}
	app.Wallet = wallet.NewManager(app.Connector, app.Network)

	contracts, err := contractAddresses(cfg.Contracts)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Submitter = submitter.New(app.Wallet, app.Network, app.Contracts, app.Store, submitter.Options{
		MaxRounds:    cfg.Submitter.MaxRounds,
		PollInterval: time.Duration(cfg.Submitter.PollIntervalMS) * time.Millisecond,
		Contracts:    contracts,
	})

	logger.DebugCF("app", "Services ready", map[string]any{
		"network":   endpoints.Name,
		"chain_id":  endpoints.ChainID,
		"connector": app.Connector.Name(),
	})
	return app, nil
}

func (a *App) buildConnector(cfg *config.Config, qrOut io.Writer) error {
	switch strings.ToLower(cfg.Wallet.Connector) {
	case "", wallet.ConnectorKeystore:
		ks, err := wallet.NewKeystoreConnector(wallet.KeystoreConfig{
			Dir:   cfg.KeystorePath(),
			PIN:   pinSource(cfg.Wallet.PIN),
			Store: a.Store,
		})
		if err != nil {
			return err
		}
		a.Keystore = ks
		a.Connector = ks
	case wallet.ConnectorRelay:
		a.Connector = wallet.NewRelayConnector(wallet.RelayConfig{
			URL:         cfg.Wallet.RelayURL,
			PairTimeout: time.Duration(cfg.Wallet.PairTimeoutSeconds) * time.Second,
			Store:       a.Store,
			ProjectID:   cfg.Wallet.ProjectID,
			QRWriter:    qrOut,
		})
	default:
		return fmt.Errorf("%w: %q", wallet.ErrUnknownConnector, cfg.Wallet.Connector)
	}
	return nil
}

// Resume reconnects the persisted session, if any
func (a *App) Resume(ctx context.Context) error {
	return a.Wallet.Reconnect(ctx)
}

func (a *App) Close() {
	if a.Connector != nil {
		a.Connector.Close()
	}
	if a.Chain != nil {
		a.Chain.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

func newReceiptScanner(cfg *config.Config) (*receipt.Scanner, error) {
	mc, err := cfg.GetModelConfig(cfg.Receipt.Model)
	if err != nil {
		return nil, fmt.Errorf("receipt model: %w", err)
	}
	provider, err := receipt.NewProvider(mc)
	if err != nil {
		return nil, err
	}
	return receipt.NewScanner(provider, cfg.Receipt.MaxImageBytes,
		time.Duration(cfg.Receipt.TimeoutSeconds)*time.Second), nil
}

func contractAddresses(c config.ContractsConfig) (map[submitter.Kind]common.Address, error) {
	out := make(map[submitter.Kind]common.Address)
	for kind, addr := range map[submitter.Kind]string{
		submitter.KindSplit:    c.Expense,
		submitter.KindTicket:   c.Ticketing,
		submitter.KindDonation: c.Fundraise,
	} {
		if addr == "" {
			continue
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("contracts: invalid %s address %q", kind, addr)
		}
		out[kind] = common.HexToAddress(addr)
	}
	return out, nil
}

// pinSource uses the configured PIN or prompts on the terminal
func pinSource(configured string) wallet.PINSource {
	if configured != "" {
		return wallet.StaticPIN(configured)
	}
	return func(ctx context.Context) (string, error) {
		fmt.Fprint(os.Stderr, "Wallet PIN: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", wallet.ErrPINRequired
		}
		pin := strings.TrimSpace(line)
		if pin == "" {
			return "", wallet.ErrPINRequired
		}
		return pin, nil
	}
}
