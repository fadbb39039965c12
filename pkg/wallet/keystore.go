package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/campuspay/campuspay/pkg/logger"
)

// KeystoreConfig configures a KeystoreConnector. Zero scrypt parameters use
// the go-ethereum standard ones.
type KeystoreConfig struct {
	Dir     string
	ScryptN int
	ScryptP int
	PIN     PINSource
	Store   SessionStore
}

// KeystoreConnector is a wallet backed by a local encrypted keystore. The
// account is unlocked with the PIN while connected.
type KeystoreConnector struct {
	dir      string
	keystore *keystore.KeyStore
	pin      PINSource
	store    SessionStore

	mu       sync.Mutex
	unlocked *accounts.Account
}

// NewKeystoreConnector opens (creating if needed) the keystore directory
func NewKeystoreConnector(cfg KeystoreConfig) (*KeystoreConnector, error) {
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create wallet directory: %w", err)
	}

	scryptN, scryptP := cfg.ScryptN, cfg.ScryptP
	if scryptN == 0 || scryptP == 0 {
		scryptN, scryptP = keystore.StandardScryptN, keystore.StandardScryptP
	}

	return &KeystoreConnector{
		dir:      cfg.Dir,
		keystore: keystore.NewKeyStore(cfg.Dir, scryptN, scryptP),
		pin:      cfg.PIN,
		store:    cfg.Store,
	}, nil
}

func (c *KeystoreConnector) Name() string { return ConnectorKeystore }

// WalletExists checks if wallet already exists
func (c *KeystoreConnector) WalletExists() bool {
	return len(c.keystore.Accounts()) > 0
}

// CreateWallet creates a new wallet encrypted with pin
func (c *KeystoreConnector) CreateWallet(pin string) (common.Address, error) {
	if c.WalletExists() {
		return common.Address{}, ErrWalletAlreadyExists
	}

	if !ValidatePIN(pin) {
		return common.Address{}, ErrInvalidPINFormat
	}

	account, err := c.keystore.NewAccount(pin)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrKeystoreFailed, err)
	}

	walletInfo := WalletInfo{
		Address:   account.Address,
		CreatedAt: time.Now(),
		Encrypted: true,
	}
	walletJSON, err := json.MarshalIndent(walletInfo, "", "  ")
	if err == nil {
		if err := os.WriteFile(filepath.Join(c.dir, "wallet.json"), walletJSON, 0o600); err != nil {
			logger.WarnCF("wallet", "Failed to write wallet info", map[string]any{
				"error": err.Error(),
			})
		}
	}

	logger.InfoCF("wallet", "Wallet created", map[string]any{
		"address": account.Address.Hex(),
	})

	return account.Address, nil
}

// Address returns the wallet address
func (c *KeystoreConnector) Address() (common.Address, error) {
	accts := c.keystore.Accounts()
	if len(accts) == 0 {
		return common.Address{}, ErrWalletNotCreated
	}
	return accts[0].Address, nil
}

// Connect unlocks the keystore account and persists the session
func (c *KeystoreConnector) Connect(ctx context.Context) ([]common.Address, error) {
	accts := c.keystore.Accounts()
	if len(accts) == 0 {
		return nil, ErrWalletNotCreated
	}

	account, err := c.unlock(ctx, accts[0])
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		err := c.store.SaveSession(ctx, StoredSession{
			Connector: ConnectorKeystore,
			Account:   account.Address,
			UpdatedAt: time.Now(),
		})
		if err != nil {
			logger.WarnCF("wallet", "Failed to persist session", map[string]any{
				"error": err.Error(),
			})
		}
	}

	return []common.Address{account.Address}, nil
}

// Reconnect unlocks again when a session was persisted for this keystore
func (c *KeystoreConnector) Reconnect(ctx context.Context) ([]common.Address, error) {
	if c.store == nil {
		return nil, nil
	}

	stored, err := c.store.LoadSession(ctx, ConnectorKeystore)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if stored == nil {
		return nil, nil
	}

	found, err := c.keystore.Find(accounts.Account{Address: stored.Account})
	if err != nil {
		logger.WarnCF("wallet", "Stored session account not in keystore", map[string]any{
			"account": stored.Account.Hex(),
		})
		return nil, c.store.DeleteSession(ctx, ConnectorKeystore)
	}

	account, err := c.unlock(ctx, found)
	if err != nil {
		return nil, err
	}
	return []common.Address{account.Address}, nil
}

// Disconnect locks the account and forgets the persisted session
func (c *KeystoreConnector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	unlocked := c.unlocked
	c.unlocked = nil
	c.mu.Unlock()

	if unlocked != nil {
		if err := c.keystore.Lock(unlocked.Address); err != nil {
			return err
		}
	}

	if c.store != nil {
		return c.store.DeleteSession(ctx, ConnectorKeystore)
	}
	return nil
}

// SignTransactions signs every transaction with the unlocked account
func (c *KeystoreConnector) SignTransactions(
	ctx context.Context,
	from common.Address,
	chainID *big.Int,
	txs []*types.Transaction,
) ([]*types.Transaction, error) {
	c.mu.Lock()
	unlocked := c.unlocked
	c.mu.Unlock()

	if unlocked == nil || unlocked.Address != from {
		return nil, ErrNotConnected
	}

	signed := make([]*types.Transaction, 0, len(txs))
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := c.keystore.SignTx(*unlocked, tx, chainID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeystoreFailed, err)
		}
		signed = append(signed, s)
	}
	return signed, nil
}

// Events returns nil: a local keystore never ends a session on its own.
func (c *KeystoreConnector) Events() <-chan Event { return nil }

func (c *KeystoreConnector) Close() error {
	c.mu.Lock()
	unlocked := c.unlocked
	c.unlocked = nil
	c.mu.Unlock()

	if unlocked != nil {
		return c.keystore.Lock(unlocked.Address)
	}
	return nil
}

func (c *KeystoreConnector) unlock(ctx context.Context, account accounts.Account) (accounts.Account, error) {
	if c.pin == nil {
		return accounts.Account{}, ErrPINRequired
	}

	pin, err := c.pin(ctx)
	if err != nil {
		return accounts.Account{}, err
	}

	if err := c.keystore.Unlock(account, pin); err != nil {
		return accounts.Account{}, ErrInvalidPIN
	}

	c.mu.Lock()
	c.unlocked = &account
	c.mu.Unlock()
	return account, nil
}
