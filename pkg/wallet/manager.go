package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/campuspay/campuspay/pkg/logger"
)

// Chain is the network the manager reads balances from and relays to.
type Chain interface {
	ChainID() int64
	Balance(ctx context.Context, address common.Address) (*big.Int, error)
	Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error)
}

// Manager owns at most one wallet connection. The only state that matters is
// whether an account is present; the balance is a cache.
type Manager struct {
	connector Connector
	chain     Chain

	mu       sync.RWMutex
	account  *common.Address
	balance  *big.Int
	onChange func(Session)
}

// NewManager creates a disconnected manager
func NewManager(connector Connector, chain Chain) *Manager {
	return &Manager{
		connector: connector,
		chain:     chain,
		balance:   new(big.Int),
	}
}

// OnChange registers a callback invoked after every session change.
func (m *Manager) OnChange(fn func(Session)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Session returns a copy of the current state
func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Account returns the connected account, if any
func (m *Manager) Account() (common.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.account == nil {
		return common.Address{}, false
	}
	return *m.account, true
}

// Connect authorizes through the connector and loads the first account's balance
func (m *Manager) Connect(ctx context.Context) error {
	accounts, err := m.connector.Connect(ctx)
	if err != nil {
		logger.ErrorCF("wallet", "Connect failed", map[string]any{
			"connector": m.connector.Name(),
			"error":     err.Error(),
		})
		return fmt.Errorf("connect %s wallet: %w", m.connector.Name(), err)
	}
	if len(accounts) == 0 {
		return ErrNoAccounts
	}

	m.setAccount(ctx, accounts[0])
	return nil
}

// Reconnect resumes the connector's persisted session. Without one the
// manager stays disconnected and no error is returned.
func (m *Manager) Reconnect(ctx context.Context) error {
	accounts, err := m.connector.Reconnect(ctx)
	if err != nil {
		return fmt.Errorf("reconnect %s wallet: %w", m.connector.Name(), err)
	}
	if len(accounts) == 0 {
		logger.DebugCF("wallet", "No previous session to resume", map[string]any{
			"connector": m.connector.Name(),
		})
		return nil
	}

	m.setAccount(ctx, accounts[0])
	return nil
}

// Disconnect clears the local session before telling the connector. A
// connector error is returned but the session stays cleared.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.clear()

	if err := m.connector.Disconnect(ctx); err != nil {
		logger.WarnCF("wallet", "Connector disconnect failed", map[string]any{
			"connector": m.connector.Name(),
			"error":     err.Error(),
		})
		return fmt.Errorf("disconnect %s wallet: %w", m.connector.Name(), err)
	}
	return nil
}

// RefreshBalance re-reads the connected account's balance. It is a no-op when
// disconnected.
func (m *Manager) RefreshBalance(ctx context.Context) error {
	account, ok := m.Account()
	if !ok {
		return nil
	}

	balance, err := m.chain.Balance(ctx, account)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.account == nil || *m.account != account {
		m.mu.Unlock()
		return nil
	}
	m.balance = balance
	snap, fn := m.snapshotLocked(), m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return nil
}

// SignAndSend asks the connector to sign txs and broadcasts each signed
// transaction, returning one hash per transaction sent. It fails before
// reaching the connector when no account is connected.
func (m *Manager) SignAndSend(ctx context.Context, txs []*types.Transaction) ([]common.Hash, error) {
	account, ok := m.Account()
	if !ok {
		return nil, ErrNotConnected
	}
	if len(txs) == 0 {
		return nil, nil
	}

	signed, err := m.connector.SignTransactions(ctx, account, big.NewInt(m.chain.ChainID()), txs)
	if err != nil {
		return nil, fmt.Errorf("sign transactions: %w", err)
	}
	if len(signed) != len(txs) {
		return nil, fmt.Errorf("wallet signed %d of %d transactions", len(signed), len(txs))
	}

	hashes := make([]common.Hash, 0, len(signed))
	for _, tx := range signed {
		hash, err := m.chain.Broadcast(ctx, tx)
		if err != nil {
			return hashes, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// Start drains connector events in the background until ctx is done or the
// event channel closes.
func (m *Manager) Start(ctx context.Context) {
	events := m.connector.Events()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				m.handleEvent(ctx, ev)
			}
		}
	}()
}

func (m *Manager) handleEvent(ctx context.Context, ev Event) {
	logger.InfoCF("wallet", "Connector event", map[string]any{
		"connector": m.connector.Name(),
		"event":     string(ev.Type),
	})

	switch ev.Type {
	case EventDisconnected:
		m.clear()
	case EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			m.clear()
			return
		}
		m.setAccount(ctx, ev.Accounts[0])
	}
}

func (m *Manager) setAccount(ctx context.Context, account common.Address) {
	m.mu.Lock()
	m.account = &account
	m.balance = new(big.Int)
	m.mu.Unlock()

	logger.InfoCF("wallet", "Wallet connected", map[string]any{
		"connector": m.connector.Name(),
		"account":   account.Hex(),
	})

	if err := m.RefreshBalance(ctx); err != nil {
		logger.WarnCF("wallet", "Failed to load balance", map[string]any{
			"account": account.Hex(),
			"error":   err.Error(),
		})
		m.notify()
	}
}

func (m *Manager) clear() {
	m.mu.Lock()
	was := m.account
	m.account = nil
	m.balance = new(big.Int)
	m.mu.Unlock()

	if was != nil {
		logger.InfoCF("wallet", "Wallet disconnected", map[string]any{
			"connector": m.connector.Name(),
			"account":   was.Hex(),
		})
	}
	m.notify()
}

func (m *Manager) notify() {
	m.mu.RLock()
	snap, fn := m.snapshotLocked(), m.onChange
	m.mu.RUnlock()

	if fn != nil {
		fn(snap)
	}
}

func (m *Manager) snapshotLocked() Session {
	s := Session{
		Balance:   new(big.Int).Set(m.balance),
		Connector: m.connector.Name(),
	}
	if m.account != nil {
		account := *m.account
		s.Account = &account
	}
	return s
}
