package wallet

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Connector names
const (
	ConnectorKeystore = "keystore"
	ConnectorRelay    = "relay"
)

// Session is a snapshot of the manager's wallet state
type Session struct {
	Account   *common.Address
	Balance   *big.Int
	Connector string
}

// Connected reports whether an account is present
func (s Session) Connected() bool {
	return s.Account != nil
}

// StoredSession is what a connector persists so it can resume later
type StoredSession struct {
	Connector string
	Account   common.Address
	Topic     string
	UpdatedAt time.Time
}

// SessionStore persists connector sessions. LoadSession returns nil, nil when
// nothing is stored for the connector.
type SessionStore interface {
	LoadSession(ctx context.Context, connector string) (*StoredSession, error)
	SaveSession(ctx context.Context, session StoredSession) error
	DeleteSession(ctx context.Context, connector string) error
}

type EventType string

const (
	EventDisconnected    EventType = "disconnected"
	EventAccountsChanged EventType = "accounts_changed"
)

// Event is pushed by a connector when the remote side changes the session
type Event struct {
	Type     EventType
	Accounts []common.Address
}

// Connector is an external wallet able to authorize accounts and sign.
type Connector interface {
	Name() string
	// Connect asks the wallet to authorize and returns the approved accounts.
	Connect(ctx context.Context) ([]common.Address, error)
	// Reconnect resumes a persisted session. It returns no accounts and no
	// error when there is nothing to resume.
	Reconnect(ctx context.Context) ([]common.Address, error)
	Disconnect(ctx context.Context) error
	SignTransactions(ctx context.Context, from common.Address, chainID *big.Int, txs []*types.Transaction) ([]*types.Transaction, error)
	Events() <-chan Event
	Close() error
}

// WalletInfo stores wallet metadata
type WalletInfo struct {
	Address   common.Address `json:"address"`
	CreatedAt time.Time      `json:"created_at"`
	Encrypted bool           `json:"encrypted"`
}
