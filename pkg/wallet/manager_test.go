package wallet_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspay/campuspay/pkg/blockchain"
	"github.com/campuspay/campuspay/pkg/blockchain/blockchaintest"
	"github.com/campuspay/campuspay/pkg/config"
	"github.com/campuspay/campuspay/pkg/wallet"
)

const testChainID = 1337

type fakeConnector struct {
	mu sync.Mutex

	key           *ecdsa.PrivateKey
	accounts      []common.Address
	resume        []common.Address
	connectErr    error
	disconnectErr error

	connects    int
	disconnects int
	signCalls   int
	events      chan wallet.Event
}

func newFakeConnector(t *testing.T) *fakeConnector {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeConnector{
		key:      key,
		accounts: []common.Address{crypto.PubkeyToAddress(key.PublicKey)},
		events:   make(chan wallet.Event, 1),
	}
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) Connect(ctx context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.accounts, f.connectErr
}

func (f *fakeConnector) Reconnect(ctx context.Context) ([]common.Address, error) {
	return f.resume, nil
}

func (f *fakeConnector) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return f.disconnectErr
}

func (f *fakeConnector) SignTransactions(ctx context.Context, from common.Address, chainID *big.Int, txs []*types.Transaction) ([]*types.Transaction, error) {
	f.mu.Lock()
	f.signCalls++
	f.mu.Unlock()

	signer := types.LatestSignerForChainID(chainID)
	out := make([]*types.Transaction, 0, len(txs))
	for _, tx := range txs {
		s, err := types.SignTx(tx, signer, f.key)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeConnector) Events() <-chan wallet.Event { return f.events }

func (f *fakeConnector) Close() error { return nil }

// memStore is an in-memory wallet.SessionStore.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]wallet.StoredSession
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]wallet.StoredSession)}
}

func (s *memStore) LoadSession(ctx context.Context, connector string) (*wallet.StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[connector]
	if !ok {
		return nil, nil
	}
	return &stored, nil
}

func (s *memStore) SaveSession(ctx context.Context, session wallet.StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Connector] = session
	return nil
}

func (s *memStore) DeleteSession(ctx context.Context, connector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connector)
	return nil
}

func (s *memStore) has(connector string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[connector]
	return ok
}

func newTestNetwork() (*blockchain.Network, *blockchaintest.FakeRPC) {
	rpc := blockchaintest.New(testChainID)
	chain := &config.EVMChain{Name: "localnet", ChainID: testChainID}
	return blockchain.NewNetwork(chain, rpc), rpc
}

func TestSignAndSend_NotConnected(t *testing.T) {
	conn := newFakeConnector(t)
	network, rpc := newTestNetwork()
	m := wallet.NewManager(conn, network)

	tx := types.NewTx(&types.LegacyTx{To: &common.Address{}, Value: big.NewInt(1)})
	hashes, err := m.SignAndSend(context.Background(), []*types.Transaction{tx})

	require.ErrorIs(t, err, wallet.ErrNotConnected)
	assert.Nil(t, hashes)
	assert.Equal(t, 0, conn.signCalls)
	assert.Equal(t, 0, rpc.SentCount())
}

func TestConnect_LoadsBalance(t *testing.T) {
	conn := newFakeConnector(t)
	network, rpc := newTestNetwork()
	rpc.Balances[conn.accounts[0]] = big.NewInt(5000)
	m := wallet.NewManager(conn, network)

	require.NoError(t, m.Connect(context.Background()))

	s := m.Session()
	require.True(t, s.Connected())
	assert.Equal(t, conn.accounts[0], *s.Account)
	assert.Equal(t, int64(5000), s.Balance.Int64())
	assert.Equal(t, "fake", s.Connector)
}

func TestConnect_BalanceFailureKeepsSession(t *testing.T) {
	conn := newFakeConnector(t)
	network, rpc := newTestNetwork()
	rpc.BalanceErr = errors.New("node down")
	m := wallet.NewManager(conn, network)

	require.NoError(t, m.Connect(context.Background()))

	s := m.Session()
	assert.True(t, s.Connected())
	assert.Equal(t, int64(0), s.Balance.Int64())
}

func TestConnect_Errors(t *testing.T) {
	network, _ := newTestNetwork()

	t.Run("no accounts", func(t *testing.T) {
		conn := newFakeConnector(t)
		conn.accounts = nil
		m := wallet.NewManager(conn, network)
		assert.ErrorIs(t, m.Connect(context.Background()), wallet.ErrNoAccounts)
		assert.False(t, m.Session().Connected())
	})

	t.Run("connector rejects", func(t *testing.T) {
		conn := newFakeConnector(t)
		conn.connectErr = errors.New("user rejected")
		m := wallet.NewManager(conn, network)
		assert.ErrorContains(t, m.Connect(context.Background()), "user rejected")
		assert.False(t, m.Session().Connected())
	})
}

func TestDisconnect_AlwaysClears(t *testing.T) {
	conn := newFakeConnector(t)
	network, rpc := newTestNetwork()
	rpc.Balances[conn.accounts[0]] = big.NewInt(42)
	m := wallet.NewManager(conn, network)

	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, int64(42), m.Session().Balance.Int64())

	conn.disconnectErr = errors.New("relay unreachable")
	err := m.Disconnect(context.Background())
	assert.ErrorContains(t, err, "relay unreachable")

	s := m.Session()
	assert.False(t, s.Connected())
	assert.Nil(t, s.Account)
	assert.Equal(t, int64(0), s.Balance.Int64())
	assert.Equal(t, 1, conn.disconnects)

	_, ok := m.Account()
	assert.False(t, ok)
}

func TestReconnect_NoPriorSession(t *testing.T) {
	conn := newFakeConnector(t)
	network, _ := newTestNetwork()
	m := wallet.NewManager(conn, network)

	require.NoError(t, m.Reconnect(context.Background()))
	assert.False(t, m.Session().Connected())
}

func TestReconnect_Resumes(t *testing.T) {
	conn := newFakeConnector(t)
	conn.resume = conn.accounts
	network, _ := newTestNetwork()
	m := wallet.NewManager(conn, network)

	require.NoError(t, m.Reconnect(context.Background()))
	account, ok := m.Account()
	require.True(t, ok)
	assert.Equal(t, conn.accounts[0], account)
	assert.Equal(t, 0, conn.connects)
}

func TestSignAndSend_Broadcasts(t *testing.T) {
	conn := newFakeConnector(t)
	network, rpc := newTestNetwork()
	m := wallet.NewManager(conn, network)
	require.NoError(t, m.Connect(context.Background()))

	to := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	txs := []*types.Transaction{
		types.NewTx(&types.LegacyTx{Nonce: 0, To: &to, Value: big.NewInt(1), Gas: 21000, GasPrice: big.NewInt(1)}),
		types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Value: big.NewInt(2), Gas: 21000, GasPrice: big.NewInt(1)}),
	}

	hashes, err := m.SignAndSend(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	require.Equal(t, 2, rpc.SentCount())

	signer := types.LatestSignerForChainID(big.NewInt(testChainID))
	for i, sent := range rpc.Sent {
		assert.Equal(t, sent.Hash(), hashes[i])
		from, err := types.Sender(signer, sent)
		require.NoError(t, err)
		assert.Equal(t, conn.accounts[0], from)
	}
}

func TestSignAndSend_BroadcastFailure(t *testing.T) {
	conn := newFakeConnector(t)
	network, rpc := newTestNetwork()
	rpc.SendErr = errors.New("underpriced")
	m := wallet.NewManager(conn, network)
	require.NoError(t, m.Connect(context.Background()))

	tx := types.NewTx(&types.LegacyTx{To: &common.Address{}, Value: big.NewInt(1), Gas: 21000, GasPrice: big.NewInt(1)})
	hashes, err := m.SignAndSend(context.Background(), []*types.Transaction{tx})
	assert.ErrorContains(t, err, "underpriced")
	assert.Empty(t, hashes)
}

func TestStart_DisconnectEventClearsSession(t *testing.T) {
	conn := newFakeConnector(t)
	network, _ := newTestNetwork()
	m := wallet.NewManager(conn, network)

	var mu sync.Mutex
	var changes []wallet.Session
	m.OnChange(func(s wallet.Session) {
		mu.Lock()
		changes = append(changes, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.NoError(t, m.Connect(ctx))
	conn.events <- wallet.Event{Type: wallet.EventDisconnected}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) > 0 && !changes[len(changes)-1].Connected()
	}, time.Second, 10*time.Millisecond)

	assert.False(t, m.Session().Connected())
}

func TestStart_AccountsChanged(t *testing.T) {
	conn := newFakeConnector(t)
	network, _ := newTestNetwork()
	m := wallet.NewManager(conn, network)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	require.NoError(t, m.Connect(ctx))

	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	conn.events <- wallet.Event{Type: wallet.EventAccountsChanged, Accounts: []common.Address{other}}

	require.Eventually(t, func() bool {
		account, ok := m.Account()
		return ok && account == other
	}, time.Second, 10*time.Millisecond)
}

func TestRefreshBalance_Disconnected(t *testing.T) {
	conn := newFakeConnector(t)
	network, rpc := newTestNetwork()
	rpc.BalanceErr = errors.New("should not be called")
	m := wallet.NewManager(conn, network)

	assert.NoError(t, m.RefreshBalance(context.Background()))
}
