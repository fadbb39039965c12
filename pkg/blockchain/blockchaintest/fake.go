// Package blockchaintest provides an in-memory stand-in for the chain RPC used
// by tests of packages built on top of blockchain.
package blockchaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeRPC implements blockchain.RPC.
type FakeRPC struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	Balances     map[common.Address]*big.Int
	Nonce        uint64
	GasPrice     *big.Int
	Gas          uint64
	CallResult   []byte

	BalanceErr  error
	EstimateErr error
	SendErr     error

	// AutoMine adds a receipt for every sent transaction.
	AutoMine bool
	// MineFailed makes auto-mined receipts reverted.
	MineFailed bool
	// PendingPolls is how many receipt lookups report NotFound before a mined
	// receipt becomes visible.
	PendingPolls int

	Sent      []*types.Transaction
	Estimates []ethereum.CallMsg
	Calls     []ethereum.CallMsg

	receipts map[common.Hash]*types.Receipt
	lookups  map[common.Hash]int
}

// New returns a FakeRPC reporting chainID with sane gas defaults.
func New(chainID int64) *FakeRPC {
	return &FakeRPC{
		ChainIDValue: big.NewInt(chainID),
		Balances:     make(map[common.Address]*big.Int),
		GasPrice:     big.NewInt(1_000_000_000),
		Gas:          21_000,
		receipts:     make(map[common.Hash]*types.Receipt),
		lookups:      make(map[common.Hash]int),
	}
}

func (f *FakeRPC) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.ChainIDValue), nil
}

func (f *FakeRPC) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	if b, ok := f.Balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *FakeRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Nonce, nil
}

func (f *FakeRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.GasPrice), nil
}

func (f *FakeRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Estimates = append(f.Estimates, msg)
	if f.EstimateErr != nil {
		return 0, f.EstimateErr
	}
	return f.Gas, nil
}

func (f *FakeRPC) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, msg)
	return f.CallResult, nil
}

func (f *FakeRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, tx)
	f.Nonce++
	if f.AutoMine {
		f.mineLocked(tx.Hash(), !f.MineFailed, uint64(len(f.Sent)))
	}
	return nil
}

func (f *FakeRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.receipts[txHash]
	if !ok || f.lookups[txHash] < f.PendingPolls {
		f.lookups[txHash]++
		return nil, ethereum.NotFound
	}
	return r, nil
}

// Mine records a receipt for hash.
func (f *FakeRPC) Mine(hash common.Hash, success bool, block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mineLocked(hash, success, block)
}

func (f *FakeRPC) mineLocked(hash common.Hash, success bool, block uint64) {
	status := types.ReceiptStatusFailed
	if success {
		status = types.ReceiptStatusSuccessful
	}
	f.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(block),
		GasUsed:     f.Gas,
	}
}

// Lookups returns how many receipt lookups missed for hash.
func (f *FakeRPC) Lookups(hash common.Hash) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups[hash]
}

// SentCount returns the number of broadcast transactions.
func (f *FakeRPC) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}
