package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/campuspay/campuspay/pkg/config"
	"github.com/campuspay/campuspay/pkg/logger"
)

// RPC is the subset of *ethclient.Client the package relies on.
type RPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client manages connections to EVM chains
type Client struct {
	mu         sync.RWMutex
	rpcClients map[int64]RPC
	closers    map[int64]func()
	chains     map[int64]*config.EVMChain
}

// NewClient creates a new blockchain client
func NewClient() *Client {
	return &Client{
		rpcClients: make(map[int64]RPC),
		closers:    make(map[int64]func()),
		chains:     make(map[int64]*config.EVMChain),
	}
}

// AddChain dials the chain's RPC endpoint and verifies its chain ID
func (c *Client) AddChain(ctx context.Context, chain *config.EVMChain) error {
	if _, ok := c.GetClient(chain.ChainID); ok {
		logger.InfoCF("blockchain", "Chain already connected", map[string]any{
			"chain": chain.Name,
		})
		return nil
	}

	var opts []rpc.ClientOption
	if chain.RPCToken != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+chain.RPCToken))
	}

	rpcClient, err := rpc.DialOptions(ctx, chain.RPC, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to %s RPC: %w", chain.Name, err)
	}
	client := ethclient.NewClient(rpcClient)

	if err := c.AttachChain(ctx, chain, client); err != nil {
		client.Close()
		return err
	}

	c.mu.Lock()
	c.closers[chain.ChainID] = client.Close
	c.mu.Unlock()
	return nil
}

// AttachChain registers an already-built RPC handle for chain after checking
// that the remote chain ID matches the configuration.
func (c *Client) AttachChain(ctx context.Context, chain *config.EVMChain, client RPC) error {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID for %s: %w", chain.Name, err)
	}

	if chainID.Int64() != chain.ChainID {
		return fmt.Errorf("chain ID mismatch: expected %d, got %d", chain.ChainID, chainID.Int64())
	}

	c.mu.Lock()
	c.rpcClients[chain.ChainID] = client
	c.chains[chain.ChainID] = chain
	c.mu.Unlock()

	logger.InfoCF("blockchain", "Connected to chain", map[string]any{
		"name":    chain.Name,
		"chainId": chain.ChainID,
		"rpc":     chain.RPC,
	})

	return nil
}

// GetClient returns the RPC client for a specific chain
func (c *Client) GetClient(chainID int64) (RPC, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	client, ok := c.rpcClients[chainID]
	return client, ok
}

// GetChain returns chain configuration
func (c *Client) GetChain(chainID int64) (*config.EVMChain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	chain, ok := c.chains[chainID]
	return chain, ok
}

// Network returns a handle bound to one configured chain.
func (c *Client) Network(chainID int64) (*Network, error) {
	client, ok := c.GetClient(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrChainNotFound, chainID)
	}
	chain, _ := c.GetChain(chainID)
	return &Network{client: client, chain: chain}, nil
}

// Close closes all RPC connections
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for chainID, closeFn := range c.closers {
		closeFn()
		logger.InfoCF("blockchain", "Disconnected from chain", map[string]any{
			"chainId": chainID,
		})
	}
	c.closers = make(map[int64]func())
}
