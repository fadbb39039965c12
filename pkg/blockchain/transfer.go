package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/campuspay/campuspay/pkg/config"
	"github.com/campuspay/campuspay/pkg/logger"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

// Network is a handle bound to a single configured chain.
type Network struct {
	client RPC
	chain  *config.EVMChain
}

// NewNetwork wraps an RPC handle for chain without verifying it.
func NewNetwork(chain *config.EVMChain, client RPC) *Network {
	return &Network{client: client, chain: chain}
}

func (n *Network) ChainID() int64 { return n.chain.ChainID }

func (n *Network) Chain() *config.EVMChain { return n.chain }

// TxParams are the network parameters a new transaction is built from
type TxParams struct {
	ChainID  *big.Int
	From     common.Address
	Nonce    uint64
	GasPrice *big.Int
}

// SuggestParams fetches the current nonce and gas price for from
func (n *Network) SuggestParams(ctx context.Context, from common.Address) (*TxParams, error) {
	nonce, err := n.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := n.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	return &TxParams{
		ChainID:  big.NewInt(n.chain.ChainID),
		From:     from,
		Nonce:    nonce,
		GasPrice: gasPrice,
	}, nil
}

// Balance returns the native balance of address
func (n *Network) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := n.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Broadcast relays a signed transaction to the node
func (n *Network) Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := n.client.SendTransaction(ctx, tx); err != nil {
		logger.ErrorCF("blockchain", "Send transaction failed", map[string]any{
			"error": err.Error(),
		})
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	logger.InfoCF("blockchain", "Transaction broadcast", map[string]any{
		"tx_hash": tx.Hash().Hex(),
	})
	return tx.Hash(), nil
}

// BuildPayment builds an unsigned value transfer carrying note as calldata
func (n *Network) BuildPayment(
	ctx context.Context,
	params *TxParams,
	to common.Address,
	amount *big.Int,
	note string,
) (*types.Transaction, error) {
	var data []byte
	if note != "" {
		data = []byte(note)
	}

	gasLimit, err := n.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  params.From,
		To:    &to,
		Value: amount,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    params.Nonce,
		To:       &to,
		Value:    amount,
		Gas:      gasLimit,
		GasPrice: params.GasPrice,
		Data:     data,
	}), nil
}

// TransactionStatus gets transaction status
func (n *Network) TransactionStatus(ctx context.Context, txHash common.Hash) (*TransactionStatus, error) {
	receipt, err := n.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &TransactionStatus{
				Hash:   txHash,
				Status: StatusPending,
			}, nil
		}
		return nil, err
	}

	status := &TransactionStatus{
		Hash:    txHash,
		Status:  StatusConfirmed,
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		status.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return status, nil
}

// TransactionStatus contains transaction status information
type TransactionStatus struct {
	Hash        common.Hash
	Status      string
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
}

// Confirmed reports whether the transaction has been included in a block
func (s *TransactionStatus) Confirmed() bool {
	return s.Status == StatusConfirmed
}
