package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ContractService handles smart contract interactions
type ContractService struct {
	abiManager *ABIManager
}

// NewContractService creates a new contract service
func NewContractService(abiManager *ABIManager) *ContractService {
	return &ContractService{
		abiManager: abiManager,
	}
}

// CallContract calls a read-only contract function
func (cs *ContractService) CallContract(
	ctx context.Context,
	network *Network,
	contractAddress common.Address,
	abiName string,
	method string,
	args []interface{},
) (interface{}, error) {
	parsedABI, err := cs.abiManager.GetABI(abiName)
	if err != nil {
		return nil, err
	}

	methodABI, ok := parsedABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}

	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	result, err := network.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddress,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}

	if len(methodABI.Outputs) == 0 {
		return nil, nil
	}

	outputs, err := methodABI.Outputs.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(outputs) == 1 {
		return outputs[0], nil
	}

	return outputs, nil
}

// BuildContractCall builds an unsigned state-changing contract call
func (cs *ContractService) BuildContractCall(
	ctx context.Context,
	network *Network,
	params *TxParams,
	contractAddress common.Address,
	abiName string,
	method string,
	args []interface{},
	value *big.Int,
) (*types.Transaction, error) {
	parsedABI, err := cs.abiManager.GetABI(abiName)
	if err != nil {
		return nil, err
	}

	if _, ok := parsedABI.Methods[method]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}

	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	if value == nil {
		value = new(big.Int)
	}

	gasLimit, err := network.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  params.From,
		To:    &contractAddress,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    params.Nonce,
		To:       &contractAddress,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: params.GasPrice,
		Data:     data,
	}), nil
}
