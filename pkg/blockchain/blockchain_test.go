package blockchain_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspay/campuspay/pkg/blockchain"
	"github.com/campuspay/campuspay/pkg/blockchain/blockchaintest"
	"github.com/campuspay/campuspay/pkg/config"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newNetwork(t *testing.T) (*blockchain.Network, *blockchaintest.FakeRPC) {
	t.Helper()
	rpc := blockchaintest.New(1337)
	client := blockchain.NewClient()
	chain := &config.EVMChain{Name: "localnet", ChainID: 1337, RPC: "fake"}
	require.NoError(t, client.AttachChain(context.Background(), chain, rpc))

	network, err := client.Network(1337)
	require.NoError(t, err)
	return network, rpc
}

func TestAttachChain_ChainIDMismatch(t *testing.T) {
	client := blockchain.NewClient()
	chain := &config.EVMChain{Name: "testnet", ChainID: 11155111}
	err := client.AttachChain(context.Background(), chain, blockchaintest.New(1))
	assert.ErrorContains(t, err, "chain ID mismatch")

	_, err = client.Network(11155111)
	assert.True(t, errors.Is(err, blockchain.ErrChainNotFound))
}

func TestBuildPayment_CarriesNote(t *testing.T) {
	network, rpc := newNetwork(t)
	rpc.Nonce = 7
	ctx := context.Background()

	params, err := network.SuggestParams(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), params.Nonce)
	assert.Equal(t, int64(1337), params.ChainID.Int64())

	tx, err := network.BuildPayment(ctx, params, bob, big.NewInt(500), "mess bill")
	require.NoError(t, err)

	assert.Equal(t, bob, *tx.To())
	assert.Equal(t, int64(500), tx.Value().Int64())
	assert.Equal(t, []byte("mess bill"), tx.Data())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, rpc.Gas, tx.Gas())

	require.Len(t, rpc.Estimates, 1)
	assert.Equal(t, alice, rpc.Estimates[0].From)
}

func TestBuildPayment_EstimateFailure(t *testing.T) {
	network, rpc := newNetwork(t)
	rpc.EstimateErr = errors.New("insufficient funds")

	params, err := network.SuggestParams(context.Background(), alice)
	require.NoError(t, err)

	_, err = network.BuildPayment(context.Background(), params, bob, big.NewInt(1), "")
	assert.ErrorContains(t, err, "failed to estimate gas")
}

func TestTransactionStatus(t *testing.T) {
	network, rpc := newNetwork(t)
	ctx := context.Background()
	hash := common.HexToHash("0x01")

	status, err := network.TransactionStatus(ctx, hash)
	require.NoError(t, err)
	assert.False(t, status.Confirmed())
	assert.Equal(t, blockchain.StatusPending, status.Status)

	rpc.Mine(hash, true, 42)
	status, err = network.TransactionStatus(ctx, hash)
	require.NoError(t, err)
	assert.True(t, status.Confirmed())
	assert.True(t, status.Success)
	assert.Equal(t, uint64(42), status.BlockNumber)

	reverted := common.HexToHash("0x02")
	rpc.Mine(reverted, false, 43)
	status, err = network.TransactionStatus(ctx, reverted)
	require.NoError(t, err)
	assert.True(t, status.Confirmed())
	assert.False(t, status.Success)
}

func TestBroadcast(t *testing.T) {
	network, rpc := newNetwork(t)
	ctx := context.Background()

	params, err := network.SuggestParams(ctx, alice)
	require.NoError(t, err)
	tx, err := network.BuildPayment(ctx, params, bob, big.NewInt(1), "")
	require.NoError(t, err)

	hash, err := network.Broadcast(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)
	assert.Equal(t, 1, rpc.SentCount())

	rpc.SendErr = errors.New("nonce too low")
	_, err = network.Broadcast(ctx, tx)
	assert.ErrorContains(t, err, "nonce too low")
}

func TestContractService_BuildContractCall(t *testing.T) {
	network, rpc := newNetwork(t)
	ctx := context.Background()

	abis, err := blockchain.NewABIManager("")
	require.NoError(t, err)
	contracts := blockchain.NewContractService(abis)

	params, err := network.SuggestParams(ctx, alice)
	require.NoError(t, err)

	contract := common.HexToAddress("0x00000000000000000000000000000000000e7e75")
	tx, err := contracts.BuildContractCall(ctx, network, params, contract, blockchain.ABIExpense,
		"contribute", []interface{}{uint64(3)}, big.NewInt(250))
	require.NoError(t, err)

	parsed, err := abis.GetABI(blockchain.ABIExpense)
	require.NoError(t, err)
	assert.Equal(t, parsed.Methods["contribute"].ID, tx.Data()[:4])
	assert.Equal(t, contract, *tx.To())
	assert.Equal(t, int64(250), tx.Value().Int64())
	require.Len(t, rpc.Estimates, 1)

	_, err = contracts.BuildContractCall(ctx, network, params, contract, blockchain.ABIExpense,
		"withdrawAll", nil, nil)
	assert.True(t, errors.Is(err, blockchain.ErrMethodNotFound))
}

func TestContractService_CallContract(t *testing.T) {
	network, rpc := newNetwork(t)
	rpc.CallResult = common.LeftPadBytes(big.NewInt(125).Bytes(), 32)

	abis, err := blockchain.NewABIManager("")
	require.NoError(t, err)
	contracts := blockchain.NewContractService(abis)

	out, err := contracts.CallContract(context.Background(), network,
		common.HexToAddress("0x01"), blockchain.ABIFundraise, "getDonation",
		[]interface{}{uint64(1), alice})
	require.NoError(t, err)

	got, ok := out.(*big.Int)
	require.True(t, ok, "unexpected output type %T", out)
	assert.Equal(t, int64(125), got.Int64())
}

func TestABIManager_WorkspaceOverrides(t *testing.T) {
	dir := t.TempDir()
	m, err := blockchain.NewABIManager(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"expense", "fundraise", "ticketing"}, m.ListABIs())

	custom := `[{"type":"function","name":"ping","stateMutability":"view","inputs":[],"outputs":[]}]`
	require.NoError(t, m.UploadABI("ping", custom))
	assert.Error(t, m.UploadABI("broken", "{not json"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "abis", "junk.json"), []byte("nope"), 0o644))

	reloaded, err := blockchain.NewABIManager(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"expense", "fundraise", "ping", "ticketing"}, reloaded.ListABIs())

	_, err = reloaded.GetABI("junk")
	assert.True(t, errors.Is(err, blockchain.ErrABINotFound))
}
