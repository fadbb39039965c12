package submitter_test

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
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
	"github.com/campuspay/campuspay/pkg/store"
	"github.com/campuspay/campuspay/pkg/submitter"
	"github.com/campuspay/campuspay/pkg/wallet"
)

var (
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	expense  = common.HexToAddress("0x00000000000000000000000000000000000e7e75")
	tickets  = common.HexToAddress("0x000000000000000000000000000000000071c4e7")
	campaign = common.HexToAddress("0x00000000000000000000000000000000000f0add")
)

type fakeSession struct {
	key       *ecdsa.PrivateKey
	network   *blockchain.Network
	connected bool
	calls     int
}

func (f *fakeSession) Account() (common.Address, bool) {
	if !f.connected {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(f.key.PublicKey), true
}

func (f *fakeSession) SignAndSend(ctx context.Context, txs []*types.Transaction) ([]common.Hash, error) {
	f.calls++
	signer := types.LatestSignerForChainID(big.NewInt(f.network.ChainID()))
	var hashes []common.Hash
	for _, tx := range txs {
		signed, err := types.SignTx(tx, signer, f.key)
		if err != nil {
			return nil, err
		}
		hash, err := f.network.Broadcast(ctx, signed)
		if err != nil {
			return hashes, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

type memRecorder struct {
	mu   sync.Mutex
	subs map[string]store.Submission
}

func (r *memRecorder) RecordSubmission(ctx context.Context, sub store.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub
	return nil
}

func (r *memRecorder) UpdateSubmission(ctx context.Context, id, status string, block uint64, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.subs[id]
	sub.Status, sub.BlockNumber, sub.Error = status, block, errMsg
	r.subs[id] = sub
	return nil
}

type fixture struct {
	rpc       *blockchaintest.FakeRPC
	session   *fakeSession
	recorder  *memRecorder
	submitter *submitter.Submitter
}

func newFixture(t *testing.T, maxRounds int) *fixture {
	t.Helper()
	rpc := blockchaintest.New(1337)
	network := blockchain.NewNetwork(&config.EVMChain{Name: "localnet", ChainID: 1337}, rpc)

	abis, err := blockchain.NewABIManager("")
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	session := &fakeSession{key: key, network: network, connected: true}
	recorder := &memRecorder{subs: make(map[string]store.Submission)}
	s := submitter.New(session, network, blockchain.NewContractService(abis), recorder, submitter.Options{
		MaxRounds:    maxRounds,
		PollInterval: time.Millisecond,
		Contracts: map[submitter.Kind]common.Address{
			submitter.KindSplit:    expense,
			submitter.KindTicket:   tickets,
			submitter.KindDonation: campaign,
		},
	})
	return &fixture{rpc: rpc, session: session, recorder: recorder, submitter: s}
}

func TestSubmit_NotConnected(t *testing.T) {
	f := newFixture(t, 3)
	f.session.connected = false

	res, err := f.submitter.Submit(context.Background(), submitter.Request{
		Kind: submitter.KindPayment, To: bob, Amount: big.NewInt(1),
	})
	require.ErrorIs(t, err, wallet.ErrNotConnected)
	assert.Nil(t, res)
	assert.Equal(t, 0, f.session.calls)
	assert.Empty(t, f.rpc.Estimates)
}

func TestSubmit_PaymentConfirmed(t *testing.T) {
	f := newFixture(t, 5)
	f.rpc.AutoMine = true
	f.rpc.PendingPolls = 2

	res, err := f.submitter.Submit(context.Background(), submitter.Request{
		Kind: submitter.KindPayment, To: bob, Amount: big.NewInt(1000), Note: "mess bill",
	})
	require.NoError(t, err)
	assert.Equal(t, submitter.StatusConfirmed, res.Status)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, uint64(1), res.BlockNumber)

	require.Equal(t, 1, f.rpc.SentCount())
	sent := f.rpc.Sent[0]
	assert.Equal(t, res.Hash, sent.Hash())
	assert.Equal(t, []byte("mess bill"), sent.Data())
	assert.Equal(t, bob, *sent.To())

	rec := f.recorder.subs[res.ID]
	assert.Equal(t, submitter.StatusConfirmed, rec.Status)
	assert.Equal(t, "1000", rec.Amount)
	assert.Equal(t, "payment", rec.Kind)
}

func TestSubmit_Reverted(t *testing.T) {
	f := newFixture(t, 3)
	f.rpc.AutoMine = true
	f.rpc.MineFailed = true

	res, err := f.submitter.Submit(context.Background(), submitter.Request{
		Kind: submitter.KindPayment, To: bob, Amount: big.NewInt(1),
	})
	require.ErrorIs(t, err, submitter.ErrReverted)
	require.NotNil(t, res)
	assert.Equal(t, submitter.StatusReverted, res.Status)
	assert.Equal(t, submitter.StatusReverted, f.recorder.subs[res.ID].Status)
}

func TestSubmit_StopsAfterMaxRounds(t *testing.T) {
	f := newFixture(t, 4)

	res, err := f.submitter.Submit(context.Background(), submitter.Request{
		Kind: submitter.KindPayment, To: bob, Amount: big.NewInt(1),
	})
	require.ErrorIs(t, err, submitter.ErrNotConfirmed)
	assert.Equal(t, 4, res.Rounds)
	assert.Equal(t, 4, f.rpc.Lookups(res.Hash))
	assert.Equal(t, submitter.StatusUnconfirmed, res.Status)

	rec := f.recorder.subs[res.ID]
	assert.Equal(t, submitter.StatusUnconfirmed, rec.Status)
	assert.Contains(t, rec.Error, "not confirmed")
}

func TestSubmit_Cancelled(t *testing.T) {
	f := newFixture(t, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := f.submitter.Submit(ctx, submitter.Request{
		Kind: submitter.KindPayment, To: bob, Amount: big.NewInt(1),
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, submitter.StatusFailed, f.recorder.subs[res.ID].Status)
}

func TestSubmit_ContractKinds(t *testing.T) {
	tests := []struct {
		kind     submitter.Kind
		contract common.Address
		abi      string
		method   string
	}{
		{submitter.KindSplit, expense, blockchain.ABIExpense, "contribute"},
		{submitter.KindTicket, tickets, blockchain.ABITicketing, "buyTicket"},
		{submitter.KindDonation, campaign, blockchain.ABIFundraise, "donate"},
	}

	abis, err := blockchain.NewABIManager("")
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := newFixture(t, 2)
			f.rpc.AutoMine = true

			res, err := f.submitter.Submit(context.Background(), submitter.Request{
				Kind: tt.kind, Amount: big.NewInt(250), TargetID: 7,
			})
			require.NoError(t, err)
			assert.Equal(t, submitter.StatusConfirmed, res.Status)

			sent := f.rpc.Sent[0]
			assert.Equal(t, tt.contract, *sent.To())
			assert.Equal(t, int64(250), sent.Value().Int64())

			parsed, err := abis.GetABI(tt.abi)
			require.NoError(t, err)
			want, err := parsed.Pack(tt.method, uint64(7))
			require.NoError(t, err)
			assert.Equal(t, want, sent.Data())
		})
	}
}

func TestSubmit_TicketPriceLookup(t *testing.T) {
	f := newFixture(t, 2)
	f.rpc.AutoMine = true
	f.rpc.CallResult = common.LeftPadBytes(big.NewInt(77).Bytes(), 32)

	_, err := f.submitter.Submit(context.Background(), submitter.Request{
		Kind: submitter.KindTicket, TargetID: 3,
	})
	require.NoError(t, err)
	require.Len(t, f.rpc.Calls, 1)
	assert.Equal(t, tickets, *f.rpc.Calls[0].To)
	assert.Equal(t, int64(77), f.rpc.Sent[0].Value().Int64())
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.submitter.Submit(ctx, submitter.Request{Kind: submitter.KindPayment, Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, submitter.ErrMissingRecipient)

	_, err = f.submitter.Submit(ctx, submitter.Request{Kind: submitter.KindPayment, To: bob, Amount: big.NewInt(0)})
	assert.ErrorIs(t, err, blockchain.ErrInvalidAmount)

	_, err = f.submitter.Submit(ctx, submitter.Request{
		Kind: submitter.KindPayment, To: bob, Amount: big.NewInt(1),
		Note: strings.Repeat("x", submitter.MaxNoteBytes+1),
	})
	assert.ErrorIs(t, err, submitter.ErrNoteTooLong)

	_, err = f.submitter.Submit(ctx, submitter.Request{Kind: "refund", To: bob, Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, submitter.ErrUnknownKind)

	assert.Equal(t, 0, f.session.calls)
}

func TestSubmit_ContractNotConfigured(t *testing.T) {
	rpc := blockchaintest.New(1337)
	network := blockchain.NewNetwork(&config.EVMChain{ChainID: 1337}, rpc)
	abis, err := blockchain.NewABIManager("")
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	s := submitter.New(&fakeSession{key: key, network: network, connected: true},
		network, blockchain.NewContractService(abis), nil, submitter.Options{})

	_, err = s.Submit(context.Background(), submitter.Request{
		Kind: submitter.KindDonation, Amount: big.NewInt(1), TargetID: 1,
	})
	assert.ErrorIs(t, err, submitter.ErrContractNotConfigured)
}
