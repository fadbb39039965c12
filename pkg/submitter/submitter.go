package submitter

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/campuspay/campuspay/pkg/blockchain"
	"github.com/campuspay/campuspay/pkg/logger"
	"github.com/campuspay/campuspay/pkg/store"
	"github.com/campuspay/campuspay/pkg/wallet"
)

// Submission statuses
const (
	StatusSubmitted   = "submitted"
	StatusConfirmed   = "confirmed"
	StatusReverted    = "reverted"
	StatusUnconfirmed = "unconfirmed"
	StatusFailed      = "failed"
)

// MaxNoteBytes bounds the note carried as payment calldata
const MaxNoteBytes = 1024

const (
	DefaultMaxRounds    = 10
	DefaultPollInterval = 3 * time.Second
)

// Session is the wallet the submitter signs through
type Session interface {
	Account() (common.Address, bool)
	SignAndSend(ctx context.Context, txs []*types.Transaction) ([]common.Hash, error)
}

// Recorder keeps a local log of submissions
type Recorder interface {
	RecordSubmission(ctx context.Context, sub store.Submission) error
	UpdateSubmission(ctx context.Context, id, status string, block uint64, errMsg string) error
}

// Request describes one user-initiated transaction
type Request struct {
	Kind     Kind           `json:"kind"`
	To       common.Address `json:"to"`
	Amount   *big.Int       `json:"amount"`
	Note     string         `json:"note,omitempty"`
	TargetID uint64         `json:"target_id,omitempty"`
}

// Result is a confirmed submission
type Result struct {
	ID          string      `json:"id"`
	Hash        common.Hash `json:"hash"`
	Status      string      `json:"status"`
	BlockNumber uint64      `json:"block_number"`
	Rounds      int         `json:"rounds"`
}

type Options struct {
	MaxRounds    int
	PollInterval time.Duration
	// Contracts maps contract-backed kinds to their deployed address
	Contracts map[Kind]common.Address
}

// Submitter builds, signs, relays and confirms transactions. It has no retry
// and does not deduplicate concurrent requests.
type Submitter struct {
	session   Session
	network   *blockchain.Network
	contracts *blockchain.ContractService
	recorder  Recorder
	opts      Options
}

// New creates a submitter; recorder may be nil
func New(
	session Session,
	network *blockchain.Network,
	contracts *blockchain.ContractService,
	recorder Recorder,
	opts Options,
) *Submitter {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Submitter{
		session:   session,
		network:   network,
		contracts: contracts,
		recorder:  recorder,
		opts:      opts,
	}
}

// Submit sends req and waits for it to be included. The returned Result is
// non-nil whenever the transaction was broadcast, including on ErrReverted
// and ErrNotConfirmed.
func (s *Submitter) Submit(ctx context.Context, req Request) (*Result, error) {
	from, ok := s.session.Account()
	if !ok {
		return nil, wallet.ErrNotConnected
	}

	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return nil, err
	}
	req.Kind = kind

	to, err := s.target(ctx, &req)
	if err != nil {
		return nil, err
	}

	params, err := s.network.SuggestParams(ctx, from)
	if err != nil {
		return nil, err
	}

	tx, err := s.build(ctx, params, to, req)
	if err != nil {
		return nil, err
	}

	hashes, err := s.session.SignAndSend(ctx, []*types.Transaction{tx})
	if err != nil {
		logger.ErrorCF("submitter", "Sign and send failed", map[string]any{
			"kind":  string(req.Kind),
			"error": err.Error(),
		})
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("wallet returned no transaction hash")
	}

	result := &Result{
		ID:     uuid.NewString(),
		Hash:   hashes[0],
		Status: StatusSubmitted,
	}
	logger.InfoCF("submitter", "Transaction submitted", map[string]any{
		"id":      result.ID,
		"kind":    string(req.Kind),
		"tx_hash": result.Hash.Hex(),
	})

	s.record(ctx, store.Submission{
		ID:       result.ID,
		Kind:     string(req.Kind),
		From:     from,
		To:       to,
		Amount:   req.Amount.String(),
		Note:     req.Note,
		TargetID: req.TargetID,
		Hash:     result.Hash,
		Status:   StatusSubmitted,
	})

	err = s.waitForConfirmation(ctx, result)
	s.update(ctx, result, err)
	return result, err
}

// target validates req and resolves the address the transaction goes to
func (s *Submitter) target(ctx context.Context, req *Request) (common.Address, error) {
	if len(req.Note) > MaxNoteBytes {
		return common.Address{}, fmt.Errorf("%w: %d bytes, max %d", ErrNoteTooLong, len(req.Note), MaxNoteBytes)
	}

	if req.Kind == KindPayment {
		if req.To == (common.Address{}) {
			return common.Address{}, ErrMissingRecipient
		}
		if req.Amount == nil || req.Amount.Sign() <= 0 {
			return common.Address{}, blockchain.ErrInvalidAmount
		}
		return req.To, nil
	}

	contract, ok := s.opts.Contracts[req.Kind]
	if !ok || contract == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrContractNotConfigured, req.Kind)
	}

	if req.Kind == KindTicket && req.Amount == nil {
		price, err := s.readUint(ctx, KindTicket, "ticketPrice", req.TargetID)
		if err != nil {
			return common.Address{}, err
		}
		req.Amount = price
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return common.Address{}, blockchain.ErrInvalidAmount
	}
	return contract, nil
}

func (s *Submitter) build(
	ctx context.Context,
	params *blockchain.TxParams,
	to common.Address,
	req Request,
) (*types.Transaction, error) {
	if req.Kind == KindPayment {
		return s.network.BuildPayment(ctx, params, to, req.Amount, req.Note)
	}

	call := contractCalls[req.Kind]
	return s.contracts.BuildContractCall(ctx, s.network, params, to, call.abi, call.method,
		[]interface{}{req.TargetID}, req.Amount)
}

// waitForConfirmation polls the receipt once per interval for at most
// MaxRounds rounds
func (s *Submitter) waitForConfirmation(ctx context.Context, result *Result) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for round := 1; round <= s.opts.MaxRounds; round++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		result.Rounds = round
		status, err := s.network.TransactionStatus(ctx, result.Hash)
		if err != nil {
			logger.WarnCF("submitter", "Status lookup failed", map[string]any{
				"tx_hash": result.Hash.Hex(),
				"round":   round,
				"error":   err.Error(),
			})
			continue
		}
		if !status.Confirmed() {
			continue
		}

		result.BlockNumber = status.BlockNumber
		if !status.Success {
			result.Status = StatusReverted
			return fmt.Errorf("%w: %s", ErrReverted, result.Hash.Hex())
		}
		result.Status = StatusConfirmed
		logger.InfoCF("submitter", "Transaction confirmed", map[string]any{
			"tx_hash": result.Hash.Hex(),
			"block":   status.BlockNumber,
			"rounds":  round,
		})
		return nil
	}

	result.Status = StatusUnconfirmed
	return fmt.Errorf("%w: %s after %d rounds", ErrNotConfirmed, result.Hash.Hex(), s.opts.MaxRounds)
}

func (s *Submitter) record(ctx context.Context, sub store.Submission) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordSubmission(ctx, sub); err != nil {
		logger.WarnCF("submitter", "Failed to record submission", map[string]any{
			"id":    sub.ID,
			"error": err.Error(),
		})
	}
}

func (s *Submitter) update(ctx context.Context, result *Result, waitErr error) {
	if s.recorder == nil {
		return
	}

	status, msg := result.Status, ""
	if waitErr != nil {
		msg = waitErr.Error()
		if result.Status == StatusSubmitted {
			status = StatusFailed
		}
	}

	// ctx may already be cancelled when polling was interrupted
	err := s.recorder.UpdateSubmission(context.WithoutCancel(ctx), result.ID, status, result.BlockNumber, msg)
	if err != nil {
		logger.WarnCF("submitter", "Failed to update submission", map[string]any{
			"id":    result.ID,
			"error": err.Error(),
		})
	}
}
