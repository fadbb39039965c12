package submitter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TicketPrice returns the listed price of a ticket for eventID
func (s *Submitter) TicketPrice(ctx context.Context, eventID uint64) (*big.Int, error) {
	return s.readUint(ctx, KindTicket, "ticketPrice", eventID)
}

// Contribution returns how much member has paid toward expense group groupID
func (s *Submitter) Contribution(ctx context.Context, groupID uint64, member common.Address) (*big.Int, error) {
	return s.readUint(ctx, KindSplit, "getContribution", groupID, member)
}

// Donation returns how much donor has given to campaignID
func (s *Submitter) Donation(ctx context.Context, campaignID uint64, donor common.Address) (*big.Int, error) {
	return s.readUint(ctx, KindDonation, "getDonation", campaignID, donor)
}

func (s *Submitter) readUint(ctx context.Context, kind Kind, method string, args ...interface{}) (*big.Int, error) {
	contract, ok := s.opts.Contracts[kind]
	if !ok || contract == (common.Address{}) {
		return nil, fmt.Errorf("%w: %s", ErrContractNotConfigured, kind)
	}

	out, err := s.contracts.CallContract(ctx, s.network, contract, contractCalls[kind].abi, method, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	v, ok := out.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, out)
	}
	return v, nil
}
