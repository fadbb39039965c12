package submitter

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/campuspay/campuspay/pkg/blockchain"
)

// Kind selects how a request is turned into a transaction
type Kind string

const (
	KindPayment  Kind = "payment"
	KindSplit    Kind = "split"
	KindTicket   Kind = "ticket"
	KindDonation Kind = "donation"
)

const (
	MinSplitMembers = 2
	MaxSplitMembers = 50
)

// contractCall is the payable method a contract-backed kind invokes with the
// request's TargetID.
type contractCall struct {
	abi    string
	method string
}

var contractCalls = map[Kind]contractCall{
	KindSplit:    {abi: blockchain.ABIExpense, method: "contribute"},
	KindTicket:   {abi: blockchain.ABITicketing, method: "buyTicket"},
	KindDonation: {abi: blockchain.ABIFundraise, method: "donate"},
}

// ParseKind parses a kind name; the empty string is a payment
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindPayment:
		return KindPayment, nil
	case KindSplit, KindTicket, KindDonation:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// SplitShare returns each member's share of total, rounded down
func SplitShare(total *big.Int, members int) (*big.Int, error) {
	if members < MinSplitMembers || members > MaxSplitMembers {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMembers, members)
	}
	if total == nil || total.Sign() <= 0 {
		return nil, blockchain.ErrInvalidAmount
	}
	return new(big.Int).Quo(total, big.NewInt(int64(members))), nil
}
