package submitter

import "errors"

var (
	// ErrNotConfirmed is returned when the transaction is not included within
	// the configured number of polling rounds
	ErrNotConfirmed = errors.New("transaction not confirmed in time")

	// ErrReverted is returned when the transaction was included but failed
	ErrReverted = errors.New("transaction reverted")

	ErrUnknownKind           = errors.New("unknown transaction kind")
	ErrMissingRecipient      = errors.New("recipient address required")
	ErrContractNotConfigured = errors.New("contract address not configured")
	ErrNoteTooLong           = errors.New("note too long")
	ErrInvalidMembers        = errors.New("split needs between 2 and 50 members")
)
