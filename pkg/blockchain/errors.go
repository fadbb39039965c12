package blockchain

import "errors"

var (
	// ErrChainNotFound is returned when no RPC handle is registered for a chain ID
	ErrChainNotFound = errors.New("chain not found")

	// ErrInvalidAmount is returned when an amount string is not a positive number
	// representable in base units
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMethodNotFound is returned when an ABI has no method with the given name
	ErrMethodNotFound = errors.New("method not found")

	// ErrABINotFound is returned when no ABI is registered under a name
	ErrABINotFound = errors.New("ABI not found")
)
