package wallet

import "errors"

var (
	// ErrNotConnected is returned when an operation needs a connected account
	ErrNotConnected = errors.New("wallet not connected")

	// ErrNoAccounts is returned when the connector authorizes no account
	ErrNoAccounts = errors.New("wallet returned no accounts")

	// ErrWalletNotCreated is returned when wallet doesn't exist
	ErrWalletNotCreated = errors.New("wallet not created yet")

	// ErrWalletAlreadyExists is returned when trying to create duplicate wallet
	ErrWalletAlreadyExists = errors.New("wallet already exists")

	// ErrInvalidPIN is returned when PIN is incorrect
	ErrInvalidPIN = errors.New("invalid PIN")

	// ErrPINRequired is returned when PIN is required but not provided
	ErrPINRequired = errors.New("PIN required")

	// ErrInvalidPINFormat is returned when PIN format is invalid
	ErrInvalidPINFormat = errors.New("PIN must be 4 digits")

	// ErrKeystoreFailed is returned when keystore operation fails
	ErrKeystoreFailed = errors.New("keystore operation failed")

	// ErrPairingTimeout is returned when a remote wallet does not approve in time
	ErrPairingTimeout = errors.New("wallet pairing timed out")

	ErrRelayClosed      = errors.New("relay connection closed")
	ErrSignerMismatch   = errors.New("signed transaction has unexpected sender")
	ErrInvalidSchedule  = errors.New("invalid refresh schedule")
	ErrUnknownConnector = errors.New("unknown wallet connector")
)
