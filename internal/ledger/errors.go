package ledger

import "errors"

// Errors
var (
	// ErrNotConnected indicates no signer is available for the intent.
	ErrNotConnected = errors.New("no signer connected")
	// ErrAccountNotFound indicates the derived address has no account data yet.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds indicates a pre-submission balance check failed.
	ErrInsufficientFunds = errors.New("insufficient balance")
	// ErrConfirmationTimeout indicates the transaction outcome is unknown; the
	// transaction may still land and must be reported as unconfirmed, not failed.
	ErrConfirmationTimeout = errors.New("transaction unconfirmed")
	// ErrTransactionFailed indicates the ledger rejected or reverted the transaction.
	ErrTransactionFailed = errors.New("transaction failed")
	// ErrUnauthorized indicates a privileged instruction was attempted by an
	// account outside the admin registry.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidSeed indicates a seed sequence that cannot be derived from.
	ErrInvalidSeed = errors.New("invalid seed")
)

// IsNotFound reports whether err indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
