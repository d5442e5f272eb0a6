package ledger

import "errors"

// Typed failures of the mutation engine. Everything not in this list is an
// internal error: it is logged and surfaced to callers as a generic failure.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrAmountNotPositive     = errors.New("amount must be positive")
	ErrSelfTransfer          = errors.New("cannot transfer to yourself")
	ErrAccountNotFound       = errors.New("account not found")
	ErrSenderAccountNotFound = errors.New("sender account not found")
	ErrRecipientNotFound     = errors.New("recipient not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
)

// IsUserError reports whether err is one of the typed failures above, i.e.
// safe to map to a client-facing status without leaking internals.
func IsUserError(err error) bool {
	for _, e := range []error{
		ErrInvalidAmount,
		ErrAmountNotPositive,
		ErrSelfTransfer,
		ErrAccountNotFound,
		ErrSenderAccountNotFound,
		ErrRecipientNotFound,
		ErrInsufficientFunds,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
