package ledger

import (
	"context"
	"sort"
	"time"
)

// Kind classifies a journal row.
type Kind string

const (
	KindDeposit     Kind = "deposit"
	KindTransferOut Kind = "transfer_out"
	KindTransferIn  Kind = "transfer_in"
)

// Account is the single monetary balance record owned by a user. Balances are
// integer minor units and never go negative.
type Account struct {
	ID           int64 `json:"id"`
	UserID       int64 `json:"user_id"`
	BalanceCents int64 `json:"balance_cents"`
}

// Transaction is an immutable journal row. The id is assigned by the store on
// append and increases monotonically; it orders the journal.
type Transaction struct {
	ID                    int64     `json:"id"`
	AccountID             int64     `json:"account_id"`
	Kind                  Kind      `json:"kind"`
	AmountCents           int64     `json:"amount_cents"`
	CounterpartyAccountID *int64    `json:"counterparty_account_id,omitempty"`
	Note                  *string   `json:"note,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// Overview is the caller-facing view of a user and their account.
type Overview struct {
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
	AccountID    int64  `json:"account_id"`
	BalanceCents int64  `json:"balance_cents"`
}

// Tx is the set of row operations available inside a store transaction. All
// mutations issued through a Tx become visible atomically on commit, or not
// at all.
type Tx interface {
	// AccountIDByUserID resolves the account owned by userID without
	// locking it. Returns ErrAccountNotFound if the user has no account.
	AccountIDByUserID(ctx context.Context, userID int64) (int64, error)

	// AccountIDByEmail resolves the account owned by the user registered
	// under email, again without locking. Returns the account id and the
	// owning user id, or ErrAccountNotFound.
	AccountIDByEmail(ctx context.Context, email string) (accountID, userID int64, err error)

	// LockAccounts acquires exclusive row locks on the given accounts,
	// always in ascending id order regardless of the order ids are passed
	// in, and returns the locked rows keyed by id. Missing accounts are
	// simply absent from the result.
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]Account, error)

	// AddToBalance adjusts an account balance by delta cents. The caller
	// must hold the row lock.
	AddToBalance(ctx context.Context, accountID, deltaCents int64) error

	// AppendTransaction appends one journal row. The store assigns the id.
	AppendTransaction(ctx context.Context, t Transaction) error
}

// Store is the durable account store and journal. The engine holds no state
// of its own; all serialization happens at the store's transaction layer.
type Store interface {
	// WithinTx runs fn inside a single atomic transaction. If fn returns
	// an error the transaction is rolled back and the error is returned
	// unchanged; otherwise the transaction commits.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Overview returns the user's account summary from committed state.
	Overview(ctx context.Context, userID int64) (*Overview, error)

	// RecentTransactions returns up to limit journal rows for the user's
	// own account, newest first. The result reflects a consistent
	// committed snapshot.
	RecentTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error)
}

// sortedIDs returns ids in ascending order. Every multi-account lock
// acquisition goes through this so that two concurrent transfers between the
// same pair of accounts always request locks in the same order and cannot
// deadlock.
func sortedIDs(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
