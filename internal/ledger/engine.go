package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/minibank/internal/money"
)

const (
	// Journal listing bounds: out-of-range limits fall back rather than error.
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Event describes a committed mutation, published after commit for
// downstream consumers. TransactionID groups the two legs of a transfer.
type Event struct {
	TransactionID string    `json:"transaction_id"`
	Kind          Kind      `json:"kind"`
	FromAccountID int64     `json:"from_account_id,omitempty"`
	ToAccountID   int64     `json:"to_account_id"`
	AmountCents   int64     `json:"amount_cents"`
	CreatedAt     time.Time `json:"created_at"`
}

// Publisher receives events for committed operations. Implementations must
// tolerate being called concurrently.
type Publisher interface {
	TransactionCompleted(ctx context.Context, ev Event) error
}

// Engine orchestrates deposits and transfers over an injected Store. It is a
// stateless transaction coordinator: validation first, then a single atomic
// store transaction with locks acquired in canonical order.
type Engine struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher attaches a post-commit event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deposit parses amountText and credits the caller's account, appending one
// deposit journal row in the same transaction.
func (e *Engine) Deposit(ctx context.Context, userID int64, amountText string) error {
	cents, err := parsePositiveAmount(amountText)
	if err != nil {
		return err
	}

	var accountID int64
	createdAt := e.now()

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		accountID, err = tx.AccountIDByUserID(ctx, userID)
		if err != nil {
			return err
		}

		locked, err := tx.LockAccounts(ctx, accountID)
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
		if _, ok := locked[accountID]; !ok {
			return ErrAccountNotFound
		}

		if err := tx.AddToBalance(ctx, accountID, cents); err != nil {
			return fmt.Errorf("failed to credit account: %w", err)
		}

		return tx.AppendTransaction(ctx, Transaction{
			AccountID:   accountID,
			Kind:        KindDeposit,
			AmountCents: cents,
			CreatedAt:   createdAt,
		})
	})
	if err != nil {
		return err
	}

	e.publish(ctx, Event{
		TransactionID: uuid.NewString(),
		Kind:          KindDeposit,
		ToAccountID:   accountID,
		AmountCents:   cents,
		CreatedAt:     createdAt,
	})
	return nil
}

// Transfer moves funds from the caller's account to the account of the user
// registered under toEmail. Both balance mutations and both journal rows
// commit atomically or not at all.
func (e *Engine) Transfer(ctx context.Context, userID int64, toEmail, amountText, note string) error {
	cents, err := parsePositiveAmount(amountText)
	if err != nil {
		return err
	}

	var fromID, toID int64
	createdAt := e.now()

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		// Resolve both account ids before taking any locks.
		fromID, err = tx.AccountIDByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return ErrSenderAccountNotFound
			}
			return err
		}

		var toUserID int64
		toID, toUserID, err = tx.AccountIDByEmail(ctx, toEmail)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return ErrRecipientNotFound
			}
			return err
		}

		if toUserID == userID {
			return ErrSelfTransfer
		}

		// Lock both rows in canonical id order, then re-check the sender
		// balance under the lock.
		locked, err := tx.LockAccounts(ctx, fromID, toID)
		if err != nil {
			return fmt.Errorf("failed to lock accounts: %w", err)
		}
		from, ok := locked[fromID]
		if !ok {
			return fmt.Errorf("sender account %d missing during transfer", fromID)
		}
		if _, ok := locked[toID]; !ok {
			return fmt.Errorf("recipient account %d missing during transfer", toID)
		}

		if from.BalanceCents < cents {
			return ErrInsufficientFunds
		}

		if err := tx.AddToBalance(ctx, fromID, -cents); err != nil {
			return fmt.Errorf("failed to debit sender: %w", err)
		}
		if err := tx.AddToBalance(ctx, toID, cents); err != nil {
			return fmt.Errorf("failed to credit recipient: %w", err)
		}

		var notePtr *string
		if note != "" {
			notePtr = &note
		}

		out := Transaction{
			AccountID:             fromID,
			Kind:                  KindTransferOut,
			AmountCents:           cents,
			CounterpartyAccountID: &toID,
			Note:                  notePtr,
			CreatedAt:             createdAt,
		}
		in := Transaction{
			AccountID:             toID,
			Kind:                  KindTransferIn,
			AmountCents:           cents,
			CounterpartyAccountID: &fromID,
			Note:                  notePtr,
			CreatedAt:             createdAt,
		}

		if err := tx.AppendTransaction(ctx, out); err != nil {
			return fmt.Errorf("failed to append transfer_out row: %w", err)
		}
		if err := tx.AppendTransaction(ctx, in); err != nil {
			return fmt.Errorf("failed to append transfer_in row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, Event{
		TransactionID: uuid.NewString(),
		Kind:          KindTransferOut,
		FromAccountID: fromID,
		ToAccountID:   toID,
		AmountCents:   cents,
		CreatedAt:     createdAt,
	})
	return nil
}

// Overview returns the caller's account summary.
func (e *Engine) Overview(ctx context.Context, userID int64) (*Overview, error) {
	return e.store.Overview(ctx, userID)
}

// RecentTransactions lists the caller's journal, newest first. The limit is
// clamped to [1, MaxListLimit]; non-positive values fall back to the default.
func (e *Engine) RecentTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return e.store.RecentTransactions(ctx, userID, limit)
}

func parsePositiveAmount(amountText string) (int64, error) {
	cents, err := money.ParseAmount(amountText)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if cents <= 0 {
		return 0, ErrAmountNotPositive
	}
	return cents, nil
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.publisher == nil {
		return
	}
	// The mutation is already durable; a publish failure must not undo it.
	if err := e.publisher.TransactionCompleted(ctx, ev); err != nil {
		e.logger.Warn("event publish failed",
			"transaction_id", ev.TransactionID,
			"kind", string(ev.Kind),
			"error", err,
		)
	}
}
