package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Store backed by a pgx connection pool.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing pool. The pool lifecycle
// belongs to the caller: open at startup, close at shutdown.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// WithinTx runs fn in a read-write transaction. Serialization failures and
// detected deadlocks are retried with backoff; business errors returned by fn
// roll back and propagate unchanged.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
			if attempt == maxRetries-1 {
				return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, err)
			}
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return err
	}
	return nil
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Overview returns the committed account summary for a user.
func (s *PostgresStore) Overview(ctx context.Context, userID int64) (*Overview, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var o Overview
	err := s.Pool.QueryRow(queryCtx, `
		SELECT u.id, u.email, a.id, a.balance_cents
		FROM users u
		JOIN accounts a ON a.user_id = u.id
		WHERE u.id = $1
	`, userID).Scan(&o.UserID, &o.Email, &o.AccountID, &o.BalanceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account overview: %w", err)
	}
	return &o, nil
}

// RecentTransactions returns the newest journal rows for the user's account.
// A plain read: MVCC already guarantees a consistent committed snapshot.
func (s *PostgresStore) RecentTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var accountID int64
	err := s.Pool.QueryRow(queryCtx,
		`SELECT id FROM accounts WHERE user_id = $1`, userID).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}

	rows, err := s.Pool.Query(queryCtx, `
		SELECT id, account_id, kind, amount_cents, counterparty_account_id, note, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.AccountID, &kind, &t.AmountCents,
			&t.CounterpartyAccountID, &t.Note, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Kind = Kind(kind)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return out, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) AccountIDByUserID(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM accounts WHERE user_id = $1`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to resolve account by user: %w", err)
	}
	return id, nil
}

func (t *pgTx) AccountIDByEmail(ctx context.Context, email string) (int64, int64, error) {
	var accountID, userID int64
	err := t.tx.QueryRow(ctx, `
		SELECT a.id, u.id
		FROM users u
		JOIN accounts a ON a.user_id = u.id
		WHERE u.email = $1
	`, email).Scan(&accountID, &userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrAccountNotFound
		}
		return 0, 0, fmt.Errorf("failed to resolve account by email: %w", err)
	}
	return accountID, userID, nil
}

func (t *pgTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]Account, error) {
	// ORDER BY id makes Postgres take the row locks in ascending id order,
	// the same canonical order every other caller uses.
	rows, err := t.tx.Query(ctx, `
		SELECT id, user_id, balance_cents
		FROM accounts
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, sortedIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	defer rows.Close()

	locked := make(map[int64]Account, len(ids))
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.BalanceCents); err != nil {
			return nil, fmt.Errorf("failed to scan locked account: %w", err)
		}
		locked[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read locked accounts: %w", err)
	}
	return locked, nil
}

func (t *pgTx) AddToBalance(ctx context.Context, accountID, deltaCents int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + $1 WHERE id = $2`,
		deltaCents, accountID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("balance update touched %d rows for account %d", tag.RowsAffected(), accountID)
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, rec Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (account_id, kind, amount_cents, counterparty_account_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.AccountID, string(rec.Kind), rec.AmountCents, rec.CounterpartyAccountID, rec.Note, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert journal row: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
