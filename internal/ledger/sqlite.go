package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore is a single-file Store for local development and tests.
// SQLite has one writer at a time, so opening the database with
// `_txlock=immediate` makes every write transaction take the database lock up
// front; row-level FOR UPDATE locking is unnecessary and unsupported.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open database handle. Callers should
// open the DSN with `_txlock=immediate` (e.g. `file:bank.db?_txlock=immediate`).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// WithinTx runs fn in a write transaction.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Overview returns the committed account summary for a user.
func (s *SQLiteStore) Overview(ctx context.Context, userID int64) (*Overview, error) {
	var o Overview
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, a.id, a.balance_cents
		FROM users u
		JOIN accounts a ON a.user_id = u.id
		WHERE u.id = ?
	`, userID).Scan(&o.UserID, &o.Email, &o.AccountID, &o.BalanceCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account overview: %w", err)
	}
	return &o, nil
}

// RecentTransactions returns the newest journal rows for the user's account.
func (s *SQLiteStore) RecentTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	var accountID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE user_id = ?`, userID).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, kind, amount_cents, counterparty_account_id, note, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var kind string
		var createdAt time.Time
		if err := rows.Scan(&t.ID, &t.AccountID, &kind, &t.AmountCents,
			&t.CounterpartyAccountID, &t.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Kind = Kind(kind)
		t.CreatedAt = createdAt
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return out, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) AccountIDByUserID(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE user_id = ?`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to resolve account by user: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) AccountIDByEmail(ctx context.Context, email string) (int64, int64, error) {
	var accountID, userID int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT a.id, u.id
		FROM users u
		JOIN accounts a ON a.user_id = u.id
		WHERE u.email = ?
	`, email).Scan(&accountID, &userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, ErrAccountNotFound
		}
		return 0, 0, fmt.Errorf("failed to resolve account by email: %w", err)
	}
	return accountID, userID, nil
}

// LockAccounts reads the rows; the write transaction itself is the lock here.
// Ids are still visited in canonical order so the call sites stay uniform
// across backends.
func (t *sqliteTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]Account, error) {
	locked := make(map[int64]Account, len(ids))
	for _, id := range sortedIDs(ids) {
		var a Account
		err := t.tx.QueryRowContext(ctx,
			`SELECT id, user_id, balance_cents FROM accounts WHERE id = ?`, id).
			Scan(&a.ID, &a.UserID, &a.BalanceCents)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("failed to read account %d: %w", id, err)
		}
		locked[a.ID] = a
	}
	return locked, nil
}

func (t *sqliteTx) AddToBalance(ctx context.Context, accountID, deltaCents int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?`,
		deltaCents, accountID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("balance update touched %d rows for account %d", n, accountID)
	}
	return nil
}

func (t *sqliteTx) AppendTransaction(ctx context.Context, rec Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (account_id, kind, amount_cents, counterparty_account_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.AccountID, string(rec.Kind), rec.AmountCents, rec.CounterpartyAccountID, rec.Note, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert journal row: %w", err)
	}
	return nil
}

// SQLiteSchema creates the tables for a fresh local database.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER UNIQUE NOT NULL REFERENCES users(id),
	balance_cents INTEGER NOT NULL DEFAULT 0 CHECK (balance_cents >= 0)
);

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL REFERENCES accounts(id),
	kind TEXT NOT NULL CHECK (kind IN ('deposit', 'transfer_out', 'transfer_in')),
	amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
	counterparty_account_id INTEGER REFERENCES accounts(id),
	note TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, id DESC);
`

// InitSQLiteSchema applies the schema to an open database.
func InitSQLiteSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
