package ledger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests run only against a real database:
//
//	MINIBANK_TEST_DATABASE_URL=postgres://... go test ./internal/ledger/
func newIntegrationStore(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("MINIBANK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MINIBANK_TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT UNIQUE NOT NULL REFERENCES users(id),
			balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0)
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts(id),
			kind TEXT NOT NULL CHECK (kind IN ('deposit', 'transfer_out', 'transfer_in')),
			amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
			counterparty_account_id BIGINT REFERENCES accounts(id),
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, m := range migrations {
		_, err := pool.Exec(ctx, m)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		for _, table := range []string{"transactions", "accounts", "users"} {
			_, _ = pool.Exec(context.Background(), "DELETE FROM "+table)
		}
	})

	return NewPostgresStore(pool), pool
}

func seedIntegrationUser(t *testing.T, pool *pgxpool.Pool, email string, balanceCents int64) (userID, accountID int64) {
	t.Helper()
	ctx := context.Background()

	err := pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, 'x') RETURNING id`, email).Scan(&userID)
	require.NoError(t, err)
	err = pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id, balance_cents) VALUES ($1, $2) RETURNING id`,
		userID, balanceCents).Scan(&accountID)
	require.NoError(t, err)
	return userID, accountID
}

func integrationBalance(t *testing.T, pool *pgxpool.Pool, accountID int64) int64 {
	t.Helper()
	var balance int64
	err := pool.QueryRow(context.Background(),
		`SELECT balance_cents FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	require.NoError(t, err)
	return balance
}

func TestIntegrationDepositAndTransfer(t *testing.T) {
	store, pool := newIntegrationStore(t)
	ctx := context.Background()
	eng := NewEngine(store)

	aliceID, aliceAcc := seedIntegrationUser(t, pool, "it-alice@example.com", 0)
	bobID, bobAcc := seedIntegrationUser(t, pool, "it-bob@example.com", 0)

	require.NoError(t, eng.Deposit(ctx, aliceID, "10.00"))
	assert.Equal(t, int64(1000), integrationBalance(t, pool, aliceAcc))

	require.NoError(t, eng.Transfer(ctx, aliceID, "it-bob@example.com", "5.00", "lunch"))
	assert.Equal(t, int64(500), integrationBalance(t, pool, aliceAcc))
	assert.Equal(t, int64(500), integrationBalance(t, pool, bobAcc))

	err := eng.Transfer(ctx, bobID, "it-alice@example.com", "10.00", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(500), integrationBalance(t, pool, aliceAcc))
	assert.Equal(t, int64(500), integrationBalance(t, pool, bobAcc))

	items, err := eng.RecentTransactions(ctx, aliceID, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, KindTransferOut, items[0].Kind)
	assert.Equal(t, KindDeposit, items[1].Kind)
}

func TestIntegrationConcurrentOppositeTransfers(t *testing.T) {
	store, pool := newIntegrationStore(t)
	ctx := context.Background()
	eng := NewEngine(store)

	aliceID, aliceAcc := seedIntegrationUser(t, pool, "cc-alice@example.com", 100_00)
	bobID, bobAcc := seedIntegrationUser(t, pool, "cc-bob@example.com", 100_00)

	const rounds = 20
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if err := eng.Transfer(ctx, aliceID, "cc-bob@example.com", "1.00", ""); err != nil {
				t.Error(fmt.Errorf("alice->bob: %w", err))
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if err := eng.Transfer(ctx, bobID, "cc-alice@example.com", "1.00", ""); err != nil {
				t.Error(fmt.Errorf("bob->alice: %w", err))
			}
		}
	}()
	wg.Wait()

	total := integrationBalance(t, pool, aliceAcc) + integrationBalance(t, pool, bobAcc)
	assert.Equal(t, int64(200_00), total)
}
