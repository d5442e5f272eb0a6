package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	eng := NewEngine(store, WithClock(func() time.Time { return fixed }))
	return eng, store
}

func TestDepositCreditsBalanceAndJournals(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	userID, accountID := store.Seed("alice@example.com", 0)

	require.NoError(t, eng.Deposit(ctx, userID, "12.34"))

	balance, ok := store.Balance(accountID)
	require.True(t, ok)
	assert.Equal(t, int64(1234), balance)

	items, err := eng.RecentTransactions(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, KindDeposit, items[0].Kind)
	assert.Equal(t, int64(1234), items[0].AmountCents)
	assert.Nil(t, items[0].CounterpartyAccountID)
}

func TestDepositRejectsBadAmounts(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	userID, accountID := store.Seed("alice@example.com", 500)

	assert.ErrorIs(t, eng.Deposit(ctx, userID, "0"), ErrAmountNotPositive)
	assert.ErrorIs(t, eng.Deposit(ctx, userID, "0.00"), ErrAmountNotPositive)
	assert.ErrorIs(t, eng.Deposit(ctx, userID, "abc"), ErrInvalidAmount)
	assert.ErrorIs(t, eng.Deposit(ctx, userID, "10.555"), ErrInvalidAmount)
	assert.ErrorIs(t, eng.Deposit(ctx, userID, "-5"), ErrInvalidAmount)

	balance, _ := store.Balance(accountID)
	assert.Equal(t, int64(500), balance)
	assert.Equal(t, 0, store.JournalLen())
}

func TestDepositUnknownUser(t *testing.T) {
	eng, _ := newTestEngine(t)
	assert.ErrorIs(t, eng.Deposit(context.Background(), 999, "10.00"), ErrAccountNotFound)
}

func TestTransferMovesFundsAndPairsJournal(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	aliceID, aliceAcc := store.Seed("alice@example.com", 1000)
	bobID, bobAcc := store.Seed("bob@example.com", 0)

	require.NoError(t, eng.Transfer(ctx, aliceID, "bob@example.com", "5.00", "rent"))

	aliceBal, _ := store.Balance(aliceAcc)
	bobBal, _ := store.Balance(bobAcc)
	assert.Equal(t, int64(500), aliceBal)
	assert.Equal(t, int64(500), bobBal)

	outRows, err := eng.RecentTransactions(ctx, aliceID, 10)
	require.NoError(t, err)
	require.Len(t, outRows, 1)
	inRows, err := eng.RecentTransactions(ctx, bobID, 10)
	require.NoError(t, err)
	require.Len(t, inRows, 1)

	out, in := outRows[0], inRows[0]
	assert.Equal(t, KindTransferOut, out.Kind)
	assert.Equal(t, KindTransferIn, in.Kind)
	assert.Equal(t, out.AmountCents, in.AmountCents)
	assert.Equal(t, out.CreatedAt, in.CreatedAt)
	require.NotNil(t, out.CounterpartyAccountID)
	require.NotNil(t, in.CounterpartyAccountID)
	assert.Equal(t, bobAcc, *out.CounterpartyAccountID)
	assert.Equal(t, aliceAcc, *in.CounterpartyAccountID)
	require.NotNil(t, out.Note)
	assert.Equal(t, "rent", *out.Note)

	// Overdrawing the recipient back fails and changes nothing.
	err = eng.Transfer(ctx, bobID, "alice@example.com", "10.00", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	aliceBal, _ = store.Balance(aliceAcc)
	bobBal, _ = store.Balance(bobAcc)
	assert.Equal(t, int64(500), aliceBal)
	assert.Equal(t, int64(500), bobBal)
	assert.Equal(t, 2, store.JournalLen())
}

func TestTransferConservation(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	aliceID, aliceAcc := store.Seed("alice@example.com", 10_000)
	_, bobAcc := store.Seed("bob@example.com", 2_500)

	total := func() int64 {
		a, _ := store.Balance(aliceAcc)
		b, _ := store.Balance(bobAcc)
		return a + b
	}
	before := total()

	for i := 0; i < 5; i++ {
		require.NoError(t, eng.Transfer(ctx, aliceID, "bob@example.com", "3.33", ""))
	}

	assert.Equal(t, before, total())
}

func TestTransferValidation(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	aliceID, aliceAcc := store.Seed("alice@example.com", 1000)
	store.Seed("bob@example.com", 0)

	assert.ErrorIs(t, eng.Transfer(ctx, aliceID, "bob@example.com", "nope", ""), ErrInvalidAmount)
	assert.ErrorIs(t, eng.Transfer(ctx, aliceID, "bob@example.com", "0", ""), ErrAmountNotPositive)
	assert.ErrorIs(t, eng.Transfer(ctx, aliceID, "alice@example.com", "1.00", ""), ErrSelfTransfer)
	assert.ErrorIs(t, eng.Transfer(ctx, aliceID, "nobody@example.com", "1.00", ""), ErrRecipientNotFound)
	assert.ErrorIs(t, eng.Transfer(ctx, 999, "bob@example.com", "1.00", ""), ErrSenderAccountNotFound)

	balance, _ := store.Balance(aliceAcc)
	assert.Equal(t, int64(1000), balance)
	assert.Equal(t, 0, store.JournalLen())
}

// failingStore injects an error on the nth AddToBalance call to prove that a
// failure between debit and credit rolls back everything.
type failingStore struct {
	inner  Store
	failOn int
	calls  int
}

var errInjected = errors.New("injected failure")

func (f *failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return f.inner.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &failingTx{Tx: tx, store: f})
	})
}

func (f *failingStore) Overview(ctx context.Context, userID int64) (*Overview, error) {
	return f.inner.Overview(ctx, userID)
}

func (f *failingStore) RecentTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	return f.inner.RecentTransactions(ctx, userID, limit)
}

type failingTx struct {
	Tx
	store *failingStore
}

func (t *failingTx) AddToBalance(ctx context.Context, accountID, deltaCents int64) error {
	t.store.calls++
	if t.store.calls == t.store.failOn {
		return errInjected
	}
	return t.Tx.AddToBalance(ctx, accountID, deltaCents)
}

func TestTransferAtomicityOnInjectedFailure(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	aliceID, aliceAcc := mem.Seed("alice@example.com", 1000)
	_, bobAcc := mem.Seed("bob@example.com", 0)

	// Fail on the credit leg, after the debit already succeeded.
	eng := NewEngine(&failingStore{inner: mem, failOn: 2})

	err := eng.Transfer(ctx, aliceID, "bob@example.com", "5.00", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)

	aliceBal, _ := mem.Balance(aliceAcc)
	bobBal, _ := mem.Balance(bobAcc)
	assert.Equal(t, int64(1000), aliceBal)
	assert.Equal(t, int64(0), bobBal)
	assert.Equal(t, 0, mem.JournalLen())
}

func TestConcurrentOppositeTransfersDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	aliceID, aliceAcc := store.Seed("alice@example.com", 100_00)
	bobID, bobAcc := store.Seed("bob@example.com", 100_00)

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_ = eng.Transfer(ctx, aliceID, "bob@example.com", "1.00", "")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_ = eng.Transfer(ctx, bobID, "alice@example.com", "1.00", "")
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("transfers deadlocked")
	}

	aliceBal, _ := store.Balance(aliceAcc)
	bobBal, _ := store.Balance(bobAcc)
	assert.Equal(t, int64(200_00), aliceBal+bobBal)
	assert.GreaterOrEqual(t, aliceBal, int64(0))
	assert.GreaterOrEqual(t, bobBal, int64(0))
}

func TestRecentTransactionsClampAndOrder(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	userID, _ := store.Seed("alice@example.com", 0)

	for i := 0; i < MaxListLimit+20; i++ {
		require.NoError(t, eng.Deposit(ctx, userID, "1.00"))
	}

	items, err := eng.RecentTransactions(ctx, userID, 1000)
	require.NoError(t, err)
	assert.Len(t, items, MaxListLimit)

	for i := 1; i < len(items); i++ {
		assert.Greater(t, items[i-1].ID, items[i].ID, "journal must be newest first")
	}

	items, err = eng.RecentTransactions(ctx, userID, 0)
	require.NoError(t, err)
	assert.Len(t, items, DefaultListLimit)

	items, err = eng.RecentTransactions(ctx, userID, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	_, err = eng.RecentTransactions(ctx, 999, 10)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCanceledContextRollsBack(t *testing.T) {
	eng, store := newTestEngine(t)
	userID, accountID := store.Seed("alice@example.com", 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eng.Deposit(ctx, userID, "5.00")
	require.Error(t, err)

	balance, _ := store.Balance(accountID)
	assert.Equal(t, int64(100), balance)
	assert.Equal(t, 0, store.JournalLen())
}

func TestOverview(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	userID, accountID := store.Seed("alice@example.com", 730)

	o, err := eng.Overview(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, o.UserID)
	assert.Equal(t, accountID, o.AccountID)
	assert.Equal(t, "alice@example.com", o.Email)
	assert.Equal(t, int64(730), o.BalanceCents)

	_, err = eng.Overview(ctx, 999)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

// publishSpy records events without a broker.
type publishSpy struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *publishSpy) TransactionCompleted(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func TestEventsPublishedAfterCommitOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	aliceID, aliceAcc := store.Seed("alice@example.com", 1000)
	_, bobAcc := store.Seed("bob@example.com", 0)

	spy := &publishSpy{}
	eng := NewEngine(store, WithPublisher(spy))

	require.NoError(t, eng.Transfer(ctx, aliceID, "bob@example.com", "2.00", ""))
	assert.ErrorIs(t, eng.Transfer(ctx, aliceID, "bob@example.com", "999.00", ""), ErrInsufficientFunds)

	require.Len(t, spy.events, 1)
	ev := spy.events[0]
	assert.Equal(t, KindTransferOut, ev.Kind)
	assert.Equal(t, aliceAcc, ev.FromAccountID)
	assert.Equal(t, bobAcc, ev.ToAccountID)
	assert.Equal(t, int64(200), ev.AmountCents)
	assert.NotEmpty(t, ev.TransactionID)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	userID, accountID := store.Seed("alice@example.com", 0)

	spy := &publishSpy{err: fmt.Errorf("broker down")}
	eng := NewEngine(store, WithPublisher(spy))

	require.NoError(t, eng.Deposit(ctx, userID, "1.00"))
	balance, _ := store.Balance(accountID)
	assert.Equal(t, int64(100), balance)
}
