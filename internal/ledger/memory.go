package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store with the same transactional contract as
// the SQL backends: per-account mutexes acquired in ascending id order stand
// in for row locks, and writes are buffered until commit so a failed
// operation leaves no trace.
//
// Lock hierarchy: s.mu is only ever used for map lookups and is released
// before any memAccount.mu is taken. Holding s.mu across an account-mutex
// acquire could deadlock against an in-flight transaction that already owns
// the account lock.
type MemoryStore struct {
	mu            sync.RWMutex
	accounts      map[int64]*memAccount
	accountByUser map[int64]int64
	userByEmail   map[string]int64
	nextUserID    int64
	nextAccountID int64

	journalMu sync.RWMutex
	journal   []Transaction
	nextTxID  int64
}

type memAccount struct {
	mu      sync.Mutex
	id      int64
	userID  int64
	email   string
	balance int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[int64]*memAccount),
		accountByUser: make(map[int64]int64),
		userByEmail:   make(map[string]int64),
	}
}

// Seed creates a user with one account holding balanceCents and returns the
// user id and account id.
func (s *MemoryStore) Seed(email string, balanceCents int64) (userID, accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	s.nextAccountID++
	a := &memAccount{
		id:      s.nextAccountID,
		userID:  s.nextUserID,
		email:   email,
		balance: balanceCents,
	}
	s.accounts[a.id] = a
	s.accountByUser[a.userID] = a.id
	s.userByEmail[email] = a.userID
	return a.userID, a.id
}

// Balance returns the committed balance of an account, for assertions.
func (s *MemoryStore) Balance(accountID int64) (int64, bool) {
	s.mu.RLock()
	a, ok := s.accounts[accountID]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, true
}

// JournalLen returns the number of committed journal rows.
func (s *MemoryStore) JournalLen() int {
	s.journalMu.RLock()
	defer s.journalMu.RUnlock()
	return len(s.journal)
}

// WithinTx runs fn with buffered writes; on success the buffer is applied
// under the locks fn acquired, on failure it is discarded.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:  s,
		deltas: make(map[int64]int64),
	}
	defer tx.unlockAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// Overview returns the committed account summary for a user.
func (s *MemoryStore) Overview(ctx context.Context, userID int64) (*Overview, error) {
	s.mu.RLock()
	accountID, ok := s.accountByUser[userID]
	a := s.accounts[accountID]
	s.mu.RUnlock()
	if !ok || a == nil {
		return nil, ErrAccountNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return &Overview{
		UserID:       a.userID,
		Email:        a.email,
		AccountID:    a.id,
		BalanceCents: a.balance,
	}, nil
}

// RecentTransactions returns the newest committed journal rows for the
// user's account.
func (s *MemoryStore) RecentTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	s.mu.RLock()
	accountID, ok := s.accountByUser[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}

	s.journalMu.RLock()
	defer s.journalMu.RUnlock()

	var out []Transaction
	for i := len(s.journal) - 1; i >= 0 && len(out) < limit; i-- {
		if s.journal[i].AccountID == accountID {
			out = append(out, s.journal[i])
		}
	}
	return out, nil
}

type memTx struct {
	store   *MemoryStore
	locked  []*memAccount
	deltas  map[int64]int64
	pending []Transaction
}

func (t *memTx) AccountIDByUserID(ctx context.Context, userID int64) (int64, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.accountByUser[userID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return id, nil
}

func (t *memTx) AccountIDByEmail(ctx context.Context, email string) (int64, int64, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	userID, ok := t.store.userByEmail[email]
	if !ok {
		return 0, 0, ErrAccountNotFound
	}
	accountID, ok := t.store.accountByUser[userID]
	if !ok {
		return 0, 0, ErrAccountNotFound
	}
	return accountID, userID, nil
}

func (t *memTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]Account, error) {
	locked := make(map[int64]Account, len(ids))
	for _, id := range sortedIDs(ids) {
		t.store.mu.RLock()
		a := t.store.accounts[id]
		t.store.mu.RUnlock()
		if a == nil {
			continue
		}
		a.mu.Lock()
		t.locked = append(t.locked, a)
		locked[a.id] = Account{ID: a.id, UserID: a.userID, BalanceCents: a.balance}
	}
	return locked, nil
}

func (t *memTx) AddToBalance(ctx context.Context, accountID, deltaCents int64) error {
	t.deltas[accountID] += deltaCents
	return nil
}

func (t *memTx) AppendTransaction(ctx context.Context, rec Transaction) error {
	t.pending = append(t.pending, rec)
	return nil
}

func (t *memTx) commit() error {
	lockedIDs := make(map[int64]struct{}, len(t.locked))
	for _, a := range t.locked {
		lockedIDs[a.id] = struct{}{}
		if a.balance+t.deltas[a.id] < 0 {
			return fmt.Errorf("commit would drive account %d negative", a.id)
		}
	}
	for id := range t.deltas {
		if _, ok := lockedIDs[id]; !ok {
			return fmt.Errorf("balance change for unlocked account %d", id)
		}
	}
	for _, a := range t.locked {
		a.balance += t.deltas[a.id]
	}

	t.store.journalMu.Lock()
	for _, rec := range t.pending {
		t.store.nextTxID++
		rec.ID = t.store.nextTxID
		t.store.journal = append(t.store.journal, rec)
	}
	t.store.journalMu.Unlock()

	t.pending = nil
	return nil
}

func (t *memTx) unlockAll() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].mu.Unlock()
	}
	t.locked = nil
}

var _ Store = (*MemoryStore)(nil)
