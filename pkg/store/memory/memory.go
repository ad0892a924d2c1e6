// Package memory is an in-process Storage used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/store"
)

// Store keeps accounts, ledger entries and locks in maps guarded by one mutex.
// Records are copied on the way in and out so callers never share state with the store.
// Units of work run through WithinTx are serialized against each other.
type Store struct {
	txMu         sync.Mutex
	mu           sync.Mutex
	accounts     map[uuid.UUID]models.Account
	transactions []models.Transaction
	locks        map[string]time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]models.Account),
		locks:    make(map[string]time.Time),
	}
}

// CreateAccount stores a copy of a.
func (s *Store) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = copyAccount(*a)
	return nil
}

// GetAccount returns store.ErrNotFound for an unknown id.
func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := copyAccount(a)
	return &out, nil
}

// UpdateAccount replaces an existing account.
func (s *Store) UpdateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return store.ErrNotFound
	}
	s.accounts[a.ID] = copyAccount(*a)
	return nil
}

// ListInvestingAccounts returns accounts holding a plan and a positive principal.
func (s *Store) ListInvestingAccounts(_ context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.InvestmentPlan == "" || !a.InvestmentBalance.IsPositive() {
			continue
		}
		c := copyAccount(a)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateTransaction appends a copy of tx to the ledger.
func (s *Store) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, copyTransaction(*tx))
	return nil
}

// FindTransactions returns copies of the matching ledger entries.
func (s *Store) FindTransactions(_ context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Transaction
	for i := range s.transactions {
		if filter.Matches(&s.transactions[i]) {
			c := copyTransaction(s.transactions[i])
			out = append(out, &c)
		}
	}
	return out, nil
}

// TransitionStatus moves every matching entry to status.
func (s *Store) TransitionStatus(_ context.Context, filter models.TransactionFilter, status models.TransactionStatus, completedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.transactions {
		if filter.Matches(&s.transactions[i]) {
			at := completedAt
			s.transactions[i].Status = status
			s.transactions[i].CompletedAt = &at
			n++
		}
	}
	return n, nil
}

// InsertLock reports false when key is already stored.
func (s *Store) InsertLock(_ context.Context, key string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return false, nil
	}
	s.locks[key] = expiresAt
	return true, nil
}

// ReplaceExpiredLock takes over key only when its expiry is before now.
func (s *Store) ReplaceExpiredLock(_ context.Context, key string, now, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, held := s.locks[key]
	if !held || !current.Before(now) {
		return false, nil
	}
	s.locks[key] = expiresAt
	return true, nil
}

// DeleteLock removes key, if any.
func (s *Store) DeleteLock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

// LockExpiry reports the stored expiry for key, if any.
func (s *Store) LockExpiry(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.locks[key]
	return at, ok
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func copyAccount(a models.Account) models.Account {
	if a.InvestmentStartDate != nil {
		t := *a.InvestmentStartDate
		a.InvestmentStartDate = &t
	}
	if a.LastDailyPayout != nil {
		t := *a.LastDailyPayout
		a.LastDailyPayout = &t
	}
	return a
}

func copyTransaction(tx models.Transaction) models.Transaction {
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		tx.CompletedAt = &t
	}
	return tx
}

var (
	_ store.Storage    = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)
