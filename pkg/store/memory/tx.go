package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/store"
)

// WithinTx runs fn against a staging view of the store. Writes made through
// the view become visible only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(accounts store.AccountStore, ledger store.LedgerStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{base: s, accounts: make(map[uuid.UUID]models.Account)}
	if err := fn(tx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type transition struct {
	filter      models.TransactionFilter
	status      models.TransactionStatus
	completedAt time.Time
}

// txStore buffers writes for one unit of work. Reads see the base store
// with the buffered writes applied.
type txStore struct {
	base         *Store
	accounts     map[uuid.UUID]models.Account
	transactions []models.Transaction
	transitions  []transition
}

func (t *txStore) CreateAccount(_ context.Context, a *models.Account) error {
	t.accounts[a.ID] = copyAccount(*a)
	return nil
}

func (t *txStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if a, ok := t.accounts[id]; ok {
		out := copyAccount(a)
		return &out, nil
	}
	return t.base.GetAccount(ctx, id)
}

func (t *txStore) UpdateAccount(ctx context.Context, a *models.Account) error {
	if _, err := t.GetAccount(ctx, a.ID); err != nil {
		return err
	}
	t.accounts[a.ID] = copyAccount(*a)
	return nil
}

func (t *txStore) ListInvestingAccounts(ctx context.Context) ([]*models.Account, error) {
	return t.base.ListInvestingAccounts(ctx)
}

func (t *txStore) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	t.transactions = append(t.transactions, copyTransaction(*tx))
	return nil
}

func (t *txStore) FindTransactions(_ context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range t.view() {
		if filter.Matches(&tx) {
			c := tx
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *txStore) TransitionStatus(_ context.Context, filter models.TransactionFilter, status models.TransactionStatus, completedAt time.Time) (int64, error) {
	var n int64
	for _, tx := range t.view() {
		if filter.Matches(&tx) {
			n++
		}
	}
	t.transitions = append(t.transitions, transition{filter: filter, status: status, completedAt: completedAt})
	return n, nil
}

// view returns the committed ledger followed by the staged entries, with
// staged transitions applied in order.
func (t *txStore) view() []models.Transaction {
	t.base.mu.Lock()
	all := make([]models.Transaction, 0, len(t.base.transactions)+len(t.transactions))
	for _, tx := range t.base.transactions {
		all = append(all, copyTransaction(tx))
	}
	t.base.mu.Unlock()
	for _, tx := range t.transactions {
		all = append(all, copyTransaction(tx))
	}
	for _, tr := range t.transitions {
		applyTransition(all, tr)
	}
	return all
}

func (t *txStore) commit() {
	t.base.mu.Lock()
	defer t.base.mu.Unlock()
	for id, a := range t.accounts {
		t.base.accounts[id] = a
	}
	t.base.transactions = append(t.base.transactions, t.transactions...)
	for _, tr := range t.transitions {
		applyTransition(t.base.transactions, tr)
	}
}

func applyTransition(txs []models.Transaction, tr transition) {
	for i := range txs {
		if tr.filter.Matches(&txs[i]) {
			at := tr.completedAt
			txs[i].Status = tr.status
			txs[i].CompletedAt = &at
		}
	}
}
