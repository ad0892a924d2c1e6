package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// AccountStore reads and writes user balances and investment state.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error
	// ListInvestingAccounts returns accounts with a plan set and a positive investment balance.
	ListInvestingAccounts(ctx context.Context) ([]*models.Account, error)
}

// LedgerStore appends transaction records and queries them.
type LedgerStore interface {
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	FindTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)
	// TransitionStatus moves every entry matching filter to status, stamping completedAt.
	TransitionStatus(ctx context.Context, filter models.TransactionFilter, status models.TransactionStatus, completedAt time.Time) (int64, error)
}

// LockStore provides atomic conditional writes on a single keyed record.
type LockStore interface {
	// InsertLock creates the record if absent and reports whether it did.
	InsertLock(ctx context.Context, key string, expiresAt time.Time) (bool, error)
	// ReplaceExpiredLock overwrites expiresAt only if the stored value is before now.
	ReplaceExpiredLock(ctx context.Context, key string, now, expiresAt time.Time) (bool, error)
	DeleteLock(ctx context.Context, key string) error
}

// Storage is the full persistence surface of the service.
type Storage interface {
	AccountStore
	LedgerStore
	LockStore
	Close() error
}

// Transactor is implemented by stores that can run a unit of work atomically.
// fn receives stores bound to the transaction; returning an error rolls it back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(accounts AccountStore, ledger LedgerStore) error) error
}
