package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements store.Storage and store.Transactor. Inside WithinTx,
// account reads take a row lock that is held until the transaction ends.
type Store struct {
	db        *gorm.DB
	forUpdate bool
}

// New wraps an already migrated gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects, migrates and returns a ready store.
func Open(ctx context.Context, databaseURL string, maxConns int32) (*Store, error) {
	db, err := Connect(ctx, databaseURL, maxConns)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}
	return New(db), nil
}

// WithinTx runs fn in one database transaction and rolls back when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(accounts store.AccountStore, ledger store.LedgerStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bound := &Store{db: tx, forUpdate: true}
		return fn(bound, bound)
	})
}

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	m := toAccountModel(a)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// GetAccount returns store.ErrNotFound for an unknown id. Inside WithinTx the
// row stays locked until commit.
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	q := s.db.WithContext(ctx)
	if s.forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m accountModel
	if err := q.Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return toDomainAccount(m), nil
}

// UpdateAccount writes the mutable account fields, cleared ones included.
func (s *Store) UpdateAccount(ctx context.Context, a *models.Account) error {
	res := s.db.WithContext(ctx).Model(&accountModel{}).Where("id = ?", a.ID).Updates(accountUpdates(a))
	if res.Error != nil {
		return fmt.Errorf("failed to update account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListInvestingAccounts returns accounts holding a plan and a positive principal.
func (s *Store) ListInvestingAccounts(ctx context.Context) ([]*models.Account, error) {
	var rows []accountModel
	err := s.db.WithContext(ctx).
		Where("investment_plan <> '' AND investment_balance > 0").
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list investing accounts: %w", err)
	}
	out := make([]*models.Account, 0, len(rows))
	for _, m := range rows {
		out = append(out, toDomainAccount(m))
	}
	return out, nil
}

// CreateTransaction appends a ledger entry.
func (s *Store) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	m := toTransactionModel(t)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// FindTransactions returns the ledger entries matching filter, oldest first.
func (s *Store) FindTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var rows []transactionModel
	err := applyFilter(s.db.WithContext(ctx), filter).Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find transactions: %w", err)
	}
	out := make([]*models.Transaction, 0, len(rows))
	for _, m := range rows {
		out = append(out, toDomainTransaction(m))
	}
	return out, nil
}

// TransitionStatus moves every matching entry to status and reports how many moved.
func (s *Store) TransitionStatus(ctx context.Context, filter models.TransactionFilter, status models.TransactionStatus, completedAt time.Time) (int64, error) {
	res := applyFilter(s.db.WithContext(ctx).Model(&transactionModel{}), filter).Updates(map[string]any{
		"status":       string(status),
		"completed_at": completedAt,
	})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to transition transactions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func applyFilter(q *gorm.DB, f models.TransactionFilter) *gorm.DB {
	if f.UserID != uuid.Nil {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.InvestmentPlan != "" {
		q = q.Where("investment_plan = ?", f.InvestmentPlan)
	}
	return q
}

// InsertLock creates the lock row and reports false when it already exists.
func (s *Store) InsertLock(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "lock_key"}}, DoNothing: true}).
		Create(&lockModel{LockKey: key, ExpiresAt: expiresAt.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert lock: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReplaceExpiredLock takes over the lock only when its expiry is before now.
func (s *Store) ReplaceExpiredLock(ctx context.Context, key string, now, expiresAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&lockModel{}).
		Where("lock_key = ? AND expires_at < ?", key, now.UTC()).
		Update("expires_at", expiresAt.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("failed to replace lock: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteLock removes the lock row, if any.
func (s *Store) DeleteLock(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("lock_key = ?", key).Delete(&lockModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ store.Storage    = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)
