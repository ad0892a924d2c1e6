package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
	q  querier
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// SQLite allows a single writer; serializing through one connection
	// turns lock contention into queueing instead of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Manually enable foreign keys and WAL mode
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, q: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Default().Info("sqlite store ready", "module", "store.sqlite", "dsn", dataSourceName)
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds new columns if necessary.
// Decimal fields are TEXT so no precision is lost; lock expiry is unix nanoseconds
// so that comparisons are numeric.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		balance TEXT NOT NULL DEFAULT '0',
		investment_balance TEXT NOT NULL DEFAULT '0',
		investment_plan TEXT NOT NULL DEFAULT '',
		investment_start_date DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		investment_plan TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES accounts(id)
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user_type ON transactions(user_id, type, status);
	CREATE TABLE IF NOT EXISTS payout_locks (
		key TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release.
	columns := []struct{ table, def string }{
		{"accounts", "last_daily_payout DATETIME"},
		{"accounts", "total_earnings TEXT NOT NULL DEFAULT '0'"},
		{"transactions", "completed_at DATETIME"},
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", col.table, col.def))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s.%s: %w", col.table, col.def, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// WithinTx runs fn against stores bound to a single SQLite transaction.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(accounts AccountStore, ledger LedgerStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	bound := &SQLiteStore{db: s.db, q: tx}
	if err := fn(bound, bound); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const accountColumns = `id, name, email, status, balance, investment_balance, investment_plan, investment_start_date, last_daily_payout, total_earnings, created_at, updated_at`

// CreateAccount inserts a new account.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Name, a.Email, a.Status, a.Balance, a.InvestmentBalance, a.InvestmentPlan,
		a.InvestmentStartDate, a.LastDailyPayout, a.TotalEarnings, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by its ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// UpdateAccount writes every mutable field of the account.
func (s *SQLiteStore) UpdateAccount(ctx context.Context, a *models.Account) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET name = ?, email = ?, status = ?, balance = ?, investment_balance = ?, investment_plan = ?, investment_start_date = ?, last_daily_payout = ?, total_earnings = ?, updated_at = ? WHERE id = ?`,
		a.Name, a.Email, a.Status, a.Balance, a.InvestmentBalance, a.InvestmentPlan,
		a.InvestmentStartDate, a.LastDailyPayout, a.TotalEarnings, a.UpdatedAt, a.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInvestingAccounts retrieves all accounts holding an open position.
func (s *SQLiteStore) ListInvestingAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE investment_plan <> '' AND CAST(investment_balance AS REAL) > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to list investing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var idStr string
	var startDate, lastPayout sql.NullTime
	if err := row.Scan(&idStr, &a.Name, &a.Email, &a.Status, &a.Balance, &a.InvestmentBalance, &a.InvestmentPlan,
		&startDate, &lastPayout, &a.TotalEarnings, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid account id %q: %w", idStr, err)
	}
	a.ID = id
	if startDate.Valid {
		a.InvestmentStartDate = &startDate.Time
	}
	if lastPayout.Valid {
		a.LastDailyPayout = &lastPayout.Time
	}
	return &a, nil
}

// CreateTransaction inserts a new ledger entry.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, amount, type, status, investment_plan, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.UserID.String(), t.Amount, t.Type, t.Status, t.InvestmentPlan, t.CreatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// FindTransactions retrieves ledger entries matching the filter, oldest first.
func (s *SQLiteStore) FindTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	where, args := filterClause(filter)
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, user_id, amount, type, status, investment_plan, created_at, completed_at FROM transactions`+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		var txIDStr, userIDStr string
		var completedAt sql.NullTime
		if err := rows.Scan(&txIDStr, &userIDStr, &t.Amount, &t.Type, &t.Status, &t.InvestmentPlan, &t.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		if t.ID, err = uuid.Parse(txIDStr); err != nil {
			return nil, fmt.Errorf("invalid transaction id %q: %w", txIDStr, err)
		}
		if t.UserID, err = uuid.Parse(userIDStr); err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", userIDStr, err)
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		transactions = append(transactions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for transactions: %w", err)
	}
	return transactions, nil
}

// TransitionStatus updates the status of every matching entry.
func (s *SQLiteStore) TransitionStatus(ctx context.Context, filter models.TransactionFilter, status models.TransactionStatus, completedAt time.Time) (int64, error) {
	where, args := filterClause(filter)
	args = append([]any{status, completedAt}, args...)
	result, err := s.q.ExecContext(ctx, `UPDATE transactions SET status = ?, completed_at = ?`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to transition transactions to %s: %w", status, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

func filterClause(f models.TransactionFilter) (string, []any) {
	var conds []string
	var args []any
	if f.UserID != uuid.Nil {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID.String())
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.InvestmentPlan != "" {
		conds = append(conds, "investment_plan = ?")
		args = append(args, f.InvestmentPlan)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// InsertLock creates the lock row unless one already exists.
func (s *SQLiteStore) InsertLock(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO payout_locks (key, expires_at) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		key, expiresAt.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to insert lock %s: %w", key, err)
	}
	return affectedOne(result)
}

// ReplaceExpiredLock extends a lock whose expiry is already in the past.
func (s *SQLiteStore) ReplaceExpiredLock(ctx context.Context, key string, now, expiresAt time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx,
		`UPDATE payout_locks SET expires_at = ? WHERE key = ? AND expires_at < ?`,
		expiresAt.UnixNano(), key, now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to reclaim lock %s: %w", key, err)
	}
	return affectedOne(result)
}

// DeleteLock removes the lock row.
func (s *SQLiteStore) DeleteLock(ctx context.Context, key string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM payout_locks WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete lock %s: %w", key, err)
	}
	return nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ Storage    = (*SQLiteStore)(nil)
	_ Transactor = (*SQLiteStore)(nil)
)
