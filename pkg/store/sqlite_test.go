package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test_store.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func investingAccount(principal string) *models.Account {
	start := time.Now().UTC().Add(-48 * time.Hour)
	return &models.Account{
		ID:                  uuid.New(),
		Name:                "Test User",
		Email:               "test@example.com",
		Status:              models.AccountStatusActive,
		Balance:             decimal.RequireFromString("250.5"),
		InvestmentBalance:   decimal.RequireFromString(principal),
		InvestmentPlan:      "premium",
		InvestmentStartDate: &start,
		TotalEarnings:       decimal.Zero,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
}

func TestSQLiteStore_CreateAndGetAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := investingAccount("1500.12345678")
	if err := s.CreateAccount(ctx, account); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}

	fetched, err := s.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if !fetched.InvestmentBalance.Equal(account.InvestmentBalance) {
		t.Errorf("Expected InvestmentBalance %s, got %s", account.InvestmentBalance, fetched.InvestmentBalance)
	}
	if !fetched.Balance.Equal(account.Balance) {
		t.Errorf("Expected Balance %s, got %s", account.Balance, fetched.Balance)
	}
	if fetched.InvestmentPlan != "premium" {
		t.Errorf("Expected plan premium, got %q", fetched.InvestmentPlan)
	}
	if fetched.InvestmentStartDate == nil || !fetched.InvestmentStartDate.Equal(*account.InvestmentStartDate) {
		t.Errorf("Expected start date %v, got %v", account.InvestmentStartDate, fetched.InvestmentStartDate)
	}
	if fetched.LastDailyPayout != nil {
		t.Errorf("Expected no last payout, got %v", fetched.LastDailyPayout)
	}

	if _, err := s.GetAccount(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown account, got %v", err)
	}
}

func TestSQLiteStore_ListInvestingAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	investing := investingAccount("1000")
	idle := investingAccount("0")
	idle.InvestmentPlan = ""
	idle.InvestmentStartDate = nil
	for _, a := range []*models.Account{investing, idle} {
		if err := s.CreateAccount(ctx, a); err != nil {
			t.Fatalf("Failed to create account: %v", err)
		}
	}

	accounts, err := s.ListInvestingAccounts(ctx)
	if err != nil {
		t.Fatalf("Failed to list accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != investing.ID {
		t.Fatalf("Expected only the investing account, got %d accounts", len(accounts))
	}

	investing.ClearInvestment()
	if err := s.UpdateAccount(ctx, investing); err != nil {
		t.Fatalf("Failed to update account: %v", err)
	}
	accounts, err = s.ListInvestingAccounts(ctx)
	if err != nil {
		t.Fatalf("Failed to list accounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("Expected no investing accounts after clearing, got %d", len(accounts))
	}
}

func TestSQLiteStore_TransactionsAndTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := investingAccount("1000")
	if err := s.CreateAccount(ctx, account); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}

	investment := &models.Transaction{
		ID:             uuid.New(),
		UserID:         account.ID,
		Amount:         decimal.NewFromInt(1000),
		Type:           models.TransactionTypeInvestment,
		Status:         models.TransactionStatusCompleted,
		InvestmentPlan: "premium",
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.CreateTransaction(ctx, investment); err != nil {
		t.Fatalf("Failed to create transaction: %v", err)
	}

	filter := models.TransactionFilter{UserID: account.ID, Type: models.TransactionTypeInvestment, Status: models.TransactionStatusCompleted}
	n, err := s.TransitionStatus(ctx, filter, models.TransactionStatusMatured, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to transition: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 row transitioned, got %d", n)
	}

	txs, err := s.FindTransactions(ctx, models.TransactionFilter{UserID: account.ID})
	if err != nil {
		t.Fatalf("Failed to find transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(txs))
	}
	if txs[0].Status != models.TransactionStatusMatured || txs[0].CompletedAt == nil {
		t.Errorf("Expected matured entry with completion time, got %s %v", txs[0].Status, txs[0].CompletedAt)
	}
	if !txs[0].Amount.Equal(investment.Amount) {
		t.Errorf("Expected amount %s, got %s", investment.Amount, txs[0].Amount)
	}
}

func TestSQLiteStore_WithinTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := investingAccount("1000")
	if err := s.CreateAccount(ctx, account); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(accounts AccountStore, ledger LedgerStore) error {
		a, err := accounts.GetAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		a.Balance = a.Balance.Add(decimal.NewFromInt(99))
		if err := accounts.UpdateAccount(ctx, a); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	fetched, err := s.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	if !fetched.Balance.Equal(account.Balance) {
		t.Errorf("Expected rolled back balance %s, got %s", account.Balance, fetched.Balance)
	}
}

func TestSQLiteStore_LockLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	key := "investment_payout_lock"

	ok, err := s.InsertLock(ctx, key, now.Add(10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("Expected first insert to succeed, got %v %v", ok, err)
	}
	ok, err = s.InsertLock(ctx, key, now.Add(10*time.Minute))
	if err != nil || ok {
		t.Fatalf("Expected second insert to be refused, got %v %v", ok, err)
	}
	ok, err = s.ReplaceExpiredLock(ctx, key, now, now.Add(10*time.Minute))
	if err != nil || ok {
		t.Fatalf("Expected live lock not to be reclaimed, got %v %v", ok, err)
	}

	later := now.Add(11 * time.Minute)
	ok, err = s.ReplaceExpiredLock(ctx, key, later, later.Add(10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("Expected expired lock to be reclaimed, got %v %v", ok, err)
	}
	renewed := later.Add(10 * time.Minute)
	ok, err = s.ReplaceExpiredLock(ctx, key, renewed.Add(-time.Minute), renewed.Add(10*time.Minute))
	if err != nil || ok {
		t.Fatalf("Expected reclaimed lock to carry the new expiry, got %v %v", ok, err)
	}

	if err := s.DeleteLock(ctx, key); err != nil {
		t.Fatalf("Failed to delete lock: %v", err)
	}
	ok, err = s.InsertLock(ctx, key, now.Add(10*time.Minute))
	if err != nil || !ok {
		t.Errorf("Expected insert after delete to succeed, got %v %v", ok, err)
	}
}
