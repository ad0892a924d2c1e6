package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
)

// Account is a user account together with its investment position.
type Account struct {
	ID                  uuid.UUID       `json:"id"`
	Name                string          `json:"name"`
	Email               string          `json:"email"`
	Status              AccountStatus   `json:"status"`
	Balance             decimal.Decimal `json:"balance"`            // Spendable funds
	InvestmentBalance   decimal.Decimal `json:"investment_balance"` // Principal locked in a plan, zero when none
	InvestmentPlan      string          `json:"investment_plan,omitempty"`
	InvestmentStartDate *time.Time      `json:"investment_start_date,omitempty"`
	LastDailyPayout     *time.Time      `json:"last_daily_payout,omitempty"` // Date of the most recent accrual
	TotalEarnings       decimal.Decimal `json:"total_earnings"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// HasActiveInvestment reports whether the account holds an open position.
func (a *Account) HasActiveInvestment() bool {
	return a.InvestmentPlan != "" && a.InvestmentBalance.GreaterThan(decimal.Zero) && a.InvestmentStartDate != nil
}

// ClearInvestment resets the position after maturity or termination.
func (a *Account) ClearInvestment() {
	a.InvestmentBalance = decimal.Zero
	a.InvestmentPlan = ""
	a.InvestmentStartDate = nil
	a.LastDailyPayout = nil
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeInvestment TransactionType = "investment"
	TransactionTypePayout     TransactionType = "payout"
)

// TransactionStatus is the state of a ledger entry.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusMatured   TransactionStatus = "matured"
)

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	UserID         uuid.UUID         `json:"user_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	InvestmentPlan string            `json:"investment_plan,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// TransactionFilter selects ledger entries. Zero-valued fields match anything.
type TransactionFilter struct {
	UserID         uuid.UUID
	Type           TransactionType
	Status         TransactionStatus
	InvestmentPlan string
}

// Matches reports whether tx satisfies every set field of the filter.
func (f TransactionFilter) Matches(tx *Transaction) bool {
	if f.UserID != uuid.Nil && tx.UserID != f.UserID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.InvestmentPlan != "" && tx.InvestmentPlan != f.InvestmentPlan {
		return false
	}
	return true
}
