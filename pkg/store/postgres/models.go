package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/shopspring/decimal"
)

type accountModel struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name                string          `gorm:"column:name"`
	Email               string          `gorm:"column:email"`
	Status              string          `gorm:"column:status"`
	Balance             decimal.Decimal `gorm:"column:balance;type:numeric(24,8)"`
	InvestmentBalance   decimal.Decimal `gorm:"column:investment_balance;type:numeric(24,8)"`
	InvestmentPlan      string          `gorm:"column:investment_plan"`
	InvestmentStartDate *time.Time      `gorm:"column:investment_start_date"`
	LastDailyPayout     *time.Time      `gorm:"column:last_daily_payout"`
	TotalEarnings       decimal.Decimal `gorm:"column:total_earnings;type:numeric(24,8)"`
	CreatedAt           time.Time       `gorm:"column:created_at"`
	UpdatedAt           time.Time       `gorm:"column:updated_at"`
}

func (accountModel) TableName() string { return "accounts" }

type transactionModel struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	UserID         uuid.UUID       `gorm:"column:user_id;type:uuid"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(24,8)"`
	Type           string          `gorm:"column:type"`
	Status         string          `gorm:"column:status"`
	InvestmentPlan string          `gorm:"column:investment_plan"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	CompletedAt    *time.Time      `gorm:"column:completed_at"`
}

func (transactionModel) TableName() string { return "transactions" }

type lockModel struct {
	LockKey   string    `gorm:"column:lock_key;primaryKey"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
}

func (lockModel) TableName() string { return "payout_locks" }

func toAccountModel(a *models.Account) accountModel {
	return accountModel{
		ID: a.ID, Name: a.Name, Email: a.Email, Status: string(a.Status),
		Balance: a.Balance, InvestmentBalance: a.InvestmentBalance, InvestmentPlan: a.InvestmentPlan,
		InvestmentStartDate: a.InvestmentStartDate, LastDailyPayout: a.LastDailyPayout,
		TotalEarnings: a.TotalEarnings, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func toDomainAccount(m accountModel) *models.Account {
	return &models.Account{
		ID: m.ID, Name: m.Name, Email: m.Email, Status: models.AccountStatus(m.Status),
		Balance: m.Balance, InvestmentBalance: m.InvestmentBalance, InvestmentPlan: m.InvestmentPlan,
		InvestmentStartDate: m.InvestmentStartDate, LastDailyPayout: m.LastDailyPayout,
		TotalEarnings: m.TotalEarnings, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

// accountUpdates lists every mutable column. A map is used so nil timestamps
// are written as NULL.
func accountUpdates(a *models.Account) map[string]any {
	return map[string]any{
		"name":                  a.Name,
		"email":                 a.Email,
		"status":                string(a.Status),
		"balance":               a.Balance,
		"investment_balance":    a.InvestmentBalance,
		"investment_plan":       a.InvestmentPlan,
		"investment_start_date": a.InvestmentStartDate,
		"last_daily_payout":     a.LastDailyPayout,
		"total_earnings":        a.TotalEarnings,
		"updated_at":            a.UpdatedAt,
	}
}

func toTransactionModel(t *models.Transaction) transactionModel {
	return transactionModel{
		ID: t.ID, UserID: t.UserID, Amount: t.Amount, Type: string(t.Type), Status: string(t.Status),
		InvestmentPlan: t.InvestmentPlan, CreatedAt: t.CreatedAt, CompletedAt: t.CompletedAt,
	}
}

func toDomainTransaction(m transactionModel) *models.Transaction {
	return &models.Transaction{
		ID: m.ID, UserID: m.UserID, Amount: m.Amount, Type: models.TransactionType(m.Type),
		Status: models.TransactionStatus(m.Status), InvestmentPlan: m.InvestmentPlan,
		CreatedAt: m.CreatedAt, CompletedAt: m.CompletedAt,
	}
}
