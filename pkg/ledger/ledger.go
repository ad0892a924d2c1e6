package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/store"
	"github.com/shopspring/decimal"
)

// Recorder appends immutable transaction records for balance-affecting events.
type Recorder struct {
	storage store.LedgerStore
	now     func() time.Time
}

// NewRecorder creates a Recorder on top of a LedgerStore.
func NewRecorder(s store.LedgerStore) *Recorder {
	return &Recorder{storage: s, now: time.Now}
}

// WithClock returns a copy of the recorder using now as its time source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	return &Recorder{storage: r.storage, now: now}
}

// Append stores entry, assigning an id and creation time when missing.
func (r *Recorder) Append(ctx context.Context, entry models.Transaction) (*models.Transaction, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if entry.Status == "" {
		entry.Status = models.TransactionStatusPending
	}
	if err := r.storage.CreateTransaction(ctx, &entry); err != nil {
		return nil, fmt.Errorf("failed to append %s transaction for user %s: %w", entry.Type, entry.UserID, err)
	}
	return &entry, nil
}

// RecordPayout appends a completed payout entry.
func (r *Recorder) RecordPayout(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, plan string) (*models.Transaction, error) {
	now := r.now().UTC()
	return r.Append(ctx, models.Transaction{
		UserID:         userID,
		Amount:         amount,
		Type:           models.TransactionTypePayout,
		Status:         models.TransactionStatusCompleted,
		InvestmentPlan: plan,
		CreatedAt:      now,
		CompletedAt:    &now,
	})
}

// MarkInvestmentMatured moves the user's active investment entry for plan to matured.
// It returns how many entries changed; zero means no originating entry was found.
func (r *Recorder) MarkInvestmentMatured(ctx context.Context, userID uuid.UUID, plan string, at time.Time) (int64, error) {
	filter := models.TransactionFilter{
		UserID:         userID,
		Type:           models.TransactionTypeInvestment,
		Status:         models.TransactionStatusCompleted,
		InvestmentPlan: plan,
	}
	n, err := r.storage.TransitionStatus(ctx, filter, models.TransactionStatusMatured, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark investment matured for user %s: %w", userID, err)
	}
	return n, nil
}

// History returns the ledger entries matching filter.
func (r *Recorder) History(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	return r.storage.FindTransactions(ctx, filter)
}
