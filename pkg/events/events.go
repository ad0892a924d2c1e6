// Package events publishes best-effort notifications about completed payouts.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypePayoutAccrued = "payout.accrued"
	TypePayoutMatured = "payout.matured"
)

// PayoutEvent describes one committed accrual or maturity.
type PayoutEvent struct {
	EventID        uuid.UUID       `json:"event_id"`
	Type           string          `json:"type"`
	UserID         uuid.UUID       `json:"user_id"`
	InvestmentPlan string          `json:"investment_plan"`
	Amount         decimal.Decimal `json:"amount"`
	Balance        decimal.Decimal `json:"balance"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Publisher delivers payout events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event PayoutEvent) error
}

// LoggingPublisher writes events to the log. It is the fallback when no broker is configured.
type LoggingPublisher struct {
	logger *slog.Logger
}

// NewLoggingPublisher returns a publisher that writes events to logger.
func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

// Publish logs the event payload at info level.
func (p *LoggingPublisher) Publish(ctx context.Context, event PayoutEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "event published",
		"module", "events.publisher",
		"operation", "publish",
		"outcome", "success",
		"event_type", event.Type,
		"partition_key", event.UserID.String(),
		"payload_bytes", len(payload),
	)
	return nil
}
