package events

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestLoggingPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLoggingPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := p.Publish(context.Background(), PayoutEvent{
		EventID:    uuid.New(),
		Type:       TypePayoutMatured,
		UserID:     uuid.New(),
		Amount:     decimal.RequireFromString("1510.35616438"),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"event_type":"payout.matured"`) {
		t.Fatalf("expected event type in log output, got %s", buf.String())
	}
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "payouts"); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error without topic")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "payouts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = p.Close()
}
