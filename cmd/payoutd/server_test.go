package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/events"
	"github.com/mcclellann/fredInvest/pkg/lock"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/payout"
	"github.com/mcclellann/fredInvest/pkg/plans"
	"github.com/mcclellann/fredInvest/pkg/scheduler"
	"github.com/mcclellann/fredInvest/pkg/store/memory"
	"github.com/shopspring/decimal"
)

const testCronKey = "test-cron-key"

func setupTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.New()
	engine := payout.NewEngine(payout.Dependencies{
		Accounts:  s,
		Ledger:    s,
		Locks:     lock.NewManager(s, lock.DefaultTTL, logger),
		Plans:     plans.DefaultCatalog(),
		Publisher: events.NewLoggingPublisher(logger),
		Logger:    logger,
	})
	trigger := scheduler.NewTrigger(context.Background(), engine, time.Minute, logger)
	return NewServer(s, s, trigger, testCronKey, logger), s
}

func seedInvestor(t *testing.T, s *memory.Store) *models.Account {
	t.Helper()
	start := time.Now().UTC().Add(-49 * time.Hour)
	a := &models.Account{
		ID:                  uuid.New(),
		Name:                "Ada",
		Status:              models.AccountStatusActive,
		Balance:             decimal.Zero,
		InvestmentBalance:   decimal.NewFromInt(1000),
		InvestmentPlan:      "basic",
		InvestmentStartDate: &start,
		TotalEarnings:       decimal.Zero,
		CreatedAt:           start,
		UpdatedAt:           start,
	}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func TestAPI_Health(t *testing.T) {
	server, _ := setupTestServer(t)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}

func TestAPI_RunPayoutsRequiresKey(t *testing.T) {
	server, _ := setupTestServer(t)
	router := server.Router()

	for _, key := range []string{"", "wrong"} {
		req := httptest.NewRequest("POST", "/admin/payouts/run", nil)
		if key != "" {
			req.Header.Set("X-Cron-Key", key)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("key %q: expected status 401, got %d", key, rr.Code)
		}
	}

	server.cronKey = ""
	req := httptest.NewRequest("POST", "/admin/payouts/run", nil)
	req.Header.Set("X-Cron-Key", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unset key must disable the endpoint, got %d", rr.Code)
	}
}

func TestAPI_RunPayoutsAndInspect(t *testing.T) {
	server, s := setupTestServer(t)
	router := server.Router()
	account := seedInvestor(t, s)

	req := httptest.NewRequest("POST", "/admin/payouts/run", nil)
	req.Header.Set("X-CRON-KEY", testCronKey)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var summary payout.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	expected := decimal.RequireFromString("0.32876712")
	if !summary.LockAcquired || summary.DailyCount != 1 || !summary.TotalDailyPayout.Equal(expected) {
		t.Errorf("unexpected summary %+v", summary)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/accounts/"+account.ID.String(), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var fetched models.Account
	if err := json.Unmarshal(rr.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if !fetched.Balance.Equal(expected) {
		t.Errorf("Expected balance %s, got %s", expected, fetched.Balance)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/accounts/"+account.ID.String()+"/transactions?type=payout", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var txs []models.Transaction
	if err := json.Unmarshal(rr.Body.Bytes(), &txs); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if len(txs) != 1 || !txs[0].Amount.Equal(expected) {
		t.Errorf("expected one payout entry, got %+v", txs)
	}
}

func TestAPI_AccountErrors(t *testing.T) {
	server, _ := setupTestServer(t)
	router := server.Router()

	tests := []struct {
		path string
		code int
	}{
		{"/accounts/not-a-uuid", http.StatusBadRequest},
		{"/accounts/" + uuid.NewString(), http.StatusNotFound},
		{"/accounts/" + uuid.NewString() + "/transactions", http.StatusNotFound},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("GET", tt.path, nil))
		if rr.Code != tt.code {
			t.Errorf("%s: expected status %d, got %d", tt.path, tt.code, rr.Code)
		}
	}
}
