package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredInvest/pkg/ledger"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/payout"
	"github.com/mcclellann/fredInvest/pkg/store"
)

type payoutFirer interface {
	Fire(ctx context.Context) (payout.Summary, error)
}

// Server exposes the manual payout trigger and read-only account views.
type Server struct {
	accounts store.AccountStore
	ledger   *ledger.Recorder
	trigger  payoutFirer
	cronKey  string
	logger   *slog.Logger
}

// NewServer serves account reads and the manual payout trigger.
func NewServer(accounts store.AccountStore, ledgerStore store.LedgerStore, trigger payoutFirer, cronKey string, logger *slog.Logger) *Server {
	return &Server{
		accounts: accounts,
		ledger:   ledger.NewRecorder(ledgerStore),
		trigger:  trigger,
		cronKey:  cronKey,
		logger:   logger,
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	router.HandleFunc("/admin/payouts/run", s.runPayoutsHandler).Methods("POST")
	router.HandleFunc("/accounts/{id}", s.getAccountHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}/transactions", s.listTransactionsHandler).Methods("GET")
	return router
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runPayoutsHandler fires one payout run. Callers authenticate with the
// X-Cron-Key header; an unset key disables the endpoint.
func (s *Server) runPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Cron-Key")
	if s.cronKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cronKey)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summary, err := s.trigger.Fire(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "manual payout run failed",
			"module", "http", "operation", "run_payouts", "outcome", "failure", "error", err)
		http.Error(w, "Payout run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	account, err := s.accounts.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	if _, err := s.accounts.GetAccount(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	filter := models.TransactionFilter{
		UserID:         id,
		Type:           models.TransactionType(r.URL.Query().Get("type")),
		Status:         models.TransactionStatus(r.URL.Query().Get("status")),
		InvestmentPlan: r.URL.Query().Get("plan"),
	}
	txs, err := s.ledger.History(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
