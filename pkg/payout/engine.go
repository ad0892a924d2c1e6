// Package payout runs the daily investment payout: one fleet-wide pass per
// day that accrues interest on every open position and settles matured ones.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/events"
	"github.com/mcclellann/fredInvest/pkg/ledger"
	"github.com/mcclellann/fredInvest/pkg/lock"
	"github.com/mcclellann/fredInvest/pkg/plans"
	"github.com/mcclellann/fredInvest/pkg/store"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// MaturityPolicy decides what happens to the daily accrual on the pass where
// a position matures.
type MaturityPolicy string

const (
	// MatureSupersedesAccrual skips that day's accrual; the maturity interest covers it.
	MatureSupersedesAccrual MaturityPolicy = "mature_supersedes_accrual"
	// AccrueThenMature pays the day's accrual and then the maturity payout.
	AccrueThenMature MaturityPolicy = "accrue_then_mature"
)

// ParseMaturityPolicy accepts the two policy names; empty selects the default.
func ParseMaturityPolicy(s string) (MaturityPolicy, error) {
	switch MaturityPolicy(s) {
	case "", MatureSupersedesAccrual:
		return MatureSupersedesAccrual, nil
	case AccrueThenMature:
		return AccrueThenMature, nil
	}
	return "", fmt.Errorf("unknown maturity policy %q", s)
}

// Summary aggregates one run.
type Summary struct {
	LockAcquired       bool            `json:"lock_acquired"`
	DailyCount         int             `json:"daily_count"`
	MaturedCount       int             `json:"matured_count"`
	TotalDailyPayout   decimal.Decimal `json:"total_daily_payout"`
	TotalMaturedPayout decimal.Decimal `json:"total_matured_payout"`
	Skipped            int             `json:"skipped"`
	Failed             int             `json:"failed"`
}

// Locker grants the fleet-wide payout lock.
type Locker interface {
	Acquire(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

// PlanLookup resolves an account's plan id.
type PlanLookup interface {
	Lookup(id string) (plans.Plan, bool)
}

// Config tunes a run. Zero values select the defaults.
type Config struct {
	LockKey        string
	Workers        int
	Precision      int32
	MaturityPolicy MaturityPolicy
	// PublishTimeout bounds event delivery for a whole run.
	PublishTimeout time.Duration
}

// DefaultPublishTimeout is the event delivery budget per run.
const DefaultPublishTimeout = 10 * time.Second

// Dependencies wires the engine. When Accounts also implements
// store.Transactor, each account is settled inside one store transaction and
// the transaction's ledger replaces Ledger.
type Dependencies struct {
	Config    Config
	Accounts  store.AccountStore
	Ledger    store.LedgerStore
	Locks     Locker
	Plans     PlanLookup
	Publisher events.Publisher
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Engine settles every open investment once per run.
type Engine struct {
	cfg       Config
	accounts  store.AccountStore
	ledger    store.LedgerStore
	locks     Locker
	plans     PlanLookup
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine builds an engine from deps, filling unset config with defaults.
func NewEngine(deps Dependencies) *Engine {
	cfg := deps.Config
	if cfg.LockKey == "" {
		cfg.LockKey = lock.DefaultKey
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Precision <= 0 {
		cfg.Precision = DefaultPrecision
	}
	if cfg.MaturityPolicy == "" {
		cfg.MaturityPolicy = MatureSupersedesAccrual
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		cfg:       cfg,
		accounts:  deps.Accounts,
		ledger:    deps.Ledger,
		locks:     deps.Locks,
		plans:     deps.Plans,
		publisher: deps.Publisher,
		logger:    logger,
		now:       clock,
	}
}

type outcomeStatus int

const (
	statusNotRun outcomeStatus = iota
	statusSkipped
	statusSettled
	statusFailed
)

// outcome is what settling a single account produced. Run reduces outcomes
// into a Summary, so workers never share counters.
type outcome struct {
	accountID uuid.UUID
	status    outcomeStatus
	plan      string
	accrued   decimal.Decimal
	didAccrue bool
	matured   decimal.Decimal
	didMature bool
	balance   decimal.Decimal
	at        time.Time
}

// Run performs one payout pass. It returns an empty summary and no error when
// another instance holds the lock. An error is returned only when the eligible
// set cannot be listed or ctx ends before every account was visited.
//
// Events are published after the lock is released, so a slow broker never
// holds up settlement.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	summary, outcomes, err := e.settleAll(ctx)
	e.publishAll(ctx, outcomes)
	return summary, err
}

func (e *Engine) settleAll(ctx context.Context) (Summary, []outcome, error) {
	if !e.locks.Acquire(ctx, e.cfg.LockKey) {
		e.logger.InfoContext(ctx, "payout run skipped, lock not granted",
			"module", "payout", "operation", "run", "outcome", "skipped")
		return Summary{}, nil, nil
	}
	defer e.locks.Release(ctx, e.cfg.LockKey)

	started := time.Now()
	now := e.now().UTC()

	eligible, err := e.accounts.ListInvestingAccounts(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "payout run aborted, cannot list investing accounts",
			"module", "payout", "operation", "run", "outcome", "failure", "error", err)
		return Summary{LockAcquired: true}, nil, fmt.Errorf("list investing accounts: %w", err)
	}

	outcomes := make([]outcome, len(eligible))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, acct := range eligible {
		if ctx.Err() != nil {
			break
		}
		id := acct.ID
		g.Go(func() error {
			outcomes[i] = e.processAccount(ctx, id, now)
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(outcomes)
	summary.LockAcquired = true
	e.logger.InfoContext(ctx, "payout run completed",
		"module", "payout",
		"operation", "run",
		"outcome", "success",
		"eligible_count", len(eligible),
		"daily_count", summary.DailyCount,
		"matured_count", summary.MaturedCount,
		"total_daily_payout", summary.TotalDailyPayout.String(),
		"total_matured_payout", summary.TotalMaturedPayout.String(),
		"skipped_count", summary.Skipped,
		"failed_count", summary.Failed,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	if err := ctx.Err(); err != nil {
		return summary, outcomes, fmt.Errorf("payout run interrupted: %w", err)
	}
	return summary, outcomes, nil
}

func summarize(outcomes []outcome) Summary {
	s := Summary{TotalDailyPayout: decimal.Zero, TotalMaturedPayout: decimal.Zero}
	for _, o := range outcomes {
		switch o.status {
		case statusSkipped:
			s.Skipped++
		case statusFailed:
			s.Failed++
		case statusSettled:
			if o.didAccrue {
				s.DailyCount++
				s.TotalDailyPayout = s.TotalDailyPayout.Add(o.accrued)
			}
			if o.didMature {
				s.MaturedCount++
				s.TotalMaturedPayout = s.TotalMaturedPayout.Add(o.matured)
			}
		}
	}
	return s
}

// processAccount settles one account and never lets an error or panic escape.
func (e *Engine) processAccount(ctx context.Context, id uuid.UUID, now time.Time) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "account settlement panicked",
				"module", "payout", "operation", "settle_account", "outcome", "failure",
				"account_id", id, "panic", fmt.Sprint(r))
			out = outcome{accountID: id, status: statusFailed}
		}
	}()

	err := e.withinUnit(ctx, func(accounts store.AccountStore, ledgerStore store.LedgerStore) error {
		var err error
		out, err = e.settle(ctx, accounts, ledgerStore, id, now)
		return err
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "account settlement failed",
			"module", "payout", "operation", "settle_account", "outcome", "failure",
			"account_id", id, "error", err)
		return outcome{accountID: id, status: statusFailed}
	}
	out.at = now
	return out
}

func (e *Engine) withinUnit(ctx context.Context, fn func(store.AccountStore, store.LedgerStore) error) error {
	if tx, ok := e.accounts.(store.Transactor); ok {
		return tx.WithinTx(ctx, fn)
	}
	return fn(e.accounts, e.ledger)
}

// settle re-reads the account and applies accrual and maturity. The account
// is written once, after every ledger entry for it has been appended.
func (e *Engine) settle(ctx context.Context, accounts store.AccountStore, ledgerStore store.LedgerStore, id uuid.UUID, now time.Time) (outcome, error) {
	out := outcome{accountID: id, status: statusSkipped}

	account, err := accounts.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("refetch account: %w", err)
	}
	if !account.HasActiveInvestment() {
		// Cleared between the snapshot and now.
		return out, nil
	}

	plan, ok := e.plans.Lookup(account.InvestmentPlan)
	if !ok {
		e.logger.WarnContext(ctx, "account skipped, unknown investment plan",
			"module", "payout", "operation", "settle_account", "outcome", "skipped",
			"account_id", id, "investment_plan", account.InvestmentPlan)
		return out, nil
	}
	out.plan = plan.ID
	if !plan.Accepts(account.InvestmentBalance) {
		e.logger.WarnContext(ctx, "principal outside plan bounds",
			"module", "payout", "operation", "settle_account",
			"account_id", id, "investment_plan", plan.ID, "principal", account.InvestmentBalance.String())
	}

	recorder := ledger.NewRecorder(ledgerStore).WithClock(func() time.Time { return now })
	matures := DaysInvested(*account.InvestmentStartDate, now) >= plan.DurationDays
	skipAccrual := matures && e.cfg.MaturityPolicy == MatureSupersedesAccrual

	if AccrualDue(account.LastDailyPayout, now) && !skipAccrual {
		earnings := DailyEarnings(account.InvestmentBalance, plan, e.cfg.Precision)
		account.Balance = account.Balance.Add(earnings)
		account.TotalEarnings = account.TotalEarnings.Add(earnings)
		paidAt := now
		account.LastDailyPayout = &paidAt
		if _, err := recorder.RecordPayout(ctx, id, earnings, plan.ID); err != nil {
			return out, err
		}
		out.accrued, out.didAccrue = earnings, true
	}

	if matures {
		interest, final := MaturityPayout(account.InvestmentBalance, plan, e.cfg.Precision)
		account.Balance = account.Balance.Add(final)
		account.TotalEarnings = account.TotalEarnings.Add(interest)
		account.ClearInvestment()

		n, err := recorder.MarkInvestmentMatured(ctx, id, plan.ID, now)
		if err != nil {
			return out, err
		}
		if n == 0 {
			e.logger.WarnContext(ctx, "no active investment entry to mark matured",
				"module", "payout", "operation", "settle_account", "account_id", id, "investment_plan", plan.ID)
		}
		if _, err := recorder.RecordPayout(ctx, id, final, plan.ID); err != nil {
			return out, err
		}
		out.matured, out.didMature = final, true
	}

	if !out.didAccrue && !out.didMature {
		return out, nil
	}

	account.UpdatedAt = now
	if err := accounts.UpdateAccount(ctx, account); err != nil {
		return out, fmt.Errorf("persist account: %w", err)
	}
	out.status = statusSettled
	out.balance = account.Balance
	return out, nil
}

// publishAll emits best-effort events for every settled account. Delivery
// shares one budget per run and stops once it is spent.
func (e *Engine) publishAll(ctx context.Context, outcomes []outcome) {
	if e.publisher == nil || len(outcomes) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PublishTimeout)
	defer cancel()

	published, dropped := 0, 0
	for _, o := range outcomes {
		if o.status != statusSettled {
			continue
		}
		for _, evt := range o.events() {
			if ctx.Err() != nil {
				dropped++
				continue
			}
			if err := e.publisher.Publish(ctx, evt); err != nil {
				dropped++
				e.logger.WarnContext(ctx, "payout event publish failed",
					"module", "payout", "operation", "publish_event", "outcome", "failure",
					"account_id", o.accountID, "event_type", evt.Type, "error", err)
				continue
			}
			published++
		}
	}
	if dropped > 0 {
		e.logger.WarnContext(ctx, "payout events not delivered",
			"module", "payout", "operation", "publish_event", "outcome", "partial",
			"published_count", published, "dropped_count", dropped)
	}
}

func (o outcome) events() []events.PayoutEvent {
	var evts []events.PayoutEvent
	if o.didAccrue {
		evts = append(evts, events.PayoutEvent{Type: events.TypePayoutAccrued, Amount: o.accrued})
	}
	if o.didMature {
		evts = append(evts, events.PayoutEvent{Type: events.TypePayoutMatured, Amount: o.matured})
	}
	for i := range evts {
		evts[i].EventID = uuid.New()
		evts[i].UserID = o.accountID
		evts[i].InvestmentPlan = o.plan
		evts[i].Balance = o.balance
		evts[i].OccurredAt = o.at
	}
	return evts
}

var (
	_ Locker     = (*lock.Manager)(nil)
	_ PlanLookup = (*plans.Catalog)(nil)
)
