package payout

import (
	"time"

	"github.com/mcclellann/fredInvest/pkg/plans"
	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimal places monetary results are rounded to.
const DefaultPrecision int32 = 8

const day = 24 * time.Hour

var daysInYear = decimal.NewFromInt(365)

// DailyEarnings is one day of interest on principal:
// principal × annual rate / 365, rounded once.
func DailyEarnings(principal decimal.Decimal, plan plans.Plan, places int32) decimal.Decimal {
	return interestFor(principal, plan, 1, places)
}

// MaturityPayout returns the interest over the plan's full duration and the
// principal plus that interest.
func MaturityPayout(principal decimal.Decimal, plan plans.Plan, places int32) (interest, final decimal.Decimal) {
	interest = interestFor(principal, plan, plan.DurationDays, places)
	return interest, principal.Add(interest)
}

// interestFor divides last so the result is never built on a truncated daily rate.
func interestFor(principal decimal.Decimal, plan plans.Plan, days int, places int32) decimal.Decimal {
	return principal.
		Mul(plan.AnnualRate).
		Mul(decimal.NewFromInt(int64(days))).
		Div(daysInYear).
		Round(places)
}

// DaysInvested counts whole days elapsed since start.
func DaysInvested(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / day)
}

// AccrualDue reports whether no accrual has been paid on now's UTC calendar date.
func AccrualDue(lastPayout *time.Time, now time.Time) bool {
	if lastPayout == nil {
		return true
	}
	return calendarDate(*lastPayout).Before(calendarDate(now))
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
