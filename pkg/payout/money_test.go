package payout

import (
	"testing"
	"time"

	"github.com/mcclellann/fredInvest/pkg/plans"
	"github.com/shopspring/decimal"
)

func TestInterestIsRoundedOnce(t *testing.T) {
	catalog := plans.DefaultCatalog()
	elite, _ := catalog.Lookup("elite")
	basic, _ := catalog.Lookup("basic")

	tests := []struct {
		name      string
		principal string
		plan      plans.Plan
		daily     string
		interest  string
	}{
		{"small basic", "1000", basic, "0.32876712", "2.30136986"},
		// A daily rate truncated to 16 places drifts by 1.27e-6 here.
		{"large elite", "999999999.99", elite, "657534.24656877", "19726027.39706301"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal := decimal.RequireFromString(tt.principal)
			if got := DailyEarnings(principal, tt.plan, DefaultPrecision); !got.Equal(decimal.RequireFromString(tt.daily)) {
				t.Errorf("DailyEarnings = %s, want %s", got, tt.daily)
			}
			interest, final := MaturityPayout(principal, tt.plan, DefaultPrecision)
			if !interest.Equal(decimal.RequireFromString(tt.interest)) {
				t.Errorf("interest = %s, want %s", interest, tt.interest)
			}
			if !final.Equal(principal.Add(interest)) {
				t.Errorf("final = %s, want principal + interest", final)
			}
		})
	}
}

func TestDaysInvested(t *testing.T) {
	start := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)
	tests := []struct {
		now  time.Time
		want int
	}{
		{start.Add(-time.Hour), 0},
		{start.Add(23 * time.Hour), 0},
		{start.Add(24 * time.Hour), 1},
		{start.Add(14*24*time.Hour - time.Second), 13},
		{start.Add(14 * 24 * time.Hour), 14},
	}
	for _, tt := range tests {
		if got := DaysInvested(start, tt.now); got != tt.want {
			t.Errorf("DaysInvested(%v) = %d, want %d", tt.now, got, tt.want)
		}
	}
}

func TestAccrualDue(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 1, 0, time.UTC)
	lateYesterday := time.Date(2026, 1, 1, 23, 59, 59, 0, time.UTC)
	earlyToday := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	// Same instant as earlyToday expressed in a zone where it is still Jan 1.
	offsetToday := earlyToday.In(time.FixedZone("UTC-5", -5*3600))

	if !AccrualDue(nil, now) {
		t.Error("never-paid account should be due")
	}
	if !AccrualDue(&lateYesterday, now) {
		t.Error("payment on the previous date should make today due")
	}
	if AccrualDue(&earlyToday, now) {
		t.Error("payment earlier today must not be due again")
	}
	if AccrualDue(&offsetToday, now) {
		t.Error("calendar dates must be compared in UTC")
	}
}
