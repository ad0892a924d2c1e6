package plans

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPlan is returned when plan parameters violate catalog invariants.
	ErrInvalidPlan = errors.New("invalid investment plan")

	daysInYear = decimal.NewFromInt(365)
)

// Plan holds the parameters of one investment plan. Plans are values and are never mutated.
type Plan struct {
	ID           string
	Label        string
	AnnualRate   decimal.Decimal
	DailyRate    decimal.Decimal
	DurationDays int
	MinAmount    decimal.Decimal
	MaxAmount    decimal.Decimal
}

// NewPlan derives the daily rate from an annual rate.
func NewPlan(id, label string, annualRate decimal.Decimal, durationDays int, minAmount, maxAmount decimal.Decimal) Plan {
	return Plan{
		ID:           id,
		Label:        label,
		AnnualRate:   annualRate,
		DailyRate:    annualRate.Div(daysInYear),
		DurationDays: durationDays,
		MinAmount:    minAmount,
		MaxAmount:    maxAmount,
	}
}

// Validate checks the plan invariants.
func (p Plan) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidPlan)
	case !p.DailyRate.IsPositive():
		return fmt.Errorf("%w: %s daily rate must be positive", ErrInvalidPlan, p.ID)
	case p.DurationDays < 1:
		return fmt.Errorf("%w: %s duration must be at least one day", ErrInvalidPlan, p.ID)
	case p.MinAmount.GreaterThan(p.MaxAmount):
		return fmt.Errorf("%w: %s min amount exceeds max amount", ErrInvalidPlan, p.ID)
	}
	return nil
}

// Accepts reports whether amount is within the plan's bounds.
func (p Plan) Accepts(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(p.MinAmount) && amount.LessThanOrEqual(p.MaxAmount)
}

// Catalog is an immutable set of plans keyed by id.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog validates and indexes plans. Duplicate ids are rejected.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidPlan, p.ID)
		}
		c.plans[p.ID] = p
	}
	return c, nil
}

// DefaultCatalog returns the standard basic, premium and elite plans.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		NewPlan("basic", "Basic (12% Annual)", decimal.RequireFromString("0.12"), 7,
			decimal.NewFromInt(100), decimal.NewFromInt(1500)),
		NewPlan("premium", "Premium (18% Annual)", decimal.RequireFromString("0.18"), 14,
			decimal.NewFromInt(1000), decimal.NewFromInt(10000)),
		NewPlan("elite", "Elite (24% Annual)", decimal.RequireFromString("0.24"), 30,
			decimal.NewFromInt(500), decimal.NewFromInt(1000000)),
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the plan with the given id.
func (c *Catalog) Lookup(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// IDs lists plan ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
