/*
fixed.go - Fixed grid-access fee and overrun penalty

PURPOSE:
  Implements the two fixed-fee variants declared in rule.go and the
  derived daily and per-period amounts:

    annual = power part + cg + cc
    daily  = annual / 365
    period = daily * day_count, rounded to the centime

  The 4-tier power part prices each tier increment at its own
  coefficient:

    b1*P1 + b2*(P2-P1) + b3*(P3-P2) + b4*(P4-P3)

  The tier ordering P1 <= P2 <= P3 <= P4 is checked before anything is
  computed; a violation surfaces as a ConstraintViolation and the row
  stays unpriced. With all four tiers equal the 4-tier fee collapses
  to b1*P, the flat formula.

SEE ALSO:
  - errors.go: TierOrderError
  - engine.go: applies these to period batches
*/
package tariff

import (
	"github.com/enerflux/billing-engine/billing"
	"github.com/shopspring/decimal"
)

var (
	daysPerYear = decimal.NewFromInt(365)
	cents       = decimal.NewFromInt(100)
)

// =============================================================================
// SHAPE IMPLEMENTATIONS
// =============================================================================

func (f Flat) annualPowerPart(power decimal.Decimal, _ *billing.TierPowers) (decimal.Decimal, error) {
	return f.B.Mul(power), nil
}

func (f FourTier) annualPowerPart(power decimal.Decimal, tiers *billing.TierPowers) (decimal.Decimal, error) {
	if tiers == nil {
		// A C4 row without seasonal powers is priced as four equal
		// tiers at the subscribed power, which collapses to b1*P.
		return f.B1.Mul(power), nil
	}
	if !tiers.Ordered() {
		return decimal.Decimal{}, &TierOrderError{Tiers: tiers.Slice()}
	}
	p := tiers.Slice()
	b := [4]decimal.Decimal{f.B1, f.B2, f.B3, f.B4}
	total := b[0].Mul(p[0])
	for i := 1; i < 4; i++ {
		total = total.Add(b[i].Mul(p[i].Sub(p[i-1])))
	}
	return total, nil
}

// =============================================================================
// RULE-LEVEL AMOUNTS
// =============================================================================

// AnnualFixed returns the annual fixed fee in euros.
func (r Rule) AnnualFixed(power decimal.Decimal, tiers *billing.TierPowers) (decimal.Decimal, error) {
	part, err := r.Shape.annualPowerPart(power, tiers)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return part.Add(r.Cg).Add(r.Cc), nil
}

// DailyFixed returns the daily fixed fee, annual / 365. The divisor
// stays 365 in leap years, as published.
func (r Rule) DailyFixed(power decimal.Decimal, tiers *billing.TierPowers) (decimal.Decimal, error) {
	annual, err := r.AnnualFixed(power, tiers)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return annual.Div(daysPerYear), nil
}

// FixedForDays returns the fixed fee of a period of the given length,
// rounded to the centime.
func (r Rule) FixedForDays(power decimal.Decimal, tiers *billing.TierPowers, days int) (decimal.Decimal, error) {
	daily, err := r.DailyFixed(power, tiers)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return daily.Mul(decimal.NewFromInt(int64(days))).Round(2), nil
}

// =============================================================================
// OVERRUN PENALTY
// =============================================================================

// OverrunPenalty prices a measured power-overrun duration, rounded to
// the centime: max(0, hours) * cmdps. The engine never detects
// overruns itself; the duration is measured upstream. Rules without a
// CMDPS rate (flat rules) return null, as does a null duration.
func (r Rule) OverrunPenalty(hours decimal.NullDecimal) decimal.NullDecimal {
	if !r.CMDPS.Valid || !hours.Valid {
		return decimal.NullDecimal{}
	}
	h := hours.Decimal
	if h.IsNegative() {
		h = decimal.Zero
	}
	return decimal.NewNullDecimal(h.Mul(r.CMDPS.Decimal).Round(2))
}
