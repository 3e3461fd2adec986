/*
engine.go - Batch pricing passes

PURPOSE:
  Applies the rule table to whole period batches. Each pass is pure:
  it returns a priced copy of its input plus the list of rows it could
  not price. A faulted row keeps a null amount and stays in the batch;
  pricing one contract never blocks another.

  Fixed and variable fees are priced per period, before monthly
  aggregation, so a tariff change mid-month prices each sub-period at
  its own rate. The overrun penalty is priced on the monthly
  aggregate, where the measured overrun duration lives.

SEE ALSO:
  - billing/monthly.go: sums the per-period amounts into the aggregate
*/
package tariff

import (
	"fmt"

	"github.com/enerflux/billing-engine/billing"
	"github.com/shopspring/decimal"
)

// Fault records one pricing failure. The offending row keeps its null
// amount; the batch continues.
type Fault struct {
	Ref   billing.ContractRef
	PDL   billing.PDL
	Start billing.Day
	Err   error
}

func (f Fault) String() string {
	return fmt.Sprintf("%s %s %s: %v", f.Ref, f.PDL, f.Start, f.Err)
}

// PriceSubscriptionPeriods fills TurpeFixe on each period. The rule is
// selected by the period's tariff formula code at its start date.
func PriceSubscriptionPeriods(rules *RuleSet, periods []billing.SubscriptionPeriod) ([]billing.SubscriptionPeriod, []Fault) {
	out := make([]billing.SubscriptionPeriod, len(periods))
	copy(out, periods)

	var faults []Fault
	for i, p := range out {
		rule, err := rules.Lookup(p.FTA, p.Start)
		if err != nil {
			faults = append(faults, Fault{Ref: p.Ref, PDL: p.PDL, Start: p.Start, Err: err})
			continue
		}
		amount, err := rule.FixedForDays(p.Power, p.TierPowers, p.DayCount)
		if err != nil {
			faults = append(faults, Fault{Ref: p.Ref, PDL: p.PDL, Start: p.Start, Err: err})
			continue
		}
		out[i].TurpeFixe = decimal.NewNullDecimal(amount)
	}
	return out, faults
}

// PriceEnergyPeriods fills TurpeVariable on each period.
func PriceEnergyPeriods(rules *RuleSet, periods []billing.EnergyPeriod) ([]billing.EnergyPeriod, []Fault) {
	out := make([]billing.EnergyPeriod, len(periods))
	copy(out, periods)

	var faults []Fault
	for i, p := range out {
		rule, err := rules.Lookup(p.FTA, p.Start)
		if err != nil {
			faults = append(faults, Fault{Ref: p.Ref, PDL: p.PDL, Start: p.Start, Err: err})
			continue
		}
		out[i].TurpeVariable = decimal.NewNullDecimal(rule.VariableFor(p.CalendarID, p.Energy))
	}
	return out, faults
}

// PriceOverruns fills TurpeOverrun on the aggregates that carry a
// measured overrun duration. Aggregates without one are left alone, as
// are flat-rule contracts, whose tariff has no overrun component.
func PriceOverruns(rules *RuleSet, aggs []billing.MonthlyAggregate) ([]billing.MonthlyAggregate, []Fault) {
	out := make([]billing.MonthlyAggregate, len(aggs))
	copy(out, aggs)

	var faults []Fault
	for i, a := range out {
		if !a.OverrunHours.Valid {
			continue
		}
		rule, err := rules.Lookup(a.FTA, a.Start)
		if err != nil {
			faults = append(faults, Fault{Ref: a.Ref, PDL: a.PDL, Start: a.Start, Err: err})
			continue
		}
		out[i].TurpeOverrun = rule.OverrunPenalty(a.OverrunHours)
	}
	return out, faults
}
