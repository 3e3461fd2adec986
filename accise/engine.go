/*
engine.go - Excise pricing over monthly aggregates

PURPOSE:
  amount = round2(total_kWh / 1000 * rate). The consumption basis is
  the rolled-up BASE total of the month; a month without any energy
  data keeps a null excise, which the coverage flags already explain.
  A month with a basis but no covering rate is a recorded fault.
*/
package accise

import (
	"fmt"

	"github.com/enerflux/billing-engine/billing"
	"github.com/shopspring/decimal"
)

var kWhPerMWh = decimal.NewFromInt(1000)

// Fault records one excise pricing failure.
type Fault struct {
	Ref   billing.ContractRef
	PDL   billing.PDL
	Month string
	Err   error
}

func (f Fault) String() string {
	return fmt.Sprintf("%s %s %s: %v", f.Ref, f.PDL, f.Month, f.Err)
}

// PriceMonthly fills Accise on each aggregate carrying an energy
// basis. Pure: returns a priced copy plus the rows it could not price.
func PriceMonthly(rates *RateSet, aggs []billing.MonthlyAggregate) ([]billing.MonthlyAggregate, []Fault) {
	out := make([]billing.MonthlyAggregate, len(aggs))
	copy(out, aggs)

	var faults []Fault
	for i, a := range out {
		basis := a.Energy.Get(billing.BandBase)
		if !basis.Valid {
			continue
		}

		month, err := billing.ParseMonthKey(a.Month)
		if err != nil {
			faults = append(faults, Fault{Ref: a.Ref, PDL: a.PDL, Month: a.Month, Err: err})
			continue
		}
		rate, err := rates.Lookup(month)
		if err != nil {
			faults = append(faults, Fault{Ref: a.Ref, PDL: a.PDL, Month: a.Month, Err: err})
			continue
		}

		amount := basis.Decimal.Div(kWhPerMWh).Mul(rate.EurPerMWh).Round(2)
		out[i].Accise = decimal.NewNullDecimal(amount)
	}
	return out, faults
}
