/*
variable.go - Variable consumption fee

PURPOSE:
  Prices the energy of one period: for each active cadran,
  energy_kWh * rate_c€ (rates are published in hundredths of a euro
  per kWh), summed and converted to euros, rounded to the centime.

  The meter calendar decides which cadrans are active (BASE; HP/HC;
  or the four seasonal cadrans). For an unknown calendar the rule's
  own rate cells decide instead. Either way a cadran contributes only
  when both its energy and its rate are present, so a rolled-up BASE
  total is never double-counted against seasonal cadrans.
*/
package tariff

import (
	"github.com/enerflux/billing-engine/billing"
	"github.com/shopspring/decimal"
)

// VariableFor prices a period's energy under the rule, in euros.
// Absent cadrans contribute nothing; a period with no priceable
// cadran at all comes out as 0.00.
func (r Rule) VariableFor(calendarID string, energy billing.BandValues) decimal.Decimal {
	bands, ok := billing.BandsForCalendar(calendarID)
	if !ok {
		bands = billing.AllBands
	}

	total := decimal.Zero
	for _, band := range bands {
		e := energy.Get(band)
		rate := r.Rates.Get(band)
		if !e.Valid || !rate.Valid {
			continue
		}
		total = total.Add(e.Decimal.Mul(rate.Decimal))
	}
	return total.Div(cents).Round(2)
}
