/*
catalog.go - Built-in versioned TURPE rule table

PURPOSE:
  Ships the reference rules for the supported tariff formula codes so
  the engine prices out of the box. Deployments with their own
  reference data load rules through a RuleSource instead.

CODES:
  BTINFCUST  - BT <= 36 kVA, single BASE cadran (flat fixed fee)
  BTINFMUDT  - BT <= 36 kVA, medium use, HP/HC cadrans
  BTINFCU4   - BT <= 36 kVA, short use, four seasonal cadrans
  BTINFMU4   - BT <= 36 kVA, medium use, four seasonal cadrans
  BTINFCUMP  - BT <= 36 kVA, short use with mobile peak
  BTSUPCUST  - BT > 36 kVA, single BASE cadran, 4-tier powers
  BTSUPCU4   - BT > 36 kVA, four seasonal cadrans, 4-tier powers

VERSIONS:
  v1: 2023-08-01 to 2024-11-01
  v2: 2024-11-01, open-ended

  BT > 36 kVA codes carry the four seasonal power coefficients and the
  CMDPS overrun rate; BT <= 36 codes are flat and have none.

SEE ALSO:
  - rule.go: Rule and RuleSet
  - accise/rates.go: the excise counterpart
*/
package tariff

import (
	"time"

	"github.com/enerflux/billing-engine/billing"
	"github.com/shopspring/decimal"
)

// DefaultRules returns the built-in rule table.
func DefaultRules() *RuleSet {
	set, err := NewRuleSet(builtinRules())
	if err != nil {
		// The built-in table is validated by its own tests; reaching
		// this is a programming error.
		panic(err)
	}
	return set
}

func builtinRules() []Rule {
	var (
		v1Start = billing.NewDay(2023, time.August, 1)
		v2Start = billing.NewDay(2024, time.November, 1)
	)

	return []Rule{
		// =====================================================================
		// VERSION 1 - 2023-08-01 to 2024-11-01
		// =====================================================================
		{
			FTA: "BTINFCUST", Start: v1Start, End: v2Start,
			Cg: dec(15.48), Cc: dec(19.92),
			Shape: Flat{B: dec(9.96)},
			Rates: baseRate(4.37),
		},
		{
			FTA: "BTINFMUDT", Start: v1Start, End: v2Start,
			Cg: dec(15.48), Cc: dec(19.92),
			Shape: Flat{B: dec(10.80)},
			Rates: dualRates(4.97, 3.07),
		},
		{
			FTA: "BTINFCU4", Start: v1Start, End: v2Start,
			Cg: dec(15.48), Cc: dec(19.92),
			Shape: Flat{B: dec(9.00)},
			Rates: seasonRates(6.67, 4.56, 1.43, 0.88),
		},
		{
			FTA: "BTINFMU4", Start: v1Start, End: v2Start,
			Cg: dec(15.48), Cc: dec(19.92),
			Shape: Flat{B: dec(10.56)},
			Rates: seasonRates(6.12, 4.24, 1.39, 0.87),
		},
		{
			FTA: "BTINFCUMP", Start: v1Start, End: v2Start,
			Cg: dec(15.48), Cc: dec(19.92),
			Shape: Flat{B: dec(12.24)},
			Rates: seasonRates(6.89, 4.68, 1.47, 0.90),
		},
		{
			FTA: "BTSUPCUST", Start: v1Start, End: v2Start,
			Cg: dec(37.80), Cc: dec(55.32),
			Shape: FourTier{B1: dec(17.61), B2: dec(15.96), B3: dec(13.02), B4: dec(12.55)},
			Rates: baseRate(3.71),
			CMDPS: overrunRate(12.41),
		},
		{
			FTA: "BTSUPCU4", Start: v1Start, End: v2Start,
			Cg: dec(37.80), Cc: dec(55.32),
			Shape: FourTier{B1: dec(15.24), B2: dec(13.87), B3: dec(11.55), B4: dec(10.14)},
			Rates: seasonRates(6.91, 4.21, 2.13, 1.52),
			CMDPS: overrunRate(12.41),
		},

		// =====================================================================
		// VERSION 2 - from 2024-11-01, current
		// =====================================================================
		{
			FTA: "BTINFCUST", Start: v2Start,
			Cg: dec(16.20), Cc: dec(20.88),
			Shape: Flat{B: dec(10.44)},
			Rates: baseRate(4.58),
		},
		{
			FTA: "BTINFMUDT", Start: v2Start,
			Cg: dec(16.20), Cc: dec(20.88),
			Shape: Flat{B: dec(11.28)},
			Rates: dualRates(5.18, 3.21),
		},
		{
			FTA: "BTINFCU4", Start: v2Start,
			Cg: dec(16.20), Cc: dec(20.88),
			Shape: Flat{B: dec(9.36)},
			Rates: seasonRates(6.96, 4.76, 1.49, 0.92),
		},
		{
			FTA: "BTINFMU4", Start: v2Start,
			Cg: dec(16.20), Cc: dec(20.88),
			Shape: Flat{B: dec(8.40)},
			Rates: seasonRates(6.39, 4.43, 1.45, 0.91),
		},
		{
			FTA: "BTINFCUMP", Start: v2Start,
			Cg: dec(16.20), Cc: dec(20.88),
			Shape: Flat{B: dec(12.96)},
			Rates: seasonRates(7.12, 4.84, 1.53, 0.94),
		},
		{
			FTA: "BTSUPCUST", Start: v2Start,
			Cg: dec(39.12), Cc: dec(57.24),
			Shape: FourTier{B1: dec(18.24), B2: dec(16.52), B3: dec(13.48), B4: dec(12.99)},
			Rates: baseRate(3.84),
			CMDPS: overrunRate(12.85),
		},
		{
			FTA: "BTSUPCU4", Start: v2Start,
			Cg: dec(39.12), Cc: dec(57.24),
			Shape: FourTier{B1: dec(15.78), B2: dec(14.36), B3: dec(11.96), B4: dec(10.50)},
			Rates: seasonRates(7.15, 4.36, 2.21, 1.57),
			CMDPS: overrunRate(12.85),
		},
	}
}

// =============================================================================
// LITERAL HELPERS
// =============================================================================

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func overrunRate(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(v))
}

// baseRate builds the rate cells of a single-cadran rule.
func baseRate(base float64) billing.BandValues {
	var rates billing.BandValues
	rates.SetValue(billing.BandBase, dec(base))
	return rates
}

// dualRates builds the rate cells of an HP/HC rule.
func dualRates(hp, hc float64) billing.BandValues {
	var rates billing.BandValues
	rates.SetValue(billing.BandHP, dec(hp))
	rates.SetValue(billing.BandHC, dec(hc))
	return rates
}

// seasonRates builds the rate cells of a four-cadran rule, in the
// order winter peak, winter off-peak, summer peak, summer off-peak.
func seasonRates(hph, hch, hpb, hcb float64) billing.BandValues {
	var rates billing.BandValues
	rates.SetValue(billing.BandHPH, dec(hph))
	rates.SetValue(billing.BandHCH, dec(hch))
	rates.SetValue(billing.BandHPB, dec(hpb))
	rates.SetValue(billing.BandHCB, dec(hcb))
	return rates
}
