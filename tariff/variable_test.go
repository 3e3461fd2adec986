package tariff_test

import (
	"testing"
	"time"

	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/tariff"
)

// Note: day, dec, bands, testRules are defined in rule_test.go,
// mustLookup in fixed_test.go.

func TestVariableFor_FourCadranCalendar(t *testing.T) {
	// GIVEN: seasonal energies 300/200/150/100 kWh under the BTINFCU4
	//        rates 6.67/4.56/1.43/0.88 c€/kWh
	// WHEN: pricing the period
	// THEN: 20.01 + 9.12 + 2.145 + 0.88 = 32.155, rounded to 32.16

	rule := mustLookup(t, testRules(t), "BTINFCU4", day(2024, time.January, 1))
	energy := bands(
		billing.BandHPH, 300.0,
		billing.BandHCH, 200.0,
		billing.BandHPB, 150.0,
		billing.BandHCB, 100.0,
	)

	got := rule.VariableFor(billing.CalendarFourBand, energy)
	if !got.Equal(dec(32.16)) {
		t.Errorf("expected 32.16, got %s", got)
	}
}

func TestVariableFor_BaseCalendar(t *testing.T) {
	rule := mustLookup(t, testRules(t), "BTINFCUST", day(2024, time.January, 1))
	energy := bands(billing.BandBase, 500.0)

	got := rule.VariableFor(billing.CalendarBase, energy)
	if !got.Equal(dec(21.85)) {
		t.Errorf("expected 500 * 4.37 / 100 = 21.85, got %s", got)
	}
}

func TestVariableFor_CalendarRestrictsCadrans(t *testing.T) {
	// A peak/off-peak meter priced under a BASE-only rule: the active
	// cadrans have no rate, so nothing is priced.
	rule := mustLookup(t, testRules(t), "BTINFCUST", day(2024, time.January, 1))
	energy := bands(
		billing.BandHP, 500.0,
		billing.BandHC, 500.0,
		billing.BandBase, 1000.0, // rolled-up total
	)

	got := rule.VariableFor(billing.CalendarPeakOffPeak, energy)
	if !got.IsZero() {
		t.Errorf("inactive cadrans must not be priced, got %s", got)
	}
}

func TestVariableFor_UnknownCalendar_RuleRatesDecide(t *testing.T) {
	rule := mustLookup(t, testRules(t), "BTINFCUST", day(2024, time.January, 1))
	energy := bands(billing.BandBase, 1000.0)

	got := rule.VariableFor("DI999999", energy)
	if !got.Equal(dec(43.70)) {
		t.Errorf("expected 43.70, got %s", got)
	}
}

func TestVariableFor_RolledTotalsNotDoubleCounted(t *testing.T) {
	// Period energies carry the seasonal cadrans plus their rolled-up
	// HP/HC/BASE totals. Only the calendar's cadrans may price.
	rule := mustLookup(t, testRules(t), "BTINFCU4", day(2024, time.January, 1))
	energy := bands(
		billing.BandHPH, 300.0,
		billing.BandHCH, 200.0,
		billing.BandHPB, 150.0,
		billing.BandHCB, 100.0,
		billing.BandHP, 450.0,
		billing.BandHC, 300.0,
		billing.BandBase, 750.0,
	)

	got := rule.VariableFor(billing.CalendarFourBand, energy)
	if !got.Equal(dec(32.16)) {
		t.Errorf("rolled totals leaked into pricing: got %s, expected 32.16", got)
	}
}

func TestVariableFor_MissingEnergy_ContributesNothing(t *testing.T) {
	rule := mustLookup(t, testRules(t), "BTINFCU4", day(2024, time.January, 1))
	energy := bands(billing.BandHPH, 300.0) // other cadrans never read

	got := rule.VariableFor(billing.CalendarFourBand, energy)
	if !got.Equal(dec(20.01)) {
		t.Errorf("expected 300 * 6.67 / 100 = 20.01, got %s", got)
	}
}

func TestVariableFor_PeakOffPeakCalendar(t *testing.T) {
	// GIVEN: HP/HC energies 350/310 kWh under the BTINFMUDT rates
	//        4.97/3.07 c€/kWh
	// WHEN: pricing the period
	// THEN: 17.395 + 9.517 = 26.912, rounded to 26.91

	rule := mustLookup(t, tariff.DefaultRules(), "BTINFMUDT", day(2024, time.October, 5))
	energy := bands(
		billing.BandHP, 350.0,
		billing.BandHC, 310.0,
		billing.BandBase, 660.0, // rolled-up total
	)

	got := rule.VariableFor(billing.CalendarPeakOffPeak, energy)
	if !got.Equal(dec(26.91)) {
		t.Errorf("expected 26.91, got %s", got)
	}
}
