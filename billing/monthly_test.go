package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enerflux/billing-engine/billing"
)

// Note: event helpers are defined in detector_test.go.

func subPeriod(ref string, start, end billing.Day, power float64) billing.SubscriptionPeriod {
	return billing.SubscriptionPeriod{
		Ref:        billing.ContractRef(ref),
		PDL:        billing.PDL("PDL-" + ref),
		Start:      start,
		End:        end,
		DayCount:   start.DaysUntil(end),
		Power:      kva(power),
		FTA:        "BTINFCUST",
		CalendarID: billing.CalendarBase,
	}
}

func energyPeriod(ref string, start, end billing.Day, base float64, complete bool) billing.EnergyPeriod {
	p := billing.EnergyPeriod{
		Ref:          billing.ContractRef(ref),
		PDL:          billing.PDL("PDL-" + ref),
		Start:        start,
		End:          end,
		DayCount:     start.DaysUntil(end),
		FTA:          "BTINFCUST",
		CalendarID:   billing.CalendarBase,
		DataComplete: complete,
	}
	p.Energy.SetValue(billing.BandBase, decimal.NewFromFloat(base))
	return p
}

func priced(v float64) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(v), Valid: true}
}

func TestReconcileMonthly_WeightedPowerAndMemo(t *testing.T) {
	// GIVEN: February split 9 days at 6 kVA then 20 days at 9 kVA
	// WHEN: reconciling
	// THEN: one line with the day-weighted mean power and a change memo

	subs := []billing.SubscriptionPeriod{
		subPeriod("R1", day(2024, time.February, 1), day(2024, time.February, 10), 6),
		subPeriod("R1", day(2024, time.February, 10), day(2024, time.March, 1), 9),
	}

	out := billing.ReconcileMonthly(subs, nil)
	if len(out) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(out))
	}
	a := out[0]

	if a.Month != "2024-02" || a.MonthLabel != "février 2024" {
		t.Errorf("unexpected month %q / %q", a.Month, a.MonthLabel)
	}
	// (6*9 + 9*20) / 29
	want := decimal.NewFromInt(234).Div(decimal.NewFromInt(29))
	if !a.Power.Equal(want) {
		t.Errorf("expected weighted power %s, got %s", want, a.Power)
	}
	if a.SubscriptionDays != 29 || a.CoverageAbo != 1 {
		t.Errorf("expected full coverage, got %d days / %v", a.SubscriptionDays, a.CoverageAbo)
	}
	if !a.HasChangementAbo || !a.HasChangement {
		t.Error("two distinct states should flag the month as changed")
	}
	if a.Memo != "9j à 6kVA, 20j à 9kVA" {
		t.Errorf("unexpected memo %q", a.Memo)
	}
}

func TestReconcileMonthly_PartialMonth_CoverageFraction(t *testing.T) {
	subs := []billing.SubscriptionPeriod{
		subPeriod("R1", day(2024, time.January, 15), day(2024, time.February, 1), 6),
	}

	a := billing.ReconcileMonthly(subs, nil)[0]
	if a.SubscriptionDays != 17 {
		t.Fatalf("expected 17 subscription days, got %d", a.SubscriptionDays)
	}
	if a.CoverageAbo != 17.0/31.0 {
		t.Errorf("expected coverage 17/31, got %v", a.CoverageAbo)
	}
	if !a.GapAbo() {
		t.Error("partial month should report a subscription gap")
	}
	if a.HasChangementAbo || a.Memo != "" {
		t.Error("a single state is not a change")
	}
}

func TestReconcileMonthly_EnergyOnlyMonth(t *testing.T) {
	// GIVEN: a month with readings but no subscription periods
	// WHEN: reconciling
	// THEN: the line still exists, bounds come from the energy side and
	//       the fixed fee stays null rather than silently zero

	energy := []billing.EnergyPeriod{
		energyPeriod("R1", day(2024, time.April, 1), day(2024, time.May, 1), 320, true),
	}

	out := billing.ReconcileMonthly(nil, energy)
	if len(out) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(out))
	}
	a := out[0]
	if a.CoverageAbo != 0 {
		t.Errorf("expected zero subscription coverage, got %v", a.CoverageAbo)
	}
	if a.TurpeFixe.Valid {
		t.Error("no subscription basis: fixed fee must stay null")
	}
	if !a.Start.Equal(day(2024, time.April, 1)) || !a.End.Equal(day(2024, time.May, 1)) {
		t.Error("bounds should be taken from the energy side")
	}
	if a.DayCount != 30 {
		t.Errorf("day count should be recomputed from the bounds, got %d", a.DayCount)
	}
	if a.FTA != "BTINFCUST" {
		t.Error("tariff formula should coalesce from the energy side")
	}
	if a.CoverageEnergie != 1 {
		t.Errorf("expected full energy coverage, got %v", a.CoverageEnergie)
	}
}

func TestReconcileMonthly_SubscriptionOnlyMonth(t *testing.T) {
	// A contract with meter-reading gaps still yields its subscription
	// line; the energy side is flagged, never blocking.
	subs := []billing.SubscriptionPeriod{
		subPeriod("R1", day(2024, time.April, 1), day(2024, time.May, 1), 6),
	}

	a := billing.ReconcileMonthly(subs, nil)[0]
	if a.CoverageEnergie != 0 {
		t.Errorf("expected zero energy coverage, got %v", a.CoverageEnergie)
	}
	if a.DataComplete {
		t.Error("a month without energy periods is not data-complete")
	}
	if a.TurpeVariable.Valid {
		t.Error("no energy basis: variable fee must stay null")
	}
	if a.Energy.Get(billing.BandBase).Valid {
		t.Error("absent energy should stay null, not zero")
	}
}

func TestReconcileMonthly_SumsEnergyAndFlags(t *testing.T) {
	energy := []billing.EnergyPeriod{
		energyPeriod("R1", day(2024, time.February, 1), day(2024, time.February, 10), 450, true),
		energyPeriod("R1", day(2024, time.February, 10), day(2024, time.March, 1), 650, false),
	}

	a := billing.ReconcileMonthly(nil, energy)[0]
	if !a.Energy.Get(billing.BandBase).Decimal.Equal(kva(1100)) {
		t.Errorf("expected 1100 kWh, got %s", a.Energy.Get(billing.BandBase).Decimal)
	}
	if a.DataComplete {
		t.Error("one incomplete constituent makes the month incomplete")
	}
	if !a.HasChangementEnergie || !a.HasChangement {
		t.Error("two energy sub-periods should flag the month")
	}
	if a.EnergyDays != 29 || a.CoverageEnergie != 1 {
		t.Errorf("expected 29 energy days, got %d", a.EnergyDays)
	}
}

func TestReconcileMonthly_SumsPricedComponents(t *testing.T) {
	withFee := subPeriod("R1", day(2024, time.February, 1), day(2024, time.February, 10), 6)
	withFee.TurpeFixe = priced(3.5)
	alsoFee := subPeriod("R1", day(2024, time.February, 10), day(2024, time.March, 1), 9)
	alsoFee.TurpeFixe = priced(9.25)

	a := billing.ReconcileMonthly([]billing.SubscriptionPeriod{withFee, alsoFee}, nil)[0]
	if !a.TurpeFixe.Valid || !a.TurpeFixe.Decimal.Equal(decimal.NewFromFloat(12.75)) {
		t.Errorf("expected fixed fee 12.75, got %v", a.TurpeFixe)
	}
}

func TestReconcileMonthly_OrderedByRefAndMonth(t *testing.T) {
	subs := []billing.SubscriptionPeriod{
		subPeriod("R2", day(2024, time.January, 1), day(2024, time.February, 1), 6),
		subPeriod("R1", day(2024, time.February, 1), day(2024, time.March, 1), 6),
		subPeriod("R1", day(2024, time.January, 1), day(2024, time.February, 1), 6),
	}

	out := billing.ReconcileMonthly(subs, nil)
	if len(out) != 3 {
		t.Fatalf("expected 3 aggregates, got %d", len(out))
	}
	keys := []string{out[0].Key(), out[1].Key(), out[2].Key()}
	want := []string{"R1|PDL-R1|2024-01", "R1|PDL-R1|2024-02", "R2|PDL-R2|2024-01"}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], keys[i])
		}
	}
}

func TestReconcileMonthly_BothSidesPresent_SubscriptionBoundsWin(t *testing.T) {
	subs := []billing.SubscriptionPeriod{
		subPeriod("R1", day(2024, time.February, 1), day(2024, time.March, 1), 6),
	}
	energy := []billing.EnergyPeriod{
		energyPeriod("R1", day(2024, time.February, 1), day(2024, time.March, 1), 450, true),
	}

	a := billing.ReconcileMonthly(subs, energy)[0]
	if !a.Start.Equal(day(2024, time.February, 1)) || !a.End.Equal(day(2024, time.March, 1)) {
		t.Error("subscription bounds should win the coalesce")
	}
	if !a.DataComplete {
		t.Error("complete energy side should carry through")
	}
	if a.DayCount != 29 {
		t.Errorf("expected 29 days, got %d", a.DayCount)
	}
	if !a.Energy.Get(billing.BandBase).Decimal.Equal(kva(450)) {
		t.Error("energy sums should carry through")
	}
}
