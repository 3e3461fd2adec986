package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enerflux/billing-engine/accise"
	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/pipeline"
	"github.com/enerflux/billing-engine/store/sqlite"
	"github.com/enerflux/billing-engine/tariff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func day(y int, m time.Month, d int) billing.Day { return billing.NewDay(y, m, d) }

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func baseIndex(base float64) billing.BandValues {
	var v billing.BandValues
	v.SetValue(billing.BandBase, dec(base))
	return v
}

func reading(pdl string, d billing.Day, base float64) billing.MeterReading {
	return billing.MeterReading{
		PDL:        billing.PDL(pdl),
		Date:       d,
		Source:     billing.SourcePeriodicQuery,
		CalendarID: billing.CalendarBase,
		Indexes:    baseIndex(base),
	}
}

// monthLine builds one fully covered monthly line for round-trip tests.
func monthLine(ref, pdl, month string, fixe float64) billing.MonthlyAggregate {
	start, _ := billing.ParseMonthKey(month)
	a := billing.MonthlyAggregate{
		Ref:              billing.ContractRef(ref),
		PDL:              billing.PDL(pdl),
		Month:            month,
		MonthLabel:       start.MonthLabel(),
		Start:            start,
		End:              start.NextMonth(),
		DayCount:         start.DaysInMonth(),
		Power:            dec(6),
		FTA:              "BTINFCUST",
		CalendarID:       billing.CalendarBase,
		SubscriptionDays: start.DaysInMonth(),
		EnergyDays:       start.DaysInMonth(),
		CoverageAbo:      1,
		CoverageEnergie:  1,
		DataComplete:     true,
		TurpeFixe:        decimal.NewNullDecimal(dec(fixe)),
	}
	a.Energy.SetValue(billing.BandBase, dec(300))
	return a
}

func report(id string, startedAt time.Time, lines ...billing.MonthlyAggregate) *pipeline.RunReport {
	return &pipeline.RunReport{
		ID:         id,
		StartedAt:  startedAt,
		Duration:   1500 * time.Millisecond,
		EventCount: 12,
		PDLCount:   3,
		Lines:      lines,
	}
}

// =============================================================================
// PERIODIC READING SOURCE
// =============================================================================

func TestFetchIndexes_LeftJoinSemantics(t *testing.T) {
	// GIVEN: two stored readings and a request batch with a hole
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveReadings(ctx, []billing.MeterReading{
		reading("PDL001", day(2024, time.February, 1), 1170),
		reading("PDL001", day(2024, time.March, 1), 1890),
	}))

	reqs := []billing.ReadingRequest{
		{PDL: "PDL001", Date: day(2024, time.February, 1)},
		{PDL: "PDL001", Date: day(2024, time.February, 15)},
		{PDL: "PDL001", Date: day(2024, time.March, 1)},
	}

	// WHEN: fetching the batch
	rows, err := store.FetchIndexes(ctx, reqs)
	require.NoError(t, err)

	// THEN: one row per request, in order, the hole flagged Missing
	require.Len(t, rows, 3)
	assert.False(t, rows[0].Missing)
	assert.True(t, rows[0].Indexes.Get(billing.BandBase).Decimal.Equal(dec(1170)))
	assert.Equal(t, billing.SourcePeriodicQuery, rows[0].Source)
	assert.True(t, rows[1].Missing)
	assert.True(t, rows[1].Date.Equal(day(2024, time.February, 15)))
	assert.False(t, rows[2].Missing)
	assert.True(t, rows[2].Indexes.Get(billing.BandBase).Decimal.Equal(dec(1890)))
}

func TestSaveReadings_UpsertsByPDLAndDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveReadings(ctx, []billing.MeterReading{
		reading("PDL001", day(2024, time.February, 1), 1170),
	}))
	require.NoError(t, store.SaveReadings(ctx, []billing.MeterReading{
		reading("PDL001", day(2024, time.February, 1), 1200),
	}))

	rows, err := store.FetchIndexes(ctx, []billing.ReadingRequest{
		{PDL: "PDL001", Date: day(2024, time.February, 1)},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Indexes.Get(billing.BandBase).Decimal.Equal(dec(1200)))
}

// =============================================================================
// CONTRACT EVENTS
// =============================================================================

func TestEvents_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	after := baseIndex(1000)
	entry := billing.ContractEvent{
		PDL:        "PDL001",
		Ref:        "R1",
		Date:       day(2024, time.January, 15),
		Type:       billing.EventMES,
		Power:      dec(6),
		FTA:        "BTINFCUST",
		CalendarID: billing.CalendarBase,
		After:      &after,
	}
	change := billing.ContractEvent{
		PDL:        "PDL001",
		Ref:        "R1",
		Date:       day(2024, time.February, 10),
		Type:       billing.EventMCT,
		Power:      dec(36),
		TierPowers: &billing.TierPowers{HPH: dec(36), HCH: dec(38), HPB: dec(40), HCB: dec(42)},
		FTA:        "BTSUPCU4",
		CalendarID: billing.CalendarFourBand,
	}
	require.NoError(t, store.SaveEvents(ctx, []billing.ContractEvent{change, entry}))

	events, err := store.GetEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// ordered by (pdl, date, seq)
	assert.Equal(t, billing.EventMES, events[0].Type)
	assert.True(t, events[0].Power.Equal(dec(6)))
	require.NotNil(t, events[0].After)
	assert.True(t, events[0].After.Get(billing.BandBase).Decimal.Equal(dec(1000)))
	assert.Nil(t, events[0].Before)

	assert.Equal(t, billing.EventMCT, events[1].Type)
	require.NotNil(t, events[1].TierPowers)
	assert.True(t, events[1].TierPowers.HCB.Equal(dec(42)))
	assert.Equal(t, billing.CalendarFourBand, events[1].CalendarID)
}

func TestSaveEvents_UpsertKeepsOneRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := billing.ContractEvent{
		PDL: "PDL001", Ref: "R1", Date: day(2024, time.January, 15),
		Type: billing.EventMES, Power: dec(6), FTA: "BTINFCUST",
		CalendarID: billing.CalendarBase,
	}
	require.NoError(t, store.SaveEvents(ctx, []billing.ContractEvent{ev}))

	ev.Power = dec(9)
	require.NoError(t, store.SaveEvents(ctx, []billing.ContractEvent{ev}))

	events, err := store.GetEventsByPDL(ctx, "PDL001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Power.Equal(dec(9)))
}

// =============================================================================
// PRICING CATALOGS
// =============================================================================

func TestTariffRules_RoundTripThroughRuleSet(t *testing.T) {
	// GIVEN: the built-in catalog persisted to the database
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTariffRules(ctx, tariff.DefaultRules().Rules()))

	// WHEN: loading it back and rebuilding a validated set
	stored, err := store.TariffRules(ctx)
	require.NoError(t, err)
	rules, err := tariff.NewRuleSet(stored)
	require.NoError(t, err)

	// THEN: lookups behave like the built-in catalog
	flat, err := rules.Lookup("BTINFCUST", day(2025, time.January, 15))
	require.NoError(t, err)
	assert.True(t, flat.Cg.Equal(dec(16.20)))
	_, isFlat := flat.Shape.(tariff.Flat)
	assert.True(t, isFlat)

	c4, err := rules.Lookup("BTSUPCU4", day(2025, time.January, 15))
	require.NoError(t, err)
	shape, isFourTier := c4.Shape.(tariff.FourTier)
	require.True(t, isFourTier)
	assert.True(t, shape.B1.Equal(dec(15.78)))
	require.True(t, c4.CMDPS.Valid)
	assert.True(t, c4.CMDPS.Decimal.Equal(dec(12.85)))
}

func TestAcciseRates_RoundTripThroughRateSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAcciseRates(ctx, accise.DefaultRates().Rates()))

	stored, err := store.AcciseRates(ctx)
	require.NoError(t, err)
	rates, err := accise.NewRateSet(stored)
	require.NoError(t, err)

	jan24, err := rates.Lookup(day(2024, time.January, 1))
	require.NoError(t, err)
	assert.True(t, jan24.EurPerMWh.Equal(dec(1)))

	mar25, err := rates.Lookup(day(2025, time.March, 1))
	require.NoError(t, err)
	assert.True(t, mar25.EurPerMWh.Equal(dec(33.70)))
}

// =============================================================================
// RUNS AND MONTHLY LINES
// =============================================================================

func TestSaveRun_PersistsReportAndLines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rep := report("run-0001", time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC),
		monthLine("R1", "PDL001", "2025-01", 10.44),
		monthLine("R1", "PDL001", "2025-02", 9.43),
	)
	rep.Faults = []pipeline.Fault{{
		Stage: pipeline.StageTurpeFixe,
		Ref:   "R2",
		PDL:   "PDL002",
		Key:   "2025-02-01",
		Err:   tariff.ErrRuleNotFound,
	}}
	rep.Rejects = []billing.RejectedPeriod{{
		Ref: "R3", PDL: "PDL003",
		Start: day(2025, time.February, 1), End: day(2025, time.February, 1),
		Reason: "empty period",
	}}
	require.NoError(t, store.SaveRun(ctx, rep, "2025-01", "2025-02"))

	rec, err := store.GetRun(ctx, "run-0001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 12, rec.EventCount)
	assert.Equal(t, 3, rec.PDLCount)
	assert.Equal(t, 2, rec.LineCount)
	assert.Equal(t, 1, rec.FaultCount)
	assert.Equal(t, 1, rec.RejectCount)
	assert.Equal(t, "2025-01", rec.FromMonth)
	assert.Equal(t, "2025-02", rec.ToMonth)
	assert.Equal(t, 1500*time.Millisecond, rec.Duration)
	require.Len(t, rec.Faults, 1)
	assert.Equal(t, pipeline.StageTurpeFixe, rec.Faults[0].Stage)
	assert.Equal(t, "no tariff rule matches", rec.Faults[0].Error)
	require.Len(t, rec.Rejects, 1)
	assert.Equal(t, "empty period", rec.Rejects[0].Reason)

	lines, err := store.GetLinesByRun(ctx, "run-0001")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "2025-01", lines[0].Month)
	require.True(t, lines[0].TurpeFixe.Valid)
	assert.True(t, lines[0].TurpeFixe.Decimal.Equal(dec(10.44)))
	assert.False(t, lines[0].Accise.Valid, "unpriced components stay null")
	assert.True(t, lines[0].Energy.Get(billing.BandBase).Decimal.Equal(dec(300)))
	assert.InDelta(t, 1.0, lines[0].CoverageAbo, 1e-9)
	assert.True(t, lines[0].DataComplete)
}

func TestGetLinesByPDL_LatestRunWins(t *testing.T) {
	// GIVEN: two runs priced the same month with different results
	store := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx,
		report("run-0001", t0, monthLine("R1", "PDL001", "2025-01", 10.44)), "", ""))
	require.NoError(t, store.SaveRun(ctx,
		report("run-0002", t0.Add(time.Minute),
			monthLine("R1", "PDL001", "2025-01", 11.02),
			monthLine("R1", "PDL001", "2025-02", 9.43)), "", ""))

	// WHEN: reading the delivery point's lines
	lines, err := store.GetLinesByPDL(ctx, "PDL001", "", "")
	require.NoError(t, err)

	// THEN: only the latest run answers
	require.Len(t, lines, 2)
	assert.True(t, lines[0].TurpeFixe.Decimal.Equal(dec(11.02)))

	// AND: month bounds narrow the answer
	bounded, err := store.GetLinesByPDL(ctx, "PDL001", "2025-02", "2025-02")
	require.NoError(t, err)
	require.Len(t, bounded, 1)
	assert.Equal(t, "2025-02", bounded[0].Month)
}

func TestGetRun_Unknown_ReturnsNil(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetRuns_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, report("run-0001", t0), "", ""))
	require.NoError(t, store.SaveRun(ctx, report("run-0002", t0.Add(time.Minute)), "", ""))

	runs, err := store.GetRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-0002", runs[0].ID)
	assert.Equal(t, "run-0001", runs[1].ID)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestReset_WipesEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveReadings(ctx, []billing.MeterReading{
		reading("PDL001", day(2024, time.February, 1), 1170),
	}))
	require.NoError(t, store.SaveEvents(ctx, []billing.ContractEvent{{
		PDL: "PDL001", Ref: "R1", Date: day(2024, time.January, 15),
		Type: billing.EventMES, Power: dec(6), FTA: "BTINFCUST",
	}}))
	require.NoError(t, store.SaveRun(ctx,
		report("run-0001", time.Now(), monthLine("R1", "PDL001", "2024-01", 4.43)), "", ""))

	require.NoError(t, store.Reset(ctx))

	events, err := store.GetEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	runs, err := store.GetRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	rows, err := store.FetchIndexes(ctx, []billing.ReadingRequest{
		{PDL: "PDL001", Date: day(2024, time.February, 1)},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Missing)
}
