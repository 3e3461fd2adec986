/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates contract events,
	meter readings and the reference tables for one delivery point.

AVAILABLE SCENARIOS:

	residential-base:     C5 BASE supply, power change mid-life
	dual-band-heating:    C5 HP/HC supply across a tariff version change
	four-tier-industrial: C4 supply with tiered powers and 4 cadrans
	gappy-coverage:       C5 supply with no periodic readings stored

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the TURPE and accise reference tables
 3. Save the scenario's contract events
 4. Save the scenario's periodic meter readings

USAGE VIA API:

	POST /api/v1/scenarios/load
	{"scenario_id": "residential-base"}

	POST /api/v1/demo/seed loads every contract at once.

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: TriggerRun prices whatever is loaded
  - cmd/billrun/main.go: -seed flag
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enerflux/billing-engine/accise"
	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/store/sqlite"
	"github.com/enerflux/billing-engine/tariff"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "residential-base",
		Name:        "Residential BASE",
		Description: "Single-cadran 6 kVA supply, upgraded to 9 kVA mid-contract",
		Category:    "c5",
	},
	{
		ID:          "dual-band-heating",
		Name:        "Dual-Band Heating",
		Description: "HP/HC supply wintering across the 2024 tariff version change",
		Category:    "c5",
	},
	{
		ID:          "four-tier-industrial",
		Name:        "Four-Tier Industrial",
		Description: "C4 supply with seasonal tier powers, 4 cadrans and overrun pricing",
		Category:    "c4",
	},
	{
		ID:          "gappy-coverage",
		Name:        "Gappy Coverage",
		Description: "Supply without stored periodic readings; lines flagged incomplete",
		Category:    "c5",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.currentScenario})
}

// LoadScenario resets the database and loads one scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "residential-base":
		err = h.loadScenario(ctx, residentialBaseData)
	case "dual-band-heating":
		err = h.loadScenario(ctx, dualBandData)
	case "four-tier-industrial":
		err = h.loadScenario(ctx, fourTierData)
	case "gappy-coverage":
		err = h.loadScenario(ctx, gappyCoverageData)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario_id": req.ScenarioID})
}

// SeedDemo resets the database and loads every scenario contract at once.
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	if err := Seed(r.Context(), h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}

	h.currentScenario = "demo-portfolio"
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario_id": "demo-portfolio"})
}

// =============================================================================
// LOADERS
// =============================================================================

type scenarioData func() ([]billing.ContractEvent, []billing.MeterReading)

func (h *Handler) loadScenario(ctx context.Context, data scenarioData) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if err := seedCatalogs(ctx, h.Store); err != nil {
		return err
	}
	events, readings := data()
	if err := h.Store.SaveEvents(ctx, events); err != nil {
		return err
	}
	return h.Store.SaveReadings(ctx, readings)
}

// Seed resets the store and loads the full demo portfolio: the
// reference tables plus every scenario contract.
func Seed(ctx context.Context, store *sqlite.Store) error {
	if err := store.Reset(ctx); err != nil {
		return err
	}
	if err := seedCatalogs(ctx, store); err != nil {
		return err
	}
	for _, data := range []scenarioData{
		residentialBaseData, dualBandData, fourTierData, gappyCoverageData,
	} {
		events, readings := data()
		if err := store.SaveEvents(ctx, events); err != nil {
			return err
		}
		if err := store.SaveReadings(ctx, readings); err != nil {
			return err
		}
	}
	return nil
}

func seedCatalogs(ctx context.Context, store *sqlite.Store) error {
	if err := store.SaveTariffRules(ctx, tariff.DefaultRules().Rules()); err != nil {
		return err
	}
	return store.SaveAcciseRates(ctx, accise.DefaultRates().Rates())
}

// =============================================================================
// SCENARIO DATA
// =============================================================================

// residentialBaseData is a 6 kVA BASE supply entering mid-January,
// upgraded to 9 kVA in February and resiliated in March.
func residentialBaseData() ([]billing.ContractEvent, []billing.MeterReading) {
	const pdl, ref = "PDL00000000001", "CTR-2024-001"

	events := []billing.ContractEvent{
		{
			PDL: pdl, Ref: ref,
			Date:       billing.NewDay(2024, time.January, 15),
			Type:       billing.EventMES,
			Power:      decimal.NewFromInt(6),
			FTA:        "BTINFCUST",
			CalendarID: billing.CalendarBase,
			After:      snapshot(map[billing.Band]int64{billing.BandBase: 1000}),
		},
		{
			PDL: pdl, Ref: ref,
			Date:       billing.NewDay(2024, time.February, 10),
			Type:       billing.EventMCT,
			Power:      decimal.NewFromInt(9),
			FTA:        "BTINFCUST",
			CalendarID: billing.CalendarBase,
		},
		{
			PDL: pdl, Ref: ref,
			Date:       billing.NewDay(2024, time.March, 20),
			Type:       billing.EventRES,
			Power:      decimal.NewFromInt(9),
			FTA:        "BTINFCUST",
			CalendarID: billing.CalendarBase,
			Before:     snapshot(map[billing.Band]int64{billing.BandBase: 2450}),
		},
	}

	readings := []billing.MeterReading{
		reading(pdl, billing.NewDay(2024, time.February, 1), billing.CalendarBase,
			map[billing.Band]int64{billing.BandBase: 1170}),
		reading(pdl, billing.NewDay(2024, time.March, 1), billing.CalendarBase,
			map[billing.Band]int64{billing.BandBase: 1890}),
	}

	return events, readings
}

// dualBandData is a 9 kVA HP/HC supply running from October 2024 to
// January 2025, so its months straddle a TURPE version boundary.
func dualBandData() ([]billing.ContractEvent, []billing.MeterReading) {
	const pdl, ref = "PDL00000000002", "CTR-2024-002"

	events := []billing.ContractEvent{
		{
			PDL: pdl, Ref: ref,
			Date:       billing.NewDay(2024, time.October, 5),
			Type:       billing.EventCFNE,
			Power:      decimal.NewFromInt(9),
			FTA:        "BTINFMUDT",
			CalendarID: billing.CalendarPeakOffPeak,
			After:      snapshot(map[billing.Band]int64{billing.BandHP: 12000, billing.BandHC: 8000}),
		},
		{
			PDL: pdl, Ref: ref,
			Date:       billing.NewDay(2025, time.January, 12),
			Type:       billing.EventCFNS,
			Power:      decimal.NewFromInt(9),
			FTA:        "BTINFMUDT",
			CalendarID: billing.CalendarPeakOffPeak,
			Before:     snapshot(map[billing.Band]int64{billing.BandHP: 13550, billing.BandHC: 9470}),
		},
	}

	readings := []billing.MeterReading{
		reading(pdl, billing.NewDay(2024, time.November, 1), billing.CalendarPeakOffPeak,
			map[billing.Band]int64{billing.BandHP: 12350, billing.BandHC: 8310}),
		reading(pdl, billing.NewDay(2024, time.December, 1), billing.CalendarPeakOffPeak,
			map[billing.Band]int64{billing.BandHP: 12780, billing.BandHC: 8700}),
		reading(pdl, billing.NewDay(2025, time.January, 1), billing.CalendarPeakOffPeak,
			map[billing.Band]int64{billing.BandHP: 13320, billing.BandHC: 9210}),
	}

	return events, readings
}

// fourTierData is a C4 supply with seasonal tier powers and the four
// seasonal cadrans, active January and February 2024.
func fourTierData() ([]billing.ContractEvent, []billing.MeterReading) {
	const pdl, ref = "PDL00000000003", "CTR-2024-003"

	tiers := &billing.TierPowers{
		HPH: decimal.NewFromInt(36),
		HCH: decimal.NewFromInt(38),
		HPB: decimal.NewFromInt(40),
		HCB: decimal.NewFromInt(42),
	}

	events := []billing.ContractEvent{
		{
			PDL: pdl, Ref: ref,
			Date:       billing.NewDay(2024, time.January, 1),
			Type:       billing.EventMES,
			Power:      decimal.NewFromInt(36),
			TierPowers: tiers,
			FTA:        "BTSUPCU4",
			CalendarID: billing.CalendarFourBand,
			After: snapshot(map[billing.Band]int64{
				billing.BandHPH: 5000, billing.BandHCH: 3000,
				billing.BandHPB: 2000, billing.BandHCB: 1000,
			}),
		},
		{
			PDL: pdl, Ref: ref,
			Date:       billing.NewDay(2024, time.February, 25),
			Type:       billing.EventRES,
			Power:      decimal.NewFromInt(36),
			TierPowers: tiers,
			FTA:        "BTSUPCU4",
			CalendarID: billing.CalendarFourBand,
			Before: snapshot(map[billing.Band]int64{
				billing.BandHPH: 5600, billing.BandHCH: 3350,
				billing.BandHPB: 2150, billing.BandHCB: 1080,
			}),
		},
	}

	readings := []billing.MeterReading{
		reading(pdl, billing.NewDay(2024, time.February, 1), billing.CalendarFourBand,
			map[billing.Band]int64{
				billing.BandHPH: 5400, billing.BandHCH: 3200,
				billing.BandHPB: 2100, billing.BandHCB: 1050,
			}),
	}

	return events, readings
}

// gappyCoverageData is a BASE supply whose periodic readings never
// arrived. Interior months cannot compute energy deltas, so their lines
// keep null accise and are flagged incomplete.
func gappyCoverageData() ([]billing.ContractEvent, []billing.MeterReading) {
	const pdl, ref = "PDL00000000004", "CTR-2024-004"

	events := []billing.ContractEvent{
		{
			PDL: pdl, Ref: ref,
			Date:       billing.NewDay(2024, time.March, 10),
			Type:       billing.EventMES,
			Power:      decimal.NewFromInt(6),
			FTA:        "BTINFCUST",
			CalendarID: billing.CalendarBase,
			After:      snapshot(map[billing.Band]int64{billing.BandBase: 500}),
		},
		{
			PDL: pdl, Ref: ref,
			Date:       billing.NewDay(2024, time.May, 20),
			Type:       billing.EventRES,
			Power:      decimal.NewFromInt(6),
			FTA:        "BTINFCUST",
			CalendarID: billing.CalendarBase,
			Before:     snapshot(map[billing.Band]int64{billing.BandBase: 1480}),
		},
	}

	return events, nil
}

// =============================================================================
// DATA BUILDERS
// =============================================================================

func snapshot(values map[billing.Band]int64) *billing.BandValues {
	var v billing.BandValues
	for band, idx := range values {
		v.SetValue(band, decimal.NewFromInt(idx))
	}
	return &v
}

func reading(pdl string, date billing.Day, calendarID string, values map[billing.Band]int64) billing.MeterReading {
	return billing.MeterReading{
		PDL:        billing.PDL(pdl),
		Date:       date,
		Source:     billing.SourcePeriodicQuery,
		CalendarID: calendarID,
		Indexes:    *snapshot(values),
	}
}
