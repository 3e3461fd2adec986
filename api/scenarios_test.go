/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state and
	that a run over it produces the reference amounts:
	- Reference tables are seeded
	- Contract events and readings land in the store
	- Priced lines match the hand-computed TURPE and accise values

These tests double as integration tests over store, pipeline and API.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/enerflux/billing-engine/billing"
)

func TestSeed_LoadsPortfolio(t *testing.T) {
	// GIVEN: An empty store
	handler := setupTestHandler(t)
	ctx := context.Background()

	// WHEN: Seeding the demo portfolio
	if err := Seed(ctx, handler.Store); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	// THEN: Events, readings and both reference tables are stored
	events, err := handler.Store.GetEvents(ctx)
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(events) != 9 {
		t.Errorf("Expected 9 events, got %d", len(events))
	}

	rules, err := handler.Store.TariffRules(ctx)
	if err != nil {
		t.Fatalf("Failed to list tariff rules: %v", err)
	}
	if len(rules) != 14 {
		t.Errorf("Expected 14 tariff rule versions, got %d", len(rules))
	}

	rates, err := handler.Store.AcciseRates(ctx)
	if err != nil {
		t.Fatalf("Failed to list accise rates: %v", err)
	}
	if len(rates) != 3 {
		t.Errorf("Expected 3 accise rate versions, got %d", len(rates))
	}

	rows, err := handler.Store.FetchIndexes(ctx, []billing.ReadingRequest{
		{PDL: "PDL00000000001", Date: billing.NewDay(2024, time.February, 1)},
	})
	if err != nil {
		t.Fatalf("Failed to fetch indexes: %v", err)
	}
	if len(rows) != 1 || rows[0].Missing {
		t.Errorf("Expected the February reading stored, got %+v", rows)
	}
}

func TestScenario_ResidentialBase(t *testing.T) {
	// GIVEN: The residential BASE scenario
	handler := setupTestHandler(t)
	router := NewRouter(handler, nil)

	if err := handler.loadScenario(context.Background(), residentialBaseData); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	// WHEN: Running it
	w := doRequest(t, router, http.MethodPost, "/api/v1/runs", TriggerRunRequest{})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var run RunDetailDTO
	decodeJSON(t, w, &run)

	// THEN: The three contract-months carry the reference amounts
	if len(run.Lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(run.Lines))
	}

	jan := findLineDTO(t, run.Lines, "CTR-2024-001", "2024-01")
	wantAmount(t, "jan turpe_fixe", jan.TurpeFixe, "4.43")
	wantAmount(t, "jan turpe_variable", jan.TurpeVariable, "7.43")
	wantAmount(t, "jan accise", jan.Accise, "0.17")
	if jan.CoverageAbo >= 1 {
		t.Errorf("Expected a coverage gap before the mid-January entry, got %f", jan.CoverageAbo)
	}

	mar := findLineDTO(t, run.Lines, "CTR-2024-001", "2024-03")
	wantAmount(t, "mar turpe_fixe", mar.TurpeFixe, "6.51")
	wantAmount(t, "mar turpe_variable", mar.TurpeVariable, "24.47")
	wantAmount(t, "mar accise", mar.Accise, "11.76")
}

func TestScenario_DualBand_CrossesTariffVersions(t *testing.T) {
	// GIVEN: The HP/HC contract running October 2024 to January 2025
	handler := setupTestHandler(t)
	router := NewRouter(handler, nil)

	if err := handler.loadScenario(context.Background(), dualBandData); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	// WHEN: Running it
	w := doRequest(t, router, http.MethodPost, "/api/v1/runs", TriggerRunRequest{})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var run RunDetailDTO
	decodeJSON(t, w, &run)

	if len(run.Lines) != 4 {
		t.Fatalf("Expected 4 lines, got %d", len(run.Lines))
	}
	if len(run.Faults) != 0 {
		t.Fatalf("Expected no faults, got %v", run.Faults)
	}

	// THEN: October prices under v1, November onwards under v2
	oct := findLineDTO(t, run.Lines, "CTR-2024-002", "2024-10")
	wantAmount(t, "oct turpe_fixe", oct.TurpeFixe, "9.81")
	wantAmount(t, "oct turpe_variable", oct.TurpeVariable, "26.91")
	wantAmount(t, "oct accise", oct.Accise, "13.86")

	nov := findLineDTO(t, run.Lines, "CTR-2024-002", "2024-11")
	wantAmount(t, "nov turpe_fixe", nov.TurpeFixe, "11.39")
	wantAmount(t, "nov turpe_variable", nov.TurpeVariable, "34.79")

	dec := findLineDTO(t, run.Lines, "CTR-2024-002", "2024-12")
	wantAmount(t, "dec turpe_fixe", dec.TurpeFixe, "11.77")
	wantAmount(t, "dec turpe_variable", dec.TurpeVariable, "44.34")
	wantAmount(t, "dec accise", dec.Accise, "22.05")

	jan := findLineDTO(t, run.Lines, "CTR-2024-002", "2025-01")
	wantAmount(t, "jan turpe_fixe", jan.TurpeFixe, "4.18")
	wantAmount(t, "jan turpe_variable", jan.TurpeVariable, "20.26")
	wantAmount(t, "jan accise", jan.Accise, "10.29")

	for _, l := range run.Lines {
		if !l.DataComplete {
			t.Errorf("Expected complete data for %s, readings cover every cutover", l.Month)
		}
	}
}

func TestScenario_GappyCoverage_IncompleteLines(t *testing.T) {
	// GIVEN: The contract without stored periodic readings
	handler := setupTestHandler(t)
	router := NewRouter(handler, nil)

	if err := handler.loadScenario(context.Background(), gappyCoverageData); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	// WHEN: Running it
	w := doRequest(t, router, http.MethodPost, "/api/v1/runs", TriggerRunRequest{})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var run RunDetailDTO
	decodeJSON(t, w, &run)

	// THEN: The fixed fee still prices, energy stays unresolved
	if len(run.Lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(run.Lines))
	}
	if len(run.Faults) != 0 {
		t.Fatalf("Missing readings are gaps, not faults; got %v", run.Faults)
	}

	mar := findLineDTO(t, run.Lines, "CTR-2024-004", "2024-03")
	wantAmount(t, "mar turpe_fixe", mar.TurpeFixe, "5.74")
	apr := findLineDTO(t, run.Lines, "CTR-2024-004", "2024-04")
	wantAmount(t, "apr turpe_fixe", apr.TurpeFixe, "7.82")
	may := findLineDTO(t, run.Lines, "CTR-2024-004", "2024-05")
	wantAmount(t, "may turpe_fixe", may.TurpeFixe, "4.95")

	for _, l := range run.Lines {
		if l.DataComplete {
			t.Errorf("Expected incomplete data in %s without readings", l.Month)
		}
		if l.Accise != nil {
			t.Errorf("Expected null accise in %s without an energy basis, got %s", l.Month, *l.Accise)
		}
		if l.EnergyKWh != nil {
			t.Errorf("Expected no energy deltas in %s, got %v", l.Month, l.EnergyKWh)
		}
	}

	if apr.CoverageAbo != 1 {
		t.Errorf("Expected full April subscription coverage, got %f", apr.CoverageAbo)
	}
	if mar.CoverageAbo >= 1 {
		t.Errorf("Expected a March gap before the entry, got %f", mar.CoverageAbo)
	}
}

func TestLoadScenario_TracksCurrent(t *testing.T) {
	handler := setupTestHandler(t)
	router := NewRouter(handler, nil)

	w := doRequest(t, router, http.MethodPost, "/api/v1/scenarios/load",
		LoadScenarioRequest{ScenarioID: "residential-base"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/scenarios/current", nil)
	var current map[string]string
	decodeJSON(t, w, &current)
	if current["scenario_id"] != "residential-base" {
		t.Errorf("Expected residential-base current, got %q", current["scenario_id"])
	}

	events, err := handler.Store.GetEvents(context.Background())
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("Expected 3 events, got %d", len(events))
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/scenarios/load",
		LoadScenarioRequest{ScenarioID: "does-not-exist"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 on an unknown scenario, got %d", w.Code)
	}
}

func TestListScenarios(t *testing.T) {
	handler := setupTestHandler(t)
	router := NewRouter(handler, nil)

	w := doRequest(t, router, http.MethodGet, "/api/v1/scenarios", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var list []ScenarioDTO
	decodeJSON(t, w, &list)
	if len(list) != 4 {
		t.Fatalf("Expected 4 scenarios, got %d", len(list))
	}
	for _, s := range list {
		if s.ID == "" || s.Description == "" {
			t.Errorf("Scenario %+v missing fields", s)
		}
	}
}
