/*
handlers.go - HTTP handlers for the billing engine API

PURPOSE:
  Implements the HTTP endpoints: run triggering and retrieval, contract
  data ingestion and lookup, reference-table listing, demo scenarios and
  admin operations. Handlers decode requests, call the store and the
  pipeline, and render DTOs.

ERROR MAPPING:
  - Malformed request bodies and parameters  -> 400
  - Unknown run / contract resources         -> 404
  - Event streams the pipeline refuses       -> 422
  - Store and pipeline failures              -> 500

SEE ALSO:
  - server.go: Route wiring
  - dto.go: Request/response types
  - pipeline/runner.go: Run semantics
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/pipeline"
	"github.com/enerflux/billing-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Runner *pipeline.Runner

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store and runner.
func NewHandler(store *sqlite.Store, runner *pipeline.Runner) *Handler {
	return &Handler{
		Store:  store,
		Runner: runner,
	}
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// TriggerRun executes a billing run over the stored contract events and
// persists the result.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	overruns := make(map[string]decimal.Decimal, len(req.OverrunHours))
	for key, raw := range req.OverrunHours {
		hours, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid overrun_hours value for "+key, err)
			return
		}
		overruns[key] = hours
	}

	ctx := r.Context()
	events, err := h.Store.GetEvents(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load contract events", err)
		return
	}

	report, err := h.Runner.Run(ctx, pipeline.RunInput{
		Events:       events,
		OverrunHours: overruns,
		FromMonth:    req.FromMonth,
		ToMonth:      req.ToMonth,
	})
	if err != nil {
		if errors.Is(err, billing.ErrSchemaViolation) {
			writeError(w, http.StatusUnprocessableEntity, "Billing run aborted", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Billing run failed", err)
		return
	}

	if err := h.Store.SaveRun(ctx, report, req.FromMonth, req.ToMonth); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist run", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRunDetailDTO(report, req.FromMonth, req.ToMonth))
}

// ListRuns returns stored runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.GetRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	writeJSON(w, http.StatusOK, toRunSummaryDTOs(runs))
}

// GetRun returns one stored run with its lines.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	rec, err := h.Store.GetRun(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Run not found", nil)
		return
	}

	lines, err := h.Store.GetLinesByRun(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load run lines", err)
		return
	}

	writeJSON(w, http.StatusOK, toStoredRunDetailDTO(rec, lines))
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// GetContractAggregates returns the priced monthly lines of a delivery
// point from the most recent run that covers it.
func (h *Handler) GetContractAggregates(w http.ResponseWriter, r *http.Request) {
	pdl := chi.URLParam(r, "pdl")

	fromMonth := r.URL.Query().Get("from")
	toMonth := r.URL.Query().Get("to")
	for _, month := range []string{fromMonth, toMonth} {
		if month == "" {
			continue
		}
		if _, err := billing.ParseMonthKey(month); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month bound (use YYYY-MM)", err)
			return
		}
	}

	lines, err := h.Store.GetLinesByPDL(r.Context(), billing.PDL(pdl), fromMonth, toMonth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load aggregates", err)
		return
	}

	writeJSON(w, http.StatusOK, toMonthlyLineDTOs(lines))
}

// GetContractEvents returns the stored contract events of a delivery point.
func (h *Handler) GetContractEvents(w http.ResponseWriter, r *http.Request) {
	pdl := chi.URLParam(r, "pdl")

	events, err := h.Store.GetEventsByPDL(r.Context(), billing.PDL(pdl))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load events", err)
		return
	}

	writeJSON(w, http.StatusOK, toContractEventDTOs(events))
}

// =============================================================================
// INGESTION HANDLERS
// =============================================================================

// IngestEvents stores uploaded contract events.
func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	var req IngestEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "No events in request", nil)
		return
	}

	events := make([]billing.ContractEvent, len(req.Events))
	for i, in := range req.Events {
		ev, err := parseContractEvent(in)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid event", err)
			return
		}
		events[i] = ev
	}

	if err := billing.ValidateEvents(events); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Event stream rejected", err)
		return
	}

	if err := h.Store.SaveEvents(r.Context(), events); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save events", err)
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{Saved: len(events)})
}

// IngestReadings stores uploaded meter readings.
func (h *Handler) IngestReadings(w http.ResponseWriter, r *http.Request) {
	var req IngestReadingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Readings) == 0 {
		writeError(w, http.StatusBadRequest, "No readings in request", nil)
		return
	}

	readings := make([]billing.MeterReading, len(req.Readings))
	for i, in := range req.Readings {
		if in.PDL == "" {
			writeError(w, http.StatusBadRequest, "Reading missing pdl", nil)
			return
		}
		reading, err := parseMeterReading(in)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid reading", err)
			return
		}
		readings[i] = reading
	}

	if err := h.Store.SaveReadings(r.Context(), readings); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save readings", err)
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{Saved: len(readings)})
}

// =============================================================================
// REFERENCE TABLE HANDLERS
// =============================================================================

// ListTariffs returns the TURPE rules the runner prices with, optionally
// narrowed to the versions active on a given day.
func (h *Handler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	rules := h.Runner.Rules.Rules()
	if at := r.URL.Query().Get("at"); at != "" {
		day, err := billing.ParseDay(at)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at date (use YYYY-MM-DD)", err)
			return
		}
		rules = h.Runner.Rules.ActiveAt(day)
	}

	dtos := make([]TariffRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toTariffRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAcciseRates returns the excise rate versions the runner prices with.
func (h *Handler) ListAcciseRates(w http.ResponseWriter, r *http.Request) {
	rates := h.Runner.Rates.Rates()

	dtos := make([]AcciseRateDTO, len(rates))
	for i, rate := range rates {
		dtos[i] = AcciseRateDTO{
			Start:     rate.Start.String(),
			EurPerMWh: rate.EurPerMWh.String(),
		}
		if !rate.End.IsZero() {
			dtos[i].End = rate.End.String()
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
