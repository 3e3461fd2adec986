/*
dto.go - Data transfer objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Input: Nested request payload rows

AMOUNT ENCODING:
  Monetary and energy amounts travel as decimal strings ("15.12"), never
  as floats. Nullable amounts are pointers and are omitted when null.
  Cadran maps only carry the cadrans that hold a value, keyed by the
  distributor names (BASE, HP, HC, HPH, HCH, HPB, HCB).

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - store/sqlite/sqlite.go: RunRecord, FaultRecord, RejectRecord
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/pipeline"
	"github.com/enerflux/billing-engine/store/sqlite"
	"github.com/enerflux/billing-engine/tariff"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// TriggerRunRequest asks for a billing run over the stored events.
type TriggerRunRequest struct {
	FromMonth string `json:"from_month,omitempty"` // "YYYY-MM", inclusive
	ToMonth   string `json:"to_month,omitempty"`   // "YYYY-MM", inclusive

	// OverrunHours carries measured power-overrun durations, keyed
	// "ref|pdl|YYYY-MM", values in hours as decimal strings.
	OverrunHours map[string]string `json:"overrun_hours,omitempty"`
}

// IngestEventsRequest uploads contract events.
type IngestEventsRequest struct {
	Events []ContractEventInput `json:"events"`
}

// ContractEventInput is one contract event row from a client.
type ContractEventInput struct {
	PDL        string            `json:"pdl"`
	Ref        string            `json:"ref"`
	Date       string            `json:"date"` // "YYYY-MM-DD"
	Seq        int               `json:"seq,omitempty"`
	Type       string            `json:"type"`
	Power      string            `json:"power_kva,omitempty"`
	TierPowers map[string]string `json:"tier_powers,omitempty"`
	FTA        string            `json:"fta,omitempty"`
	CalendarID string            `json:"calendar_id,omitempty"`
	Before     map[string]string `json:"index_before,omitempty"`
	After      map[string]string `json:"index_after,omitempty"`
}

// IngestReadingsRequest uploads first-of-month meter readings.
type IngestReadingsRequest struct {
	Readings []MeterReadingInput `json:"readings"`
}

// MeterReadingInput is one dated index snapshot from a client.
type MeterReadingInput struct {
	PDL        string            `json:"pdl"`
	Date       string            `json:"date"` // "YYYY-MM-DD"
	CalendarID string            `json:"calendar_id,omitempty"`
	Indexes    map[string]string `json:"indexes"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RunSummaryDTO is the run header without its rows.
type RunSummaryDTO struct {
	ID          string `json:"id"`
	StartedAt   string `json:"started_at"`
	DurationMs  int64  `json:"duration_ms"`
	EventCount  int    `json:"event_count"`
	PDLCount    int    `json:"pdl_count"`
	LineCount   int    `json:"line_count"`
	RejectCount int    `json:"reject_count"`
	FaultCount  int    `json:"fault_count"`
	FromMonth   string `json:"from_month,omitempty"`
	ToMonth     string `json:"to_month,omitempty"`
}

// RunDetailDTO is a run with its lines, faults and rejects.
type RunDetailDTO struct {
	RunSummaryDTO
	Lines   []MonthlyLineDTO `json:"lines"`
	Faults  []FaultDTO       `json:"faults"`
	Rejects []RejectDTO      `json:"rejects"`
}

// MonthlyLineDTO is one priced contract-month.
type MonthlyLineDTO struct {
	Ref        string `json:"ref"`
	PDL        string `json:"pdl"`
	Month      string `json:"month"`
	MonthLabel string `json:"month_label"`

	Start    string `json:"start"`
	End      string `json:"end"`
	DayCount int    `json:"day_count"`

	PowerKVA   string            `json:"power_kva"`
	TierPowers map[string]string `json:"tier_powers,omitempty"`
	FTA        string            `json:"fta"`
	CalendarID string            `json:"calendar_id,omitempty"`

	EnergyKWh map[string]string `json:"energy_kwh,omitempty"`

	SubscriptionDays int     `json:"subscription_days"`
	EnergyDays       int     `json:"energy_days"`
	CoverageAbo      float64 `json:"coverage_abo"`
	CoverageEnergie  float64 `json:"coverage_energie"`

	DataComplete         bool   `json:"data_complete"`
	HasChangementAbo     bool   `json:"has_changement_abo"`
	HasChangementEnergie bool   `json:"has_changement_energie"`
	Memo                 string `json:"memo,omitempty"`

	OverrunHours  *string `json:"overrun_hours,omitempty"`
	TurpeFixe     *string `json:"turpe_fixe,omitempty"`
	TurpeVariable *string `json:"turpe_variable,omitempty"`
	TurpeOverrun  *string `json:"turpe_overrun,omitempty"`
	Accise        *string `json:"accise,omitempty"`
}

// FaultDTO is one row the run could not fully price.
type FaultDTO struct {
	Stage string `json:"stage"`
	Ref   string `json:"ref,omitempty"`
	PDL   string `json:"pdl"`
	Key   string `json:"key"`
	Error string `json:"error"`
}

// RejectDTO is one discarded period artifact.
type RejectDTO struct {
	Ref    string `json:"ref,omitempty"`
	PDL    string `json:"pdl"`
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`
	Reason string `json:"reason"`
}

// ContractEventDTO is one contract event in API responses.
type ContractEventDTO struct {
	PDL        string            `json:"pdl"`
	Ref        string            `json:"ref"`
	Date       string            `json:"date"`
	Seq        int               `json:"seq"`
	Type       string            `json:"type"`
	Power      string            `json:"power_kva,omitempty"`
	TierPowers map[string]string `json:"tier_powers,omitempty"`
	FTA        string            `json:"fta,omitempty"`
	CalendarID string            `json:"calendar_id,omitempty"`
	Before     map[string]string `json:"index_before,omitempty"`
	After      map[string]string `json:"index_after,omitempty"`
}

// TariffRuleDTO is one dated TURPE rule version.
type TariffRuleDTO struct {
	FTA   string `json:"fta"`
	Start string `json:"start"`
	End   string `json:"end,omitempty"`

	Cg string `json:"cg"`
	Cc string `json:"cc"`

	Shape string  `json:"shape"` // "flat" or "four_tier"
	B     *string `json:"b,omitempty"`
	B1    *string `json:"b1,omitempty"`
	B2    *string `json:"b2,omitempty"`
	B3    *string `json:"b3,omitempty"`
	B4    *string `json:"b4,omitempty"`

	Rates map[string]string `json:"rates_cents_kwh,omitempty"`
	CMDPS *string           `json:"cmdps,omitempty"`
}

// AcciseRateDTO is one dated excise rate version.
type AcciseRateDTO struct {
	Start     string `json:"start"`
	End       string `json:"end,omitempty"`
	EurPerMWh string `json:"eur_per_mwh"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "c5" or "c4"
}

// IngestResponse reports how many rows were stored.
type IngestResponse struct {
	Saved int `json:"saved"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRunSummaryDTO(rec sqlite.RunRecord) RunSummaryDTO {
	return RunSummaryDTO{
		ID:          rec.ID,
		StartedAt:   rec.StartedAt.Format(time.RFC3339),
		DurationMs:  rec.Duration.Milliseconds(),
		EventCount:  rec.EventCount,
		PDLCount:    rec.PDLCount,
		LineCount:   rec.LineCount,
		RejectCount: rec.RejectCount,
		FaultCount:  rec.FaultCount,
		FromMonth:   rec.FromMonth,
		ToMonth:     rec.ToMonth,
	}
}

func toRunSummaryDTOs(recs []sqlite.RunRecord) []RunSummaryDTO {
	dtos := make([]RunSummaryDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toRunSummaryDTO(rec)
	}
	return dtos
}

// toRunDetailDTO renders a freshly computed report, before it is read
// back from the store.
func toRunDetailDTO(report *pipeline.RunReport, fromMonth, toMonth string) RunDetailDTO {
	dto := RunDetailDTO{
		RunSummaryDTO: RunSummaryDTO{
			ID:          report.ID,
			StartedAt:   report.StartedAt.Format(time.RFC3339),
			DurationMs:  report.Duration.Milliseconds(),
			EventCount:  report.EventCount,
			PDLCount:    report.PDLCount,
			LineCount:   len(report.Lines),
			RejectCount: len(report.Rejects),
			FaultCount:  len(report.Faults),
			FromMonth:   fromMonth,
			ToMonth:     toMonth,
		},
		Lines:   toMonthlyLineDTOs(report.Lines),
		Faults:  make([]FaultDTO, len(report.Faults)),
		Rejects: make([]RejectDTO, len(report.Rejects)),
	}
	for i, f := range report.Faults {
		dto.Faults[i] = FaultDTO{
			Stage: f.Stage,
			Ref:   string(f.Ref),
			PDL:   string(f.PDL),
			Key:   f.Key,
			Error: faultText(f.Err),
		}
	}
	for i, rej := range report.Rejects {
		dto.Rejects[i] = toRejectDTO(rej)
	}
	return dto
}

func toStoredRunDetailDTO(rec *sqlite.RunRecord, lines []billing.MonthlyAggregate) RunDetailDTO {
	dto := RunDetailDTO{
		RunSummaryDTO: toRunSummaryDTO(*rec),
		Lines:         toMonthlyLineDTOs(lines),
		Faults:        make([]FaultDTO, len(rec.Faults)),
		Rejects:       make([]RejectDTO, len(rec.Rejects)),
	}
	for i, f := range rec.Faults {
		dto.Faults[i] = FaultDTO{
			Stage: f.Stage,
			Ref:   f.Ref,
			PDL:   f.PDL,
			Key:   f.Key,
			Error: f.Error,
		}
	}
	for i, rej := range rec.Rejects {
		dto.Rejects[i] = RejectDTO{
			Ref:    rej.Ref,
			PDL:    rej.PDL,
			Start:  rej.Start,
			End:    rej.End,
			Reason: rej.Reason,
		}
	}
	return dto
}

func toMonthlyLineDTO(a billing.MonthlyAggregate) MonthlyLineDTO {
	return MonthlyLineDTO{
		Ref:        string(a.Ref),
		PDL:        string(a.PDL),
		Month:      a.Month,
		MonthLabel: a.MonthLabel,

		Start:    a.Start.String(),
		End:      a.End.String(),
		DayCount: a.DayCount,

		PowerKVA:   a.Power.String(),
		TierPowers: tierMap(a.TierPowers),
		FTA:        string(a.FTA),
		CalendarID: a.CalendarID,

		EnergyKWh: bandMap(a.Energy),

		SubscriptionDays: a.SubscriptionDays,
		EnergyDays:       a.EnergyDays,
		CoverageAbo:      a.CoverageAbo,
		CoverageEnergie:  a.CoverageEnergie,

		DataComplete:         a.DataComplete,
		HasChangementAbo:     a.HasChangementAbo,
		HasChangementEnergie: a.HasChangementEnergie,
		Memo:                 a.Memo,

		OverrunHours:  nullAmount(a.OverrunHours),
		TurpeFixe:     nullAmount(a.TurpeFixe),
		TurpeVariable: nullAmount(a.TurpeVariable),
		TurpeOverrun:  nullAmount(a.TurpeOverrun),
		Accise:        nullAmount(a.Accise),
	}
}

func toMonthlyLineDTOs(aggs []billing.MonthlyAggregate) []MonthlyLineDTO {
	dtos := make([]MonthlyLineDTO, len(aggs))
	for i, a := range aggs {
		dtos[i] = toMonthlyLineDTO(a)
	}
	return dtos
}

func toRejectDTO(rej billing.RejectedPeriod) RejectDTO {
	dto := RejectDTO{
		Ref:    string(rej.Ref),
		PDL:    string(rej.PDL),
		Reason: rej.Reason,
	}
	if !rej.Start.IsZero() {
		dto.Start = rej.Start.String()
	}
	if !rej.End.IsZero() {
		dto.End = rej.End.String()
	}
	return dto
}

func toContractEventDTO(ev billing.ContractEvent) ContractEventDTO {
	dto := ContractEventDTO{
		PDL:        string(ev.PDL),
		Ref:        string(ev.Ref),
		Date:       ev.Date.String(),
		Seq:        ev.Seq,
		Type:       string(ev.Type),
		TierPowers: tierMap(ev.TierPowers),
		FTA:        string(ev.FTA),
		CalendarID: ev.CalendarID,
	}
	if !ev.Power.IsZero() {
		dto.Power = ev.Power.String()
	}
	if ev.Before != nil {
		dto.Before = bandMap(*ev.Before)
	}
	if ev.After != nil {
		dto.After = bandMap(*ev.After)
	}
	return dto
}

func toContractEventDTOs(events []billing.ContractEvent) []ContractEventDTO {
	dtos := make([]ContractEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toContractEventDTO(ev)
	}
	return dtos
}

func toTariffRuleDTO(rule tariff.Rule) TariffRuleDTO {
	dto := TariffRuleDTO{
		FTA:   string(rule.FTA),
		Start: rule.Start.String(),
		Cg:    rule.Cg.String(),
		Cc:    rule.Cc.String(),
		Rates: bandMap(rule.Rates),
	}
	if !rule.End.IsZero() {
		dto.End = rule.End.String()
	}
	switch shape := rule.Shape.(type) {
	case tariff.Flat:
		dto.Shape = "flat"
		dto.B = strPtr(shape.B.String())
	case tariff.FourTier:
		dto.Shape = "four_tier"
		dto.B1 = strPtr(shape.B1.String())
		dto.B2 = strPtr(shape.B2.String())
		dto.B3 = strPtr(shape.B3.String())
		dto.B4 = strPtr(shape.B4.String())
	}
	dto.CMDPS = nullAmount(rule.CMDPS)
	return dto
}

// =============================================================================
// INPUT PARSING
// =============================================================================

func parseContractEvent(in ContractEventInput) (billing.ContractEvent, error) {
	date, err := billing.ParseDay(in.Date)
	if err != nil {
		return billing.ContractEvent{}, fmt.Errorf("event %s/%s: %w", in.PDL, in.Date, err)
	}
	ev := billing.ContractEvent{
		PDL:        billing.PDL(in.PDL),
		Ref:        billing.ContractRef(in.Ref),
		Date:       date,
		Seq:        in.Seq,
		Type:       billing.EventType(in.Type),
		FTA:        billing.FTA(in.FTA),
		CalendarID: in.CalendarID,
	}
	if in.Power != "" {
		ev.Power, err = decimal.NewFromString(in.Power)
		if err != nil {
			return billing.ContractEvent{}, fmt.Errorf("event %s/%s: power_kva: %w", in.PDL, in.Date, err)
		}
	}
	if len(in.TierPowers) > 0 {
		ev.TierPowers, err = parseTierMap(in.TierPowers)
		if err != nil {
			return billing.ContractEvent{}, fmt.Errorf("event %s/%s: tier_powers: %w", in.PDL, in.Date, err)
		}
	}
	if len(in.Before) > 0 {
		bands, err := parseBandMap(in.Before)
		if err != nil {
			return billing.ContractEvent{}, fmt.Errorf("event %s/%s: index_before: %w", in.PDL, in.Date, err)
		}
		ev.Before = &bands
	}
	if len(in.After) > 0 {
		bands, err := parseBandMap(in.After)
		if err != nil {
			return billing.ContractEvent{}, fmt.Errorf("event %s/%s: index_after: %w", in.PDL, in.Date, err)
		}
		ev.After = &bands
	}
	return ev, nil
}

func parseMeterReading(in MeterReadingInput) (billing.MeterReading, error) {
	date, err := billing.ParseDay(in.Date)
	if err != nil {
		return billing.MeterReading{}, fmt.Errorf("reading %s/%s: %w", in.PDL, in.Date, err)
	}
	indexes, err := parseBandMap(in.Indexes)
	if err != nil {
		return billing.MeterReading{}, fmt.Errorf("reading %s/%s: indexes: %w", in.PDL, in.Date, err)
	}
	return billing.MeterReading{
		PDL:        billing.PDL(in.PDL),
		Date:       date,
		Source:     billing.SourcePeriodicQuery,
		CalendarID: in.CalendarID,
		Indexes:    indexes,
	}, nil
}

// bandMap renders the non-null cadrans of a snapshot, keyed by the
// distributor cadran names.
func bandMap(v billing.BandValues) map[string]string {
	m := make(map[string]string)
	for _, b := range []billing.Band{
		billing.BandHPH, billing.BandHCH, billing.BandHPB, billing.BandHCB,
		billing.BandHP, billing.BandHC, billing.BandBase,
	} {
		if cell := v.Get(b); cell.Valid {
			m[string(b)] = cell.Decimal.String()
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func parseBandMap(m map[string]string) (billing.BandValues, error) {
	var v billing.BandValues
	for key, raw := range m {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return billing.BandValues{}, fmt.Errorf("cadran %s: %w", key, err)
		}
		switch billing.Band(key) {
		case billing.BandHPH, billing.BandHCH, billing.BandHPB, billing.BandHCB,
			billing.BandHP, billing.BandHC, billing.BandBase:
			v.SetValue(billing.Band(key), d)
		default:
			return billing.BandValues{}, fmt.Errorf("unknown cadran %q", key)
		}
	}
	return v, nil
}

func tierMap(t *billing.TierPowers) map[string]string {
	if t == nil {
		return nil
	}
	return map[string]string{
		string(billing.BandHPH): t.HPH.String(),
		string(billing.BandHCH): t.HCH.String(),
		string(billing.BandHPB): t.HPB.String(),
		string(billing.BandHCB): t.HCB.String(),
	}
}

func parseTierMap(m map[string]string) (*billing.TierPowers, error) {
	var t billing.TierPowers
	for key, raw := range m {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", key, err)
		}
		switch billing.Band(key) {
		case billing.BandHPH:
			t.HPH = d
		case billing.BandHCH:
			t.HCH = d
		case billing.BandHPB:
			t.HPB = d
		case billing.BandHCB:
			t.HCB = d
		default:
			return nil, fmt.Errorf("unknown tier %q", key)
		}
	}
	return &t, nil
}

func nullAmount(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	return strPtr(d.Decimal.String())
}

func faultText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func strPtr(s string) *string {
	return &s
}
