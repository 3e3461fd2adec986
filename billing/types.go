/*
Package billing turns contract-change events and raw meter indexes into
priced monthly billing lines for French electricity delivery points.

PURPOSE:
  This package contains the computational core of the billing engine:
  breakpoint detection over the contractual history, synthesis of monthly
  billing cutovers, reconstruction of a single reading chronology from two
  sources, derivation of homogeneous subscription and energy periods, and
  the monthly reconciliation that produces one aggregate per contract and
  month with explicit coverage bookkeeping.

KEY CONCEPTS IN THIS FILE (types.go):
  - PDL / ContractRef: identifiers of a delivery point and of one
    contractual situation at that point
  - Band: a time-of-use metering cadran (BASE, HP/HC, seasonal 4-band)
  - BandValues: nullable per-band numeric columns (indexes or energies)
  - ContractEvent: one row of the contractual history, with impact flags
  - MeterReading: one point of the reconstructed reading chronology
  - SubscriptionPeriod / EnergyPeriod: homogeneous half-open [start, end)
    periods derived from the timelines
  - MonthlyAggregate: the reconciled, priceable monthly line

DESIGN PRINCIPLES:
  1. Purity: every stage is a function over sorted slices; no shared state
  2. Precision: decimal.Decimal for powers, energies and money; nullable
     values are decimal.NullDecimal, never NaN sentinels
  3. Partiality is data: missing readings and partial month coverage are
     flags and fractions on the output, never silent drops
  4. Half-open periods: end is exclusive; day counts are civil-day counts

USAGE:
  events := billing.DetectBreakpoints(rawEvents)
  events = billing.DetectBreakpoints(billing.InjectCutovers(events, billing.Today()))
  timeline, dupes, err := billing.ReconstructChronology(ctx, events, source)
  subs, _ := billing.BuildSubscriptionPeriods(events)
  energy, _, _ := billing.BuildEnergyPeriods(timeline)
  aggregates := billing.ReconcileMonthly(subs, energy)

SEE ALSO:
  - detector.go: breakpoint detection over the contractual history
  - cutover.go: monthly billing cutover synthesis
  - chronology.go: two-source reading merge
  - periods.go: period construction
  - monthly.go: monthly aggregation and reconciliation
  - tariff package: pricing of the resulting aggregates
*/
package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// PDL identifies a physical delivery point (point de livraison).
type PDL string

// ContractRef identifies one contractual situation at a delivery point.
// A PDL can carry several successive contractual references over time.
type ContractRef string

// FTA is the tariff formula code (formule tarifaire d'acheminement),
// the key into the TURPE rule table.
type FTA string

// =============================================================================
// BANDS (CADRANS)
// =============================================================================

// Band is a time-of-use metering cadran.
type Band string

const (
	BandHPH  Band = "HPH" // peak hours, winter
	BandHCH  Band = "HCH" // off-peak hours, winter
	BandHPB  Band = "HPB" // peak hours, summer
	BandHCB  Band = "HCB" // off-peak hours, summer
	BandHP   Band = "HP"  // peak hours
	BandHC   Band = "HC"  // off-peak hours
	BandBase Band = "BASE"
)

// AllBands lists every cadran, seasonal bands first. Variable pricing and
// roll-ups iterate in this order.
var AllBands = []Band{BandHPH, BandHCH, BandHPB, BandHCB, BandHP, BandHC, BandBase}

// Distributor calendars determine which cadrans a meter records.
const (
	CalendarBase        = "DI000001" // single BASE register
	CalendarPeakOffPeak = "DI000002" // HP / HC
	CalendarFourBand    = "DI000003" // HPH / HCH / HPB / HCB
)

// BandsForCalendar returns the active cadrans of a distributor calendar.
// ok is false for an unknown calendar id.
func BandsForCalendar(calendarID string) (bands []Band, ok bool) {
	switch calendarID {
	case CalendarBase:
		return []Band{BandBase}, true
	case CalendarPeakOffPeak:
		return []Band{BandHP, BandHC}, true
	case CalendarFourBand:
		return []Band{BandHPH, BandHCH, BandHPB, BandHCB}, true
	default:
		return nil, false
	}
}

// =============================================================================
// BAND VALUES - Nullable per-cadran columns
// =============================================================================

// BandValues holds one nullable numeric value per cadran. The same shape
// carries meter indexes (kWh counters) and energy deltas (kWh).
type BandValues struct {
	HPH  decimal.NullDecimal
	HCH  decimal.NullDecimal
	HPB  decimal.NullDecimal
	HCB  decimal.NullDecimal
	HP   decimal.NullDecimal
	HC   decimal.NullDecimal
	Base decimal.NullDecimal
}

func (v BandValues) Get(b Band) decimal.NullDecimal {
	switch b {
	case BandHPH:
		return v.HPH
	case BandHCH:
		return v.HCH
	case BandHPB:
		return v.HPB
	case BandHCB:
		return v.HCB
	case BandHP:
		return v.HP
	case BandHC:
		return v.HC
	case BandBase:
		return v.Base
	default:
		return decimal.NullDecimal{}
	}
}

func (v *BandValues) Set(b Band, d decimal.NullDecimal) {
	switch b {
	case BandHPH:
		v.HPH = d
	case BandHCH:
		v.HCH = d
	case BandHPB:
		v.HPB = d
	case BandHCB:
		v.HCB = d
	case BandHP:
		v.HP = d
	case BandHC:
		v.HC = d
	case BandBase:
		v.Base = d
	}
}

// SetValue stores a present value for a cadran.
func (v *BandValues) SetValue(b Band, d decimal.Decimal) {
	v.Set(b, decimal.NullDecimal{Decimal: d, Valid: true})
}

// IsEmpty reports whether no cadran carries a value.
func (v BandValues) IsEmpty() bool {
	for _, b := range AllBands {
		if v.Get(b).Valid {
			return false
		}
	}
	return true
}

// Equal compares two value sets cadran by cadran. Two null cells are equal.
func (v BandValues) Equal(other BandValues) bool {
	for _, b := range AllBands {
		a, o := v.Get(b), other.Get(b)
		if a.Valid != o.Valid {
			return false
		}
		if a.Valid && !a.Decimal.Equal(o.Decimal) {
			return false
		}
	}
	return true
}

// Rolled returns the values with the hierarchical roll-up applied:
// HC gains HCH+HCB, HP gains HPH+HPB, BASE gains HP+HC. A target cell
// stays null only when every contributing cell is null.
func (v BandValues) Rolled() BandValues {
	out := v
	out.HC = sumPresent(v.HC, v.HCH, v.HCB)
	out.HP = sumPresent(v.HP, v.HPH, v.HPB)
	out.Base = sumPresent(v.Base, out.HP, out.HC)
	return out
}

// sumPresent adds the valid cells; the result is null when none is valid.
func sumPresent(cells ...decimal.NullDecimal) decimal.NullDecimal {
	var sum decimal.Decimal
	any := false
	for _, c := range cells {
		if c.Valid {
			sum = sum.Add(c.Decimal)
			any = true
		}
	}
	return decimal.NullDecimal{Decimal: sum, Valid: any}
}

// =============================================================================
// CONTRACT EVENTS
// =============================================================================

// EventType is the nature of a contractual event, using the distributor's
// event codes plus the synthetic FACTURATION billing cutover.
type EventType string

const (
	EventMES  EventType = "MES"  // mise en service (entry)
	EventPMES EventType = "PMES" // première mise en service (entry)
	EventCFNE EventType = "CFNE" // changement de fournisseur, entrant (entry)
	EventRES  EventType = "RES"  // résiliation (exit)
	EventCFNS EventType = "CFNS" // changement de fournisseur, sortant (exit)
	EventMCT  EventType = "MCT"  // modification contractuelle (change)

	// EventFacturation is the synthetic first-of-month billing cutover
	// injected between a contract's entry and exit.
	EventFacturation EventType = "FACTURATION"
)

func (t EventType) IsEntry() bool   { return t == EventMES || t == EventPMES || t == EventCFNE }
func (t EventType) IsExit() bool    { return t == EventRES || t == EventCFNS }
func (t EventType) IsCutover() bool { return t == EventFacturation }

// TierPowers are the four subscribed powers of a 4-tier (C4) supply,
// one per seasonal cadran. Regulation requires them non-decreasing in
// this order.
type TierPowers struct {
	HPH decimal.Decimal
	HCH decimal.Decimal
	HPB decimal.Decimal
	HCB decimal.Decimal
}

// Ordered reports whether HPH <= HCH <= HPB <= HCB.
func (p TierPowers) Ordered() bool {
	return p.HPH.LessThanOrEqual(p.HCH) &&
		p.HCH.LessThanOrEqual(p.HPB) &&
		p.HPB.LessThanOrEqual(p.HCB)
}

// Slice returns the tiers in regulatory order P1..P4.
func (p TierPowers) Slice() [4]decimal.Decimal {
	return [4]decimal.Decimal{p.HPH, p.HCH, p.HPB, p.HCB}
}

func (p TierPowers) Equal(other TierPowers) bool {
	return p.HPH.Equal(other.HPH) && p.HCH.Equal(other.HCH) &&
		p.HPB.Equal(other.HPB) && p.HCB.Equal(other.HCB)
}

// ContractEvent is one row of the contractual history of a delivery point.
// Raw events are immutable inputs; FACTURATION rows are generated once by
// the cutover injector and never mutated afterward.
type ContractEvent struct {
	PDL  PDL
	Ref  ContractRef
	Date Day
	Seq  int // stable tie-break for several events on the same day
	Type EventType

	Power      decimal.Decimal // subscribed power, kVA
	TierPowers *TierPowers     // 4-tier supplies only
	FTA        FTA
	CalendarID string

	// Meter indexes embedded in the event, when the distributor supplied
	// them. After differs from Before across a meter swap.
	Before *BandValues
	After  *BandValues

	// Memo is a human-readable summary of what changed, in French,
	// filled by the breakpoint detector.
	Memo string

	// Impact flags, derived by the breakpoint detector.
	ImpactsFixed    bool
	ImpactsEnergy   bool
	ImpactsVariable bool
}

// eventRank orders same-day events: an entry opens state before any
// change, cutovers bill after changes, and an exit closes last.
func eventRank(t EventType) int {
	switch {
	case t.IsEntry():
		return 0
	case t == EventMCT:
		return 1
	case t.IsCutover():
		return 2
	case t.IsExit():
		return 3
	default:
		return 1
	}
}

// =============================================================================
// METER READINGS
// =============================================================================

// ReadingSource identifies where a chronology row came from. Merge
// priority is an explicit rank, not insertion order.
type ReadingSource string

const (
	SourceContractEvent ReadingSource = "contract_event"
	SourcePeriodicQuery ReadingSource = "periodic_query"
)

// Rank is the deduplication priority; lower wins.
func (s ReadingSource) Rank() int {
	if s == SourceContractEvent {
		return 0
	}
	return 1
}

// MeterReading is one point of the reconstructed reading chronology.
type MeterReading struct {
	PDL     PDL
	Ref     ContractRef // may be empty until forward-filled across the timeline
	Date    Day
	Ordinal int // 0 = index as of the date; 1 = after a same-day meter swap
	Source  ReadingSource

	FTA        FTA
	CalendarID string
	Indexes    BandValues
	Missing    bool // no data existed at the source for this date
}

// =============================================================================
// PERIODS
// =============================================================================

// SubscriptionPeriod is a span with constant power, tariff formula and
// calendar. End is exclusive.
type SubscriptionPeriod struct {
	Ref      ContractRef
	PDL      PDL
	Start    Day
	End      Day
	DayCount int

	Power      decimal.Decimal
	TierPowers *TierPowers
	FTA        FTA
	CalendarID string
	Memo       string // change that opened the period

	// TurpeFixe is filled by the tariff engine; null until priced or
	// when the rule lookup faulted.
	TurpeFixe decimal.NullDecimal
}

// EnergyPeriod is a span between two consecutive readings, carrying the
// per-cadran energy deltas. End is exclusive.
type EnergyPeriod struct {
	Ref      ContractRef
	PDL      PDL
	Start    Day
	End      Day
	DayCount int

	FTA         FTA
	CalendarID  string
	Energy      BandValues // per-cadran deltas, kWh
	StartSource ReadingSource
	EndSource   ReadingSource

	DataComplete bool // every active cadran present on both bounds, delta >= 0
	MissingStart bool
	MissingEnd   bool
	Irregular    bool // span exceeds the usual monthly cadence (> 35 days)
	NonMonotonic bool // some cadran counted backwards

	// TurpeVariable is filled by the tariff engine; null until priced or
	// when the rule lookup faulted.
	TurpeVariable decimal.NullDecimal
}

// =============================================================================
// MONTHLY AGGREGATE - The reconciled, priceable line
// =============================================================================

// MonthlyAggregate is the reconciliation of the subscription and energy
// periods of one contract over one civil month. It is created once per
// reconciliation pass and never mutated after pricing.
type MonthlyAggregate struct {
	Ref        ContractRef
	PDL        PDL
	Month      string // "YYYY-MM"
	MonthLabel string // "janvier 2024"

	Start    Day
	End      Day
	DayCount int

	Power      decimal.Decimal // day-weighted mean subscribed power, kVA
	TierPowers *TierPowers
	FTA        FTA
	CalendarID string

	Energy BandValues // summed deltas with hierarchical roll-up, kWh

	SubscriptionDays int
	EnergyDays       int
	CoverageAbo      float64 // fraction of the month covered by subscription periods
	CoverageEnergie  float64 // fraction of the month covered by energy periods

	DataComplete         bool
	HasChangementAbo     bool
	HasChangementEnergie bool
	HasChangement        bool
	Memo                 string

	// OverrunHours is the power-overrun duration measured upstream; the
	// tariff engine only prices it.
	OverrunHours decimal.NullDecimal

	// Priced components; null until priced, and left null when no
	// pricing basis exists (see CoverageAbo == 0). There is no fallback
	// fixed fee for months without subscription coverage.
	TurpeFixe     decimal.NullDecimal
	TurpeVariable decimal.NullDecimal
	TurpeOverrun  decimal.NullDecimal
	Accise        decimal.NullDecimal
}

// GapAbo reports whether the month has incomplete subscription coverage.
func (a MonthlyAggregate) GapAbo() bool { return a.CoverageAbo < 1 }

// GapEnergie reports whether the month has incomplete energy coverage.
func (a MonthlyAggregate) GapEnergie() bool { return a.CoverageEnergie < 1 }

// Key returns the aggregate's identity (ref, pdl, month).
func (a MonthlyAggregate) Key() string {
	var sb strings.Builder
	sb.WriteString(string(a.Ref))
	sb.WriteByte('|')
	sb.WriteString(string(a.PDL))
	sb.WriteByte('|')
	sb.WriteString(a.Month)
	return sb.String()
}
