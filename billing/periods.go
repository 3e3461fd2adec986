/*
periods.go - Billing period construction

Pairs row i with row i+1 inside each contractual reference to form
half-open [start, end) periods. The same pairing backs both families:
subscription periods come from fixed-tariff breakpoints, energy periods
from the reconstructed reading timeline. Invalid pairs (zero duration,
null boundary) go to an auditable reject list instead of being dropped
in place.
*/
package billing

// Periods longer than this are flagged irregular: the monthly cutovers
// should have split them, so something upstream is off.
const maxRegularPeriodDays = 35

// BuildSubscriptionPeriods pairs consecutive fixed-tariff breakpoints of
// each reference. A period carries the contractual state of its opening
// event: that state is what was subscribed during the period.
func BuildSubscriptionPeriods(events []ContractEvent) ([]SubscriptionPeriod, []RejectedPeriod) {
	var breakpoints []ContractEvent
	for _, ev := range events {
		if ev.ImpactsFixed {
			breakpoints = append(breakpoints, ev)
		}
	}
	SortEvents(breakpoints)

	var periods []SubscriptionPeriod
	var rejects []RejectedPeriod
	for i := 0; i+1 < len(breakpoints); i++ {
		cur, next := breakpoints[i], breakpoints[i+1]
		if cur.Ref != next.Ref {
			continue
		}
		if reason := boundaryFault(cur.Date, next.Date); reason != "" {
			rejects = append(rejects, RejectedPeriod{
				Ref: cur.Ref, PDL: cur.PDL, Start: cur.Date, End: next.Date, Reason: reason,
			})
			continue
		}
		periods = append(periods, SubscriptionPeriod{
			Ref:        cur.Ref,
			PDL:        cur.PDL,
			Start:      cur.Date,
			End:        next.Date,
			DayCount:   cur.Date.DaysUntil(next.Date),
			Power:      cur.Power,
			TierPowers: cur.TierPowers,
			FTA:        cur.FTA,
			CalendarID: cur.CalendarID,
			Memo:       cur.Memo,
		})
	}
	return periods, rejects
}

// BuildEnergyPeriods pairs consecutive readings of each reference and
// computes per-band energy deltas. A band contributes a delta only when
// both bounding readings carry it. Negative deltas flag the period
// non-monotonic and are reported as faults, but the period is kept so
// the anomaly stays visible downstream.
func BuildEnergyPeriods(readings []MeterReading) ([]EnergyPeriod, []RejectedPeriod, []NonMonotonicIndexError) {
	sorted := make([]MeterReading, len(readings))
	copy(sorted, readings)
	sortReadings(sorted)

	var (
		periods []EnergyPeriod
		rejects []RejectedPeriod
		faults  []NonMonotonicIndexError
	)
	for i := 0; i+1 < len(sorted); i++ {
		start, end := sorted[i], sorted[i+1]
		if start.Ref == "" || start.Ref != end.Ref {
			continue
		}
		if reason := boundaryFault(start.Date, end.Date); reason != "" {
			rejects = append(rejects, RejectedPeriod{
				Ref: start.Ref, PDL: start.PDL, Start: start.Date, End: end.Date, Reason: reason,
			})
			continue
		}

		p := EnergyPeriod{
			Ref:          start.Ref,
			PDL:          start.PDL,
			Start:        start.Date,
			End:          end.Date,
			DayCount:     start.Date.DaysUntil(end.Date),
			FTA:          start.FTA,
			CalendarID:   coalesce(start.CalendarID, end.CalendarID),
			StartSource:  start.Source,
			EndSource:    end.Source,
			MissingStart: start.Missing,
			MissingEnd:   end.Missing,
		}
		for _, b := range AllBands {
			from, to := start.Indexes.Get(b), end.Indexes.Get(b)
			if !from.Valid || !to.Valid {
				continue
			}
			delta := to.Decimal.Sub(from.Decimal)
			if delta.IsNegative() {
				p.NonMonotonic = true
				faults = append(faults, NonMonotonicIndexError{
					Ref: p.Ref, PDL: p.PDL, Band: b, Start: p.Start, End: p.End,
				})
			}
			p.Energy.SetValue(b, delta)
		}
		p.DataComplete = energyComplete(p, start.Indexes, end.Indexes)
		p.Irregular = p.DayCount > maxRegularPeriodDays
		p.Energy = p.Energy.Rolled()
		periods = append(periods, p)
	}
	return periods, rejects, faults
}

// energyComplete reports whether every band of the period's calendar is
// present at both bounds with a non-decreasing index. Unknown calendars
// cannot be verified and count as incomplete.
func energyComplete(p EnergyPeriod, start, end BandValues) bool {
	if p.NonMonotonic {
		return false
	}
	bands, ok := BandsForCalendar(p.CalendarID)
	if !ok {
		return false
	}
	for _, b := range bands {
		if !start.Get(b).Valid || !end.Get(b).Valid {
			return false
		}
	}
	return true
}

func boundaryFault(start, end Day) string {
	switch {
	case start.IsZero() || end.IsZero():
		return "null period boundary"
	case !start.Before(end):
		return "zero-duration period"
	}
	return ""
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
