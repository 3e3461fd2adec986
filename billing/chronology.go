/*
chronology.go - Two-source meter-reading timeline reconstruction

PURPOSE:
  Builds the complete ordered timeline of meter readings needed to compute
  energy periods, by merging two sources:
    1. readings embedded in contract events (meter values captured by the
       distributor at the moment of the event, no lookup needed)
    2. periodic readings fetched in one batch for every monthly cutover
       date

MERGE RULES:
  - sort key is (pdl, date, ordinal, source rank); the ordinal separates
    same-day before/after readings around a meter swap
  - contractual reference and tariff formula are forward-filled per pdl,
    bridging periodic rows that carry neither
  - duplicate (reference, date, ordinal) keys keep the contract-event row
    over the periodic one; two rows from the same source at the same key
    are a data-quality fault, reported and resolved by keeping the first

LOOKUP CONTRACT:
  The periodic source answers a batch of (pdl, date) requests with exactly
  one reading per request, in request order. A date with no stored reading
  comes back with empty index values and Missing set. Anything else is a
  schema violation and aborts the run.
*/
package billing

import (
	"context"
	"fmt"
	"sort"
)

// ReadingRequest asks the periodic source for the meter indexes of one
// delivery point at one date.
type ReadingRequest struct {
	PDL  PDL
	Date Day
}

// PeriodicReadingSource answers batched reading requests with left-join
// semantics: one reading per request, Missing set when the date has no
// stored value. Implementations must preserve request order.
type PeriodicReadingSource interface {
	FetchIndexes(ctx context.Context, reqs []ReadingRequest) ([]MeterReading, error)
}

// ReconstructChronology merges embedded and periodic readings into one
// timeline sorted by (pdl, date, ordinal). The returned faults list the
// same-source duplicates that were dropped; they do not stop the run.
func ReconstructChronology(ctx context.Context, events []ContractEvent, source PeriodicReadingSource) ([]MeterReading, []DuplicateReadingError, error) {
	var real, cutovers []ContractEvent
	for _, ev := range events {
		if ev.Type.IsCutover() {
			cutovers = append(cutovers, ev)
		} else {
			real = append(real, ev)
		}
	}

	readings := EmbeddedReadings(real)

	reqs := buildReadingRequests(cutovers)
	if len(reqs) > 0 {
		periodic, err := source.FetchIndexes(ctx, reqs)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch periodic readings: %w", err)
		}
		if err := checkConservation(reqs, periodic); err != nil {
			return nil, nil, err
		}
		for i := range periodic {
			periodic[i].Source = SourcePeriodicQuery
			periodic[i].Ordinal = 0
		}
		readings = append(readings, periodic...)
	}

	sortReadings(readings)
	fillContractColumns(readings)
	timeline, faults := dedupeReadings(readings)
	return timeline, faults, nil
}

// EmbeddedReadings extracts the index snapshots carried by contract
// events. A before snapshot closes the day (ordinal 0), an after snapshot
// opens it (ordinal 1). Events without snapshots contribute nothing.
func EmbeddedReadings(events []ContractEvent) []MeterReading {
	var out []MeterReading
	for _, ev := range events {
		if ev.Before != nil && !ev.Before.IsEmpty() {
			out = append(out, embeddedReading(ev, *ev.Before, 0))
		}
		if ev.After != nil && !ev.After.IsEmpty() {
			out = append(out, embeddedReading(ev, *ev.After, 1))
		}
	}
	return out
}

func embeddedReading(ev ContractEvent, idx BandValues, ordinal int) MeterReading {
	return MeterReading{
		PDL:        ev.PDL,
		Ref:        ev.Ref,
		Date:       ev.Date,
		Ordinal:    ordinal,
		Source:     SourceContractEvent,
		FTA:        ev.FTA,
		CalendarID: ev.CalendarID,
		Indexes:    idx,
	}
}

// buildReadingRequests collects the distinct (pdl, date) pairs of the
// cutover events, preserving stream order.
func buildReadingRequests(cutovers []ContractEvent) []ReadingRequest {
	seen := map[string]bool{}
	var reqs []ReadingRequest
	for _, ev := range cutovers {
		k := string(ev.PDL) + "|" + ev.Date.String()
		if seen[k] {
			continue
		}
		seen[k] = true
		reqs = append(reqs, ReadingRequest{PDL: ev.PDL, Date: ev.Date})
	}
	return reqs
}

// checkConservation verifies the one-row-per-request contract of the
// periodic source. A source that contracts, reorders or fabricates rows
// would silently corrupt every downstream period, so this aborts the run.
func checkConservation(reqs []ReadingRequest, got []MeterReading) error {
	if len(got) != len(reqs) {
		return &SchemaError{
			Field:  "periodic_readings",
			Reason: fmt.Sprintf("source returned %d rows for %d requests", len(got), len(reqs)),
		}
	}
	for i, r := range reqs {
		if got[i].PDL != r.PDL || !got[i].Date.Equal(r.Date) {
			return &SchemaError{
				Field:  "periodic_readings",
				Reason: fmt.Sprintf("row %d answers (%s, %s), request was (%s, %s)", i, got[i].PDL, got[i].Date, r.PDL, r.Date),
			}
		}
	}
	return nil
}

func sortReadings(readings []MeterReading) {
	sort.SliceStable(readings, func(i, j int) bool {
		a, b := readings[i], readings[j]
		if a.PDL != b.PDL {
			return a.PDL < b.PDL
		}
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return a.Source.Rank() < b.Source.Rank()
	})
}

// fillContractColumns forward-fills the contractual reference and tariff
// formula per pdl. Periodic rows carry neither; the last embedded reading
// before them does.
func fillContractColumns(readings []MeterReading) {
	var pdl PDL
	var ref ContractRef
	var fta FTA
	for i := range readings {
		r := &readings[i]
		if r.PDL != pdl {
			pdl, ref, fta = r.PDL, "", ""
		}
		if r.Ref == "" {
			r.Ref = ref
		} else {
			ref = r.Ref
		}
		if r.FTA == "" {
			r.FTA = fta
		} else {
			fta = r.FTA
		}
	}
}

// dedupeReadings drops duplicate (reference, date, ordinal) keys from the
// sorted timeline. The sort put the highest-priority source first and
// made equal keys adjacent, so keeping the first occurrence implements
// the priority. A duplicate from the same source is reported as a fault.
func dedupeReadings(readings []MeterReading) ([]MeterReading, []DuplicateReadingError) {
	var (
		timeline []MeterReading
		faults   []DuplicateReadingError
	)
	for _, r := range readings {
		if len(timeline) > 0 {
			kept := timeline[len(timeline)-1]
			if kept.Ref == r.Ref && kept.Date.Equal(r.Date) && kept.Ordinal == r.Ordinal {
				if kept.Source == r.Source {
					faults = append(faults, DuplicateReadingError{
						PDL:     r.PDL,
						Date:    r.Date,
						Ordinal: r.Ordinal,
						Source:  r.Source,
					})
				}
				continue
			}
		}
		timeline = append(timeline, r)
	}
	return timeline, faults
}
