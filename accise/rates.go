/*
rates.go - Excise rate table

PURPOSE:
  The electricity excise (accise, formerly TICFE) is a per-MWh tax on
  monthly consumption. Rates are national: one dated rate at a time,
  no tariff code. A consumption month is covered by the rate whose
  [start, end) range contains the first day of the month; an open end
  is treated as 2100-01-01.

  Mirrors tariff.RuleSet: NewRateSet rejects overlapping ranges so
  Lookup is deterministic; SelectRate works on raw slices and reports
  ambiguity instead of resolving it by position.

SEE ALSO:
  - engine.go: applies rates to monthly aggregates
  - tariff/rule.go: the TURPE counterpart
*/
package accise

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/enerflux/billing-engine/billing"
	"github.com/shopspring/decimal"
)

var (
	// ErrRateNotFound is returned when no rate covers a consumption
	// month.
	ErrRateNotFound = errors.New("no excise rate matches")

	// ErrRateAmbiguous is returned when several rates cover the same
	// month in an unvalidated slice.
	ErrRateAmbiguous = errors.New("several excise rates match")
)

// RateLookupError reports a failed rate selection for one month.
type RateLookupError struct {
	Day     billing.Day
	Matches int
}

func (e *RateLookupError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("no excise rate at %s", e.Day)
	}
	return fmt.Sprintf("%d excise rates at %s", e.Matches, e.Day)
}

func (e *RateLookupError) Unwrap() error {
	if e.Matches == 0 {
		return ErrRateNotFound
	}
	return ErrRateAmbiguous
}

// rateHorizon stands in for the end of the current open-ended rate.
var rateHorizon = billing.NewDay(2100, time.January, 1)

// =============================================================================
// RATE AND RATE SET
// =============================================================================

// Rate is one dated version of the excise rate.
type Rate struct {
	Start     billing.Day
	End       billing.Day // zero means open-ended
	EurPerMWh decimal.Decimal
}

func (r Rate) effectiveEnd() billing.Day {
	if r.End.IsZero() {
		return rateHorizon
	}
	return r.End
}

// Covers reports whether the rate applies on the given day.
func (r Rate) Covers(day billing.Day) bool {
	return day.AfterOrEqual(r.Start) && day.Before(r.effectiveEnd())
}

// RateSet is an immutable excise rate table.
type RateSet struct {
	rates []Rate
}

// NewRateSet validates ranges and rejects overlapping versions.
func NewRateSet(rates []Rate) (*RateSet, error) {
	for i, r := range rates {
		if r.Start.IsZero() {
			return nil, fmt.Errorf("rate %d: missing start date", i)
		}
		if !r.End.IsZero() && !r.Start.Before(r.End) {
			return nil, fmt.Errorf("rate %d: end %s not after start %s", i, r.End, r.Start)
		}
	}

	ordered := make([]Rate, len(rates))
	copy(ordered, rates)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start.Before(ordered[j].Start) })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Start.Before(ordered[i-1].effectiveEnd()) {
			return nil, fmt.Errorf("overlapping rate versions at %s", ordered[i].Start)
		}
	}

	return &RateSet{rates: ordered}, nil
}

// Lookup selects the one rate covering the given day.
func (s *RateSet) Lookup(day billing.Day) (Rate, error) {
	return SelectRate(s.rates, day)
}

// SelectRate picks the one covering rate from an arbitrary slice.
func SelectRate(rates []Rate, day billing.Day) (Rate, error) {
	var found Rate
	matches := 0
	for _, r := range rates {
		if r.Covers(day) {
			found = r
			matches++
		}
	}
	if matches != 1 {
		return Rate{}, &RateLookupError{Day: day, Matches: matches}
	}
	return found, nil
}

// Rates returns a copy of the table, ordered by start date.
func (s *RateSet) Rates() []Rate {
	out := make([]Rate, len(s.rates))
	copy(out, s.rates)
	return out
}

// RateSource loads the excise rate table.
type RateSource interface {
	AcciseRates(ctx context.Context) ([]Rate, error)
}

// =============================================================================
// BUILT-IN RATES
// =============================================================================

// DefaultRates returns the built-in rate history: the shielded rate of
// February 2022, the February 2024 step back up, and the current rate.
func DefaultRates() *RateSet {
	set, err := NewRateSet([]Rate{
		{
			Start:     billing.NewDay(2022, time.February, 1),
			End:       billing.NewDay(2024, time.February, 1),
			EurPerMWh: decimal.NewFromFloat(1.0),
		},
		{
			Start:     billing.NewDay(2024, time.February, 1),
			End:       billing.NewDay(2025, time.February, 1),
			EurPerMWh: decimal.NewFromFloat(21.0),
		},
		{
			Start:     billing.NewDay(2025, time.February, 1),
			EurPerMWh: decimal.NewFromFloat(33.70),
		},
	})
	if err != nil {
		panic(err)
	}
	return set
}
