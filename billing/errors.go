/*
errors.go - Error taxonomy of the billing core

PURPOSE:
  All core error types in one place. Row-level faults are recorded and
  reported beside the successfully processed rows; only a broken input
  contract aborts a whole run.

ERROR CATEGORIES:
  1. Schema violations - the caller's input contract is broken (run abort)
  2. Data-quality faults - duplicate readings, backwards indexes (row-level)
  3. Period rejects - zero-length or unbounded period artifacts (audited)

USAGE:
  Downstream packages test with errors.Is:

    if errors.Is(err, billing.ErrSchemaViolation) {
        // abort the run, the input contract is broken
    }

SEE ALSO:
  - chronology.go: raises duplicate-reading faults
  - periods.go: produces period rejects and the non-monotonic flag
  - tariff package: pricing-side taxonomy (rule lookup, tier ordering)
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSchemaViolation is returned when the input stream breaks the
	// column contract (missing identifier, unknown calendar, or a reading
	// lookup that changed the row count). It aborts the whole run.
	ErrSchemaViolation = errors.New("input schema violation")

	// ErrDuplicateReading is recorded when one (pdl, date, ordinal) key
	// carries two rows from the same source. The first row is kept; the
	// fault stays visible in the run report.
	ErrDuplicateReading = errors.New("duplicate reading from same source")

	// ErrNonMonotonicIndex is recorded when a meter index counts
	// backwards between two readings. The period is flagged, not dropped:
	// downstream judgment needs to see it.
	ErrNonMonotonicIndex = errors.New("meter index not monotonic")
)

// =============================================================================
// STRUCTURED ERRORS - Carry row keys
// =============================================================================

// SchemaError reports which part of the input contract is broken.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation on %s: %s", e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchemaViolation }

// DuplicateReadingError identifies the offending chronology key.
type DuplicateReadingError struct {
	PDL     PDL
	Date    Day
	Ordinal int
	Source  ReadingSource
}

func (e *DuplicateReadingError) Error() string {
	return fmt.Sprintf("duplicate reading for %s at %s (ordinal %d) from %s",
		e.PDL, e.Date, e.Ordinal, e.Source)
}

func (e *DuplicateReadingError) Unwrap() error { return ErrDuplicateReading }

// NonMonotonicIndexError identifies a cadran that counted backwards.
type NonMonotonicIndexError struct {
	Ref   ContractRef
	PDL   PDL
	Band  Band
	Start Day
	End   Day
}

func (e *NonMonotonicIndexError) Error() string {
	return fmt.Sprintf("index went backwards for %s cadran %s over [%s, %s)",
		e.PDL, e.Band, e.Start, e.End)
}

func (e *NonMonotonicIndexError) Unwrap() error { return ErrNonMonotonicIndex }

// =============================================================================
// PERIOD REJECTS - Audited boundary artifacts
// =============================================================================

// RejectedPeriod is a period artifact excluded from aggregation: a
// zero-length or negative span, or a pair with an unusable boundary.
// Rejects are retained for audit, never silently dropped in place.
type RejectedPeriod struct {
	Ref    ContractRef
	PDL    PDL
	Start  Day
	End    Day
	Reason string
}

func (r RejectedPeriod) String() string {
	return fmt.Sprintf("%s [%s, %s): %s", r.Ref, r.Start, r.End, r.Reason)
}
