/*
report.go - Run input and run report

PURPOSE:
  A run turns a contract-event stream into priced monthly lines. The
  report keeps the priced rows and the faulted rows strictly apart: a
  line is either in Lines, or explained by a Fault or a Reject. Counts
  come from the slices themselves.
*/
package pipeline

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enerflux/billing-engine/billing"
)

// Pipeline stages a fault can originate from.
const (
	StageChronology    = "chronology"
	StageEnergy        = "energy"
	StageTurpeFixe     = "turpe_fixe"
	StageTurpeVariable = "turpe_variable"
	StageOverrun       = "overrun"
	StageAccise        = "accise"
)

// RunInput is one batch to price.
type RunInput struct {
	Events []billing.ContractEvent

	// OverrunHours carries the overrun durations measured upstream,
	// keyed like MonthlyAggregate.Key (ref|pdl|YYYY-MM).
	OverrunHours map[string]decimal.Decimal

	// FromMonth and ToMonth bound the produced lines, inclusive, as
	// "YYYY-MM". Empty means unbounded on that side.
	FromMonth string
	ToMonth   string
}

// Fault is one row the run could not fully price. The row key is the
// date or month the fault is attached to.
type Fault struct {
	Stage string
	Ref   billing.ContractRef
	PDL   billing.PDL
	Key   string
	Err   error
}

func (f Fault) String() string {
	return fmt.Sprintf("[%s] %s %s %s: %v", f.Stage, f.Ref, f.PDL, f.Key, f.Err)
}

// RunReport is the outcome of one completed run.
type RunReport struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	EventCount int
	PDLCount   int

	Lines   []billing.MonthlyAggregate
	Rejects []billing.RejectedPeriod
	Faults  []Fault
}

// GapCounts returns how many lines have partial subscription and
// energy coverage.
func (r *RunReport) GapCounts() (abo, energie int) {
	for _, l := range r.Lines {
		if l.GapAbo() {
			abo++
		}
		if l.GapEnergie() {
			energie++
		}
	}
	return abo, energie
}
