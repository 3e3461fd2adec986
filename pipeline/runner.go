/*
runner.go - Contract-to-invoice-line pipeline

PURPOSE:
  Drives one full billing run: validate the event stream, split it per
  delivery point, rebuild each point's meter chronology, cut the
  subscription and energy periods, price them, fold them into monthly
  lines and apply the per-month taxes.

RULES:
  - A malformed event stream aborts the whole run. Everything else is
    row-scoped: the faulted row is skipped and recorded, the rest of
    the run completes.
  - Delivery points are independent and are processed in parallel.
  - The runner computes; it never persists. Callers store the report.

SEE ALSO:
  - billing/: chronology, period building, monthly reconciliation
  - tariff/, accise/: the pricing engines applied per stage
*/
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/enerflux/billing-engine/accise"
	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/metrics"
	"github.com/enerflux/billing-engine/tariff"
)

// Runner prices contract-event batches into monthly lines.
type Runner struct {
	Readings billing.PeriodicReadingSource
	Rules    *tariff.RuleSet
	Rates    *accise.RateSet

	// Metrics is optional; a nil value disables instrumentation.
	Metrics *metrics.Metrics

	// Workers caps the number of delivery points processed at once.
	// Zero means one worker per CPU.
	Workers int

	// Now bounds monthly cutover injection. Zero value means today.
	Now func() billing.Day
}

// NewRunner wires a runner over the given reading source and pricing
// catalogs.
func NewRunner(readings billing.PeriodicReadingSource, rules *tariff.RuleSet, rates *accise.RateSet) *Runner {
	return &Runner{
		Readings: readings,
		Rules:    rules,
		Rates:    rates,
		Now:      billing.Today,
	}
}

// Run executes one billing run. It returns an error only when the run
// aborts as a whole: a malformed event stream, a reading source
// failure, or a cancelled context. Row-scoped problems land in the
// report's Faults and Rejects instead.
func (r *Runner) Run(ctx context.Context, input RunInput) (*RunReport, error) {
	started := time.Now()
	report := &RunReport{
		ID:         uuid.NewString(),
		StartedAt:  started,
		EventCount: len(input.Events),
	}

	if err := validateMonthRange(input.FromMonth, input.ToMonth); err != nil {
		r.Metrics.ObserveRun(metrics.RunAborted, time.Since(started))
		return nil, err
	}
	if err := billing.ValidateEvents(input.Events); err != nil {
		r.Metrics.ObserveRun(metrics.RunAborted, time.Since(started))
		return nil, fmt.Errorf("validate events: %w", err)
	}

	now := billing.Today()
	if r.Now != nil {
		now = r.Now()
	}

	partitions := partitionByPDL(input.Events)
	report.PDLCount = len(partitions)

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var (
		mu      sync.Mutex
		lines   []billing.MonthlyAggregate
		rejects []billing.RejectedPeriod
		faults  []Fault
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, part := range partitions {
		part := part
		g.Go(func() error {
			res, err := r.runPartition(ctx, part, now, input.OverrunHours)
			if err != nil {
				return fmt.Errorf("pdl %s: %w", part.pdl, err)
			}
			mu.Lock()
			lines = append(lines, res.lines...)
			rejects = append(rejects, res.rejects...)
			faults = append(faults, res.faults...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.Metrics.ObserveRun(metrics.RunAborted, time.Since(started))
		return nil, err
	}

	report.Lines = filterMonths(lines, input.FromMonth, input.ToMonth)
	report.Rejects = rejects
	report.Faults = faults
	sortReport(report)
	report.Duration = time.Since(started)

	r.observe(report)
	return report, nil
}

// partition is one delivery point's slice of the event stream.
type partition struct {
	pdl    billing.PDL
	events []billing.ContractEvent
}

type partitionResult struct {
	lines   []billing.MonthlyAggregate
	rejects []billing.RejectedPeriod
	faults  []Fault
}

// runPartition prices a single delivery point end to end.
func (r *Runner) runPartition(ctx context.Context, part partition, now billing.Day, overruns map[string]decimal.Decimal) (partitionResult, error) {
	var res partitionResult

	events := billing.DetectBreakpoints(billing.InjectCutovers(part.events, now))

	timeline, dupes, err := billing.ReconstructChronology(ctx, events, r.Readings)
	if err != nil {
		return res, err
	}
	for _, d := range dupes {
		dup := d
		res.faults = append(res.faults, Fault{
			Stage: StageChronology,
			PDL:   dup.PDL,
			Key:   dup.Date.String(),
			Err:   &dup,
		})
	}

	subs, subRejects := billing.BuildSubscriptionPeriods(events)
	energies, enRejects, nonMono := billing.BuildEnergyPeriods(timeline)
	res.rejects = append(res.rejects, subRejects...)
	res.rejects = append(res.rejects, enRejects...)
	for _, nm := range nonMono {
		bad := nm
		res.faults = append(res.faults, Fault{
			Stage: StageEnergy,
			Ref:   bad.Ref,
			PDL:   bad.PDL,
			Key:   bad.Start.String(),
			Err:   &bad,
		})
	}

	subs, fixeFaults := tariff.PriceSubscriptionPeriods(r.Rules, subs)
	res.faults = append(res.faults, convertTariffFaults(StageTurpeFixe, fixeFaults)...)
	energies, varFaults := tariff.PriceEnergyPeriods(r.Rules, energies)
	res.faults = append(res.faults, convertTariffFaults(StageTurpeVariable, varFaults)...)

	aggs := billing.ReconcileMonthly(subs, energies)
	for i := range aggs {
		if h, ok := overruns[aggs[i].Key()]; ok {
			aggs[i].OverrunHours = decimal.NewNullDecimal(h)
		}
	}

	aggs, overrunFaults := tariff.PriceOverruns(r.Rules, aggs)
	res.faults = append(res.faults, convertTariffFaults(StageOverrun, overrunFaults)...)
	aggs, acciseFaults := accise.PriceMonthly(r.Rates, aggs)
	for _, f := range acciseFaults {
		res.faults = append(res.faults, Fault{
			Stage: StageAccise,
			Ref:   f.Ref,
			PDL:   f.PDL,
			Key:   f.Month,
			Err:   f.Err,
		})
	}

	res.lines = aggs
	return res, nil
}

func (r *Runner) observe(report *RunReport) {
	r.Metrics.AddLines(len(report.Lines))
	r.Metrics.AddRejects(len(report.Rejects))
	byStage := map[string]int{}
	for _, f := range report.Faults {
		byStage[f.Stage]++
	}
	for stage, n := range byStage {
		r.Metrics.AddFaults(stage, n)
	}
	abo, energie := report.GapCounts()
	r.Metrics.AddGaps(metrics.GapAbo, abo)
	r.Metrics.AddGaps(metrics.GapEnergie, energie)
	r.Metrics.ObserveRun(metrics.RunCompleted, report.Duration)
}

func partitionByPDL(events []billing.ContractEvent) []partition {
	byPDL := map[billing.PDL][]billing.ContractEvent{}
	for _, e := range events {
		byPDL[e.PDL] = append(byPDL[e.PDL], e)
	}
	pdls := make([]billing.PDL, 0, len(byPDL))
	for pdl := range byPDL {
		pdls = append(pdls, pdl)
	}
	sort.Slice(pdls, func(i, j int) bool { return pdls[i] < pdls[j] })

	parts := make([]partition, 0, len(pdls))
	for _, pdl := range pdls {
		parts = append(parts, partition{pdl: pdl, events: byPDL[pdl]})
	}
	return parts
}

func validateMonthRange(from, to string) error {
	if from != "" {
		if _, err := billing.ParseMonthKey(from); err != nil {
			return &billing.SchemaError{Field: "from_month", Reason: err.Error()}
		}
	}
	if to != "" {
		if _, err := billing.ParseMonthKey(to); err != nil {
			return &billing.SchemaError{Field: "to_month", Reason: err.Error()}
		}
	}
	if from != "" && to != "" && to < from {
		return &billing.SchemaError{Field: "to_month", Reason: "before from_month"}
	}
	return nil
}

// filterMonths keeps the lines inside [from, to]. Month keys compare
// lexicographically.
func filterMonths(lines []billing.MonthlyAggregate, from, to string) []billing.MonthlyAggregate {
	if from == "" && to == "" {
		return lines
	}
	kept := lines[:0]
	for _, l := range lines {
		if from != "" && l.Month < from {
			continue
		}
		if to != "" && l.Month > to {
			continue
		}
		kept = append(kept, l)
	}
	return kept
}

func sortReport(report *RunReport) {
	sort.Slice(report.Lines, func(i, j int) bool {
		return report.Lines[i].Key() < report.Lines[j].Key()
	})
	sort.Slice(report.Rejects, func(i, j int) bool {
		a, b := report.Rejects[i], report.Rejects[j]
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		return a.Start.Before(b.Start)
	})
	sort.Slice(report.Faults, func(i, j int) bool {
		a, b := report.Faults[i], report.Faults[j]
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Stage < b.Stage
	})
}

func convertTariffFaults(stage string, faults []tariff.Fault) []Fault {
	if len(faults) == 0 {
		return nil
	}
	out := make([]Fault, 0, len(faults))
	for _, f := range faults {
		out = append(out, Fault{
			Stage: stage,
			Ref:   f.Ref,
			PDL:   f.PDL,
			Key:   f.Start.String(),
			Err:   f.Err,
		})
	}
	return out
}
