/*
metrics.go - Prometheus collectors for the billing pipeline

PURPOSE:
  Bundles the pipeline's collectors in one struct so the runner and the
  API share a single registration. All observe helpers are safe on a
  nil receiver: engine tests run without a registry.

EXPOSED SERIES:
  billing_runs_total{status}          completed / aborted runs
  billing_run_duration_seconds        whole-run latency
  billing_monthly_lines_total         reconciled monthly lines produced
  billing_pricing_faults_total{stage} row-level faults by pipeline stage
  billing_period_rejects_total        zero-length / unbounded period rejects
  billing_coverage_gaps_total{side}   months with partial abo/energie coverage
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "billing_"

const (
	RunCompleted = "completed"
	RunAborted   = "aborted"

	GapAbo     = "abo"
	GapEnergie = "energie"
)

// Metrics bundles the pipeline collectors.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	LinesTotal   prometheus.Counter
	FaultsTotal  *prometheus.CounterVec
	RejectsTotal prometheus.Counter
	GapsTotal    *prometheus.CounterVec
}

// New constructs and registers the collectors on the default registry.
func New() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total billing runs by status",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "run_duration_seconds",
			Help:    "Billing run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		LinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "monthly_lines_total",
			Help: "Total reconciled monthly lines produced",
		}),
		FaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pricing_faults_total",
				Help: "Total row-level faults by pipeline stage",
			},
			[]string{"stage"},
		),
		RejectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "period_rejects_total",
			Help: "Total rejected period artifacts",
		}),
		GapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "coverage_gaps_total",
				Help: "Total monthly lines with partial coverage by side",
			},
			[]string{"side"},
		),
	}
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.LinesTotal,
		m.FaultsTotal,
		m.RejectsTotal,
		m.GapsTotal,
	)
	return m
}

// ObserveRun records one run with its outcome and duration.
func (m *Metrics) ObserveRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// AddLines counts produced monthly lines.
func (m *Metrics) AddLines(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LinesTotal.Add(float64(n))
}

// AddFaults counts row-level faults for one stage.
func (m *Metrics) AddFaults(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FaultsTotal.WithLabelValues(stage).Add(float64(n))
}

// AddRejects counts rejected period artifacts.
func (m *Metrics) AddRejects(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RejectsTotal.Add(float64(n))
}

// AddGaps counts partially covered monthly lines for one side.
func (m *Metrics) AddGaps(side string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.GapsTotal.WithLabelValues(side).Add(float64(n))
}
