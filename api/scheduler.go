/*
scheduler.go - Automated monthly billing runs

PURPOSE:
  Triggers one billing run per month over the stored contract events,
  covering the previous month, and persists the result like a manual
  POST /api/v1/runs would.

DESIGN:
  - Runs a background goroutine with a short check interval
  - Fires on the configured day of month once the configured local
    time is reached
  - Skips months that already got their scheduled run

CONFIGURATION:
  - RunDay:    Day of month to fire on (1..28)
  - MonthlyAt: Local wall-clock time "HH:MM"
  - Enabled:   Whether the scheduler is active

USAGE:
  scheduler := NewRunScheduler(store, runner, cfg.Schedule)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRun endpoint (manual runs)
  - config/config.go: ScheduleConfig
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/config"
	"github.com/enerflux/billing-engine/pipeline"
	"github.com/enerflux/billing-engine/store/sqlite"
)

// RunScheduler fires the monthly billing run.
type RunScheduler struct {
	Store         *sqlite.Store
	Runner        *pipeline.Runner
	Config        config.ScheduleConfig
	CheckInterval time.Duration

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastRunMonth string
}

// NewRunScheduler creates a new scheduler.
func NewRunScheduler(store *sqlite.Store, runner *pipeline.Runner, cfg config.ScheduleConfig) *RunScheduler {
	return &RunScheduler{
		Store:         store,
		Runner:        runner,
		Config:        cfg,
		CheckInterval: 1 * time.Minute,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *RunScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Config.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Scheduler] Started: day %d at %s, next run %v",
		rs.Config.RunDay, rs.Config.MonthlyAt, rs.GetNextRunTime())
}

// Stop stops the scheduler.
func (rs *RunScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *RunScheduler) run() {
	defer rs.wg.Done()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RunScheduler) checkAndProcess() {
	today := billing.Today()
	if today.DayOfMonth() != rs.Config.RunDay {
		return
	}
	if time.Now().Format("15:04") < rs.Config.MonthlyAt {
		return
	}

	month := today.AddMonths(-1).MonthKey()

	rs.mu.Lock()
	done := rs.lastRunMonth == month
	rs.mu.Unlock()
	if done {
		return
	}

	if err := rs.runMonth(month); err != nil {
		log.Printf("[Scheduler] Run for %s failed: %v", month, err)
		return
	}

	rs.mu.Lock()
	rs.lastRunMonth = month
	rs.mu.Unlock()
}

func (rs *RunScheduler) runMonth(month string) error {
	ctx := context.Background()

	events, err := rs.Store.GetEvents(ctx)
	if err != nil {
		return err
	}

	report, err := rs.Runner.Run(ctx, pipeline.RunInput{
		Events:    events,
		FromMonth: month,
		ToMonth:   month,
	})
	if err != nil {
		return err
	}

	if err := rs.Store.SaveRun(ctx, report, month, month); err != nil {
		return err
	}

	log.Printf("[Scheduler] Completed run %s for %s: %d lines, %d faults, %d rejects",
		report.ID, month, len(report.Lines), len(report.Faults), len(report.Rejects))
	return nil
}

// RunNow triggers an immediate run for the previous month, regardless
// of the schedule (for testing/admin).
func (rs *RunScheduler) RunNow() error {
	return rs.runMonth(billing.Today().AddMonths(-1).MonthKey())
}

// GetNextRunTime returns when the next scheduled run will fire.
func (rs *RunScheduler) GetNextRunTime() time.Time {
	at, err := time.Parse("15:04", rs.Config.MonthlyAt)
	if err != nil {
		at, _ = time.Parse("15:04", "06:00")
	}

	now := time.Now()
	next := time.Date(now.Year(), now.Month(), rs.Config.RunDay, at.Hour(), at.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
