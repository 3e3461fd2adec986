/*
main.go - One-shot billing run

PURPOSE:
  Batch entry point: loads the stored contract events, executes one
  billing run over an optional month range, persists the report and
  prints it. Exits non-zero when the run aborts.

COMMAND-LINE FLAGS:
  -config  YAML config path (default: $BILLING_CONFIG)
  -db      SQLite database path override
  -seed    Reset the database and load the demo portfolio first
  -from    First month to keep, "YYYY-MM" (default: unbounded)
  -to      Last month to keep, "YYYY-MM" (default: unbounded)

EXAMPLES:
  # Seed the demo portfolio and price the first 2024 quarter
  ./billrun -db=./billing.db -seed -from=2024-01 -to=2024-03

  # Price everything currently stored
  ./billrun -db=./billing.db

SEE ALSO:
  - pipeline/runner.go: Run semantics
  - api/scenarios.go: The demo portfolio
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enerflux/billing-engine/accise"
	"github.com/enerflux/billing-engine/api"
	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/config"
	"github.com/enerflux/billing-engine/pipeline"
	"github.com/enerflux/billing-engine/store/sqlite"
	"github.com/enerflux/billing-engine/tariff"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config path")
	dbPath := flag.String("db", "", "SQLite database path override")
	seed := flag.Bool("seed", false, "reset the database and load the demo portfolio")
	fromMonth := flag.String("from", "", `first month to keep, "YYYY-MM"`)
	toMonth := flag.String("to", "", `last month to keep, "YYYY-MM"`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	if *seed {
		if err := api.Seed(ctx, store); err != nil {
			log.Fatalf("Failed to seed demo portfolio: %v", err)
		}
		log.Println("🌱 Seeded demo portfolio")
	}

	rules, rates, err := loadCatalogs(ctx, store, cfg)
	if err != nil {
		log.Fatalf("Failed to build pricing catalogs: %v", err)
	}

	runner := pipeline.NewRunner(store, rules, rates)
	runner.Workers = cfg.Workers

	events, err := store.GetEvents(ctx)
	if err != nil {
		log.Fatalf("Failed to load contract events: %v", err)
	}
	if len(events) == 0 {
		log.Println("⚠️  No contract events stored; run with -seed or ingest events first")
	}

	report, err := runner.Run(ctx, pipeline.RunInput{
		Events:    events,
		FromMonth: *fromMonth,
		ToMonth:   *toMonth,
	})
	if err != nil {
		log.Fatalf("Run aborted: %v", err)
	}

	if err := store.SaveRun(ctx, report, *fromMonth, *toMonth); err != nil {
		log.Fatalf("Failed to persist run: %v", err)
	}

	printReport(report)
}

// printReport renders the run summary and the priced lines.
func printReport(report *pipeline.RunReport) {
	fmt.Printf("📊 Run %s completed in %s\n", report.ID, report.Duration.Round(time.Millisecond))
	fmt.Printf("   %d events, %d delivery points\n", report.EventCount, report.PDLCount)
	fmt.Printf("   %d lines, %d rejects, %d faults\n", len(report.Lines), len(report.Rejects), len(report.Faults))

	abo, energie := report.GapCounts()
	if abo > 0 || energie > 0 {
		fmt.Printf("   coverage gaps: %d abo, %d energie\n", abo, energie)
	}
	fmt.Println()

	if len(report.Lines) > 0 {
		fmt.Printf("%-8s  %-14s  %-16s  %4s  %9s  %9s  %9s  %9s  %s\n",
			"MONTH", "REF", "PDL", "DAYS", "FIXE", "VAR", "OVERRUN", "ACCISE", "NOTE")
		for _, l := range report.Lines {
			fmt.Printf("%-8s  %-14s  %-16s  %4d  %9s  %9s  %9s  %9s  %s\n",
				l.Month, l.Ref, l.PDL, l.DayCount,
				fmtAmount(l.TurpeFixe), fmtAmount(l.TurpeVariable),
				fmtAmount(l.TurpeOverrun), fmtAmount(l.Accise),
				lineNote(l))
		}
		fmt.Println()
	}

	for _, rej := range report.Rejects {
		fmt.Printf("✂️  reject %s %s [%s, %s): %s\n", rej.Ref, rej.PDL, rej.Start, rej.End, rej.Reason)
	}
	for _, f := range report.Faults {
		fmt.Printf("⚠️  fault %s\n", f)
	}
}

func fmtAmount(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}

func lineNote(l billing.MonthlyAggregate) string {
	note := l.Memo
	if !l.DataComplete {
		if note != "" {
			note += ", "
		}
		note += "données incomplètes"
	}
	return note
}

// loadCatalogs resolves the TURPE and accise reference tables.
// This mirrors the loadCatalogs function in cmd/server/main.go.
func loadCatalogs(ctx context.Context, store *sqlite.Store, cfg config.Config) (*tariff.RuleSet, *accise.RateSet, error) {
	if cfg.Catalog == config.CatalogBuiltin {
		return tariff.DefaultRules(), accise.DefaultRates(), nil
	}

	storedRules, err := store.TariffRules(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load tariff rules: %w", err)
	}
	if len(storedRules) == 0 {
		return nil, nil, fmt.Errorf("catalog %q configured but no tariff rules stored", cfg.Catalog)
	}
	rules, err := tariff.NewRuleSet(storedRules)
	if err != nil {
		return nil, nil, fmt.Errorf("build rule set: %w", err)
	}

	storedRates, err := store.AcciseRates(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load accise rates: %w", err)
	}
	if len(storedRates) == 0 {
		return nil, nil, fmt.Errorf("catalog %q configured but no accise rates stored", cfg.Catalog)
	}
	rates, err := accise.NewRateSet(storedRates)
	if err != nil {
		return nil, nil, fmt.Errorf("build rate set: %w", err)
	}

	return rules, rates, nil
}
