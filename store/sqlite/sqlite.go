/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists the billing perimeter (contract events), the periodic meter
  readings, both pricing catalogs and the output of completed runs. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  billing.PeriodicReadingSource: Batched index lookups for the chronology
  tariff.RuleSource:             TURPE rule versions
  accise.RateSource:             Excise rate versions

KEY TABLES:
  contract_events: The contract life of every delivery point
  meter_readings:  Periodic index snapshots, one per (pdl, day)
  turpe_rules:     TURPE rule versions, one per (formula code, start)
  accise_rates:    National excise versions, one per start date
  billing_runs:    Run reports with their faults and rejects
  monthly_lines:   Priced monthly lines, attached to their run

ENCODING:
  Civil days are stored as "YYYY-MM-DD" text, decimals as their exact
  string form, per-cadran columns as one json document. Runs keep their
  faults and rejects as json documents too; they are display material,
  never queried by field.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  runner := pipeline.NewRunner(store, rules, rates)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/chronology.go: The reading source contract
  - tariff/rule.go, accise/rates.go: The catalog source contracts
  - pipeline/runner.go: Produces the reports persisted here
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/enerflux/billing-engine/accise"
	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/pipeline"
	"github.com/enerflux/billing-engine/tariff"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Contract events (the billing perimeter)
	CREATE TABLE IF NOT EXISTS contract_events (
		id TEXT PRIMARY KEY,
		pdl TEXT NOT NULL,
		ref TEXT NOT NULL,
		date TEXT NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL,
		power TEXT NOT NULL,
		tiers_json TEXT,
		fta TEXT NOT NULL,
		calendar_id TEXT,
		before_json TEXT,
		after_json TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(pdl, ref, date, seq, type)
	);

	CREATE INDEX IF NOT EXISTS idx_events_pdl_date
		ON contract_events(pdl, date);

	-- Periodic meter readings, one index snapshot per (pdl, day)
	CREATE TABLE IF NOT EXISTS meter_readings (
		id TEXT PRIMARY KEY,
		pdl TEXT NOT NULL,
		date TEXT NOT NULL,
		calendar_id TEXT,
		indexes_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(pdl, date)
	);

	-- TURPE rule versions, one per (formula code, start date)
	CREATE TABLE IF NOT EXISTS turpe_rules (
		id TEXT PRIMARY KEY,
		fta TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		cg TEXT NOT NULL,
		cc TEXT NOT NULL,
		b TEXT,
		b1 TEXT,
		b2 TEXT,
		b3 TEXT,
		b4 TEXT,
		rates_json TEXT NOT NULL,
		cmdps TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(fta, start_date)
	);

	-- National excise versions, one per start date
	CREATE TABLE IF NOT EXISTS accise_rates (
		id TEXT PRIMARY KEY,
		start_date TEXT NOT NULL,
		end_date TEXT,
		eur_per_mwh TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(start_date)
	);

	-- Completed billing runs
	CREATE TABLE IF NOT EXISTS billing_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		event_count INTEGER NOT NULL DEFAULT 0,
		pdl_count INTEGER NOT NULL DEFAULT 0,
		line_count INTEGER NOT NULL DEFAULT 0,
		reject_count INTEGER NOT NULL DEFAULT 0,
		fault_count INTEGER NOT NULL DEFAULT 0,
		from_month TEXT,
		to_month TEXT,
		faults_json TEXT,
		rejects_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started
		ON billing_runs(started_at DESC);

	-- Priced monthly lines, attached to the run that produced them
	CREATE TABLE IF NOT EXISTS monthly_lines (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		pdl TEXT NOT NULL,
		month TEXT NOT NULL,
		month_label TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		day_count INTEGER NOT NULL DEFAULT 0,
		power TEXT NOT NULL,
		tiers_json TEXT,
		fta TEXT,
		calendar_id TEXT,
		energy_json TEXT,
		subscription_days INTEGER NOT NULL DEFAULT 0,
		energy_days INTEGER NOT NULL DEFAULT 0,
		coverage_abo REAL NOT NULL DEFAULT 0,
		coverage_energie REAL NOT NULL DEFAULT 0,
		data_complete BOOLEAN DEFAULT FALSE,
		has_changement_abo BOOLEAN DEFAULT FALSE,
		has_changement_energie BOOLEAN DEFAULT FALSE,
		memo TEXT,
		overrun_hours TEXT,
		turpe_fixe TEXT,
		turpe_variable TEXT,
		turpe_overrun TEXT,
		accise TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(run_id, ref, pdl, month)
	);

	CREATE INDEX IF NOT EXISTS idx_lines_run
		ON monthly_lines(run_id);
	CREATE INDEX IF NOT EXISTS idx_lines_pdl_month
		ON monthly_lines(pdl, month);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PERIODIC READING SOURCE (billing.PeriodicReadingSource interface)
// =============================================================================

// FetchIndexes answers a batch of (pdl, day) requests with exactly one
// reading per request, in request order. Days with no stored index come
// back with Missing set.
func (s *Store) FetchIndexes(ctx context.Context, reqs []billing.ReadingRequest) ([]billing.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT calendar_id, indexes_json
		FROM meter_readings
		WHERE pdl = ? AND date = ?
	`

	out := make([]billing.MeterReading, 0, len(reqs))
	for _, req := range reqs {
		mr := billing.MeterReading{
			PDL:    req.PDL,
			Date:   req.Date,
			Source: billing.SourcePeriodicQuery,
		}

		var calendar sql.NullString
		var indexesJSON string
		err := s.db.QueryRowContext(ctx, query, string(req.PDL), req.Date.String()).
			Scan(&calendar, &indexesJSON)
		switch {
		case err == sql.ErrNoRows:
			mr.Missing = true
		case err != nil:
			return nil, fmt.Errorf("failed to fetch reading %s %s: %w", req.PDL, req.Date, err)
		default:
			mr.CalendarID = calendar.String
			if err := json.Unmarshal([]byte(indexesJSON), &mr.Indexes); err != nil {
				return nil, fmt.Errorf("failed to decode reading %s %s: %w", req.PDL, req.Date, err)
			}
		}
		out = append(out, mr)
	}
	return out, nil
}

// SaveReadings upserts periodic readings, keyed by (pdl, date).
func (s *Store) SaveReadings(ctx context.Context, readings []billing.MeterReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO meter_readings (id, pdl, date, calendar_id, indexes_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pdl, date) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			indexes_json = excluded.indexes_json
	`

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range readings {
		indexesJSON, err := json.Marshal(r.Indexes)
		if err != nil {
			return fmt.Errorf("failed to encode reading %s %s: %w", r.PDL, r.Date, err)
		}
		if _, err := tx.ExecContext(ctx, query,
			uuid.NewString(),
			string(r.PDL),
			r.Date.String(),
			nullString(r.CalendarID),
			string(indexesJSON),
			now,
		); err != nil {
			return fmt.Errorf("failed to save reading %s %s: %w", r.PDL, r.Date, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// CONTRACT EVENTS
// =============================================================================

// SaveEvents upserts contract events, keyed by (pdl, ref, date, seq, type).
func (s *Store) SaveEvents(ctx context.Context, events []billing.ContractEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO contract_events
		(id, pdl, ref, date, seq, type, power, tiers_json, fta, calendar_id,
		 before_json, after_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pdl, ref, date, seq, type) DO UPDATE SET
			power = excluded.power,
			tiers_json = excluded.tiers_json,
			fta = excluded.fta,
			calendar_id = excluded.calendar_id,
			before_json = excluded.before_json,
			after_json = excluded.after_json
	`

	now := time.Now().UTC().Format(time.RFC3339)
	for _, ev := range events {
		tiersJSON, err := marshalTiers(ev.TierPowers)
		if err != nil {
			return err
		}
		beforeJSON, err := marshalBands(ev.Before)
		if err != nil {
			return err
		}
		afterJSON, err := marshalBands(ev.After)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query,
			uuid.NewString(),
			string(ev.PDL),
			string(ev.Ref),
			ev.Date.String(),
			ev.Seq,
			string(ev.Type),
			ev.Power.String(),
			tiersJSON,
			string(ev.FTA),
			nullString(ev.CalendarID),
			beforeJSON,
			afterJSON,
			now,
		); err != nil {
			return fmt.Errorf("failed to save event %s %s %s: %w", ev.Ref, ev.Type, ev.Date, err)
		}
	}
	return tx.Commit()
}

// GetEvents returns every stored contract event, ordered by
// (pdl, date, seq).
func (s *Store) GetEvents(ctx context.Context) ([]billing.ContractEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT pdl, ref, date, seq, type, power, tiers_json, fta, calendar_id,
		       before_json, after_json
		FROM contract_events
		ORDER BY pdl ASC, date ASC, seq ASC
	`

	return s.queryEvents(ctx, query)
}

// GetEventsByPDL returns one delivery point's contract events.
func (s *Store) GetEventsByPDL(ctx context.Context, pdl billing.PDL) ([]billing.ContractEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT pdl, ref, date, seq, type, power, tiers_json, fta, calendar_id,
		       before_json, after_json
		FROM contract_events
		WHERE pdl = ?
		ORDER BY date ASC, seq ASC
	`

	return s.queryEvents(ctx, query, string(pdl))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]billing.ContractEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []billing.ContractEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (billing.ContractEvent, error) {
	var (
		ev         billing.ContractEvent
		pdl, ref   string
		date       string
		typ        string
		power      string
		tiersJSON  sql.NullString
		fta        string
		calendar   sql.NullString
		beforeJSON sql.NullString
		afterJSON  sql.NullString
	)

	err := rows.Scan(&pdl, &ref, &date, &ev.Seq, &typ, &power, &tiersJSON,
		&fta, &calendar, &beforeJSON, &afterJSON)
	if err != nil {
		return ev, fmt.Errorf("failed to scan event: %w", err)
	}

	ev.PDL = billing.PDL(pdl)
	ev.Ref = billing.ContractRef(ref)
	ev.Type = billing.EventType(typ)
	ev.FTA = billing.FTA(fta)
	ev.CalendarID = calendar.String

	if ev.Date, err = billing.ParseDay(date); err != nil {
		return ev, fmt.Errorf("event %s: %w", ref, err)
	}
	if ev.Power, err = decimal.NewFromString(power); err != nil {
		return ev, fmt.Errorf("event %s: bad power %q: %w", ref, power, err)
	}
	if ev.TierPowers, err = unmarshalTiers(tiersJSON); err != nil {
		return ev, fmt.Errorf("event %s: %w", ref, err)
	}
	if ev.Before, err = unmarshalBands(beforeJSON); err != nil {
		return ev, fmt.Errorf("event %s: %w", ref, err)
	}
	if ev.After, err = unmarshalBands(afterJSON); err != nil {
		return ev, fmt.Errorf("event %s: %w", ref, err)
	}
	return ev, nil
}

// =============================================================================
// TURPE CATALOG (tariff.RuleSource interface)
// =============================================================================

// TariffRules returns every stored TURPE rule version. Validation is the
// caller's business, via tariff.NewRuleSet.
func (s *Store) TariffRules(ctx context.Context) ([]tariff.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT fta, start_date, end_date, cg, cc, b, b1, b2, b3, b4, rates_json, cmdps
		FROM turpe_rules
		ORDER BY fta ASC, start_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query turpe rules: %w", err)
	}
	defer rows.Close()

	var rules []tariff.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(rows *sql.Rows) (tariff.Rule, error) {
	var (
		rule        tariff.Rule
		fta         string
		start       string
		end         sql.NullString
		cg, cc      string
		b           sql.NullString
		b1, b2      sql.NullString
		b3, b4      sql.NullString
		ratesJSON   string
		cmdps       sql.NullString
	)

	err := rows.Scan(&fta, &start, &end, &cg, &cc, &b, &b1, &b2, &b3, &b4, &ratesJSON, &cmdps)
	if err != nil {
		return rule, fmt.Errorf("failed to scan turpe rule: %w", err)
	}

	rule.FTA = billing.FTA(fta)
	if rule.Start, err = billing.ParseDay(start); err != nil {
		return rule, fmt.Errorf("rule %s: %w", fta, err)
	}
	if rule.End, err = parseNullDay(end); err != nil {
		return rule, fmt.Errorf("rule %s: %w", fta, err)
	}
	if rule.Cg, err = decimal.NewFromString(cg); err != nil {
		return rule, fmt.Errorf("rule %s: bad cg %q: %w", fta, cg, err)
	}
	if rule.Cc, err = decimal.NewFromString(cc); err != nil {
		return rule, fmt.Errorf("rule %s: bad cc %q: %w", fta, cc, err)
	}
	if err := json.Unmarshal([]byte(ratesJSON), &rule.Rates); err != nil {
		return rule, fmt.Errorf("rule %s: bad rates: %w", fta, err)
	}
	if rule.CMDPS, err = parseNullDecimal(cmdps); err != nil {
		return rule, fmt.Errorf("rule %s: bad cmdps: %w", fta, err)
	}

	switch {
	case b.Valid:
		flat, err := decimal.NewFromString(b.String)
		if err != nil {
			return rule, fmt.Errorf("rule %s: bad b %q: %w", fta, b.String, err)
		}
		rule.Shape = tariff.Flat{B: flat}
	case b1.Valid && b2.Valid && b3.Valid && b4.Valid:
		var tiers [4]decimal.Decimal
		for i, cell := range []string{b1.String, b2.String, b3.String, b4.String} {
			if tiers[i], err = decimal.NewFromString(cell); err != nil {
				return rule, fmt.Errorf("rule %s: bad b%d %q: %w", fta, i+1, cell, err)
			}
		}
		rule.Shape = tariff.FourTier{B1: tiers[0], B2: tiers[1], B3: tiers[2], B4: tiers[3]}
	default:
		return rule, fmt.Errorf("rule %s at %s: no pricing shape stored", fta, start)
	}
	return rule, nil
}

// SaveTariffRules upserts rule versions, keyed by (fta, start date).
func (s *Store) SaveTariffRules(ctx context.Context, rules []tariff.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO turpe_rules
		(id, fta, start_date, end_date, cg, cc, b, b1, b2, b3, b4, rates_json, cmdps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fta, start_date) DO UPDATE SET
			end_date = excluded.end_date,
			cg = excluded.cg,
			cc = excluded.cc,
			b = excluded.b,
			b1 = excluded.b1,
			b2 = excluded.b2,
			b3 = excluded.b3,
			b4 = excluded.b4,
			rates_json = excluded.rates_json,
			cmdps = excluded.cmdps
	`

	now := time.Now().UTC().Format(time.RFC3339)
	for _, rule := range rules {
		var b, b1, b2, b3, b4 sql.NullString
		switch shape := rule.Shape.(type) {
		case tariff.Flat:
			b = sql.NullString{String: shape.B.String(), Valid: true}
		case tariff.FourTier:
			b1 = sql.NullString{String: shape.B1.String(), Valid: true}
			b2 = sql.NullString{String: shape.B2.String(), Valid: true}
			b3 = sql.NullString{String: shape.B3.String(), Valid: true}
			b4 = sql.NullString{String: shape.B4.String(), Valid: true}
		default:
			return fmt.Errorf("rule %s at %s: unsupported shape %T", rule.FTA, rule.Start, rule.Shape)
		}

		ratesJSON, err := json.Marshal(rule.Rates)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.FTA, err)
		}
		if _, err := tx.ExecContext(ctx, query,
			uuid.NewString(),
			string(rule.FTA),
			rule.Start.String(),
			nullDay(rule.End),
			rule.Cg.String(),
			rule.Cc.String(),
			b, b1, b2, b3, b4,
			string(ratesJSON),
			nullDecimal(rule.CMDPS),
			now,
		); err != nil {
			return fmt.Errorf("failed to save rule %s at %s: %w", rule.FTA, rule.Start, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// ACCISE CATALOG (accise.RateSource interface)
// =============================================================================

// AcciseRates returns every stored excise version. Validation is the
// caller's business, via accise.NewRateSet.
func (s *Store) AcciseRates(ctx context.Context) ([]accise.Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT start_date, end_date, eur_per_mwh
		FROM accise_rates
		ORDER BY start_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accise rates: %w", err)
	}
	defer rows.Close()

	var rates []accise.Rate
	for rows.Next() {
		var (
			rate  accise.Rate
			start string
			end   sql.NullString
			eur   string
		)
		if err := rows.Scan(&start, &end, &eur); err != nil {
			return nil, fmt.Errorf("failed to scan accise rate: %w", err)
		}
		if rate.Start, err = billing.ParseDay(start); err != nil {
			return nil, fmt.Errorf("accise rate at %s: %w", start, err)
		}
		if rate.End, err = parseNullDay(end); err != nil {
			return nil, fmt.Errorf("accise rate at %s: %w", start, err)
		}
		if rate.EurPerMWh, err = decimal.NewFromString(eur); err != nil {
			return nil, fmt.Errorf("accise rate at %s: bad value %q: %w", start, eur, err)
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// SaveAcciseRates upserts excise versions, keyed by start date.
func (s *Store) SaveAcciseRates(ctx context.Context, rates []accise.Rate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO accise_rates (id, start_date, end_date, eur_per_mwh, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(start_date) DO UPDATE SET
			end_date = excluded.end_date,
			eur_per_mwh = excluded.eur_per_mwh
	`

	now := time.Now().UTC().Format(time.RFC3339)
	for _, rate := range rates {
		if _, err := tx.ExecContext(ctx, query,
			uuid.NewString(),
			rate.Start.String(),
			nullDay(rate.End),
			rate.EurPerMWh.String(),
			now,
		); err != nil {
			return fmt.Errorf("failed to save accise rate at %s: %w", rate.Start, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// RUNS AND MONTHLY LINES
// =============================================================================

// FaultRecord is a persisted pipeline fault, flattened for display.
type FaultRecord struct {
	Stage string `json:"stage"`
	Ref   string `json:"ref,omitempty"`
	PDL   string `json:"pdl,omitempty"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error"`
}

// RejectRecord is a persisted period reject, flattened for display.
type RejectRecord struct {
	Ref    string `json:"ref,omitempty"`
	PDL    string `json:"pdl,omitempty"`
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`
	Reason string `json:"reason"`
}

// RunRecord is one completed run as stored.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	Duration    time.Duration
	EventCount  int
	PDLCount    int
	LineCount   int
	RejectCount int
	FaultCount  int
	FromMonth   string
	ToMonth     string
	Faults      []FaultRecord
	Rejects     []RejectRecord
	CreatedAt   time.Time
}

// SaveRun persists a run report and its monthly lines atomically.
func (s *Store) SaveRun(ctx context.Context, report *pipeline.RunReport, fromMonth, toMonth string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	faults := make([]FaultRecord, 0, len(report.Faults))
	for _, f := range report.Faults {
		faults = append(faults, FaultRecord{
			Stage: f.Stage,
			Ref:   string(f.Ref),
			PDL:   string(f.PDL),
			Key:   f.Key,
			Error: errText(f.Err),
		})
	}
	rejects := make([]RejectRecord, 0, len(report.Rejects))
	for _, r := range report.Rejects {
		rejects = append(rejects, RejectRecord{
			Ref:    string(r.Ref),
			PDL:    string(r.PDL),
			Start:  r.Start.String(),
			End:    r.End.String(),
			Reason: r.Reason,
		})
	}
	faultsJSON, err := json.Marshal(faults)
	if err != nil {
		return fmt.Errorf("failed to encode faults: %w", err)
	}
	rejectsJSON, err := json.Marshal(rejects)
	if err != nil {
		return fmt.Errorf("failed to encode rejects: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO billing_runs
		(id, started_at, duration_ms, event_count, pdl_count, line_count,
		 reject_count, fault_count, from_month, to_month, faults_json, rejects_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.StartedAt.UTC().Format(time.RFC3339Nano),
		report.Duration.Milliseconds(),
		report.EventCount,
		report.PDLCount,
		len(report.Lines),
		len(report.Rejects),
		len(report.Faults),
		nullString(fromMonth),
		nullString(toMonth),
		string(faultsJSON),
		string(rejectsJSON),
		now,
	); err != nil {
		return fmt.Errorf("failed to save run %s: %w", report.ID, err)
	}

	for _, line := range report.Lines {
		if err := insertLine(ctx, tx, report.ID, line, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertLine(ctx context.Context, tx *sql.Tx, runID string, line billing.MonthlyAggregate, now string) error {
	tiersJSON, err := marshalTiers(line.TierPowers)
	if err != nil {
		return fmt.Errorf("line %s: %w", line.Key(), err)
	}
	energyJSON, err := json.Marshal(line.Energy)
	if err != nil {
		return fmt.Errorf("line %s: %w", line.Key(), err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO monthly_lines
		(id, run_id, ref, pdl, month, month_label, start_date, end_date, day_count,
		 power, tiers_json, fta, calendar_id, energy_json,
		 subscription_days, energy_days, coverage_abo, coverage_energie,
		 data_complete, has_changement_abo, has_changement_energie, memo,
		 overrun_hours, turpe_fixe, turpe_variable, turpe_overrun, accise, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(),
		runID,
		string(line.Ref),
		string(line.PDL),
		line.Month,
		line.MonthLabel,
		line.Start.String(),
		line.End.String(),
		line.DayCount,
		line.Power.String(),
		tiersJSON,
		string(line.FTA),
		nullString(line.CalendarID),
		string(energyJSON),
		line.SubscriptionDays,
		line.EnergyDays,
		line.CoverageAbo,
		line.CoverageEnergie,
		line.DataComplete,
		line.HasChangementAbo,
		line.HasChangementEnergie,
		line.Memo,
		nullDecimal(line.OverrunHours),
		nullDecimal(line.TurpeFixe),
		nullDecimal(line.TurpeVariable),
		nullDecimal(line.TurpeOverrun),
		nullDecimal(line.Accise),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save line %s: %w", line.Key(), err)
	}
	return nil
}

// GetRun returns one stored run, or nil when the id is unknown.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, started_at, duration_ms, event_count, pdl_count, line_count,
		       reject_count, fault_count, from_month, to_month, faults_json, rejects_json, created_at
		FROM billing_runs
		WHERE id = ?
	`

	runs, err := s.queryRuns(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// GetRuns returns the most recent runs, newest first.
func (s *Store) GetRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, started_at, duration_ms, event_count, pdl_count, line_count,
		       reject_count, fault_count, from_month, to_month, faults_json, rejects_json, created_at
		FROM billing_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	return s.queryRuns(ctx, query, limit)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r           RunRecord
			startedAt   string
			durationMS  int64
			fromMonth   sql.NullString
			toMonth     sql.NullString
			faultsJSON  sql.NullString
			rejectsJSON sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&r.ID, &startedAt, &durationMS, &r.EventCount, &r.PDLCount,
			&r.LineCount, &r.RejectCount, &r.FaultCount, &fromMonth, &toMonth,
			&faultsJSON, &rejectsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.FromMonth = fromMonth.String
		r.ToMonth = toMonth.String
		if faultsJSON.Valid && faultsJSON.String != "" {
			if err := json.Unmarshal([]byte(faultsJSON.String), &r.Faults); err != nil {
				return nil, fmt.Errorf("run %s: bad faults: %w", r.ID, err)
			}
		}
		if rejectsJSON.Valid && rejectsJSON.String != "" {
			if err := json.Unmarshal([]byte(rejectsJSON.String), &r.Rejects); err != nil {
				return nil, fmt.Errorf("run %s: bad rejects: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetLinesByRun returns a run's monthly lines, ordered by
// (ref, pdl, month).
func (s *Store) GetLinesByRun(ctx context.Context, runID string) ([]billing.MonthlyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := lineColumns + `
		FROM monthly_lines
		WHERE run_id = ?
		ORDER BY ref ASC, pdl ASC, month ASC
	`

	return s.queryLines(ctx, query, runID)
}

// GetLinesByPDL returns a delivery point's lines from the most recent
// run that covered it, optionally bounded to [fromMonth, toMonth].
func (s *Store) GetLinesByPDL(ctx context.Context, pdl billing.PDL, fromMonth, toMonth string) ([]billing.MonthlyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := lineColumns + `
		FROM monthly_lines
		WHERE pdl = ?
		  AND run_id = (
			SELECT l.run_id
			FROM monthly_lines l
			JOIN billing_runs r ON r.id = l.run_id
			WHERE l.pdl = ?
			ORDER BY r.started_at DESC
			LIMIT 1
		  )
	`
	args := []any{string(pdl), string(pdl)}
	if fromMonth != "" {
		query += " AND month >= ?"
		args = append(args, fromMonth)
	}
	if toMonth != "" {
		query += " AND month <= ?"
		args = append(args, toMonth)
	}
	query += " ORDER BY ref ASC, month ASC"

	return s.queryLines(ctx, query, args...)
}

const lineColumns = `
		SELECT ref, pdl, month, month_label, start_date, end_date, day_count,
		       power, tiers_json, fta, calendar_id, energy_json,
		       subscription_days, energy_days, coverage_abo, coverage_energie,
		       data_complete, has_changement_abo, has_changement_energie, memo,
		       overrun_hours, turpe_fixe, turpe_variable, turpe_overrun, accise
`

func (s *Store) queryLines(ctx context.Context, query string, args ...any) ([]billing.MonthlyAggregate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var lines []billing.MonthlyAggregate
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanLine(rows *sql.Rows) (billing.MonthlyAggregate, error) {
	var (
		a          billing.MonthlyAggregate
		ref, pdl   string
		start, end string
		power      string
		tiersJSON  sql.NullString
		fta        sql.NullString
		calendar   sql.NullString
		energyJSON sql.NullString
		memo       sql.NullString
		overrun    sql.NullString
		fixe       sql.NullString
		variable   sql.NullString
		penalty    sql.NullString
		exciseTax  sql.NullString
	)

	err := rows.Scan(&ref, &pdl, &a.Month, &a.MonthLabel, &start, &end, &a.DayCount,
		&power, &tiersJSON, &fta, &calendar, &energyJSON,
		&a.SubscriptionDays, &a.EnergyDays, &a.CoverageAbo, &a.CoverageEnergie,
		&a.DataComplete, &a.HasChangementAbo, &a.HasChangementEnergie, &memo,
		&overrun, &fixe, &variable, &penalty, &exciseTax)
	if err != nil {
		return a, fmt.Errorf("failed to scan line: %w", err)
	}

	a.Ref = billing.ContractRef(ref)
	a.PDL = billing.PDL(pdl)
	a.FTA = billing.FTA(fta.String)
	a.CalendarID = calendar.String
	a.Memo = memo.String
	a.HasChangement = a.HasChangementAbo || a.HasChangementEnergie

	if a.Start, err = billing.ParseDay(start); err != nil {
		return a, fmt.Errorf("line %s: %w", a.Key(), err)
	}
	if a.End, err = billing.ParseDay(end); err != nil {
		return a, fmt.Errorf("line %s: %w", a.Key(), err)
	}
	if a.Power, err = decimal.NewFromString(power); err != nil {
		return a, fmt.Errorf("line %s: bad power %q: %w", a.Key(), power, err)
	}
	if a.TierPowers, err = unmarshalTiers(tiersJSON); err != nil {
		return a, fmt.Errorf("line %s: %w", a.Key(), err)
	}
	if energyJSON.Valid && energyJSON.String != "" {
		if err := json.Unmarshal([]byte(energyJSON.String), &a.Energy); err != nil {
			return a, fmt.Errorf("line %s: bad energy: %w", a.Key(), err)
		}
	}
	if a.OverrunHours, err = parseNullDecimal(overrun); err != nil {
		return a, fmt.Errorf("line %s: %w", a.Key(), err)
	}
	if a.TurpeFixe, err = parseNullDecimal(fixe); err != nil {
		return a, fmt.Errorf("line %s: %w", a.Key(), err)
	}
	if a.TurpeVariable, err = parseNullDecimal(variable); err != nil {
		return a, fmt.Errorf("line %s: %w", a.Key(), err)
	}
	if a.TurpeOverrun, err = parseNullDecimal(penalty); err != nil {
		return a, fmt.Errorf("line %s: %w", a.Key(), err)
	}
	if a.Accise, err = parseNullDecimal(exciseTax); err != nil {
		return a, fmt.Errorf("line %s: %w", a.Key(), err)
	}
	return a, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset wipes every table. Demo and test helper.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"monthly_lines", "billing_runs", "contract_events",
		"meter_readings", "turpe_rules", "accise_rates",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDay(d billing.Day) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDay(s sql.NullString) (billing.Day, error) {
	if !s.Valid || s.String == "" {
		return billing.Day{}, nil
	}
	return billing.ParseDay(s.String)
}

func nullDecimal(v decimal.NullDecimal) sql.NullString {
	if !v.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid || s.String == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func marshalBands(v *billing.BandValues) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode cadran values: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalBands(s sql.NullString) (*billing.BandValues, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var v billing.BandValues
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, fmt.Errorf("failed to decode cadran values: %w", err)
	}
	return &v, nil
}

func marshalTiers(t *billing.TierPowers) (sql.NullString, error) {
	if t == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode tier powers: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalTiers(s sql.NullString) (*billing.TierPowers, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var t billing.TierPowers
	if err := json.Unmarshal([]byte(s.String), &t); err != nil {
		return nil, fmt.Errorf("failed to decode tier powers: %w", err)
	}
	return &t, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
