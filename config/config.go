/*
config.go - Service configuration

PURPOSE:
  One place for everything the binaries need to boot: listen address,
  database path, pricing-catalog source, worker cap and the monthly
  run schedule.

PRECEDENCE:
  built-in defaults, then the yaml file when one is given, then
  BILLING_* environment variables for fields the file left empty.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog sources.
const (
	CatalogBuiltin = "builtin" // published TURPE/accise values compiled in
	CatalogStore   = "store"   // rules and rates loaded from the database
)

// Config defines the billing service configuration.
type Config struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	DBPath      string   `yaml:"db_path"`
	Workers     int      `yaml:"workers"` // parallel delivery points, 0 = one per CPU
	Catalog     string   `yaml:"catalog"` // builtin or store

	Schedule ScheduleConfig `yaml:"schedule"`
}

// ScheduleConfig defines the automatic monthly run.
type ScheduleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RunDay    int    `yaml:"run_day"`    // day of month the previous month is billed
	MonthlyAt string `yaml:"monthly_at"` // local wall-clock time, "15:04"
}

// Load builds the configuration. An empty path falls back to the
// BILLING_CONFIG environment variable; no file at all is fine, the
// defaults and environment carry the service.
func Load(path string) (Config, error) {
	cfg := Config{
		Addr:    ":8080",
		DBPath:  "billing.db",
		Catalog: CatalogBuiltin,
		Schedule: ScheduleConfig{
			RunDay:    1,
			MonthlyAt: "06:00",
		},
	}

	if path == "" {
		path = os.Getenv("BILLING_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("BILLING_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("BILLING_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BILLING_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = splitCSV(os.Getenv("BILLING_CORS_ORIGINS"))
	}
	if v := os.Getenv("BILLING_CATALOG"); v != "" {
		cfg.Catalog = v
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("billing: listen address required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("billing: db path required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("billing: workers must not be negative, got %d", c.Workers)
	}
	if c.Catalog != CatalogBuiltin && c.Catalog != CatalogStore {
		return fmt.Errorf("billing: unknown catalog source %q", c.Catalog)
	}
	if c.Schedule.RunDay < 1 || c.Schedule.RunDay > 28 {
		return fmt.Errorf("billing: schedule run_day must be within 1..28, got %d", c.Schedule.RunDay)
	}
	if _, err := time.Parse("15:04", c.Schedule.MonthlyAt); err != nil {
		return fmt.Errorf("billing: schedule monthly_at must be HH:MM, got %q", c.Schedule.MonthlyAt)
	}
	return nil
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
