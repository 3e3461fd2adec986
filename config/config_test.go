package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enerflux/billing-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "billing.db", cfg.DBPath)
	assert.Equal(t, config.CatalogBuiltin, cfg.Catalog)
	assert.Equal(t, 0, cfg.Workers)
	assert.False(t, cfg.Schedule.Enabled)
	assert.Equal(t, 1, cfg.Schedule.RunDay)
	assert.Equal(t, "06:00", cfg.Schedule.MonthlyAt)
}

func TestLoad_YamlFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.yaml")
	body := `
addr: ":9090"
db_path: /var/lib/billing/billing.db
workers: 8
catalog: store
cors_origins:
  - http://localhost:5173
schedule:
  enabled: true
  run_day: 3
  monthly_at: "04:30"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "/var/lib/billing/billing.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, config.CatalogStore, cfg.Catalog)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	assert.True(t, cfg.Schedule.Enabled)
	assert.Equal(t, 3, cfg.Schedule.RunDay)
	assert.Equal(t, "04:30", cfg.Schedule.MonthlyAt)
}

func TestLoad_EnvironmentFallbacks(t *testing.T) {
	t.Setenv("BILLING_ADDR", ":7070")
	t.Setenv("BILLING_DB", "env.db")
	t.Setenv("BILLING_WORKERS", "4")
	t.Setenv("BILLING_CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, "env.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9090\"\n"), 0o600))
	t.Setenv("BILLING_ADDR", ":7070")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr, "environment overrides the file")
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown catalog", "catalog: excel\n"},
		{"negative workers", "workers: -1\n"},
		{"run day out of range", "schedule:\n  run_day: 31\n"},
		{"bad schedule time", "schedule:\n  monthly_at: noonish\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "billing.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o600))

			_, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}
