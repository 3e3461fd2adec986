/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load the YAML config
  2. Initialize SQLite store and Prometheus collectors
  3. Build the pricing catalogs (builtin or from the store)
  4. Create API handler, router and scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config path (default: $BILLING_CONFIG)
  -addr    Listen address override (for example :3000)
  -db      SQLite database path override
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with a config file
  ./server -config=./billing.yaml

  # Run with an in-memory database
  ./server -db=":memory:"

  # Run on a different port
  ./server -addr=:3000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys and precedence
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/enerflux/billing-engine/accise"
	"github.com/enerflux/billing-engine/api"
	"github.com/enerflux/billing-engine/config"
	"github.com/enerflux/billing-engine/metrics"
	"github.com/enerflux/billing-engine/pipeline"
	"github.com/enerflux/billing-engine/store/sqlite"
	"github.com/enerflux/billing-engine/tariff"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config path")
	addr := flag.String("addr", "", "listen address override")
	dbPath := flag.String("db", "", "SQLite database path override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Build the runner
	runner, err := buildRunner(context.Background(), store, cfg)
	if err != nil {
		log.Fatalf("Failed to build pricing catalogs: %v", err)
	}
	runner.Metrics = metrics.New()

	// Initialize handler and router
	handler := api.NewHandler(store, runner)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Scheduler
	scheduler := api.NewRunScheduler(store, runner, cfg.Schedule)
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost%s", cfg.Addr)
		log.Printf("📊 API available at http://localhost%s/api/v1", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// buildRunner assembles the pipeline runner with the configured
// pricing catalogs.
func buildRunner(ctx context.Context, store *sqlite.Store, cfg config.Config) (*pipeline.Runner, error) {
	rules, rates, err := loadCatalogs(ctx, store, cfg)
	if err != nil {
		return nil, err
	}

	runner := pipeline.NewRunner(store, rules, rates)
	runner.Workers = cfg.Workers
	return runner, nil
}

// loadCatalogs resolves the TURPE and accise reference tables, either
// built in or from the store's reference tables.
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
