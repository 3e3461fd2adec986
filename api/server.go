/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/v1/runs/*         Billing runs (trigger, list, inspect)
  /api/v1/contracts/*    Per-delivery-point data
  /api/v1/events         Contract event ingestion
  /api/v1/readings       Meter reading ingestion
  /api/v1/tariffs        TURPE reference table
  /api/v1/accise         Excise rate table
  /api/v1/scenarios/*    Demo scenarios
  /api/v1/demo/seed      Full demo dataset
  /api/v1/admin/reset    Database reset (dev only)
  /healthz               Liveness
  /metrics               Prometheus collectors

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. An empty
// origin list falls back to the local development origins.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.TriggerRun)
			r.Get("/", h.ListRuns)
			r.Get("/{id}", h.GetRun)
		})

		// Contract routes
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/{pdl}/aggregates", h.GetContractAggregates)
			r.Get("/{pdl}/events", h.GetContractEvents)
		})

		// Ingestion routes
		r.Post("/events", h.IngestEvents)
		r.Post("/readings", h.IngestReadings)

		// Reference tables
		r.Get("/tariffs", h.ListTariffs)
		r.Get("/accise", h.ListAcciseRates)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
		r.Post("/demo/seed", h.SeedDemo)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Landing page listing the API surface
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Billing Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Billing Engine API</h1>
<p>Monthly energy billing over contract events, meter readings, TURPE and accise.</p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/v1/runs">/api/v1/runs</a> - List billing runs (POST to trigger one)</li>
<li><a href="/api/v1/tariffs">/api/v1/tariffs</a> - TURPE reference table</li>
<li><a href="/api/v1/accise">/api/v1/accise</a> - Excise rate table</li>
<li><a href="/api/v1/scenarios">/api/v1/scenarios</a> - Demo scenarios</li>
<li><a href="/healthz">/healthz</a> - Liveness</li>
<li><a href="/metrics">/metrics</a> - Prometheus collectors</li>
</ul>
</body>
</html>`))
	})

	return r
}
