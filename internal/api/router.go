package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/api/handlers"
	mw "github.com/mnemo-ai/mnemo/internal/api/middleware"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/scoring"
	"github.com/mnemo-ai/mnemo/internal/service"
	"github.com/mnemo-ai/mnemo/internal/store"
)

// Backends are the raw tier stores. NewApp wraps each in a circuit breaker
// before anything touches them.
type Backends struct {
	Hot  domain.TierBackend
	Warm domain.TierBackend
	Cold domain.TierBackend
}

// App holds the router and background services for lifecycle management.
type App struct {
	Router      *chi.Mux
	Memory      *service.MemoryService
	Maintenance *service.Maintenance
	startTime   time.Time
}

func NewApp(backends Backends, embedder domain.Embedder, summ domain.Summarizer, overflow *service.OverflowLog, logger *zap.Logger) *App {
	tiers := service.Tiers{
		Hot:  service.NewBreakerBackend("hot", backends.Hot, logger),
		Warm: service.NewBreakerBackend("warm", backends.Warm, logger),
		Cold: service.NewBreakerBackend("cold", backends.Cold, logger),
	}

	scorer := scoring.NewEngine(scoring.DefaultWeights())
	stats := service.NewStats()
	router := service.NewRouter(tiers, config.HotTTLMax(), config.SearchDeadline(), logger)

	memorySvc := service.NewMemoryService(router, tiers, scorer, embedder, overflow,
		stats, int(config.EmbedCacheBytes()), logger)
	locks, access := memorySvc.Collaborators()

	maintenance := service.NewMaintenance(
		router,
		service.NewDecayEngine(tiers, scorer, locks, config.DecayBatchSize(), logger),
		service.NewReviewScheduler(tiers, locks, logger),
		service.NewConsolidationEngine(tiers, locks, summ,
			config.ConsolidationRecordThreshold(), config.ConsolidationMaxCandidates(),
			config.StorageByteBudget(), logger),
		service.NewForgettingEngine(tiers, locks, config.TombstoneGrace(), logger),
		service.NewPlacementEngine(tiers, locks, access,
			config.HotTTL(), config.HotTTLExtension(), config.HotTTLMax(), logger),
		overflow,
		stats,
		logger,
	)
	maintenance.SetInterval(config.MaintenanceInterval())
	maintenance.SetPhaseBudget(config.PhaseBudget())

	memoryHandler := handlers.NewMemoryHandler(memorySvc)
	statsHandler := handlers.NewStatsHandler(stats, tiers, overflow)
	maintenanceHandler := handlers.NewMaintenanceHandler(maintenance)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := mw.NewMetricsCollector(registry)

	r := chi.NewRouter()

	app := &App{
		Router:      r,
		Memory:      memorySvc,
		Maintenance: maintenance,
		startTime:   time.Now(),
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", app.healthHandler(tiers))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/memories", func(r chi.Router) {
			r.Get("/search", memoryHandler.Search)
			r.Post("/", memoryHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", memoryHandler.GetByID)
				r.Patch("/", memoryHandler.Update)
				r.Delete("/", memoryHandler.Delete)
			})
		})

		r.Get("/stats", statsHandler.Get)

		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/trigger", maintenanceHandler.Trigger)
			r.Get("/last", maintenanceHandler.Last)
		})
	})

	return app
}

// healthHandler probes each tier with a short deadline. The service stays up
// while at least one tier answers; a lost tier degrades rather than kills it.
func (app *App) healthHandler(tiers service.Tiers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		tierStatus := make(map[string]string, 3)
		up := 0
		for _, tier := range domain.AllTiers() {
			if _, err := tiers.Backend(tier).Count(ctx); err != nil {
				tierStatus[string(tier)] = err.Error()
			} else {
				tierStatus[string(tier)] = "ok"
				up++
			}
		}

		status := "ok"
		code := http.StatusOK
		switch {
		case up == 0:
			status = "down"
			code = http.StatusServiceUnavailable
		case up < len(tierStatus):
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         status,
			"tiers":          tierStatus,
			"uptime_seconds": time.Since(app.startTime).Seconds(),
			"goroutines":     runtime.NumGoroutine(),
		})
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.TierBackend     = (*store.Redis)(nil)
	_ domain.TierBackend     = (*store.Postgres)(nil)
	_ domain.TierBackend     = (*store.SQLite)(nil)
	_ domain.TierBackend     = (*store.Memory)(nil)
	_ domain.TTLPutter       = (*store.Redis)(nil)
	_ domain.VectorSearcher  = (*store.Postgres)(nil)
	_ domain.VectorSearcher  = (*store.SQLite)(nil)
	_ domain.KeywordSearcher = (*store.SQLite)(nil)
	_ domain.Embedder        = (*embedding.OpenAIClient)(nil)
	_ domain.Embedder        = (*embedding.MockClient)(nil)
)
