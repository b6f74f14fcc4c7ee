// Package api provides the HTTP API of the status monitor.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/api/handler"
	"github.com/aistatus/aistatus/internal/api/middleware"
	"github.com/aistatus/aistatus/internal/provider/resilience"
)

// Monitor runs the jobs behind the trigger and debug endpoints.
// *worker.Monitor satisfies it.
type Monitor interface {
	handler.Sweeper
	handler.QueueDrainer
	handler.Injector
	handler.MetricsReporter
}

// FlagService reads and writes feature flags. *featureflags.Service satisfies it.
type FlagService interface {
	handler.FlagStore
	handler.FlagReader
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Development opens the trigger and admin endpoints without a secret.
	Development bool
	CronSecret  string
	DebugSecret string
	RequireTLS  bool

	// SubscribeLimit limits subscription endpoints per client and route.
	// Zero uses middleware.SubscriptionRateLimit.
	SubscribeLimit middleware.RateLimitConfig

	Providers     handler.ProviderSource
	History       handler.HistoryReader
	Incidents     handler.IncidentStore
	Subscriptions handler.Subscriber
	Queue         handler.QueueStatter
	Monitor       Monitor
	Housekeeper   handler.HousekeepingRunner
	Pools         handler.PoolReporter
	Breakers      *resilience.Registry
	Flags         FlagService
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "aistatus-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a proxy
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Queue:     cfg.Queue,
		Pools:     cfg.Pools,
		Breakers:  cfg.Breakers,
		Monitor:   cfg.Monitor,
		Flags:     cfg.Flags,
	})
	cronHandler := handler.NewCronHandler(cfg.Monitor, cfg.Monitor, cfg.Housekeeper, cfg.Logger)
	debugHandler := handler.NewDebugHandler(cfg.Monitor, cfg.Logger)
	providersHandler := handler.NewProvidersHandler(cfg.Providers, cfg.History, cfg.Logger)
	incidentsHandler := handler.NewIncidentsHandler(cfg.Incidents, cfg.Logger)
	subscriptionsHandler := handler.NewSubscriptionsHandler(cfg.Subscriptions, cfg.Logger)
	featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.Flags, cfg.Logger)

	// Operator auth shared by the scheduler triggers and admin endpoints
	triggerAuth := middleware.CronAuth(middleware.TriggerAuthConfig{
		Development: cfg.Development,
		Secret:      cfg.CronSecret,
		Logger:      cfg.Logger,
	})
	debugGate := middleware.DebugGate(middleware.DebugGateConfig{
		Development: cfg.Development,
		Secret:      cfg.DebugSecret,
		Flags:       cfg.Flags,
		Logger:      cfg.Logger,
	})

	subscribeLimit := cfg.SubscribeLimit
	if subscribeLimit.RequestLimit <= 0 || subscribeLimit.WindowLength <= 0 {
		subscribeLimit = middleware.SubscriptionRateLimit
	}
	subscriptionRateLimit := middleware.RateLimitByEndpoint(subscribeLimit)     // per IP and route
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(standardRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		// Scheduler triggers
		r.Route("/cron", func(r chi.Router) {
			r.Use(triggerAuth)
			r.Get("/sweep", cronHandler.Sweep)
			r.Get("/drain", cronHandler.Drain)
			r.Get("/housekeeping", cronHandler.Housekeeping)
		})

		// Debug injection, hidden unless enabled
		r.Route("/debug", func(r chi.Router) {
			r.Use(debugGate)
			r.With(middleware.RequireJSON).Post("/transitions", debugHandler.InjectTransition)
		})

		// Read API (public) - standard rate limiting
		r.Group(func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/providers", providersHandler.ListProviders)
			r.Get("/providers/{providerId}/history", providersHandler.ProviderHistory)
			r.Get("/status", providersHandler.CurrentStatus)
			r.Get("/incidents", incidentsHandler.ListIncidents)
			r.Get("/incidents/{incidentId}", incidentsHandler.GetIncident)
		})

		// Subscriptions (public) - strict per-endpoint limiting
		r.Route("/subscriptions", func(r chi.Router) {
			r.Use(subscriptionRateLimit)
			r.With(middleware.RequireJSON).Post("/", subscriptionsHandler.Subscribe)
			r.Delete("/", subscriptionsHandler.Unsubscribe)
			r.Get("/confirm", subscriptionsHandler.Confirm)
			r.Post("/confirm", subscriptionsHandler.Confirm)
			r.Get("/unsubscribe", subscriptionsHandler.Unsubscribe)
		})

		// Admin endpoints (operator secret)
		r.Route("/admin", func(r chi.Router) {
			r.Use(triggerAuth)

			// Feature flags management
			r.Route("/feature-flags", func(r chi.Router) {
				r.Get("/", featureFlagsHandler.ListFeatureFlags)
				r.Put("/", featureFlagsHandler.UpsertFeatureFlags)
				r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
			})

			r.With(middleware.RequireJSON).Post("/incidents/{incidentId}/updates", incidentsHandler.AddUpdate)
		})
	})

	return r
}
