// Package app wires the monitor's components from configuration. The API
// server, the Pub/Sub worker and the CLI share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/api"
	"github.com/aistatus/aistatus/internal/api/middleware"
	"github.com/aistatus/aistatus/internal/auth"
	"github.com/aistatus/aistatus/internal/config"
	"github.com/aistatus/aistatus/internal/docstore"
	"github.com/aistatus/aistatus/internal/featureflags"
	"github.com/aistatus/aistatus/internal/incident"
	"github.com/aistatus/aistatus/internal/notify"
	"github.com/aistatus/aistatus/internal/probe"
	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/provider/resilience"
	"github.com/aistatus/aistatus/internal/ratelimit"
	"github.com/aistatus/aistatus/internal/scaling"
	"github.com/aistatus/aistatus/internal/status"
	"github.com/aistatus/aistatus/internal/subscription"
	"github.com/aistatus/aistatus/internal/worker"
)

// tokenIssuer is the issuer claim of signed links.
const tokenIssuer = "aistatus"

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Store replaces the configured document store.
	Store docstore.Store

	// Prober replaces the HTTP prober.
	Prober worker.Prober

	// Now replaces time.Now.
	Now func() time.Time
}

// App holds the wired components.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Store         docstore.Store
	Providers     *provider.Registry
	History       *status.DocumentHistoryRepository
	Incidents     *incident.Manager
	Subscriptions *subscription.Service
	Dispatcher    *notify.Dispatcher
	Scaler        *scaling.Controller
	Breakers      *resilience.Registry
	Flags         *featureflags.Service
	Tokens        *auth.TokenService
	Prober        worker.Prober
	Monitor       *worker.Monitor
	Housekeeper   *worker.Housekeeper
}

// New builds every component. The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	providers := cfg.Providers
	if len(providers) == 0 {
		providers = provider.Defaults()
	}
	registry, err := provider.NewRegistry(providers)
	if err != nil {
		return nil, fmt.Errorf("loading providers: %w", err)
	}

	store := opts.Store
	if store == nil {
		store, err = docstore.Open(ctx, docstore.Config{
			Driver:     cfg.Store.Driver,
			SQLitePath: cfg.Store.SQLitePath,
			Postgres:   cfg.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Providers: registry,
		History:   status.NewHistoryRepository(store),
		Breakers:  resilience.NewRegistry(),
		Tokens: auth.NewTokenService(auth.TokenConfig{
			SigningKey: cfg.LinkSigningKey,
			Issuer:     tokenIssuer,
			Now:        now,
		}),
	}

	a.Scaler, err = scaling.NewController(scaling.Config{
		Pools:  cfg.Pools,
		Policy: cfg.Policy,
		Logger: logger.With().Str("component", "scaling").Logger(),
		Now:    now,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configuring worker pools: %w", err)
	}

	a.Flags = featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewRepository(store),
		Logger:     logger,
		CacheTTL:   cfg.FlagCacheTTL,
	})

	a.Prober = opts.Prober
	if a.Prober == nil {
		probeCfg := probe.DefaultConfig()
		if cfg.Probe.Timeout > 0 {
			probeCfg.Timeout = cfg.Probe.Timeout
		}
		if cfg.Probe.MaxBodyBytes > 0 {
			probeCfg.MaxBodyBytes = cfg.Probe.MaxBodyBytes
		}
		if cfg.Probe.UserAgent != "" {
			probeCfg.UserAgent = cfg.Probe.UserAgent
		}
		probeCfg.Health = a.Breakers
		probeCfg.Logger = logger.With().Str("component", "probe").Logger()
		probeCfg.Now = now
		a.Prober = probe.New(probeCfg)
	}

	a.Subscriptions = subscription.NewService(subscription.ServiceConfig{
		Repository:    subscription.NewRepository(store),
		Providers:     registry,
		Tokens:        a.Tokens,
		ResendLimiter: limiter(cfg.Limits.ConfirmResend, logger),
		Logger:        logger.With().Str("component", "subscription").Logger(),
		Now:           now,
	})

	a.Dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		Repository:     notify.NewRepository(store),
		Subscribers:    a.Subscriptions,
		Senders:        a.senders(),
		Providers:      registry,
		Links:          a.Tokens,
		Flags:          a.Flags,
		Pool:           a.Scaler,
		DrainLimiter:   limiter(cfg.Limits.Drain, logger),
		EnqueueLimiter: limiter(cfg.Limits.Enqueue, logger),
		PublicBaseURL:  cfg.PublicBaseURL,
		BatchSize:      cfg.Notify.BatchSize,
		SendTimeout:    cfg.Notify.SendTimeout,
		MaxAttempts:    cfg.Notify.MaxAttempts,
		Logger:         logger.With().Str("component", "notify").Logger(),
		Now:            now,
	})
	a.Subscriptions.SetMailer(a.Dispatcher)

	a.Incidents = incident.NewManager(incident.ManagerConfig{
		Repository: incident.NewRepository(store),
		Providers:  registry,
		Notifier:   a.Dispatcher,
		Logger:     logger.With().Str("component", "incident").Logger(),
		Now:        now,
	})

	a.Monitor = worker.NewMonitor(worker.MonitorConfig{
		Providers: registry,
		Prober:    a.Prober,
		History:   a.History,
		Incidents: a.Incidents,
		Drainer:   a.Dispatcher,
		Scaler:    a.Scaler,
		Flags:     a.Flags,
		Logger:    logger.With().Str("component", "monitor").Logger(),
		Now:       now,
	})

	a.Housekeeper = worker.NewHousekeeper(worker.HousekeeperConfig{
		Config: worker.HousekeepingConfig{
			HistoryRetention:      cfg.Retention.History,
			NotificationRetention: cfg.Retention.Notifications,
		},
		History:       a.History,
		Notifications: a.Dispatcher,
		Subscriptions: a.Subscriptions,
		Logger:        logger.With().Str("component", "housekeeping").Logger(),
		Now:           now,
	})

	return a, nil
}

// senders routes email over SMTP, or to the log when no SMTP host is set.
func (a *App) senders() *notify.SenderRegistry {
	cfg := a.Config.Notify
	senders := notify.NewSenderRegistry()

	logSender := notify.NewLogSender(a.Logger.With().Str("component", "log-sender").Logger())
	senders.Register(notify.ChannelLog, logSender)

	if cfg.SMTP.Host != "" {
		senders.Register(notify.ChannelEmail, notify.NewEmailSender(cfg.SMTP))
	} else {
		a.Logger.Warn().Msg("no SMTP host configured, email is written to the log")
		senders.Register(notify.ChannelEmail, logSender)
	}

	webhook := cfg.Webhook
	webhook.Health = a.Breakers
	senders.Register(notify.ChannelWebhook, notify.NewWebhookSender(webhook))
	return senders
}

// RouterConfig returns the API router configuration for this app.
func (a *App) RouterConfig(version, buildTime, serviceName string, metrics *middleware.Metrics) api.RouterConfig {
	return api.RouterConfig{
		Version:     version,
		BuildTime:   buildTime,
		Logger:      a.Logger,
		ServiceName: serviceName,
		Metrics:     metrics,
		Development: a.Config.IsDevelopment(),
		CronSecret:  a.Config.CronSecret,
		DebugSecret: a.Config.DebugSecret,
		RequireTLS:  a.Config.RequireTLS,
		SubscribeLimit: middleware.RateLimitConfig{
			RequestLimit: a.Config.Limits.Subscribe.Limit,
			WindowLength: a.Config.Limits.Subscribe.Window,
		},
		Providers:     a.Providers,
		History:       a.History,
		Incidents:     a.Incidents,
		Subscriptions: a.Subscriptions,
		Queue:         a.Dispatcher,
		Monitor:       a.Monitor,
		Housekeeper:   a.Housekeeper,
		Pools:         a.Scaler,
		Breakers:      a.Breakers,
		Flags:         a.Flags,
	}
}

// JobRunner returns a runner for scheduler job messages.
func (a *App) JobRunner() *worker.JobRunner {
	return worker.NewJobRunner(a.Monitor, a.Housekeeper, a.Logger.With().Str("component", "jobs").Logger())
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// checker is the method set every limiter consumer declares.
type checker interface {
	Check(key string) error
}

// limiter returns a nil checker for a disabled limit so callers skip the check.
func limiter(cfg config.LimitConfig, logger zerolog.Logger) checker {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil
	}
	return ratelimit.New(ratelimit.Config{
		Limit:  cfg.Limit,
		Window: cfg.Window,
		Logger: logger,
	})
}
