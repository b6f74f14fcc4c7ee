// Package config loads process configuration from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aistatus/aistatus/internal/database"
	"github.com/aistatus/aistatus/internal/notify"
	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/scaling"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AISTATUS"

// Validation errors.
var (
	ErrMissingCronSecret = errors.New("cron secret is required in production")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// Config is the complete process configuration.
type Config struct {
	Env           string `mapstructure:"env"`
	Port          int    `mapstructure:"port"`
	PublicBaseURL string `mapstructure:"public_base_url"`

	// CronSecret authenticates scheduler trigger calls.
	CronSecret string `mapstructure:"cron_secret"`

	// DebugSecret authenticates debug transition injection. Outside
	// development the debug route answers 404 while it is empty.
	DebugSecret string `mapstructure:"debug_secret"`

	// LinkSigningKey signs unsubscribe links.
	LinkSigningKey string `mapstructure:"link_signing_key"`

	// RequireTLS rejects requests forwarded over plain http.
	RequireTLS bool `mapstructure:"require_tls"`

	Store     StoreConfig     `mapstructure:"store"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Retention RetentionConfig `mapstructure:"retention"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`

	Pools  map[string]scaling.PoolConfig `mapstructure:"pools"`
	Policy scaling.PolicyConfig          `mapstructure:"policy"`

	// Providers replaces the built-in provider set when non-empty.
	Providers []provider.Provider `mapstructure:"providers"`

	FlagCacheTTL time.Duration `mapstructure:"flag_cache_ttl"`

	// Database is read with database.ConfigFromEnv.
	Database database.Config `mapstructure:"-"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

// ProbeConfig configures the status prober.
type ProbeConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// NotifyConfig configures the notification queue and its senders.
type NotifyConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`

	// SMTP.Host empty routes email to the log sender.
	SMTP    notify.SMTPConfig    `mapstructure:"smtp"`
	Webhook notify.WebhookConfig `mapstructure:"webhook"`
}

// LimitConfig is one sliding-window limit.
type LimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// LimitsConfig holds every rate limit.
type LimitsConfig struct {
	Drain         LimitConfig `mapstructure:"drain"`
	Enqueue       LimitConfig `mapstructure:"enqueue"`
	Subscribe     LimitConfig `mapstructure:"subscribe"`
	ConfirmResend LimitConfig `mapstructure:"confirm_resend"`
}

// RetentionConfig bounds how long records are kept.
type RetentionConfig struct {
	History       time.Duration `mapstructure:"history"`
	Notifications time.Duration `mapstructure:"notifications"`
}

// PubSubConfig configures the Pub/Sub worker.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
}

// envAliases binds keys to the unprefixed variable names deployments already use.
var envAliases = map[string][]string{
	"env":                 {"APP_ENV"},
	"port":                {"APP_PORT"},
	"link_signing_key":    {"JWT_SIGNING_KEY"},
	"cron_secret":         {"CRON_SECRET"},
	"require_tls":         {"REQUIRE_TLS"},
	"telemetry.enabled":   {"OTEL_ENABLED"},
	"telemetry.endpoint":  {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"pubsub.project_id":   {"GOOGLE_CLOUD_PROJECT"},
	"pubsub.subscription": {"PUBSUB_SUBSCRIPTION"},
}

// Load reads configuration from the environment and, when path is non-empty
// (or AISTATUS_CONFIG is set), from a YAML file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Database = database.ConfigFromEnv()

	if len(cfg.Providers) == 0 {
		cfg.Providers = provider.Defaults()
	}
	if cfg.Pools == nil {
		cfg.Pools = make(map[string]scaling.PoolConfig)
	}
	for name, def := range scaling.DefaultPools() {
		if _, ok := cfg.Pools[name]; !ok {
			cfg.Pools[name] = def
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("port", 8080)
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("cron_secret", "")
	v.SetDefault("debug_secret", "")
	v.SetDefault("require_tls", false)
	v.SetDefault("link_signing_key", "local-dev-signing-key-change-in-production")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite_path", "aistatus.db")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.export_interval", 30*time.Second)

	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("probe.max_body_bytes", 512<<10)
	v.SetDefault("probe.user_agent", "aistatus-monitor/1.0")

	v.SetDefault("notify.batch_size", notify.DefaultBatchSize)
	v.SetDefault("notify.max_attempts", notify.DefaultMaxAttempts)
	v.SetDefault("notify.send_timeout", notify.DefaultSendTimeout)
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "alerts@aistatus.dev")
	v.SetDefault("notify.smtp.starttls", true)
	v.SetDefault("notify.smtp.pacing.per_second", 5)
	v.SetDefault("notify.smtp.pacing.burst", 5)
	v.SetDefault("notify.webhook.timeout", 5*time.Second)
	v.SetDefault("notify.webhook.pacing.per_second", 20)
	v.SetDefault("notify.webhook.pacing.burst", 10)

	v.SetDefault("limits.drain.limit", 10)
	v.SetDefault("limits.drain.window", time.Minute)
	v.SetDefault("limits.enqueue.limit", 30)
	v.SetDefault("limits.enqueue.window", time.Minute)
	v.SetDefault("limits.subscribe.limit", 10)
	v.SetDefault("limits.subscribe.window", time.Minute)
	v.SetDefault("limits.confirm_resend.limit", 3)
	v.SetDefault("limits.confirm_resend.window", time.Hour)

	v.SetDefault("retention.history", 30*24*time.Hour)
	v.SetDefault("retention.notifications", 7*24*time.Hour)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.subscription", "aistatus-jobs")

	for name, pool := range scaling.DefaultPools() {
		prefix := "pools." + name + "."
		v.SetDefault(prefix+"min_workers", pool.MinWorkers)
		v.SetDefault(prefix+"max_workers", pool.MaxWorkers)
		v.SetDefault(prefix+"initial_workers", pool.InitialWorkers)
		v.SetDefault(prefix+"cooldown", pool.Cooldown)
	}
	policy := scaling.DefaultPolicy()
	v.SetDefault("policy.scale_up_queue_factor", policy.ScaleUpQueueFactor)
	v.SetDefault("policy.max_error_rate", policy.MaxErrorRate)

	v.SetDefault("flag_cache_ttl", time.Minute)
}

// IsDevelopment reports whether the process runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == EnvDevelopment
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate checks the configuration for errors that must stop startup.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("%w: unknown env %q", ErrInvalidConfig, c.Env)
	}
	if c.IsProduction() && c.CronSecret == "" {
		return ErrMissingCronSecret
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if err := provider.Validate(c.Providers); err != nil {
		return err
	}
	for name, pool := range c.Pools {
		if err := pool.Validate(); err != nil {
			return fmt.Errorf("%w: pool %s: %v", ErrInvalidConfig, name, err)
		}
	}
	if c.Notify.MaxAttempts < 1 {
		return fmt.Errorf("%w: notify.max_attempts must be at least 1", ErrInvalidConfig)
	}
	return nil
}
