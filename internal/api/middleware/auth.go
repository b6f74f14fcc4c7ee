package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/api/models"
	"github.com/aistatus/aistatus/internal/auth"
	"github.com/aistatus/aistatus/internal/featureflags"
)

// Credential headers.
const (
	HeaderCronSecret  = "X-Cron-Secret"
	HeaderDebugSecret = "X-Debug-Secret"
)

// TriggerAuthConfig configures CronAuth.
type TriggerAuthConfig struct {
	// Development disables the check.
	Development bool

	// Secret is the shared trigger secret.
	Secret string

	Logger zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// CronAuth guards scheduler trigger endpoints. Outside development the caller
// must present the shared secret in X-Cron-Secret or as a bearer token (the
// raw secret or a JWT signed with it). A missing secret outside development
// is a configuration error and answers 503; nothing behind the guard runs.
func CronAuth(cfg TriggerAuthConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Development {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.Secret == "" {
				cfg.Logger.Error().
					Str("request_id", GetRequestID(r.Context())).
					Str("path", r.URL.Path).
					Msg("trigger secret not configured, refusing trigger")
				writeProblem(w, r, models.NewServiceUnavailable(GetRequestID(r.Context()), "trigger authentication is not configured"))
				return
			}

			presented := triggerCredential(r)
			if presented == "" {
				writeUnauthorized(w, r, "missing trigger credentials")
				return
			}
			if err := auth.VerifyTrigger(cfg.Secret, presented, now()); err != nil {
				cfg.Logger.Warn().
					Str("request_id", GetRequestID(r.Context())).
					Str("path", r.URL.Path).
					Msg("rejected trigger credentials")
				writeUnauthorized(w, r, "invalid trigger credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func triggerCredential(r *http.Request) string {
	if secret := r.Header.Get(HeaderCronSecret); secret != "" {
		return secret
	}
	return bearerToken(r)
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) ||
		!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// FlagSource evaluates feature flags. *featureflags.Service satisfies it.
type FlagSource interface {
	IsEnabled(ctx context.Context, key string) bool
}

// DebugGateConfig configures DebugGate.
type DebugGateConfig struct {
	Development bool

	// Secret is compared with X-Debug-Secret.
	Secret string

	// Flags must enable the debug injection flag for the gate to open.
	Flags FlagSource

	Logger zerolog.Logger
	Now    func() time.Time
}

// DebugGate hides debug endpoints unless the debug injection flag is on.
// With the flag on, X-Debug-Secret must match the configured secret. Without
// a configured secret the endpoints stay hidden outside development.
func DebugGate(cfg DebugGateConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := GetRequestID(r.Context())

			if cfg.Flags == nil || !cfg.Flags.IsEnabled(r.Context(), featureflags.FlagDebugInjection) {
				writeProblem(w, r, models.NewNotFound(traceID, "resource not found"))
				return
			}

			if cfg.Secret == "" {
				if cfg.Development {
					next.ServeHTTP(w, r)
					return
				}
				writeProblem(w, r, models.NewNotFound(traceID, "resource not found"))
				return
			}

			if err := auth.VerifyTrigger(cfg.Secret, r.Header.Get(HeaderDebugSecret), now()); err != nil {
				cfg.Logger.Warn().
					Str("request_id", traceID).
					Str("path", r.URL.Path).
					Msg("rejected debug credentials")
				writeUnauthorized(w, r, "invalid debug credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized writes a 401 problem. The response package imports this
// one, so problems are written directly here.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, models.NewUnauthorized(GetRequestID(r.Context()), detail))
}

func writeProblem(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}
