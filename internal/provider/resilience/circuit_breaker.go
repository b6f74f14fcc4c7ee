// Package resilience wraps outbound calls to provider status pages and
// subscriber webhooks with per-target circuit breakers, retries and health
// tracking.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Breaker defaults. A status page is polled once per sweep, so counts build
// up slowly; a short streak of consecutive failures trips as well as a high
// failure ratio over a longer window.
const (
	DefaultTripStreak   = 3
	DefaultTripMinCalls = 5
	DefaultTripRatio    = 0.5
	DefaultOpenTimeout  = 2 * time.Minute
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the target, a provider id or a webhook host.
	Name string

	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32

	// Interval clears counts while closed. Zero keeps them until a trip.
	Interval time.Duration

	// Timeout is how long the breaker stays open before a trial call.
	Timeout time.Duration

	// ReadyToTrip decides when to open. Nil uses DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called on every transition.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns the breaker used for status page probes.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Timeout:     DefaultOpenTimeout,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip opens after DefaultTripStreak consecutive failures, or
// once DefaultTripMinCalls calls have a failure ratio of at least
// DefaultTripRatio.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= DefaultTripStreak {
		return true
	}
	if counts.Requests < DefaultTripMinCalls {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= DefaultTripRatio
}

// LogStateChanges returns an OnStateChange hook that logs transitions. Opening
// is a warning; recovery is info.
func LogStateChanges(logger zerolog.Logger) func(name string, from, to gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		event := logger.Info()
		if to == gobreaker.StateOpen {
			event = logger.Warn()
		}
		event.
			Str("target", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
	}
}

// NewCircuitBreaker creates a circuit breaker from cfg.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	readyToTrip := cfg.ReadyToTrip
	if readyToTrip == nil {
		readyToTrip = DefaultReadyToTrip
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   readyToTrip,
		OnStateChange: cfg.OnStateChange,
	})
}
