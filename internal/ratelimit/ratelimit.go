// Package ratelimit provides a keyed sliding-window limiter that rejects
// excess calls with a retry-after hint instead of blocking.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
)

// ErrLimited is matched by every *LimitError.
var ErrLimited = errors.New("rate limit exceeded")

// LimitError reports a rejected call.
type LimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

// Is makes errors.Is(err, ErrLimited) true.
func (e *LimitError) Is(target error) bool {
	return target == ErrLimited
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Config holds configuration for a limiter.
type Config struct {
	// Limit is the number of calls allowed per Window.
	Limit int

	// Window is the sliding window length.
	Window time.Duration

	// Counter stores per-window counts. Defaults to an in-process
	// httprate local counter; a shared counter makes limits span processes.
	Counter httprate.LimitCounter

	Logger zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Limiter is a sliding-window rate limiter keyed by identity. The estimate
// weights the previous fixed window by how much of it still overlaps the
// sliding window.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	counter httprate.LimitCounter
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	counter := cfg.Counter
	if counter == nil {
		counter = httprate.NewLocalLimitCounter(cfg.Window)
	}
	counter.Config(cfg.Limit, cfg.Window)

	return &Limiter{
		limit:   cfg.Limit,
		window:  cfg.Window,
		counter: counter,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// Allow records a call for key if it is within the limit.
// Counter failures fail open.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	currWindow := now.Truncate(l.window)
	prevWindow := currWindow.Add(-l.window)
	elapsed := now.Sub(currWindow)

	curr, prev, err := l.counter.Get(key, currWindow, prevWindow)
	if err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("rate limit counter unavailable, allowing")
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}

	rate := float64(prev)*float64(l.window-elapsed)/float64(l.window) + float64(curr)
	if rate >= float64(l.limit) {
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			RetryAfter: l.retryAfter(curr, prev, elapsed),
		}
	}

	if err := l.counter.Increment(key, currWindow); err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("rate limit counter increment failed")
	}

	remaining := l.limit - int(math.Ceil(rate)) - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: l.limit, Remaining: remaining}
}

// Check is Allow returning a *LimitError on rejection.
func (l *Limiter) Check(key string) error {
	d := l.Allow(key)
	if d.Allowed {
		return nil
	}
	return &LimitError{Key: key, RetryAfter: d.RetryAfter}
}

// retryAfter is how long until the weighted rate drops below the limit,
// rounded up to whole seconds.
func (l *Limiter) retryAfter(curr, prev int, elapsed time.Duration) time.Duration {
	w := float64(l.window)
	limit := float64(l.limit)

	var wait float64
	if curr >= l.limit {
		// Wait out this window; the current count then decays as the previous one.
		wait = (w - float64(elapsed)) + w*(1-limit/float64(curr))
	} else {
		wait = w*(1-(limit-float64(curr))/float64(prev)) - float64(elapsed)
	}

	d := time.Duration(wait).Truncate(time.Second) + time.Second
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Window returns the limiter window.
func (l *Limiter) Window() time.Duration {
	return l.window
}
