package featureflags

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCacheTTL is how long a flag read from the store is trusted.
const DefaultCacheTTL = time.Minute

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// CacheTTL bounds how stale a flag may be. Defaults to DefaultCacheTTL.
	CacheTTL time.Duration

	// DefaultFlags replaces the built-in defaults.
	DefaultFlags map[string]*Flag

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// cacheEntry is one cached lookup. A nil flag records that the store has no
// override for the key.
type cacheEntry struct {
	flag    *Flag
	expires time.Time
}

// Service evaluates flags from the store with a per-key cache. Flags are read
// on every probe sweep, drain and debug request, so a store outage must not
// flip them: an expired entry keeps serving until the store answers again.
type Service struct {
	repo         Repository
	logger       zerolog.Logger
	cacheTTL     time.Duration
	defaultFlags map[string]*Flag
	now          func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}

	defaultFlags := cfg.DefaultFlags
	if defaultFlags == nil {
		defaultFlags = DefaultFlags()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:         cfg.Repository,
		logger:       cfg.Logger,
		cacheTTL:     cacheTTL,
		defaultFlags: defaultFlags,
		now:          now,
		cache:        make(map[string]cacheEntry),
	}
}

// GetFlag returns the flag for key: the stored override when there is one,
// otherwise the default. Unknown keys without an override return nil.
func (s *Service) GetFlag(ctx context.Context, key string) *Flag {
	entry, cached := s.lookup(key)
	if cached && s.now().Before(entry.expires) {
		return s.orDefault(key, entry.flag)
	}

	flag, err := s.repo.GetFlag(ctx, key)
	switch {
	case err == nil:
		s.store(key, flag)
		return flag
	case errors.Is(err, ErrFlagNotFound):
		s.store(key, nil)
		return s.orDefault(key, nil)
	}

	s.logger.Warn().Err(err).Str("flag", key).Bool("stale", cached).Msg("failed to read feature flag")
	if cached {
		return s.orDefault(key, entry.flag)
	}
	return s.orDefault(key, nil)
}

// GetAllFlags returns every default flag overlaid with the stored overrides.
// When the store fails the cached overrides are used.
func (s *Service) GetAllFlags(ctx context.Context) map[string]*Flag {
	result := make(map[string]*Flag, len(s.defaultFlags))
	for k, v := range s.defaultFlags {
		result[k] = v
	}

	stored, err := s.repo.GetAllFlags(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list feature flags, using cached values")
		s.mu.RLock()
		for k, e := range s.cache {
			if e.flag != nil {
				result[k] = e.flag
			}
		}
		s.mu.RUnlock()
		return result
	}

	expires := s.now().Add(s.cacheTTL)
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry, len(result))
	for k := range result {
		s.cache[k] = cacheEntry{flag: stored[k], expires: expires}
	}
	for k, v := range stored {
		s.cache[k] = cacheEntry{flag: v, expires: expires}
		result[k] = v
	}
	s.mu.Unlock()

	return result
}

// SetFlag validates and stores one flag.
func (s *Service) SetFlag(ctx context.Context, flag *Flag) error {
	return s.SetFlags(ctx, []*Flag{flag})
}

// SetFlags validates every flag before storing any of them.
func (s *Service) SetFlags(ctx context.Context, flags []*Flag) error {
	for _, flag := range flags {
		if err := (FlagUpdate{Key: flag.Key, Value: normalizeValue(flag.Value)}).Validate(); err != nil {
			return err
		}
	}

	now := s.now()
	for _, flag := range flags {
		flag.Value = normalizeValue(flag.Value)
		flag.UpdatedAt = now
	}

	if err := s.repo.SetFlags(ctx, flags); err != nil {
		return fmt.Errorf("storing flags: %w", err)
	}

	for _, flag := range flags {
		s.store(flag.Key, flag)
		s.logger.Info().
			Str("flag", flag.Key).
			Interface("value", flag.Value).
			Str("reason", flag.Reason).
			Msg("feature flag changed")
	}
	return nil
}

// InvalidateCache drops every cached entry so the next read goes to the store.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
}

// IsEnabled reports whether the boolean flag key is on.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	return s.GetFlag(ctx, key).BoolValue(false)
}

// IsDebugInjectionEnabled returns true if debug transitions may be injected.
func (s *Service) IsDebugInjectionEnabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDebugInjection)
}

// MaxDrainBatch returns the drain batch override, or 0 when unset.
func (s *Service) MaxDrainBatch(ctx context.Context) int {
	return s.GetFlag(ctx, FlagMaxDrainBatch).IntValue(0)
}

func (s *Service) lookup(key string) (cacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[key]
	return e, ok
}

func (s *Service) store(key string, flag *Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{flag: flag, expires: s.now().Add(s.cacheTTL)}
}

func (s *Service) orDefault(key string, flag *Flag) *Flag {
	if flag != nil {
		return flag
	}
	return s.defaultFlags[key]
}

// normalizeValue widens Go integers to float64 so values set in code match
// values decoded from JSON.
func normalizeValue(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return v
}
