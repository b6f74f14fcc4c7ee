// Package probe fetches provider status endpoints under strict safety rules:
// destination checks against internal networks, no redirects, a response size
// ceiling, sanitized bodies and sanitized errors.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/provider/resilience"
	"github.com/aistatus/aistatus/internal/status"
)

// Kind classifies probe failures.
type Kind string

// Failure kinds.
const (
	KindBlocked     Kind = "blocked"
	KindTimeout     Kind = "timeout"
	KindNetwork     Kind = "network"
	KindHTTPStatus  Kind = "http_status"
	KindTooLarge    Kind = "too_large"
	KindInvalidBody Kind = "invalid_body"
	KindCircuitOpen Kind = "circuit_open"
	KindInternal    Kind = "internal"
)

// Error is a typed probe failure. Message is already sanitized.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func failure(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: SanitizeError(err)}
}

// Config holds configuration for the prober.
type Config struct {
	// Timeout bounds one probe including retries.
	// Default: 5 seconds
	Timeout time.Duration

	// MaxBodyBytes is the response size ceiling.
	// Default: 512 KiB
	MaxBodyBytes int64

	// MaxDepth caps JSON nesting.
	// Default: 10
	MaxDepth int

	// UserAgent is sent with every request.
	UserAgent string

	// Retry is applied to transient failures within Timeout.
	// Default: 2 attempts
	Retry resilience.RetryPolicy

	// CircuitBreaker is the template for per-provider breakers. Name is
	// replaced with the provider id.
	CircuitBreaker resilience.CircuitBreakerConfig

	// Guard decides which destinations may be contacted.
	Guard *Guard

	// Health receives per-provider outcomes. Optional.
	Health *resilience.Registry

	// Logger is the structured logger.
	Logger zerolog.Logger

	// Now returns the current time.
	Now func() time.Time
}

// DefaultConfig returns the default prober configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Second,
		MaxBodyBytes: 512 * 1024,
		MaxDepth:     10,
		UserAgent:    "aistatus-prober/1.0",
		Retry: resilience.RetryPolicy{
			MaxAttempts:     2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
		},
		CircuitBreaker: resilience.DefaultCircuitBreakerConfig(""),
		Logger:         zerolog.Nop(),
		Now:            time.Now,
	}
}

// Prober checks provider status endpoints.
type Prober struct {
	cfg        Config
	guard      *Guard
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*resilience.Client
}

// New creates a prober. Zero-valued config fields take their defaults.
func New(cfg Config) *Prober {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.CircuitBreaker.ReadyToTrip == nil {
		cfg.CircuitBreaker = def.CircuitBreaker
	}
	if cfg.CircuitBreaker.OnStateChange == nil {
		cfg.CircuitBreaker.OnStateChange = resilience.LogStateChanges(cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}

	guard := cfg.Guard
	if guard == nil {
		guard = NewGuard()
	}

	transport := &http.Transport{
		Proxy:               nil,
		DialContext:         guard.Dialer(cfg.Timeout).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.Timeout,
	}

	return &Prober{
		cfg:   cfg,
		guard: guard,
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		clients: make(map[string]*resilience.Client),
	}
}

// Probe checks one provider. It always returns a result: failures of any
// kind yield status unknown with a sanitized error.
func (p *Prober) Probe(ctx context.Context, prov provider.Provider) (result status.Result) {
	start := p.cfg.Now()
	result = status.Result{
		ProviderID:   prov.ID,
		ProviderName: prov.Name,
		Status:       status.Unknown,
		CheckedAt:    start.UTC(),
	}

	defer func() {
		if rec := recover(); rec != nil {
			result.Status = status.Unknown
			result.Error = (&Error{Kind: KindInternal, Message: SanitizeMessage(fmt.Sprint(rec))}).Error()
			p.cfg.Logger.Error().Str("provider_id", prov.ID).Msg("probe panicked")
		}
		result.ResponseTimeMs = p.cfg.Now().Sub(start).Milliseconds()
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	payload, perr := p.fetch(ctx, prov)
	if perr != nil {
		result.Error = perr.Error()
		if p.cfg.Health != nil {
			p.cfg.Health.RecordFailure(prov.ID, result.Error)
		}
		p.cfg.Logger.Warn().
			Str("provider_id", prov.ID).
			Str("kind", string(perr.Kind)).
			Str("error", perr.Message).
			Msg("probe failed")
		return result
	}

	result.Status = status.Normalize(payload, prov.Format)
	if p.cfg.Health != nil {
		p.cfg.Health.RecordSuccess(prov.ID)
	}
	p.cfg.Logger.Debug().
		Str("provider_id", prov.ID).
		Str("status", string(result.Status)).
		Msg("probe completed")
	return result
}

func (p *Prober) fetch(ctx context.Context, prov provider.Provider) (any, *Error) {
	u, err := p.guard.ValidateURL(prov.StatusURL)
	if err != nil {
		return nil, failure(KindBlocked, err)
	}
	if err := p.guard.CheckHost(ctx, u.Hostname()); err != nil {
		if errors.Is(err, ErrBlocked) {
			return nil, failure(KindBlocked, err)
		}
		return nil, p.transportFailure(ctx, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, failure(KindBlocked, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.client(prov.ID).DoWithContext(ctx, req)
	if err != nil {
		return nil, p.transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindHTTPStatus, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	if resp.ContentLength > p.cfg.MaxBodyBytes {
		return nil, &Error{Kind: KindTooLarge, Message: fmt.Sprintf("declared body of %d bytes exceeds %d", resp.ContentLength, p.cfg.MaxBodyBytes)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, p.transportFailure(ctx, err)
	}
	if int64(len(body)) > p.cfg.MaxBodyBytes {
		return nil, &Error{Kind: KindTooLarge, Message: fmt.Sprintf("body exceeds %d bytes", p.cfg.MaxBodyBytes)}
	}

	payload, err := DecodeJSON(StripControl(body), p.cfg.MaxDepth)
	if err != nil {
		return nil, failure(KindInvalidBody, err)
	}
	return payload, nil
}

func (p *Prober) transportFailure(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &Error{Kind: KindCircuitOpen, Message: "circuit open"}
	case errors.Is(err, ErrBlocked):
		return failure(KindBlocked, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("no response within %s", p.cfg.Timeout)}
	default:
		return failure(KindNetwork, err)
	}
}

// client returns the provider's resilient client, creating and registering it on first use.
func (p *Prober) client(providerID string) *resilience.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[providerID]; ok {
		return c
	}

	breaker := p.cfg.CircuitBreaker
	breaker.Name = providerID
	c := resilience.NewClient(resilience.ClientConfig{
		Name:           providerID,
		Timeout:        p.cfg.Timeout,
		Retry:          p.cfg.Retry,
		CircuitBreaker: &breaker,
		HTTPClient:     p.httpClient,
		IsPermanent:    IsBlocked,
	})
	p.clients[providerID] = c
	if p.cfg.Health != nil {
		p.cfg.Health.Register(c)
	}
	return c
}
