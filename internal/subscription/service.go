package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/auth"
	"github.com/aistatus/aistatus/internal/probe"
	"github.com/aistatus/aistatus/internal/provider"
)

// ProviderLookup resolves provider ids. *provider.Registry satisfies it.
type ProviderLookup interface {
	Get(id string) (provider.Provider, bool)
}

// Mailer delivers confirmation requests.
type Mailer interface {
	SendConfirmation(ctx context.Context, sub *Subscription) error
}

// TokenVerifier validates signed link tokens. *auth.TokenService satisfies it.
type TokenVerifier interface {
	VerifyLinkToken(token, purpose string) (string, error)
}

// Limiter rejects excess calls for a key. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Check(key string) error
}

// ServiceConfig holds configuration for the subscription service.
type ServiceConfig struct {
	Repository Repository
	Providers  ProviderLookup
	Mailer     Mailer

	// Tokens verifies unsubscribe links. Optional.
	Tokens TokenVerifier

	// ResendLimiter caps confirmation mails per address. Optional.
	ResendLimiter Limiter

	Logger zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// SubscribeInput is a signup request.
type SubscribeInput struct {
	Email      string
	Providers  []string
	WebhookURL string
}

// Service implements signup, confirmation and unsubscription.
type Service struct {
	repo      Repository
	providers ProviderLookup
	mailer    Mailer
	tokens    TokenVerifier
	resend    Limiter
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a subscription service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      cfg.Repository,
		providers: cfg.Providers,
		mailer:    cfg.Mailer,
		tokens:    cfg.Tokens,
		resend:    cfg.ResendLimiter,
		logger:    cfg.Logger,
		now:       now,
	}
}

// SetMailer installs the mailer. The dispatcher reads subscribers from the
// service, so the two are wired after construction.
func (s *Service) SetMailer(m Mailer) {
	s.mailer = m
}

// Subscribe creates or extends a subscription.
//
// A new address is stored unconfirmed with a fresh token and a confirmation
// is sent. A confirmed address has the requested providers merged in. An
// unconfirmed address gets the providers merged, a new token and another
// confirmation.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput) (*Subscription, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	providers, err := s.validateProviders(in.Providers)
	if err != nil {
		return nil, err
	}
	if in.WebhookURL != "" {
		if err := probe.ValidateURL(in.WebhookURL); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidWebhookURL, err.Error())
		}
	}

	now := s.now().UTC()

	existing, err := s.repo.Get(ctx, email)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	if existing != nil && existing.Confirmed {
		existing.Providers = mergeProviders(existing.Providers, providers)
		existing.Active = true
		if in.WebhookURL != "" {
			existing.WebhookURL = in.WebhookURL
		}
		existing.UpdatedAt = now
		if err := s.repo.Save(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info().Str("email", MaskEmail(email)).Strs("providers", existing.Providers).Msg("subscription extended")
		return existing, nil
	}

	if s.resend != nil {
		if err := s.resend.Check("confirm:" + email); err != nil {
			return nil, err
		}
	}

	token, err := auth.GenerateOpaqueToken()
	if err != nil {
		return nil, err
	}
	expiry := now.Add(ConfirmationTTL)

	sub := existing
	if sub == nil {
		sub = &Subscription{Email: email, CreatedAt: now}
	}
	sub.Providers = mergeProviders(sub.Providers, providers)
	sub.Confirmed = false
	sub.Active = false
	sub.ConfirmationToken = token
	sub.ConfirmationTokenExpiry = &expiry
	if in.WebhookURL != "" {
		sub.WebhookURL = in.WebhookURL
	}
	sub.UpdatedAt = now

	if err := s.repo.Save(ctx, sub); err != nil {
		return nil, err
	}

	if s.mailer != nil {
		if err := s.mailer.SendConfirmation(ctx, sub); err != nil {
			return nil, fmt.Errorf("sending confirmation: %w", err)
		}
	}

	s.logger.Info().
		Str("email", MaskEmail(email)).
		Bool("resent", existing != nil).
		Msg("confirmation requested")
	return sub, nil
}

// Confirm activates the subscription holding token. Nothing is changed when
// the token is unknown or expired.
func (s *Service) Confirm(ctx context.Context, token string) (*Subscription, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}

	sub, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if sub.ConfirmationTokenExpiry == nil || !now.Before(*sub.ConfirmationTokenExpiry) {
		return nil, ErrTokenExpired
	}

	sub.Confirmed = true
	sub.Active = true
	sub.ConfirmationToken = ""
	sub.ConfirmationTokenExpiry = nil
	sub.UpdatedAt = now

	if err := s.repo.Save(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info().Str("email", MaskEmail(sub.Email)).Msg("subscription confirmed")
	return sub, nil
}

// Unsubscribe removes the subscription for email.
func (s *Service) Unsubscribe(ctx context.Context, email string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, normalized); err != nil {
		return err
	}

	s.logger.Info().Str("email", MaskEmail(normalized)).Msg("unsubscribed")
	return nil
}

// UnsubscribeWithToken removes the subscription named by a signed
// unsubscribe link token.
func (s *Service) UnsubscribeWithToken(ctx context.Context, token string) error {
	if s.tokens == nil {
		return auth.ErrInvalidToken
	}
	email, err := s.tokens.VerifyLinkToken(token, auth.PurposeUnsubscribe)
	if err != nil {
		return err
	}
	return s.Unsubscribe(ctx, email)
}

// Get returns the subscription for email.
func (s *Service) Get(ctx context.Context, email string) (*Subscription, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, normalized)
}

// ConfirmedFor returns the confirmed, active subscriptions following providerID.
func (s *Service) ConfirmedFor(ctx context.Context, providerID string) ([]*Subscription, error) {
	subs, err := s.repo.ListConfirmed(ctx)
	if err != nil {
		return nil, err
	}

	var result []*Subscription
	for _, sub := range subs {
		if sub.Receiving() && sub.Follows(providerID) {
			result = append(result, sub)
		}
	}
	return result, nil
}

// PruneUnconfirmed deletes unconfirmed subscriptions whose token has expired.
func (s *Service) PruneUnconfirmed(ctx context.Context) (int, error) {
	subs, err := s.repo.ListUnconfirmed(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	pruned := 0
	for _, sub := range subs {
		expired := sub.ConfirmationTokenExpiry == nil && now.Sub(sub.CreatedAt) > ConfirmationTTL
		if sub.ConfirmationTokenExpiry != nil && now.After(*sub.ConfirmationTokenExpiry) {
			expired = true
		}
		if !expired {
			continue
		}

		if err := s.repo.Delete(ctx, sub.Email); err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
			return pruned, err
		}
		pruned++
	}

	if pruned > 0 {
		s.logger.Info().Int("count", pruned).Msg("pruned unconfirmed subscriptions")
	}
	return pruned, nil
}

func (s *Service) validateProviders(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, ErrNoProviders
	}
	for _, id := range ids {
		if _, ok := s.providers.Get(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
		}
	}
	return ids, nil
}

func mergeProviders(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	merged := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	sort.Strings(merged)
	return merged
}
