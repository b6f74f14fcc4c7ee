package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/api/handler"
	"github.com/aistatus/aistatus/internal/api/models"
	"github.com/aistatus/aistatus/internal/auth"
	"github.com/aistatus/aistatus/internal/docstore"
	"github.com/aistatus/aistatus/internal/ratelimit"
	"github.com/aistatus/aistatus/internal/subscription"
)

type nopMailer struct{ sent int }

func (m *nopMailer) SendConfirmation(context.Context, *subscription.Subscription) error {
	m.sent++
	return nil
}

type subscriptionFixture struct {
	h      *handler.SubscriptionsHandler
	svc    *subscription.Service
	mailer *nopMailer
	tokens *auth.TokenService
	now    time.Time
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()
	f := &subscriptionFixture{
		mailer: &nopMailer{},
		tokens: auth.NewTokenService(auth.TokenConfig{SigningKey: "link-key", Issuer: "aistatus"}),
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = subscription.NewService(subscription.ServiceConfig{
		Repository: subscription.NewRepository(docstore.NewMemoryStore()),
		Providers:  testRegistry(t),
		Mailer:     f.mailer,
		Tokens:     f.tokens,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return f.now },
	})
	f.h = handler.NewSubscriptionsHandler(f.svc, zerolog.Nop())
	return f
}

func (f *subscriptionFixture) subscribe(t *testing.T, body string) *models.SubscriptionResponse {
	t.Helper()
	rec := serve(t, http.MethodPost, "/v1/subscriptions", "/v1/subscriptions", jsonBody(body), f.h.Subscribe)
	if rec.Code != http.StatusAccepted && rec.Code != http.StatusOK {
		t.Fatalf("subscribe returned %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[models.SubscriptionResponse](t, rec)
	return &resp
}

func (f *subscriptionFixture) confirmationToken(t *testing.T, email string) string {
	t.Helper()
	sub, err := f.svc.Get(context.Background(), email)
	require.NoError(t, err)
	require.NotEmpty(t, sub.ConfirmationToken)
	return sub.ConfirmationToken
}

func TestSubscribe(t *testing.T) {
	f := newSubscriptionFixture(t)

	rec := serve(t, http.MethodPost, "/v1/subscriptions", "/v1/subscriptions",
		jsonBody(`{"email":"Ada@Example.com","providers":["openai"]}`), f.h.Subscribe)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[models.SubscriptionResponse](t, rec)
	assert.False(t, resp.Confirmed)
	assert.NotEqual(t, "ada@example.com", resp.Email, "email is masked in responses")
	assert.NotNil(t, resp.ExpiresAt)
	assert.Equal(t, 1, f.mailer.sent)
}

func TestSubscribe_Validation(t *testing.T) {
	f := newSubscriptionFixture(t)

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "malformed", body: `{"email":`},
		{name: "missing email", body: `{"providers":["openai"]}`, wantField: "email"},
		{name: "missing providers", body: `{"email":"ada@example.com"}`, wantField: "providers"},
		{name: "invalid email", body: `{"email":"not-an-address","providers":["openai"]}`, wantField: "email"},
		{name: "unknown provider", body: `{"email":"ada@example.com","providers":["nope"]}`, wantField: "providers"},
		{name: "private webhook", body: `{"email":"ada@example.com","providers":["openai"],"webhookUrl":"http://127.0.0.1/hook"}`, wantField: "webhookUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, http.MethodPost, "/v1/subscriptions", "/v1/subscriptions", jsonBody(tt.body), f.h.Subscribe)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			problem := decodeProblem(t, rec)
			assert.NotNil(t, problem.Expected)
			if tt.wantField != "" {
				require.NotEmpty(t, problem.Errors)
				assert.Equal(t, tt.wantField, problem.Errors[0].Field)
			}
		})
	}
	assert.Zero(t, f.mailer.sent)
}

type limitedSubscriber struct{ handler.Subscriber }

func (limitedSubscriber) Subscribe(context.Context, subscription.SubscribeInput) (*subscription.Subscription, error) {
	return nil, fmt.Errorf("resend: %w", &ratelimit.LimitError{Key: "confirm:ada@example.com", RetryAfter: 10 * time.Minute})
}

func TestSubscribe_RateLimited(t *testing.T) {
	h := handler.NewSubscriptionsHandler(limitedSubscriber{}, zerolog.Nop())

	rec := serve(t, http.MethodPost, "/v1/subscriptions", "/v1/subscriptions",
		jsonBody(`{"email":"ada@example.com","providers":["openai"]}`), h.Subscribe)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "600", rec.Header().Get("Retry-After"))
}

func TestConfirm(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.subscribe(t, `{"email":"ada@example.com","providers":["openai"]}`)
	token := f.confirmationToken(t, "ada@example.com")

	rec := serve(t, http.MethodGet, "/v1/subscriptions/confirm", "/v1/subscriptions/confirm?token="+url.QueryEscape(token), nil, f.h.Confirm)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.SubscriptionResponse](t, rec).Confirmed)

	// The token is single use.
	rec = serve(t, http.MethodPost, "/v1/subscriptions/confirm", "/v1/subscriptions/confirm",
		jsonBody(`{"token":"`+token+`"}`), f.h.Confirm)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Subscribing again once confirmed merges without a new confirmation.
	rec = serve(t, http.MethodPost, "/v1/subscriptions", "/v1/subscriptions",
		jsonBody(`{"email":"ada@example.com","providers":["anthropic"]}`), f.h.Subscribe)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"openai", "anthropic"}, decode[models.SubscriptionResponse](t, rec).Providers)
	assert.Equal(t, 1, f.mailer.sent)
}

func TestConfirm_Errors(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.subscribe(t, `{"email":"ada@example.com","providers":["openai"]}`)
	token := f.confirmationToken(t, "ada@example.com")

	rec := serve(t, http.MethodGet, "/v1/subscriptions/confirm", "/v1/subscriptions/confirm", nil, f.h.Confirm)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing token")

	rec = serve(t, http.MethodGet, "/v1/subscriptions/confirm", "/v1/subscriptions/confirm?token=unknown", nil, f.h.Confirm)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.now = f.now.Add(subscription.ConfirmationTTL + time.Minute)
	rec = serve(t, http.MethodGet, "/v1/subscriptions/confirm", "/v1/subscriptions/confirm?token="+url.QueryEscape(token), nil, f.h.Confirm)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestUnsubscribe(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.subscribe(t, `{"email":"ada@example.com","providers":["openai"]}`)

	token, err := f.tokens.IssueLinkToken("ada@example.com", auth.PurposeUnsubscribe)
	require.NoError(t, err)
	wrongPurpose, err := f.tokens.IssueLinkToken("ada@example.com", "confirm")
	require.NoError(t, err)

	rec := serve(t, http.MethodDelete, "/v1/subscriptions", "/v1/subscriptions?token="+url.QueryEscape(wrongPurpose), nil, f.h.Unsubscribe)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodDelete, "/v1/subscriptions", "/v1/subscriptions?token=garbage", nil, f.h.Unsubscribe)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodGet, "/v1/subscriptions/unsubscribe", "/v1/subscriptions/unsubscribe?token="+url.QueryEscape(token), nil, f.h.Unsubscribe)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = f.svc.Get(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

	rec = serve(t, http.MethodDelete, "/v1/subscriptions", "/v1/subscriptions",
		jsonBody(`{"token":"`+token+`"}`), f.h.Unsubscribe)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
