package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/api/models"
	"github.com/aistatus/aistatus/internal/api/response"
	"github.com/aistatus/aistatus/internal/auth"
	"github.com/aistatus/aistatus/internal/subscription"
)

// maxSubscriptionBody caps subscription request bodies.
const maxSubscriptionBody = 8 << 10

// Subscriber manages subscriptions. *subscription.Service satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, in subscription.SubscribeInput) (*subscription.Subscription, error)
	Confirm(ctx context.Context, token string) (*subscription.Subscription, error)
	UnsubscribeWithToken(ctx context.Context, token string) error
}

// SubscriptionsHandler handles subscription endpoints.
type SubscriptionsHandler struct {
	subscriptions Subscriber
	logger        zerolog.Logger
}

// NewSubscriptionsHandler creates a new SubscriptionsHandler.
func NewSubscriptionsHandler(subscriptions Subscriber, logger zerolog.Logger) *SubscriptionsHandler {
	return &SubscriptionsHandler{subscriptions: subscriptions, logger: logger}
}

// Subscribe handles POST /v1/subscriptions. A new or unconfirmed address
// answers 202 and is sent a confirmation; a confirmed address has the
// providers merged in and answers 200.
func (h *SubscriptionsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var input models.SubscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubscriptionBody)).Decode(&input); err != nil {
		response.BadRequestWithShape(w, r, "invalid JSON body", nil, models.SubscribeRequestShape)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequestWithShape(w, r, "invalid subscription", errs, models.SubscribeRequestShape)
		return
	}

	sub, err := h.subscriptions.Subscribe(r.Context(), subscription.SubscribeInput{
		Email:      input.Email,
		Providers:  input.Providers,
		WebhookURL: input.WebhookURL,
	})
	if err != nil {
		if response.Limited(w, r, err) {
			return
		}
		if field, ok := subscribeFieldError(err); ok {
			response.BadRequestWithShape(w, r, "invalid subscription", []models.FieldError{field}, models.SubscribeRequestShape)
			return
		}
		h.logger.Error().Err(err).Msg("subscribe failed")
		response.InternalError(w, r, "subscribe failed")
		return
	}

	if sub.Confirmed {
		response.JSON(w, r, http.StatusOK, subscriptionResponse(sub))
		return
	}
	response.Accepted(w, r, "", subscriptionResponse(sub))
}

// Confirm handles GET and POST /v1/subscriptions/confirm. The token comes
// from ?token= or a {"token": ...} body.
func (h *SubscriptionsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token, ok := h.token(w, r)
	if !ok {
		return
	}

	sub, err := h.subscriptions.Confirm(r.Context(), token)
	switch {
	case err == nil:
		response.JSON(w, r, http.StatusOK, subscriptionResponse(sub))
	case errors.Is(err, subscription.ErrTokenNotFound):
		response.NotFound(w, r, "confirmation token not found")
	case errors.Is(err, subscription.ErrTokenExpired):
		response.Gone(w, r, "confirmation token expired, subscribe again")
	default:
		h.logger.Error().Err(err).Msg("confirm failed")
		response.InternalError(w, r, "confirm failed")
	}
}

// Unsubscribe handles DELETE /v1/subscriptions and GET
// /v1/subscriptions/unsubscribe, authorized by a signed link token.
func (h *SubscriptionsHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token, ok := h.token(w, r)
	if !ok {
		return
	}

	err := h.subscriptions.UnsubscribeWithToken(r.Context(), token)
	switch {
	case err == nil:
		response.NoContent(w, r)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrWrongPurpose):
		response.BadRequest(w, r, "invalid unsubscribe token", []models.FieldError{
			{Field: "token", Message: "token is invalid or expired", Code: models.CodeInvalid},
		})
	case errors.Is(err, subscription.ErrSubscriptionNotFound), errors.Is(err, subscription.ErrInvalidEmail):
		response.NotFound(w, r, "subscription not found")
	default:
		h.logger.Error().Err(err).Msg("unsubscribe failed")
		response.InternalError(w, r, "unsubscribe failed")
	}
}

// token reads the link token from the query or, failing that, a JSON body.
func (h *SubscriptionsHandler) token(w http.ResponseWriter, r *http.Request) (string, bool) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	if r.Body != nil && r.ContentLength != 0 {
		var body models.ConfirmRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubscriptionBody)).Decode(&body); err != nil {
			response.BadRequest(w, r, "invalid JSON body", nil)
			return "", false
		}
		if body.Token != "" {
			return body.Token, true
		}
	}
	response.BadRequest(w, r, "token is required", []models.FieldError{
		{Field: "token", Message: "token is required", Code: models.CodeRequired},
	})
	return "", false
}

func subscribeFieldError(err error) (models.FieldError, bool) {
	switch {
	case errors.Is(err, subscription.ErrInvalidEmail):
		return models.FieldError{Field: "email", Message: "email is not a valid address", Code: models.CodeInvalid}, true
	case errors.Is(err, subscription.ErrUnknownProvider):
		return models.FieldError{Field: "providers", Message: err.Error(), Code: models.CodeUnknown}, true
	case errors.Is(err, subscription.ErrNoProviders):
		return models.FieldError{Field: "providers", Message: "at least one provider is required", Code: models.CodeRequired}, true
	case errors.Is(err, subscription.ErrInvalidWebhookURL):
		return models.FieldError{Field: "webhookUrl", Message: "webhookUrl must be a public https url", Code: models.CodeInvalid}, true
	}
	return models.FieldError{}, false
}

func subscriptionResponse(sub *subscription.Subscription) models.SubscriptionResponse {
	return models.SubscriptionResponse{
		Email:      subscription.MaskEmail(sub.Email),
		Providers:  sub.Providers,
		Confirmed:  sub.Confirmed,
		Active:     sub.Active,
		WebhookURL: sub.WebhookURL,
		ExpiresAt:  models.TimestampPtr(sub.ConfirmationTokenExpiry),
	}
}
