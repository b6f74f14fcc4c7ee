package models

import "strings"

// SubscribeRequest is the body of POST /v1/subscriptions.
type SubscribeRequest struct {
	Email      string   `json:"email"`
	Providers  []string `json:"providers"`
	WebhookURL string   `json:"webhookUrl,omitempty"`
}

// SubscribeRequestShape documents the body POST /v1/subscriptions accepts.
var SubscribeRequestShape = map[string]string{
	"email":      "string, required",
	"providers":  "array of provider ids, at least one",
	"webhookUrl": "string, optional, public https url",
}

// Validate checks required fields. Email syntax and provider ids are
// checked by the subscription service.
func (r *SubscribeRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.Email) == "" {
		errs = append(errs, FieldError{Field: "email", Message: "email is required", Code: CodeRequired})
	}
	if len(r.Providers) == 0 {
		errs = append(errs, FieldError{Field: "providers", Message: "at least one provider is required", Code: CodeRequired})
	}
	return errs
}

// ConfirmRequest is the body of POST /v1/subscriptions/confirm.
type ConfirmRequest struct {
	Token string `json:"token"`
}

// SubscriptionResponse is a subscription as shown to its owner.
type SubscriptionResponse struct {
	Email      string     `json:"email"`
	Providers  []string   `json:"providers"`
	Confirmed  bool       `json:"confirmed"`
	Active     bool       `json:"active"`
	WebhookURL string     `json:"webhookUrl,omitempty"`
	ExpiresAt  *Timestamp `json:"confirmationExpiresAt,omitempty"`
}
