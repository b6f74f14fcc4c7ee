// Package subscription manages email subscribers to provider status changes.
//
// A subscription is keyed by its (lowercased) email address. New subscribers
// start unconfirmed with a random confirmation token that expires after
// ConfirmationTTL; only confirmed and active subscriptions receive
// notifications.
package subscription

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// ConfirmationTTL is how long a confirmation token stays valid.
const ConfirmationTTL = 24 * time.Hour

// Subscription errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrNoProviders          = errors.New("at least one provider is required")
	ErrInvalidWebhookURL    = errors.New("invalid webhook url")
	ErrTokenNotFound        = errors.New("confirmation token not found")
	ErrTokenExpired         = errors.New("confirmation token expired")
)

// Subscription is one subscriber and the providers they follow.
type Subscription struct {
	Email     string   `json:"email"`
	Providers []string `json:"providers"`
	Confirmed bool     `json:"confirmed"`
	Active    bool     `json:"active"`

	ConfirmationToken       string     `json:"confirmationToken,omitempty"`
	ConfirmationTokenExpiry *time.Time `json:"confirmationTokenExpiry,omitempty"`

	// WebhookURL, if set, receives the same notifications as JSON posts.
	WebhookURL string `json:"webhookUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Receiving reports whether the subscription gets notifications.
func (s *Subscription) Receiving() bool {
	return s.Confirmed && s.Active
}

// Follows reports whether the subscription includes providerID.
func (s *Subscription) Follows(providerID string) bool {
	for _, id := range s.Providers {
		if id == providerID {
			return true
		}
	}
	return false
}

// NormalizeEmail validates an address and returns its canonical form.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// MaskEmail hides most of the local part for logging.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
