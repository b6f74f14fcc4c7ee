// Package auth verifies scheduler trigger credentials and issues the signed
// tokens embedded in subscriber links.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token policy.
//
// Link tokens are HS256 JWTs carried in email links. They name a subscriber
// (subject) and a purpose, so a token minted for one action cannot be
// replayed against another. Trigger tokens are either the raw shared secret
// or a short-lived HS256 JWT signed with it, which lets schedulers that only
// support OIDC-style bearer tokens authenticate without exposing the secret.
const (
	// LinkTokenExpiry is how long an unsubscribe link stays valid.
	LinkTokenExpiry = 90 * 24 * time.Hour

	// OpaqueTokenLength is the byte length of confirmation tokens.
	OpaqueTokenLength = 32

	// PurposeUnsubscribe scopes a link token to unsubscribing.
	PurposeUnsubscribe = "unsubscribe"

	// TriggerAudience is the audience required on trigger JWTs.
	TriggerAudience = "aistatus-cron"
)

// Predefined token errors.
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token has expired")
	ErrWrongPurpose  = errors.New("token issued for a different purpose")
	ErrInvalidSecret = errors.New("invalid trigger credentials")
)

// LinkClaims are the claims carried by link tokens.
type LinkClaims struct {
	jwt.RegisteredClaims

	// Purpose scopes the token to one action.
	Purpose string `json:"pur"`
}

// TokenConfig holds configuration for the token service.
type TokenConfig struct {
	// SigningKey is the secret used to sign link tokens.
	SigningKey string

	// Issuer is the issuer claim for tokens.
	Issuer string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// TokenService issues and verifies link tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(cfg TokenConfig) *TokenService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		now:        now,
	}
}

// IssueLinkToken signs a token for subject (an email address) and purpose.
func (s *TokenService) IssueLinkToken(subject, purpose string) (string, error) {
	now := s.now()

	claims := LinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(LinkTokenExpiry)),
			ID:        generateTokenID(),
		},
		Purpose: purpose,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing link token: %w", err)
	}
	return signed, nil
}

// VerifyLinkToken validates a link token for purpose and returns its subject.
func (s *TokenService) VerifyLinkToken(tokenString, purpose string) (string, error) {
	claims := &LinkClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	if claims.Purpose != purpose {
		return "", ErrWrongPurpose
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// VerifyTrigger checks a presented trigger credential against secret. The
// credential is accepted if it equals the secret or is an unexpired HS256 JWT
// for TriggerAudience signed with it.
func VerifyTrigger(secret, presented string, now time.Time) error {
	if secret == "" || presented == "" {
		return ErrInvalidSecret
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) == 1 {
		return nil
	}

	_, err := jwt.Parse(presented, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(TriggerAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return ErrInvalidSecret
	}
	return nil
}

// IssueTriggerToken signs a trigger JWT with secret, for schedulers that
// call trigger endpoints with a bearer token.
func IssueTriggerToken(secret string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{TriggerAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        generateTokenID(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing trigger token: %w", err)
	}
	return signed, nil
}

// GenerateOpaqueToken creates a random URL-safe token of OpaqueTokenLength bytes.
func GenerateOpaqueToken() (string, error) {
	bytes := make([]byte, OpaqueTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// generateTokenID generates a unique token ID.
func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
