package proxy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Audience is the "aud" claim required in bearer tokens.
	Audience = "tuya-creds-proxy"
	// MinSecretLength is the minimum length of the shared HS256 secret.
	MinSecretLength = 16

	// ScopeCredentials permits reading device credentials, including local keys.
	ScopeCredentials = "credentials"
	// ScopeCache permits building and describing the cache.
	ScopeCache = "cache"
)

var (
	ErrSecretTooShort = fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	ErrMissingScope   = errors.New("token does not grant the required scope")
)

// Claims are the claims carried by proxy bearer tokens.
type Claims struct {
	jwt.RegisteredClaims
	// Scope is a space-separated list of granted scopes.
	Scope string `json:"scope,omitempty"`
}

// Allows returns true if c grants scope.
func (c *Claims) Allows(scope string) bool {
	return slices.Contains(strings.Fields(c.Scope), scope)
}

// NewToken returns a bearer token for subject granting scopes. If ttl is zero the token does not
// expire.
func NewToken(secret []byte, subject string, ttl time.Duration, scopes ...string) (string, error) {
	if len(secret) < MinSecretLength {
		return "", ErrSecretTooShort
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Audience: jwt.ClaimStrings{Audience},
			IssuedAt: jwt.NewNumericDate(now),
		},
		Scope: strings.Join(scopes, " "),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies token against secret and returns its claims.
func ParseToken(secret []byte, token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience(Audience), jwt.WithIssuedAt())
	if err != nil {
		return nil, err
	}
	return &claims, nil
}
