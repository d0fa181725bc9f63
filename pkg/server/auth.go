package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenAuthenticator resolves the actor behind a request from an HS256
// bearer token. The token's subject becomes the actor id.
type TokenAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenAuthenticator creates an authenticator. With an empty secret every
// request is accepted as anonymous.
func NewTokenAuthenticator(secret []byte) *TokenAuthenticator {
	return &TokenAuthenticator{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Enabled reports whether tokens are required.
func (a *TokenAuthenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Authenticate returns the actor id for r, or "" for anonymous access.
// The token is read from the Authorization header, then the token query
// parameter (browsers cannot set headers on WebSocket requests).
func (a *TokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	if !a.Enabled() {
		return "", nil
	}

	raw := bearerToken(r)
	if raw == "" {
		return "", ErrUnauthorized
	}

	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Issue signs a token for subject. A ttl of 0 issues a token without expiry.
func (a *TokenAuthenticator) Issue(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("server: no token secret configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
