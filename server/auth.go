package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator validates bearer tokens issued to game backends. Tokens are
// HMAC-signed JWTs sharing a secret with the caller; an empty secret disables
// authentication for local development.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator builds an authenticator from the shared secret.
func NewAuthenticator(secret, issuer string) *Authenticator {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return &Authenticator{}
	}
	return &Authenticator{secret: []byte(trimmed), issuer: strings.TrimSpace(issuer)}
}

// Enabled reports whether bearer tokens are enforced.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

func (a *Authenticator) verify(token string) error {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("token invalid")
	}
	return nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if err := a.verify(strings.TrimSpace(token)); err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
