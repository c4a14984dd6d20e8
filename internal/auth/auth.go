// Package auth issues and verifies the bearer tokens guarding
// mutating administrative operations, notably the index rebuild
// entry point. Verification happens before any work begins.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the token claims. The subject claim carries the caller's
// identity.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Caller returns the caller identity from the token.
func (c *Claims) Caller() string {
	return c.Subject
}

// TokenService issues and verifies HMAC-signed JWTs.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenService creates a token service with the given HMAC secret
// and token lifetime.
func NewTokenService(secret []byte, lifetime time.Duration) *TokenService {
	return &TokenService{secret: secret, lifetime: lifetime}
}

// Issue creates a signed token for the given caller.
func (ts *TokenService) Issue(caller, role string) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(ts.lifetime)

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses and validates a token, returning its claims.
func (ts *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Require wraps an HTTP handler, rejecting requests without a valid
// bearer token with 401 before the handler runs.
func (ts *TokenService) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		if _, err := ts.Verify(raw); err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
