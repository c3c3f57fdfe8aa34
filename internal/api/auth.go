// Copyright 2025 James Ross
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flyingrobots/video-pipeline/internal/config"
)

type contextKey string

const userContextKey contextKey = "user"

func withUser(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, userContextKey, subject)
}

func userFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(userContextKey).(string); ok {
		return s
	}
	return "unknown"
}

// IssueToken mints a short-lived bearer token for subject, grounded on
// the original service's issue_token.
func IssueToken(cfg *config.Config, subject string) (token string, expiresIn int, err error) {
	now := time.Now()
	ttl := cfg.Auth.TokenTTL
	claims := jwt.MapClaims{
		"iss": cfg.Auth.JWTIssuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", 0, err
	}
	return signed, int(ttl.Seconds()), nil
}

// RequireAuth validates the Authorization: Bearer header on every
// request, rejecting a missing, malformed, or wrong-issuer token with
// 401, grounded on the original service's get_current_user dependency.
func RequireAuth(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

			token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				return []byte(cfg.Auth.JWTSecret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || claims["iss"] != cfg.Auth.JWTIssuer {
				writeError(w, http.StatusUnauthorized, "invalid token issuer")
				return
			}

			subject, _ := claims["sub"].(string)
			if subject == "" {
				subject = "unknown"
			}
			r = r.WithContext(withUser(r.Context(), subject))
			next.ServeHTTP(w, r)
		})
	}
}
