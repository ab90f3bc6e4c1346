package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/brewboard/userauth"
)

// SessionChecker is satisfied by *userauth.Engine.
type SessionChecker interface {
	CheckSession(ctx context.Context, token string) (userauth.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims Guard stored for the request.
func ClaimsFromContext(ctx context.Context) (userauth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(userauth.Claims)
	return claims, ok
}

// Guard rejects requests without a valid bearer token with 401.
func Guard(checker SessionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if checker == nil {
				unauthorized(w)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := checker.CheckSession(r.Context(), token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
