package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nkiryanov/mycontacts/internal/handlers/render"
	"github.com/nkiryanov/mycontacts/internal/handlers/userctx"
	"github.com/nkiryanov/mycontacts/internal/models"
)

type authenticator interface {
	// Resolve user by access token
	Authenticate(ctx context.Context, access string) (models.User, error)
}

type debugLogger interface {
	Debug(msg string, args ...any)
}

// Token from 'Authorization: Bearer <token>' header
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

// Write 401 asking client to authenticate with bearer token
func Unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	render.ServiceError(w, message, http.StatusUnauthorized)
}

// Put user authenticated by access token into request context
// Request is rejected with 401 if token is missing or not valid
func AuthMiddleware(a authenticator, l debugLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				Unauthorized(w, "Not authenticated")
				return
			}

			user, err := a.Authenticate(r.Context(), token)
			if err != nil {
				l.Debug("Authentication failed", "error", err)
				Unauthorized(w, "Could not validate credentials")
				return
			}

			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
