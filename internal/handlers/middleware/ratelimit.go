package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/handlers/render"
)

type limiter interface {
	Allow(ctx context.Context, key string) error
}

type warnLogger interface {
	Warn(msg string, args ...any)
}

// Limit requests per client ip. Counters of different routes are separated by prefix
// If limiter is not available request is passed through
func RateLimitMiddleware(lim limiter, prefix string, l warnLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := lim.Allow(r.Context(), prefix+":"+clientIP(r))

			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrRateLimited):
				render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
				return
			default:
				l.Warn("Rate limiter failed, request passed", "error", err, "prefix", prefix)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
