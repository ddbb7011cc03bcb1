package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"gatekeeper/internal/models"
)

// KeyFunc extracts the rate limit token from a request.
type KeyFunc func(r *http.Request) string

// Middleware returns HTTP middleware that counts every request against
// action, keyed by keyFn. Rate limit headers are set on every response that
// reached a decision.
func Middleware(l *Limiter, action Action, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := l.Allow(r.Context(), action, keyFn(r))

			var exceeded *ExceededError
			switch {
			case err == nil:
				WriteHeaders(w, info)
				next.ServeHTTP(w, r)
			case errors.As(err, &exceeded):
				WriteHeaders(w, info)
				WriteExceeded(w, exceeded)
				slog.Info("Rate limit exceeded",
					"action", action,
					"limit", info.Limit,
					"retry_after", retryAfterSeconds(exceeded),
				)
			default:
				// Only reached when the request context ended first.
				slog.Debug("Rate limit check aborted", "action", action, "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				writeJSON(w, models.NewErrorResponse("Request canceled", models.ErrorCodeInternalError))
			}
		})
	}
}

// WriteHeaders sets the X-RateLimit-* headers from info.
func WriteHeaders(w http.ResponseWriter, info Info) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetAt.Unix()))
}

// WriteExceeded writes the 429 response for an exceeded limit.
func WriteExceeded(w http.ResponseWriter, e *ExceededError) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(e)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	writeJSON(w, models.NewErrorResponse("Too many requests, try again later", models.ErrorCodeRateLimitExceeded))
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already written.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func retryAfterSeconds(e *ExceededError) int {
	return int(e.RetryAfter.Seconds()) + 1
}

// ClientIP extracts the client IP from the request, checking proxy headers
// before the connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return RemoteIP(r)
}

// RemoteIP returns the connection's remote address without the port,
// ignoring proxy headers.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
