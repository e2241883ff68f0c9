package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ClientIP identifies a client by the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware rejects requests over the limit with 429 and sets the
// X-RateLimit-* headers on limited endpoints.
func (l *Limiter) Middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientIP(r)
			allowed, info := l.Allow(client, r.URL.Path, r.Method)
			setHeaders(w, info)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("rate limit exceeded",
				zap.String("client", client),
				zap.String("path", r.URL.Path),
				zap.Int("limit", info.Limit),
			)

			body := map[string]any{
				"error":     "rate_limit_exceeded",
				"limit":     info.Limit,
				"remaining": info.Remaining,
			}
			if !info.ResetTime.IsZero() {
				body["reset_at"] = info.ResetTime.UTC().Format(time.RFC3339)
			}
			if info.RetryAfter > 0 {
				secs := int(info.RetryAfter.Seconds() + 0.999)
				body["retry_after"] = secs
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(body) //nolint:errcheck
		})
	}
}

func setHeaders(w http.ResponseWriter, info Info) {
	if info.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
}
