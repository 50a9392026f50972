package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/kopi-pos/internal/common"
)

// Config describes how to derive a rate limit key and thresholds. An empty
// key skips limiting for that request.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var key string
		if h.Config.Key != nil {
			key = h.Config.Key(r)
		}
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		limitValue := h.Config.Max
		if limitValue < 0 {
			limitValue = 0
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limitValue))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ByClientIP keys requests on the caller address.
func ByClientIP(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		ip := common.ClientIP(r)
		if ip == "" {
			return ""
		}
		return prefix + ip
	}
}

// ByPrincipal keys authenticated requests on the staff user and falls back to
// the caller address for anonymous ones.
func ByPrincipal(prefix string) func(*http.Request) string {
	byIP := ByClientIP(prefix + "ip:")
	return func(r *http.Request) string {
		if p, ok := common.PrincipalFrom(r.Context()); ok {
			return prefix + "user:" + p.UserID
		}
		return byIP(r)
	}
}
