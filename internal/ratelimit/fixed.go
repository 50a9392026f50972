package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/noah-isme/kopi-pos/internal/common"
)

// FixedWindow builds a fixed-window limiter middleware from a formatted rate
// such as "30-M". It guards the public ordering endpoints, where a coarse
// per-address cap is enough.
func FixedWindow(store limiter.Store, rate string, key func(*http.Request) string, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	if key == nil {
		key = ByClientIP("")
	}
	mw := stdlib.NewMiddleware(limiter.New(store, parsed),
		stdlib.WithKeyGetter(key),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error().Err(err).Str("path", r.URL.Path).Msg("rate limiter store error")
			common.JSONError(w, http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE", "please retry shortly", nil)
		}),
	)
	return mw.Handler, nil
}
