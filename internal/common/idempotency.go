package common

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries the client-chosen key for order submissions.
const IdempotencyHeader = "Idempotency-Key"

// Idem provides an Idempotency-Key middleware backed by Redis. A key is held
// for TTL once the wrapped handler answers below 500; server errors (and
// panics) release it so the till or the online checkout may retry with the
// same key. Keys are scoped per staff user, so two cashiers that happen to
// generate the same key do not block each other.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

func idemKey(r *http.Request, key string) string {
	actor := ""
	if p, ok := PrincipalFrom(r.Context()); ok {
		actor = p.UserID
	}
	return "idem:" + Digest(actor, r.Method, r.URL.Path, key)
}

// Middleware enforces idempotency semantics for write endpoints. Requests
// without the header pass through untouched.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		key := idemKey(r, header)
		fresh, err := i.R.SetNX(r.Context(), key, time.Now().Unix(), ttl).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store error", nil)
			return
		}
		if !fresh {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		completed := false
		defer func() {
			if !completed || ww.Status() >= http.StatusInternalServerError {
				_ = i.R.Del(context.WithoutCancel(r.Context()), key).Err()
			}
		}()
		next.ServeHTTP(ww, r)
		completed = true
	})
}
