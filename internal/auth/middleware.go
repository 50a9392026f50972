package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/noah-isme/kopi-pos/internal/common"
)

// Middleware attaches the session principal to requests.
type Middleware struct {
	Verifier     *Verifier
	AccessCookie string
}

// Authenticate attaches the principal when a valid token is present and
// passes anonymous requests through untouched.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.extractToken(r)
		if token == "" || m.Verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		p, err := m.Verifier.Parse(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithPrincipal(r.Context(), p)))
	})
}

// RequireAuth rejects requests without a verified principal.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := common.PrincipalFrom(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		if m.Verifier == nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
			return
		}
		p, err := m.Verifier.Parse(m.extractToken(r))
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithPrincipal(r.Context(), p)))
	})
}

// RequireRole allows only principals holding one of roles. It must run after
// RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := common.PrincipalFrom(r.Context())
			if !ok {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
				return
			}
			if !slices.Contains(roles, p.Role) {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if m.AccessCookie != "" {
		if cookie, err := r.Cookie(m.AccessCookie); err == nil {
			return strings.TrimSpace(cookie.Value)
		}
	}
	return ""
}
