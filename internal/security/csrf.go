package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/kopi-pos/internal/common"
)

// CSRF applies double-submit protection to requests authenticated by the
// session cookie. Bearer and anonymous requests carry no ambient credential
// and pass through, which also covers the payment gateway callback.
type CSRF struct {
	Header        string
	SessionCookie string
}

// Middleware enforces that unsafe cookie-authenticated requests echo the CSRF
// cookie in a header.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := strings.TrimSpace(c.Header)
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		if c.SessionCookie == "" || strings.TrimSpace(r.Header.Get("Authorization")) != "" {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := r.Cookie(c.SessionCookie); err != nil {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		cookie, err := r.Cookie(headerName)
		if token == "" || err != nil || cookie.Value == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF", "missing csrf token", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			common.JSONError(w, http.StatusForbidden, "CSRF", "invalid csrf token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
