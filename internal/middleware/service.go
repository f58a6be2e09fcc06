package middleware

import (
	"crypto/subtle"
	"net/http"
)

// ServiceTokenHeader carries the shared secret of the billing and contacts
// services on admin routes
const ServiceTokenHeader = "X-Service-Token"

// ServiceToken admits only callers presenting security.service_token.
// Admin routes answer 403 while no token is configured.
func (m *Middleware) ServiceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := m.cfg.Security.ServiceToken
		if want == "" {
			writeError(w, http.StatusForbidden, "admin_disabled", "admin API is not enabled")
			return
		}

		got := r.Header.Get(ServiceTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			m.log.Warn().
				Str("path", r.URL.Path).
				Str("ip", ClientIP(r)).
				Msg("rejected admin request with a bad service token")
			writeError(w, http.StatusUnauthorized, "unauthorized", "valid X-Service-Token header is required")
			return
		}

		next.ServeHTTP(w, r)
	})
}
