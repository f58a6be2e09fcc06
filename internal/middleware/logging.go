package middleware

import (
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Logger logs HTTP requests with their request and account IDs
func (m *Middleware) Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := newResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		ctx := r.Context()
		log := m.log.WithRequestID(GetRequestID(ctx))
		// Account sits inside the mux, so read the header rather than the context
		if accountID := r.Header.Get(AccountHeader); accountID != "" {
			log = log.WithAccountID(accountID)
		}
		log.HTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(GetStartTime(ctx)), ClientIP(r))
	})
}
