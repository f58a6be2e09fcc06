package middleware

import (
	"context"
	"net/http"
	"strings"
)

// AccountHeader carries the calling account. Authentication happens upstream
// of this service; the header is trusted as-is.
const AccountHeader = "X-Account-ID"

// AccountIDKey is the context key for the calling account
const AccountIDKey contextKey = "account_id"

// Account requires the account header and stores its value in the context
func (m *Middleware) Account(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := strings.TrimSpace(r.Header.Get(AccountHeader))
		if accountID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "X-Account-ID header is required")
			return
		}

		ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAccountID retrieves the calling account from context
func GetAccountID(ctx context.Context) string {
	if id, ok := ctx.Value(AccountIDKey).(string); ok {
		return id
	}
	return ""
}
