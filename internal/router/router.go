package router

import (
	"net/http"

	"github.com/ezmail/ezmail/internal/config"
	"github.com/ezmail/ezmail/internal/handler"
	"github.com/ezmail/ezmail/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no account required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	account := mw.Account
	sendRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "send",
		Limit:  cfg.Security.RateLimiting.SendLimit,
		Window: cfg.Security.RateLimiting.SendWindow,
		KeyFn:  middleware.AccountKey,
	})

	// Compose sessions
	mux.Handle("POST /compose", account(http.HandlerFunc(h.CreateDraft)))
	mux.Handle("GET /compose/{id}", account(http.HandlerFunc(h.GetDraft)))
	mux.Handle("PATCH /compose/{id}", account(http.HandlerFunc(h.UpdateDraft)))
	mux.Handle("DELETE /compose/{id}", account(http.HandlerFunc(h.DiscardDraft)))
	mux.Handle("POST /compose/{id}/attachments", account(http.HandlerFunc(h.AddAttachment)))
	mux.Handle("DELETE /compose/{id}/attachments/{name}", account(http.HandlerFunc(h.RemoveAttachment)))
	mux.Handle("POST /compose/{id}/send", account(sendRateLimit(http.HandlerFunc(h.SendDraft))))

	// Per-account reads
	mux.Handle("GET /usage/{accountId}", account(http.HandlerFunc(h.GetUsage)))
	mux.Handle("GET /sent/{accountId}", account(http.HandlerFunc(h.ListSent)))
	mux.Handle("GET /quota/{accountId}", account(http.HandlerFunc(h.GetQuota)))
	mux.Handle("GET /audit/{accountId}", account(http.HandlerFunc(h.ListAudit)))

	// Admin routes for the billing and contacts services (service token)
	admin := mw.ServiceToken
	mux.Handle("PUT /admin/quota/{accountId}/plan", admin(http.HandlerFunc(h.SetPlan)))
	mux.Handle("PUT /admin/quota/{accountId}/contacts", admin(http.HandlerFunc(h.SetContacts)))

	// Apply middleware stack
	var handler http.Handler = mux

	handler = mw.CORS(cfg.Server.AllowedOrigins)(handler)
	handler = mw.SecurityHeaders(handler)
	handler = mw.Logger(handler)
	handler = mw.Timing(handler)
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
