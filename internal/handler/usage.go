package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ezmail/ezmail/internal/model"
	"github.com/ezmail/ezmail/internal/repository"
)

// QuotaResponse is the quota position of an account as shown to clients
type QuotaResponse struct {
	Period     string          `json:"period"`
	PlanLimits model.Resources `json:"planLimits"`
	Used       model.Resources `json:"used"`
	Reserved   model.Resources `json:"reserved"`
	Remaining  model.Resources `json:"remaining"`
}

func quotaResponse(acct *model.QuotaAccount) QuotaResponse {
	return QuotaResponse{
		Period:     acct.Period,
		PlanLimits: acct.PlanLimits,
		Used:       acct.Used,
		Reserved:   acct.Reserved,
		Remaining:  acct.Remaining(),
	}
}

// UsageResponse is the body of GET /usage/{accountId}
type UsageResponse struct {
	model.UsageSnapshot
	Quota QuotaResponse `json:"quota"`
}

// GetUsage returns usage analytics together with the quota position
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ownAccount(w, r)
	if !ok {
		return
	}

	acct, err := h.ledger.Account(r.Context(), accountID)
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		UsageSnapshot: h.usage.Snapshot(accountID),
		Quota:         quotaResponse(acct),
	})
}

// ListSent searches the sent log of an account
func (h *Handler) ListSent(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ownAccount(w, r)
	if !ok {
		return
	}

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	order := strings.ToLower(queryValue(r, "order"))
	if order == "" {
		order = repository.OrderLatest
	}

	msgs, err := h.sent.List(r.Context(), repository.SentFilter{
		AccountID: accountID,
		Query:     queryValue(r, "q"),
		Order:     order,
		Limit:     limit,
	})
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}
	if msgs == nil {
		msgs = []model.SentMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// queryLimit parses the optional limit parameter, 0 meaning the default
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := queryValue(r, "limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
