package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ezmail/ezmail/internal/middleware"
	"github.com/ezmail/ezmail/internal/model"
	"github.com/ezmail/ezmail/internal/quota"
)

// SetPlanRequest is the body of PUT /admin/quota/{accountId}/plan
type SetPlanRequest struct {
	MonthlyMessages int64 `json:"monthlyMessages"`
	StorageBytes    int64 `json:"storageBytes"`
	Contacts        int64 `json:"contacts"`
}

// SetContactsRequest is the body of PUT /admin/quota/{accountId}/contacts
type SetContactsRequest struct {
	Contacts int64 `json:"contacts"`
}

// GetQuota returns the quota position of an account
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ownAccount(w, r)
	if !ok {
		return
	}

	acct, err := h.ledger.Account(r.Context(), accountID)
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse(acct))
}

// SetPlan replaces the plan limits of an account on behalf of the billing
// service. Lowering a limit below current usage is allowed; later
// reservations fail until usage drops.
func (h *Handler) SetPlan(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathAccount(w, r)
	if !ok {
		return
	}

	var req SetPlanRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	limits := model.Resources{
		MonthlyMessages: req.MonthlyMessages,
		StorageBytes:    req.StorageBytes,
		Contacts:        req.Contacts,
	}
	if err := h.ledger.SetPlan(r.Context(), accountID, limits); err != nil {
		if errors.Is(err, quota.ErrInvalidCost) {
			writeError(w, http.StatusBadRequest, "invalid_request", "plan limits must not be negative")
			return
		}
		h.writeAppError(w, r, err, nil)
		return
	}

	metadata := map[string]interface{}{
		"monthly_messages": limits.MonthlyMessages,
		"storage_bytes":    limits.StorageBytes,
		"contacts":         limits.Contacts,
		"request_id":       middleware.GetRequestID(r.Context()),
	}
	h.writeQuotaAudit(r, accountID, model.AuditActionPlanChanged, metadata)
	h.writeQuota(w, r, accountID)
}

// SetContacts records the contacts count reported by the contacts service
func (h *Handler) SetContacts(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathAccount(w, r)
	if !ok {
		return
	}

	var req SetContactsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := h.ledger.SetContacts(r.Context(), accountID, req.Contacts); err != nil {
		if errors.Is(err, quota.ErrInvalidCost) {
			writeError(w, http.StatusBadRequest, "invalid_request", "contacts must not be negative")
			return
		}
		h.writeAppError(w, r, err, nil)
		return
	}

	h.writeQuotaAudit(r, accountID, model.AuditActionContactsReported, map[string]interface{}{
		"contacts":   req.Contacts,
		"request_id": middleware.GetRequestID(r.Context()),
	})
	h.writeQuota(w, r, accountID)
}

func (h *Handler) writeQuota(w http.ResponseWriter, r *http.Request, accountID string) {
	acct, err := h.ledger.Account(r.Context(), accountID)
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse(acct))
}

func (h *Handler) writeQuotaAudit(r *http.Request, accountID, action string, metadata map[string]interface{}) {
	h.log.AuditLog(accountID, action, "quota", accountID, metadata)
	if h.audit == nil {
		return
	}
	resourceType := "quota"
	entry := &model.AuditLog{
		ID:           uuid.NewString(),
		AccountID:    &accountID,
		Action:       action,
		ResourceType: &resourceType,
		ResourceID:   &accountID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.audit.Create(r.Context(), entry); err != nil {
		h.log.Warn().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}

// ListAudit returns the most recent audit events of an account
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ownAccount(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": []model.AuditLog{}})
		return
	}

	events, err := h.audit.ListByAccount(r.Context(), accountID, limit)
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}
	if events == nil {
		events = []model.AuditLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
