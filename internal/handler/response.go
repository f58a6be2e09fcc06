package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/middleware"
	"github.com/ezmail/ezmail/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, nil, status, code, "", message, nil)
}

func writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, kind apperr.Kind, message string, details map[string]interface{}) {
	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if kind != "" {
		body["kind"] = kind
	}
	if details != nil {
		body["details"] = details
	}
	if r != nil {
		if reqID := middleware.GetRequestID(r.Context()); reqID != "" {
			body["request_id"] = reqID
		}
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

// statusFor maps an application error to its HTTP status
func statusFor(err error) int {
	if errors.Is(err, repository.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	e, ok := apperr.From(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case apperr.KindValidation:
		switch e.Reason {
		case apperr.ReasonSizeLimitExceeded:
			return http.StatusRequestEntityTooLarge
		case apperr.ReasonUnsupportedType:
			return http.StatusUnsupportedMediaType
		}
		return http.StatusBadRequest
	case apperr.KindQuotaExceeded, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeAppError renders err with its kind and reason. Unstructured errors
// are logged and hidden behind a generic message.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error, details map[string]interface{}) {
	status := statusFor(err)
	if e, ok := apperr.From(err); ok && status != http.StatusInternalServerError {
		writeErrorWithDetails(w, r, status, string(e.Reason), e.Kind, e.Message, details)
		return
	}
	if status == http.StatusBadRequest {
		writeErrorWithDetails(w, r, status, "validation_error", apperr.KindValidation, err.Error(), details)
		return
	}

	h.log.Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Msg("request failed")
	writeErrorWithDetails(w, r, http.StatusInternalServerError, "internal_error", "", "An unexpected error occurred", nil)
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// pathAccount returns the {accountId} path value of an admin route
func pathAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := strings.TrimSpace(r.PathValue("accountId"))
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "account id is required")
		return "", false
	}
	return accountID, true
}

// ownAccount returns the calling account when it matches the {accountId}
// path value, writing a 403 otherwise.
func ownAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" || accountID != r.PathValue("accountId") {
		writeErrorWithDetails(w, r, http.StatusForbidden, string(apperr.ReasonNotOwner), apperr.KindForbidden,
			"account does not match the caller", nil)
		return "", false
	}
	return accountID, true
}
