package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/compose"
	"github.com/ezmail/ezmail/internal/middleware"
	"github.com/ezmail/ezmail/internal/validate"
)

// multipartOverhead is the slack allowed on top of the attachment limit for
// multipart framing
const multipartOverhead = 1 << 20

// RecipientList accepts either a JSON array of addresses or the single
// comma-separated string a compose form produces.
type RecipientList []string

// UnmarshalJSON implements json.Unmarshaler
func (l *RecipientList) UnmarshalJSON(data []byte) error {
	var field string
	if err := json.Unmarshal(data, &field); err == nil {
		*l = validate.ParseRecipients(field)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("recipients must be a string or a list of strings")
	}
	*l = list
	return nil
}

// CreateDraftRequest is the body of POST /compose
type CreateDraftRequest struct {
	AccountID   string        `json:"accountId"`
	Recipients  RecipientList `json:"recipients"`
	Subject     string        `json:"subject"`
	BodyHTML    string        `json:"bodyHtml"`
	MaxAttempts int           `json:"maxAttempts"`
}

// UpdateDraftRequest is the body of PATCH /compose/{id}
type UpdateDraftRequest struct {
	Recipients *RecipientList `json:"recipients"`
	Subject    *string        `json:"subject"`
	BodyHTML   *string        `json:"bodyHtml"`
}

// CreateDraft opens a compose session
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	var req CreateDraftRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.AccountID != "" && req.AccountID != accountID {
		h.writeAppError(w, r, apperr.ErrNotOwner, nil)
		return
	}
	if req.MaxAttempts < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "maxAttempts must not be negative")
		return
	}

	snap, err := h.compose.Create(r.Context(), accountID, compose.DraftInput{
		Recipients:  req.Recipients,
		Subject:     req.Subject,
		BodyHTML:    req.BodyHTML,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// GetDraft returns a session snapshot
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	snap, err := h.compose.Get(r.Context(), middleware.GetAccountID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// UpdateDraft edits recipients, subject or body of an editable draft
func (h *Handler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req UpdateDraftRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	patch := compose.DraftPatch{Subject: req.Subject, BodyHTML: req.BodyHTML}
	if req.Recipients != nil {
		list := []string(*req.Recipients)
		patch.Recipients = &list
	}

	snap, err := h.compose.Update(r.Context(), middleware.GetAccountID(r.Context()), r.PathValue("id"), patch)
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DiscardDraft abandons a session
func (h *Handler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	snap, err := h.compose.Discard(r.Context(), middleware.GetAccountID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// AddAttachment uploads one multipart file field named "file". An optional
// "name" field overrides the uploaded file name.
func (h *Handler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	id := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Attachments.MaxTotalBytes+multipartOverhead)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeAttachmentError(w, r, accountID, id, apperr.ErrSizeLimitExceeded)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "file field is required")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if guessed := mime.TypeByExtension(filepath.Ext(name)); guessed != "" {
			mimeType = guessed
		}
	}

	snap, err := h.compose.AddAttachment(r.Context(), accountID, id, compose.Upload{
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: header.Size,
		Body:      file,
	})
	if err != nil {
		h.writeAttachmentError(w, r, accountID, id, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RemoveAttachment drops an attachment by name
func (h *Handler) RemoveAttachment(w http.ResponseWriter, r *http.Request) {
	snap, err := h.compose.RemoveAttachment(r.Context(), middleware.GetAccountID(r.Context()), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// writeAttachmentError renders a rejected upload together with the
// unchanged attachment set, so a client can keep its size warning live.
func (h *Handler) writeAttachmentError(w http.ResponseWriter, r *http.Request, accountID, id string, err error) {
	if apperr.KindOf(err) != apperr.KindValidation {
		h.writeAppError(w, r, err, nil)
		return
	}
	snap, getErr := h.compose.Get(r.Context(), accountID, id)
	if getErr != nil {
		h.writeAppError(w, r, getErr, nil)
		return
	}
	h.writeAppError(w, r, err, map[string]interface{}{
		"attachments":       snap.Attachments,
		"attachmentSummary": snap.AttachmentSummary,
	})
}

// SendDraft validates, reserves quota and starts delivery. The result of the
// delivery is observed by polling GetDraft.
func (h *Handler) SendDraft(w http.ResponseWriter, r *http.Request) {
	snap, err := h.compose.Submit(r.Context(), middleware.GetAccountID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err, nil)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/compose/%s", snap.ID))
	writeJSON(w, http.StatusAccepted, snap)
}

