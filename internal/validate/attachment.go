// Package validate holds the pure checks a draft must pass before it may
// leave the draft state.
package validate

import (
	"fmt"
	"mime"
	"strings"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/model"
)

// DefaultMaxTotalBytes is the total attachment size limit per message (20 MiB)
const DefaultMaxTotalBytes int64 = 20 * 1024 * 1024

// DefaultAllowedTypes covers images, PDF, Word-family documents and audio
var DefaultAllowedTypes = []string{
	"image/*",
	"audio/*",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.template",
	"application/vnd.ms-word.document.macroenabled.12",
	"application/vnd.ms-word.template.macroenabled.12",
}

// AttachmentSummary describes an attachment set against the size limit so a
// client can render a live warning before submitting.
type AttachmentSummary struct {
	Count          int   `json:"count"`
	TotalBytes     int64 `json:"totalBytes"`
	LimitBytes     int64 `json:"limitBytes"`
	RemainingBytes int64 `json:"remainingBytes"`
	Exceeded       bool  `json:"exceeded"`
}

// AttachmentValidator enforces per-message attachment limits. It has no side
// effects and is safe for concurrent use.
type AttachmentValidator struct {
	maxTotal int64
	exact    map[string]struct{}
	families map[string]struct{}
}

// NewAttachmentValidator creates a validator. Entries of allowed may be exact
// media types or "type/*" families. Zero values fall back to the defaults.
func NewAttachmentValidator(maxTotal int64, allowed []string) *AttachmentValidator {
	if maxTotal <= 0 {
		maxTotal = DefaultMaxTotalBytes
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}

	v := &AttachmentValidator{
		maxTotal: maxTotal,
		exact:    make(map[string]struct{}),
		families: make(map[string]struct{}),
	}
	for _, t := range allowed {
		t = strings.ToLower(strings.TrimSpace(t))
		if family, ok := strings.CutSuffix(t, "/*"); ok {
			v.families[family] = struct{}{}
			continue
		}
		v.exact[t] = struct{}{}
	}
	return v
}

// MaxTotalBytes returns the configured size limit
func (v *AttachmentValidator) MaxTotalBytes() int64 {
	return v.maxTotal
}

// Validate checks an attachment set. It returns nil when the set may be sent,
// otherwise an *apperr.Error with reason UnsupportedType, InvalidAttachment or
// SizeLimitExceeded.
func (v *AttachmentValidator) Validate(attachments []model.AttachmentRef) error {
	var total int64
	for _, a := range attachments {
		if strings.TrimSpace(a.Name) == "" {
			return apperr.New(apperr.KindValidation, apperr.ReasonInvalidAttachment, "attachment name is required")
		}
		if a.SizeBytes < 0 {
			return apperr.New(apperr.KindValidation, apperr.ReasonInvalidAttachment,
				fmt.Sprintf("attachment %q has a negative size", a.Name))
		}
		if !v.Allowed(a.MimeType) {
			return apperr.New(apperr.KindValidation, apperr.ReasonUnsupportedType,
				fmt.Sprintf("attachment %q has unsupported type %q", a.Name, a.MimeType))
		}
		total += a.SizeBytes
	}

	if total > v.maxTotal {
		return apperr.New(apperr.KindValidation, apperr.ReasonSizeLimitExceeded,
			fmt.Sprintf("total attachment size %s exceeds the %s limit", formatMiB(total), formatMiB(v.maxTotal)))
	}
	return nil
}

// Allowed reports whether mimeType is on the allow-list. Parameters such as
// charset are ignored.
func (v *AttachmentValidator) Allowed(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	if _, ok := v.exact[mediaType]; ok {
		return true
	}
	family, subtype, found := strings.Cut(mediaType, "/")
	if !found || subtype == "" {
		return false
	}
	_, ok := v.families[family]
	return ok
}

// Summarize reports the size position of an attachment set
func (v *AttachmentValidator) Summarize(attachments []model.AttachmentRef) AttachmentSummary {
	var total int64
	for _, a := range attachments {
		total += a.SizeBytes
	}
	remaining := v.maxTotal - total
	if remaining < 0 {
		remaining = 0
	}
	return AttachmentSummary{
		Count:          len(attachments),
		TotalBytes:     total,
		LimitBytes:     v.maxTotal,
		RemainingBytes: remaining,
		Exceeded:       total > v.maxTotal,
	}
}

func formatMiB(n int64) string {
	return fmt.Sprintf("%.2f MiB", float64(n)/1024/1024)
}
