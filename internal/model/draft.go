package model

import (
	"time"
)

// SessionState represents the lifecycle state of a compose session
type SessionState string

const (
	StateDraft      SessionState = "draft"
	StateValidating SessionState = "validating"
	StateReserved   SessionState = "reserved"
	StateSending    SessionState = "sending"
	StateSent       SessionState = "sent"
	StateFailed     SessionState = "failed"
	StateDiscarded  SessionState = "discarded"
)

// AttachmentRef points at immutable attachment content held by the content store
type AttachmentRef struct {
	Name          string `json:"name"`
	SizeBytes     int64  `json:"sizeBytes"`
	MimeType      string `json:"mimeType"`
	ContentHandle string `json:"contentHandle,omitempty"`
}

// Draft represents an in-progress message owned by a single compose session
type Draft struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId"`
	Recipients  []string        `json:"recipients"`
	Subject     string          `json:"subject"`
	BodyHTML    string          `json:"bodyHtml"`
	Attachments []AttachmentRef `json:"attachments"`
	State       SessionState    `json:"state"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// AttachmentBytes returns the total size of all attachments on the draft
func (d *Draft) AttachmentBytes() int64 {
	var total int64
	for _, a := range d.Attachments {
		total += a.SizeBytes
	}
	return total
}

// Clone returns a deep copy that shares no slices with the original
func (d *Draft) Clone() Draft {
	c := *d
	c.Recipients = append([]string(nil), d.Recipients...)
	c.Attachments = append([]AttachmentRef(nil), d.Attachments...)
	return c
}

// WithAttachment returns a new attachment set with ref appended
func WithAttachment(set []AttachmentRef, ref AttachmentRef) []AttachmentRef {
	out := make([]AttachmentRef, 0, len(set)+1)
	out = append(out, set...)
	return append(out, ref)
}

// WithoutAttachment returns a new attachment set without the first attachment
// called name, along with the removed ref (nil when nothing matched).
func WithoutAttachment(set []AttachmentRef, name string) ([]AttachmentRef, *AttachmentRef) {
	out := make([]AttachmentRef, 0, len(set))
	var removed *AttachmentRef
	for i := range set {
		if removed == nil && set[i].Name == name {
			r := set[i]
			removed = &r
			continue
		}
		out = append(out, set[i])
	}
	return out, removed
}
