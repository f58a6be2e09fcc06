package ezmail

import "time"

// Session states reported by the server
const (
	StateDraft      = "draft"
	StateValidating = "validating"
	StateReserved   = "reserved"
	StateSending    = "sending"
	StateSent       = "sent"
	StateFailed     = "failed"
	StateDiscarded  = "discarded"
)

// Attachment describes one attachment of a draft
type Attachment struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
	MimeType  string `json:"mimeType"`
}

// AttachmentSummary describes the attachment set against the size limit
type AttachmentSummary struct {
	Count          int   `json:"count"`
	TotalBytes     int64 `json:"totalBytes"`
	LimitBytes     int64 `json:"limitBytes"`
	RemainingBytes int64 `json:"remainingBytes"`
	Exceeded       bool  `json:"exceeded"`
}

// SessionError is the last failure recorded on a session
type SessionError struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Session is a compose session snapshot
type Session struct {
	ID                string            `json:"id"`
	AccountID         string            `json:"accountId"`
	Recipients        []string          `json:"recipients"`
	Subject           string            `json:"subject"`
	BodyHTML          string            `json:"bodyHtml"`
	Attachments       []Attachment      `json:"attachments"`
	State             string            `json:"state"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	AttachmentSummary AttachmentSummary `json:"attachmentSummary"`
	Attempts          int               `json:"attempts"`
	MaxAttempts       int               `json:"maxAttempts"`
	Retriable         bool              `json:"retriable"`
	LastError         *SessionError     `json:"lastError,omitempty"`
}

// Done reports whether the session has reached an outcome a caller waits for:
// sent, discarded, or failed.
func (s *Session) Done() bool {
	switch s.State {
	case StateSent, StateDiscarded, StateFailed:
		return true
	}
	return false
}

// DraftRequest is the content of a new or edited draft. Nil fields are left
// unchanged on update.
type DraftRequest struct {
	Recipients  []string `json:"recipients,omitempty"`
	Subject     *string  `json:"subject,omitempty"`
	BodyHTML    *string  `json:"bodyHtml,omitempty"`
	MaxAttempts int      `json:"maxAttempts,omitempty"`
}

// Resources is a set of quota dimensions
type Resources struct {
	MonthlyMessages int64 `json:"monthlyMessages"`
	StorageBytes    int64 `json:"storageBytes"`
	Contacts        int64 `json:"contacts"`
}

// Quota is the quota position of an account
type Quota struct {
	Period     string    `json:"period"`
	PlanLimits Resources `json:"planLimits"`
	Used       Resources `json:"used"`
	Reserved   Resources `json:"reserved"`
	Remaining  Resources `json:"remaining"`
}

// MonthCount is one point of the monthly sent series
type MonthCount struct {
	Month string `json:"month"`
	Count int64  `json:"count"`
}

// RecipientCount is a recipient with the number of messages sent to it
type RecipientCount struct {
	Address string `json:"address"`
	Count   int64  `json:"count"`
}

// Usage holds the usage analytics of an account
type Usage struct {
	AccountID           string           `json:"accountId"`
	TotalSent           int64            `json:"totalSent"`
	MonthlySentSeries   []MonthCount     `json:"monthlySentSeries"`
	HourHistogram       map[int]int64    `json:"hourHistogram"`
	RecipientTypeCounts map[string]int64 `json:"recipientTypeCounts"`
	TopRecipients       []RecipientCount `json:"topRecipients"`
	Quota               Quota            `json:"quota"`
}

// SentMessage is a delivered message in the sent log
type SentMessage struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	SessionID  string    `json:"sessionId"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sentAt"`
	SizeBytes  int64     `json:"sizeBytes"`
}

// SentQuery filters the sent log. Order is "latest" (default) or "oldest".
type SentQuery struct {
	Query string
	Order string
	Limit int
}
