// Package delivery hands sendable drafts to an external mail transport and
// reports a single acknowledgement or rejection for each attempt.
package delivery

import (
	"bytes"
	"context"
	"time"

	"github.com/ezmail/ezmail/internal/logger"
)

// Transport is the interface that all delivery providers must implement.
// This abstraction allows swapping providers (Gmail, SES, an SMTP relay, etc.)
// without changing business logic. A nil error is an acknowledgement.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc func(ctx context.Context, msg *Message) error

// Send calls f(ctx, msg)
func (f TransportFunc) Send(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Message is a fully resolved outbound message
type Message struct {
	ID          string
	FromAddress string
	FromName    string
	To          []string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []Attachment
	Date        time.Time
}

// Attachment is attachment content loaded from the content store
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// LogTransport renders messages and logs them instead of delivering.
// Useful for development when no provider is configured.
type LogTransport struct {
	log *logger.Logger
}

// NewLogTransport creates a new LogTransport
func NewLogTransport(log *logger.Logger) *LogTransport {
	return &LogTransport{log: log.WithComponent("log_transport")}
}

// Send renders the message and logs a summary of it
func (t *LogTransport) Send(ctx context.Context, msg *Message) error {
	var buf bytes.Buffer
	if err := WriteMIME(&buf, msg); err != nil {
		return err
	}

	t.log.Info().
		Str("message_id", msg.ID).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Int("attachments", len(msg.Attachments)).
		Int("size", buf.Len()).
		Msg("message delivered to log")
	return nil
}
