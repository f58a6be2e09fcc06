// Package storage holds attachment content outside the compose session, with
// pluggable providers.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no content exists for a key
var ErrNotFound = errors.New("content not found")

// Store is the interface for attachment content providers
type Store interface {
	// Put stores size bytes read from body under key
	Put(ctx context.Context, key string, body io.Reader, contentType string, size int64) error
	// Open returns the content stored under key
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the content stored under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// AttachmentKey returns a fresh content key for an attachment of a compose session
func AttachmentKey(accountID, sessionID string) string {
	return "attachments/" + accountID + "/" + sessionID + "/" + uuid.NewString()
}
