package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ezmail/ezmail/internal/logger"
)

// MemoryStore keeps content in process memory.
// Useful for development and tests when no object storage is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	log     *logger.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		log:     log.WithComponent("content_store"),
	}
}

// Put stores the body under key
func (s *MemoryStore) Put(ctx context.Context, key string, body io.Reader, contentType string, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("content length mismatch: declared %d, read %d", size, len(data))
	}

	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()

	s.log.Debug().
		Str("key", key).
		Str("content_type", contentType).
		Int("size", len(data)).
		Msg("stored content")
	return nil
}

// Open returns a reader over the content stored under key
func (s *MemoryStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the content stored under key
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()

	s.log.Debug().Str("key", key).Msg("deleted content")
	return nil
}

// Len returns the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
