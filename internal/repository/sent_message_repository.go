package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ezmail/ezmail/internal/database"
	"github.com/ezmail/ezmail/internal/model"
)

// Sent list ordering
const (
	OrderLatest = "latest"
	OrderOldest = "oldest"
)

// Sent list page sizes
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// SentFilter narrows a sent message listing
type SentFilter struct {
	AccountID string
	// Query matches subject or recipients, case-insensitively
	Query string
	// Order is OrderLatest (default) or OrderOldest
	Order string
	Limit int
}

// SentMessageRepository is the append-only log of delivered messages
type SentMessageRepository struct {
	db *database.Postgres
}

// NewSentMessageRepository creates a new SentMessageRepository
func NewSentMessageRepository(db *database.Postgres) *SentMessageRepository {
	return &SentMessageRepository{db: db}
}

// Append inserts a sent message. Appending the same ID twice keeps the first row.
func (r *SentMessageRepository) Append(ctx context.Context, msg *model.SentMessage) error {
	query := `
		INSERT INTO sent_messages (id, account_id, session_id, recipients, subject, size_bytes, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.AccountID,
		msg.SessionID,
		pq.Array(msg.Recipients),
		msg.Subject,
		msg.SizeBytes,
		msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append sent message: %w", err)
	}
	return nil
}

// List returns an account's sent messages matching the filter
func (r *SentMessageRepository) List(ctx context.Context, f SentFilter) ([]model.SentMessage, error) {
	if f.AccountID == "" {
		return nil, ErrInvalidInput
	}

	order := "DESC"
	switch f.Order {
	case "", OrderLatest:
	case OrderOldest:
		order = "ASC"
	default:
		return nil, fmt.Errorf("%w: unknown order %q", ErrInvalidInput, f.Order)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	pattern := ""
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern = "%" + escapeLike(q) + "%"
	}

	query := `
		SELECT id, account_id, session_id, recipients, subject, size_bytes, sent_at
		FROM sent_messages
		WHERE account_id = $1
		  AND ($2 = '' OR subject ILIKE $2 OR array_to_string(recipients, ' ') ILIKE $2)
		ORDER BY sent_at ` + order + `, seq ` + order + `
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, f.AccountID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent messages: %w", err)
	}
	defer rows.Close()

	messages := []model.SentMessage{}
	for rows.Next() {
		var m model.SentMessage
		if err := rows.Scan(&m.ID, &m.AccountID, &m.SessionID, pq.Array(&m.Recipients),
			&m.Subject, &m.SizeBytes, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan sent message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sent messages: %w", err)
	}
	return messages, nil
}

// Replay streams every sent message to fn in creation order
func (r *SentMessageRepository) Replay(ctx context.Context, fn func(model.SentMessage) error) error {
	query := `
		SELECT id, account_id, session_id, recipients, subject, size_bytes, sent_at
		FROM sent_messages
		ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to replay sent messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m model.SentMessage
		if err := rows.Scan(&m.ID, &m.AccountID, &m.SessionID, pq.Array(&m.Recipients),
			&m.Subject, &m.SizeBytes, &m.SentAt); err != nil {
			return fmt.Errorf("failed to scan sent message: %w", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
