// Package compose runs compose sessions: a draft moves through validation,
// quota reservation and dispatch, and ends sent, failed or discarded.
package compose

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/delivery"
	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/model"
	"github.com/ezmail/ezmail/internal/quota"
	"github.com/ezmail/ezmail/internal/storage"
	"github.com/ezmail/ezmail/internal/validate"
)

// Defaults
const (
	DefaultMaxAttempts      = 3
	DefaultSessionRetention = time.Hour
	DefaultDraftRetention   = 7 * 24 * time.Hour

	settleTimeout = 10 * time.Second
)

// Dispatcher makes one delivery attempt for a draft
type Dispatcher interface {
	Dispatch(ctx context.Context, draft model.Draft) delivery.Outcome
}

// SentLog is the append-only record of delivered messages
type SentLog interface {
	Append(ctx context.Context, msg *model.SentMessage) error
}

// Recorder folds delivered messages into usage counters
type Recorder interface {
	Record(msg model.SentMessage) bool
}

// Auditor persists audit events
type Auditor interface {
	Create(ctx context.Context, log *model.AuditLog) error
}

// Deps are the collaborators of a Service. Auditor may be nil.
type Deps struct {
	Ledger     quota.Ledger
	Validator  *validate.AttachmentValidator
	Store      storage.Store
	Dispatcher Dispatcher
	SentLog    SentLog
	Recorder   Recorder
	Auditor    Auditor
}

// Config holds compose session settings
type Config struct {
	MaxAttempts      int
	SessionRetention time.Duration
	// DraftRetention is how long an editable session may sit untouched
	// before the janitor discards it
	DraftRetention time.Duration
}

// DraftInput is the initial content of a new draft
type DraftInput struct {
	Recipients []string
	Subject    string
	BodyHTML   string
	// MaxAttempts overrides the configured attempt limit when positive
	MaxAttempts int
}

// DraftPatch replaces the non-nil fields of a draft
type DraftPatch struct {
	Recipients *[]string
	Subject    *string
	BodyHTML   *string
}

// Upload is attachment content on its way into a draft
type Upload struct {
	Name      string
	MimeType  string
	SizeBytes int64
	Body      io.Reader
}

// Service manages compose sessions
type Service struct {
	deps   Deps
	cfg    Config
	policy *bluemonday.Policy
	now    func() time.Time
	log    *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// unlogged holds delivered messages the sent log has not accepted yet,
	// in delivery order. They reach the usage counters only once logged.
	sentMu   sync.Mutex
	unlogged []model.SentMessage

	// base parents every dispatch so Shutdown can cancel them
	base     context.Context
	stop     context.CancelFunc
	inflight sync.WaitGroup
}

// NewService creates a new compose Service
func NewService(deps Deps, cfg Config, log *logger.Logger) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.SessionRetention <= 0 {
		cfg.SessionRetention = DefaultSessionRetention
	}
	if cfg.DraftRetention <= 0 {
		cfg.DraftRetention = DefaultDraftRetention
	}
	if deps.Validator == nil {
		deps.Validator = validate.NewAttachmentValidator(0, nil)
	}

	base, stop := context.WithCancel(context.Background())
	return &Service{
		deps:     deps,
		cfg:      cfg,
		policy:   bluemonday.UGCPolicy(),
		now:      time.Now,
		log:      log.WithComponent("compose"),
		sessions: make(map[string]*Session),
		base:     base,
		stop:     stop,
	}
}

// Create opens a new compose session for accountID
func (s *Service) Create(ctx context.Context, accountID string, in DraftInput) (*Snapshot, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, apperr.New(apperr.KindForbidden, apperr.ReasonNotOwner, "account id is required")
	}

	maxAttempts := s.cfg.MaxAttempts
	if in.MaxAttempts > 0 {
		maxAttempts = in.MaxAttempts
	}

	now := s.now()
	sess := &Session{
		draft: model.Draft{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Recipients:  append([]string{}, in.Recipients...),
			Subject:     in.Subject,
			BodyHTML:    s.policy.Sanitize(in.BodyHTML),
			Attachments: []model.AttachmentRef{},
			State:       model.StateDraft,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		maxAttempts: maxAttempts,
	}

	s.mu.Lock()
	s.sessions[sess.draft.ID] = sess
	s.mu.Unlock()

	s.log.Debug().
		Str("session_id", sess.draft.ID).
		Str("account_id", accountID).
		Msg("compose session created")

	return sess.snapshot(s.deps.Validator), nil
}

// session returns the session with id, checking that accountID owns it
func (s *Service) session(accountID, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrSessionNotFound
	}
	// AccountID never changes after creation
	if sess.draft.AccountID != accountID {
		return nil, apperr.ErrNotOwner
	}
	return sess, nil
}

// Get returns a snapshot of a session
func (s *Service) Get(ctx context.Context, accountID, id string) (*Snapshot, error) {
	sess, err := s.session(accountID, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot(s.deps.Validator), nil
}

// Update edits the draft of a session in Draft or retriable Failed state
func (s *Service) Update(ctx context.Context, accountID, id string, patch DraftPatch) (*Snapshot, error) {
	sess, err := s.session(accountID, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.requireEditable(); err != nil {
		return nil, err
	}
	if patch.Recipients != nil {
		sess.draft.Recipients = append([]string{}, (*patch.Recipients)...)
	}
	if patch.Subject != nil {
		sess.draft.Subject = *patch.Subject
	}
	if patch.BodyHTML != nil {
		sess.draft.BodyHTML = s.policy.Sanitize(*patch.BodyHTML)
	}
	sess.draft.UpdatedAt = s.now()

	return sess.snapshot(s.deps.Validator), nil
}

// AddAttachment stores upload content and appends it to the draft. A set
// that would fail validation is rejected and left unchanged.
func (s *Service) AddAttachment(ctx context.Context, accountID, id string, up Upload) (*Snapshot, error) {
	sess, err := s.session(accountID, id)
	if err != nil {
		return nil, err
	}

	ref := model.AttachmentRef{
		Name:      strings.TrimSpace(up.Name),
		SizeBytes: up.SizeBytes,
		MimeType:  up.MimeType,
	}

	sess.mu.Lock()
	err = s.checkAttachment(sess, ref)
	sess.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Content goes to the store without holding the session
	ref.ContentHandle = storage.AttachmentKey(accountID, id)
	if err := s.deps.Store.Put(ctx, ref.ContentHandle, up.Body, ref.MimeType, ref.SizeBytes); err != nil {
		return nil, fmt.Errorf("failed to store attachment: %w", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// The draft may have changed while the content was uploading
	if err := s.checkAttachment(sess, ref); err != nil {
		s.deleteContent(ref.ContentHandle)
		return nil, err
	}
	sess.draft.Attachments = model.WithAttachment(sess.draft.Attachments, ref)
	sess.draft.UpdatedAt = s.now()

	return sess.snapshot(s.deps.Validator), nil
}

// checkAttachment validates the set that adding ref would produce.
// Callers hold sess.mu.
func (s *Service) checkAttachment(sess *Session, ref model.AttachmentRef) error {
	if err := sess.requireEditable(); err != nil {
		return err
	}
	for _, a := range sess.draft.Attachments {
		if a.Name == ref.Name {
			return apperr.New(apperr.KindValidation, apperr.ReasonInvalidAttachment,
				fmt.Sprintf("attachment %q is already attached", ref.Name))
		}
	}
	return s.deps.Validator.Validate(model.WithAttachment(sess.draft.Attachments, ref))
}

// RemoveAttachment drops the attachment called name from the draft
func (s *Service) RemoveAttachment(ctx context.Context, accountID, id, name string) (*Snapshot, error) {
	sess, err := s.session(accountID, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.requireEditable(); err != nil {
		return nil, err
	}
	rest, removed := model.WithoutAttachment(sess.draft.Attachments, name)
	if removed == nil {
		return nil, apperr.ErrAttachmentNotFound
	}
	sess.draft.Attachments = rest
	sess.draft.UpdatedAt = s.now()
	s.deleteContent(removed.ContentHandle)

	return sess.snapshot(s.deps.Validator), nil
}

// Submit validates the draft, reserves quota and starts an asynchronous
// dispatch. Validation and quota failures return the session to Draft and
// are returned synchronously; the returned snapshot is in Sending.
func (s *Service) Submit(ctx context.Context, accountID, id string) (*Snapshot, error) {
	sess, err := s.session(accountID, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.draft.State == model.StateFailed && sess.permanent {
		return nil, apperr.ErrNotRetriable
	}
	now := s.now()
	if err := sess.transition(model.StateValidating, now); err != nil {
		return nil, err
	}

	if err := s.deps.Validator.Validate(sess.draft.Attachments); err != nil {
		return nil, sess.failTo(model.StateDraft, err, now)
	}
	recipients, err := validate.Recipients(sess.draft.Recipients)
	if err != nil {
		return nil, sess.failTo(model.StateDraft, err, now)
	}
	sess.draft.Recipients = recipients

	cost := quota.ReservationCost(sess.draft.AttachmentBytes())
	reservationID, err := s.deps.Ledger.Reserve(ctx, accountID, cost)
	if err != nil {
		return nil, sess.failTo(model.StateDraft, err, now)
	}
	sess.reservationID = reservationID
	if err := sess.transition(model.StateReserved, now); err != nil {
		return nil, err
	}

	if err := sess.transition(model.StateSending, now); err != nil {
		return nil, err
	}
	sess.attempts++
	sess.lastError = nil

	dctx, cancel := context.WithCancel(s.base)
	sess.cancel = cancel
	attempt := sess.attempts
	draft := sess.draft.Clone()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		out := s.deps.Dispatcher.Dispatch(dctx, draft)
		s.complete(sess, attempt, out)
	}()

	s.log.Info().
		Str("session_id", id).
		Str("account_id", accountID).
		Int("attempt", attempt).
		Str("reservation_id", reservationID).
		Msg("dispatch started")

	return sess.snapshot(s.deps.Validator), nil
}

// complete settles the reservation of a finished dispatch attempt
func (s *Service) complete(sess *Session, attempt int, out delivery.Outcome) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	log := s.log.WithSessionID(sess.draft.ID).WithAccountID(sess.draft.AccountID)
	if sess.draft.State != model.StateSending || sess.attempts != attempt {
		log.Warn().
			Bool("acked", out.Acked()).
			Str("state", string(sess.draft.State)).
			Msg("dispatch outcome arrived after the session moved on, ignored")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	reservationID := sess.reservationID
	sess.reservationID = ""
	sess.cancel = nil
	now := s.now()

	if out.Acked() {
		if err := s.deps.Ledger.Commit(ctx, reservationID); err != nil {
			s.auditInconsistency(ctx, sess, reservationID, err)
		}

		msg := model.SentMessage{
			ID:         uuid.NewString(),
			AccountID:  sess.draft.AccountID,
			SessionID:  sess.draft.ID,
			Recipients: append([]string(nil), sess.draft.Recipients...),
			Subject:    sess.draft.Subject,
			SentAt:     now,
			SizeBytes:  sess.draft.AttachmentBytes(),
		}
		s.logSent(ctx, msg)

		_ = sess.transition(model.StateSent, now)
		s.audit(ctx, sess, model.AuditActionMessageSent, map[string]interface{}{
			"message_id": msg.ID,
			"recipients": len(msg.Recipients),
			"attempt":    attempt,
		})
		log.Info().Str("message_id", msg.ID).Int("attempt", attempt).Msg("message sent")
		return
	}

	if err := s.deps.Ledger.Release(ctx, reservationID); err != nil {
		s.auditInconsistency(ctx, sess, reservationID, err)
	}
	if sess.attempts >= sess.maxAttempts {
		sess.permanent = true
	}
	sess.lastError = errorInfo(out.Err)
	_ = sess.transition(model.StateFailed, now)

	s.audit(ctx, sess, model.AuditActionMessageFailed, map[string]interface{}{
		"reason":    string(out.Reason()),
		"attempt":   attempt,
		"permanent": sess.permanent,
	})
	log.Warn().
		Err(out.Err).
		Int("attempt", attempt).
		Bool("permanent", sess.permanent).
		Msg("message delivery failed")
}

// Discard abandons a non-terminal session. An in-flight dispatch is
// canceled and a held reservation is released.
func (s *Service) Discard(ctx context.Context, accountID, id string) (*Snapshot, error) {
	sess, err := s.session(accountID, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := s.discardLocked(ctx, sess, nil); err != nil {
		return nil, err
	}
	return sess.snapshot(s.deps.Validator), nil
}

// discardLocked moves sess to Discarded, cancelling its dispatch and
// releasing what it holds. Callers hold sess.mu.
func (s *Service) discardLocked(ctx context.Context, sess *Session, metadata map[string]interface{}) error {
	if sess.terminal() {
		return apperr.New(apperr.KindConflict, apperr.ReasonInvalidTransition,
			fmt.Sprintf("session in state %s cannot be discarded", sess.draft.State))
	}
	if err := sess.transition(model.StateDiscarded, s.now()); err != nil {
		return err
	}

	if sess.cancel != nil {
		sess.cancel()
		sess.cancel = nil
	}
	if sess.reservationID != "" {
		if err := s.deps.Ledger.Release(ctx, sess.reservationID); err != nil {
			s.auditInconsistency(ctx, sess, sess.reservationID, err)
		}
		sess.reservationID = ""
	}
	for _, a := range sess.draft.Attachments {
		s.deleteContent(a.ContentHandle)
	}

	s.audit(ctx, sess, model.AuditActionMessageDiscarded, metadata)
	return nil
}

// logSent queues msg behind any messages the sent log has not accepted yet
// and flushes the queue.
func (s *Service) logSent(ctx context.Context, msg model.SentMessage) {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	s.unlogged = append(s.unlogged, msg)
	s.flushSentLocked(ctx)
}

// flushSent retries appending queued messages and returns how many remain
func (s *Service) flushSent(ctx context.Context) int {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	return s.flushSentLocked(ctx)
}

// flushSentLocked appends queued messages in order, recording each in the
// usage counters once it is logged. It stops at the first failure.
// Callers hold s.sentMu.
func (s *Service) flushSentLocked(ctx context.Context) int {
	for len(s.unlogged) > 0 {
		msg := s.unlogged[0]
		if err := s.deps.SentLog.Append(ctx, &msg); err != nil {
			s.log.Error().
				Err(err).
				Str("message_id", msg.ID).
				Int("unlogged", len(s.unlogged)).
				Msg("failed to append sent message, will retry")
			return len(s.unlogged)
		}
		s.deps.Recorder.Record(msg)
		s.unlogged[0] = model.SentMessage{}
		s.unlogged = s.unlogged[1:]
	}
	s.unlogged = nil
	return 0
}

// Shutdown cancels in-flight dispatches and waits for their outcomes to be
// settled, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if n := s.flushSent(ctx); n > 0 {
		return fmt.Errorf("%d delivered messages could not be written to the sent log", n)
	}
	return nil
}

// deleteContent removes attachment content, logging failures
func (s *Service) deleteContent(handle string) {
	if handle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := s.deps.Store.Delete(ctx, handle); err != nil {
		s.log.Warn().Err(err).Str("key", handle).Msg("failed to delete attachment content")
	}
}

func (s *Service) audit(ctx context.Context, sess *Session, action string, metadata map[string]interface{}) {
	s.writeAudit(ctx, sess.draft.AccountID, action, "compose_session", sess.draft.ID, metadata)
}

func (s *Service) auditInconsistency(ctx context.Context, sess *Session, reservationID string, err error) {
	s.writeAudit(ctx, sess.draft.AccountID, model.AuditActionLedgerInconsistency, "reservation", reservationID,
		map[string]interface{}{"session_id": sess.draft.ID, "error": err.Error()})
}

func (s *Service) writeAudit(ctx context.Context, accountID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	s.log.AuditLog(accountID, action, resourceType, resourceID, metadata)
	if s.deps.Auditor == nil {
		return
	}

	entry := &model.AuditLog{
		ID:           uuid.NewString(),
		AccountID:    &accountID,
		Action:       action,
		ResourceType: &resourceType,
		ResourceID:   &resourceID,
		Metadata:     metadata,
		CreatedAt:    s.now(),
	}
	if err := s.deps.Auditor.Create(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}
