package compose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/model"
	"github.com/ezmail/ezmail/internal/validate"
)

// ErrorInfo is the user-facing form of a session's last failure
type ErrorInfo struct {
	Kind    apperr.Kind   `json:"kind"`
	Reason  apperr.Reason `json:"reason"`
	Message string        `json:"message"`
}

func errorInfo(err error) *ErrorInfo {
	if e, ok := apperr.From(err); ok {
		return &ErrorInfo{Kind: e.Kind, Reason: e.Reason, Message: e.Message}
	}
	return &ErrorInfo{Message: err.Error()}
}

// Snapshot is a point-in-time copy of a compose session
type Snapshot struct {
	model.Draft
	AttachmentSummary validate.AttachmentSummary `json:"attachmentSummary"`
	Attempts          int                        `json:"attempts"`
	MaxAttempts       int                        `json:"maxAttempts"`
	Retriable         bool                       `json:"retriable"`
	LastError         *ErrorInfo                 `json:"lastError,omitempty"`
}

// Session is one draft and its lifecycle. All fields are guarded by mu.
type Session struct {
	mu sync.Mutex

	draft       model.Draft
	attempts    int
	maxAttempts int
	permanent   bool
	lastError   *ErrorInfo

	reservationID string
	cancel        context.CancelFunc
	finishedAt    time.Time
}

func (s *Session) transition(to model.SessionState, now time.Time) error {
	if !canTransition(s.draft.State, to) {
		return apperr.New(apperr.KindConflict, apperr.ReasonInvalidTransition,
			fmt.Sprintf("cannot move session from %s to %s", s.draft.State, to))
	}
	s.draft.State = to
	s.draft.UpdatedAt = now
	if s.terminal() {
		s.finishedAt = now
	}
	return nil
}

// terminal reports whether the session can no longer change
func (s *Session) terminal() bool {
	switch s.draft.State {
	case model.StateSent, model.StateDiscarded:
		return true
	case model.StateFailed:
		return s.permanent
	}
	return false
}

// editable reports whether the draft content may change
func (s *Session) editable() bool {
	return s.draft.State == model.StateDraft || (s.draft.State == model.StateFailed && !s.permanent)
}

func (s *Session) requireEditable() error {
	if s.editable() {
		return nil
	}
	return apperr.New(apperr.KindConflict, apperr.ReasonInvalidTransition,
		fmt.Sprintf("session in state %s cannot be edited", s.draft.State))
}

func (s *Session) snapshot(v *validate.AttachmentValidator) *Snapshot {
	snap := &Snapshot{
		Draft:             s.draft.Clone(),
		AttachmentSummary: v.Summarize(s.draft.Attachments),
		Attempts:          s.attempts,
		MaxAttempts:       s.maxAttempts,
		Retriable:         s.draft.State == model.StateFailed && !s.permanent,
	}
	if s.lastError != nil {
		e := *s.lastError
		snap.LastError = &e
	}
	return snap
}

// failTo records err and moves the session back to state
func (s *Session) failTo(state model.SessionState, err error, now time.Time) error {
	s.lastError = errorInfo(err)
	if tErr := s.transition(state, now); tErr != nil {
		return errors.Join(err, tErr)
	}
	return err
}
