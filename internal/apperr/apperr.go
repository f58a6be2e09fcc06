// Package apperr defines the structured error taxonomy surfaced to callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups reasons by how a caller is expected to recover
type Kind string

const (
	KindValidation          Kind = "validation"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindTransportFailure    Kind = "transport_failure"
	KindLedgerInconsistency Kind = "ledger_inconsistency"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindForbidden           Kind = "forbidden"
)

// Reason is the machine-readable cause of an error
type Reason string

const (
	ReasonSizeLimitExceeded   Reason = "size_limit_exceeded"
	ReasonUnsupportedType     Reason = "unsupported_type"
	ReasonInvalidAttachment   Reason = "invalid_attachment"
	ReasonInvalidRecipients   Reason = "invalid_recipients"
	ReasonQuotaExceeded       Reason = "quota_exceeded"
	ReasonTimeout             Reason = "timeout"
	ReasonNack                Reason = "nack"
	ReasonCanceled            Reason = "canceled"
	ReasonReservationNotFound Reason = "reservation_not_found"
	ReasonReservationSettled  Reason = "reservation_settled"
	ReasonSessionNotFound     Reason = "session_not_found"
	ReasonAttachmentNotFound  Reason = "attachment_not_found"
	ReasonInvalidTransition   Reason = "invalid_transition"
	ReasonNotRetriable        Reason = "not_retriable"
	ReasonNotOwner            Reason = "not_owner"
)

// Error is an application error with enough structure for a UI to render
// actionable feedback.
type Error struct {
	Kind    Kind   `json:"kind"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same reason, so sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Retriable reports whether the failure may succeed on a later attempt
func (e *Error) Retriable() bool {
	return e.Kind == KindTransportFailure
}

// New creates an Error
func New(kind Kind, reason Reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Wrap creates an Error that keeps err as its cause
func Wrap(kind Kind, reason Reason, message string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

// Sentinel errors, one per reason
var (
	ErrSizeLimitExceeded   = New(KindValidation, ReasonSizeLimitExceeded, "total attachment size exceeds the limit")
	ErrUnsupportedType     = New(KindValidation, ReasonUnsupportedType, "attachment type is not supported")
	ErrInvalidAttachment   = New(KindValidation, ReasonInvalidAttachment, "attachment is invalid")
	ErrInvalidRecipients   = New(KindValidation, ReasonInvalidRecipients, "recipients are invalid")
	ErrQuotaExceeded       = New(KindQuotaExceeded, ReasonQuotaExceeded, "quota exceeded")
	ErrTimeout             = New(KindTransportFailure, ReasonTimeout, "delivery timed out")
	ErrNack                = New(KindTransportFailure, ReasonNack, "delivery was rejected by the transport")
	ErrCanceled            = New(KindTransportFailure, ReasonCanceled, "delivery was canceled")
	ErrReservationNotFound = New(KindLedgerInconsistency, ReasonReservationNotFound, "reservation not found")
	ErrReservationSettled  = New(KindLedgerInconsistency, ReasonReservationSettled, "reservation already settled the other way")
	ErrSessionNotFound     = New(KindNotFound, ReasonSessionNotFound, "compose session not found")
	ErrAttachmentNotFound  = New(KindNotFound, ReasonAttachmentNotFound, "attachment not found")
	ErrInvalidTransition   = New(KindConflict, ReasonInvalidTransition, "operation not allowed in the current state")
	ErrNotRetriable        = New(KindConflict, ReasonNotRetriable, "message failed permanently and cannot be retried")
	ErrNotOwner            = New(KindForbidden, ReasonNotOwner, "session belongs to another account")
)

// From extracts an *Error from err's chain
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries no *Error
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind
	}
	return ""
}
