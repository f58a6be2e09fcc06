package model

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID           string                 `json:"id"`
	AccountID    *string                `json:"accountId,omitempty"`
	Action       string                 `json:"action"`
	ResourceType *string                `json:"resourceType,omitempty"`
	ResourceID   *string                `json:"resourceId,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Audit action constants
const (
	AuditActionMessageSent         = "compose.sent"
	AuditActionMessageFailed       = "compose.failed"
	AuditActionMessageDiscarded    = "compose.discarded"
	AuditActionReservationSwept    = "quota.reservation_swept"
	AuditActionLedgerInconsistency = "quota.ledger_inconsistency"
	AuditActionPlanChanged         = "quota.plan_changed"
	AuditActionContactsReported    = "quota.contacts_reported"
)
