package models

import "time"

// Action enumerates the audited operations on a certificate.
type Action string

const (
	ActionInitialImport      Action = "INITIAL_IMPORT"
	ActionFieldUpdate        Action = "FIELD_UPDATE"
	ActionStatusChanged      Action = "STATUS_CHANGED"
	ActionCertificateRenewed Action = "CERTIFICATE_RENEWED"
	ActionTicketCreated      Action = "TICKET_CREATED"
	ActionTicketAssigned     Action = "TICKET_ASSIGNED"
	ActionNotificationSent   Action = "EMAIL_NOTIFICATION_SENT"
	ActionDeleted            Action = "DELETED"
)

// FieldChange records one automation-owned field transition inside a merge.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// LogEntry is one append-only audit record. Entries are created once per
// mutating operation on a certificate and never updated or deleted.
type LogEntry struct {
	LogID         string
	CertificateID string
	Timestamp     time.Time
	Action        Action
	Actor         string // source or user that caused the mutation
	Detail        string
	Changes       []FieldChange
}
