package domain

import "time"

// Audit statuses.
const (
	AuditAllowed = "ALLOWED"
	AuditDenied  = "DENIED"
	AuditError   = "ERROR"
)

// AuditEntry represents a single audit log record.
type AuditEntry struct {
	ID         string
	Subject    string
	Action     string
	ObjectType string
	ObjectID   string
	Status     string // "ALLOWED", "DENIED", "ERROR"
	Detail     *string
	RequestID  *string
	CreatedAt  time.Time
}

// AuditFilter narrows an audit listing.
type AuditFilter struct {
	Subject  *string
	Action   *string
	Status   *string
	ObjectID *string
	Page     PageRequest
}
