// Package auditutil records allow and deny decisions of catalog mutations.
package auditutil

import (
	"context"

	"lake-catalog/internal/domain"
)

// LogAllowed records a mutation that went through.
func LogAllowed(ctx context.Context, audit domain.AuditRepository, subject domain.Subject, action string, object domain.NodeRef, detail string) {
	logDecision(ctx, audit, subject, action, object, domain.AuditAllowed, detail)
}

// LogDenied records a mutation the gate refused.
func LogDenied(ctx context.Context, audit domain.AuditRepository, subject domain.Subject, action string, object domain.NodeRef, detail string) {
	logDecision(ctx, audit, subject, action, object, domain.AuditDenied, detail)
}

// LogError records a mutation that failed after authorization.
func LogError(ctx context.Context, audit domain.AuditRepository, subject domain.Subject, action string, object domain.NodeRef, detail string) {
	logDecision(ctx, audit, subject, action, object, domain.AuditError, detail)
}

func logDecision(ctx context.Context, audit domain.AuditRepository, subject domain.Subject, action string, object domain.NodeRef, status, detail string) {
	if audit == nil {
		return
	}
	e := &domain.AuditEntry{
		Subject:    subject.String(),
		Action:     action,
		ObjectType: string(object.Kind),
		ObjectID:   object.ID,
		Status:     status,
	}
	if detail != "" {
		e.Detail = &detail
	}
	if id := domain.RequestIDFromContext(ctx); id != "" {
		e.RequestID = &id
	}
	// Audit writes never fail the operation they describe.
	_ = audit.Insert(context.WithoutCancel(ctx), e)
}
