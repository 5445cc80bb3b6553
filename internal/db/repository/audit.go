package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"lake-catalog/internal/db"
	"lake-catalog/internal/domain"
)

// AuditRepo implements domain.AuditRepository.
type AuditRepo struct {
	store
}

var _ domain.AuditRepository = (*AuditRepo)(nil)

// NewAuditRepo creates an AuditRepo.
func NewAuditRepo(pools *db.Pools) *AuditRepo {
	return &AuditRepo{store: newStore(pools)}
}

// Insert appends an entry.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	_, err := r.write.ExecContext(ctx, r.q(`INSERT INTO audit_log
		(id, subject, action, object_type, object_id, status, detail, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Subject, e.Action, e.ObjectType, e.ObjectID, e.Status,
		nullString(e.Detail), nullString(e.RequestID), e.CreatedAt)
	return mapDBError(err)
}

// List returns one page of entries, newest first, and the total count.
func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	var (
		where []string
		args  []any
	)
	add := func(col string, v *string) {
		if v != nil {
			where = append(where, col+" = ?")
			args = append(args, *v)
		}
	}
	add("subject", filter.Subject)
	add("action", filter.Action)
	add("status", filter.Status)
	add("object_id", filter.ObjectID)

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.read.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM audit_log`+clause), args...).Scan(&total); err != nil {
		return nil, 0, mapDBError(err)
	}

	pageArgs := append(append([]any{}, args...), filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.read.QueryContext(ctx, r.q(`SELECT id, subject, action, object_type, object_id, status,
		detail, request_id, created_at FROM audit_log`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`), pageArgs...)
	if err != nil {
		return nil, 0, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e                 domain.AuditEntry
			detail, requestID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Subject, &e.Action, &e.ObjectType, &e.ObjectID, &e.Status,
			&detail, &requestID, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Detail, e.RequestID = ptrString(detail), ptrString(requestID)
		out = append(out, e)
	}
	return out, total, mapDBError(rows.Err())
}
