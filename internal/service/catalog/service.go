// Package catalog implements the catalog lifecycle (projects, warehouses,
// namespaces, tables, views) and its data-plane flows on top of the
// authorization gate, the commit coordinator, and the vending engine.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/auditutil"
)

// Gate is the authorization surface the catalog needs.
type Gate interface {
	Check(ctx context.Context, subject domain.Subject, action domain.Action, object domain.NodeRef) (domain.Decision, error)
	BatchCheck(ctx context.Context, subject domain.Subject, action domain.Action, objects []domain.NodeRef) ([]domain.Decision, error)
	Authorize(ctx context.Context, subject domain.Subject, action domain.Action, object domain.NodeRef, mode domain.DenialMode) error
}

// Vendor issues scoped storage credentials.
type Vendor interface {
	Supports(t domain.StorageType) bool
	MinTTL(t domain.StorageType) time.Duration
	Grantable(t domain.StorageType, actions domain.ActionSet) domain.ActionSet
	Grant(ctx context.Context, req domain.GrantRequest) (*domain.ScopedCredential, error)
	SelfCheck(ctx context.Context, profile domain.StorageProfile, maxTTL time.Duration) error
}

// Committer publishes metadata versions.
type Committer interface {
	CreateInitial(ctx context.Context, t *domain.Tabular, document []byte) error
	Commit(ctx context.Context, id string, kind domain.TabularKind, req domain.CommitRequest) (*domain.CommitResult, error)
}

// Service provides catalog operations with authorization and auditing.
// The caller's Subject is read from the context.
type Service struct {
	store   domain.EntityStore
	gate    Gate
	policy  domain.PolicyClient
	vendor  Vendor
	commits Committer
	audit   domain.AuditRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a Service.
func NewService(
	store domain.EntityStore,
	gate Gate,
	policy domain.PolicyClient,
	vendor Vendor,
	commits Committer,
	audit domain.AuditRepository,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		gate:    gate,
		policy:  policy,
		vendor:  vendor,
		commits: commits,
		audit:   audit,
		logger:  logger.With("component", "catalog"),
		now:     time.Now,
	}
}

func caller(ctx context.Context) (domain.Subject, error) {
	s, ok := domain.SubjectFromContext(ctx)
	if !ok || s.ID == "" {
		return domain.Subject{}, domain.ErrUnauthenticated("authentication required")
	}
	return s, nil
}

// authorize checks one action and records denials of mutations.
func (s *Service) authorize(ctx context.Context, subject domain.Subject, action domain.Action, object domain.NodeRef, mode domain.DenialMode, auditAction string) error {
	err := s.gate.Authorize(ctx, subject, action, object, mode)
	if err == nil {
		return nil
	}
	var (
		denied *domain.AccessDeniedError
		nf     *domain.NotFoundError
	)
	if auditAction != "" && (errors.As(err, &denied) || errors.As(err, &nf)) {
		auditutil.LogDenied(ctx, s.audit, subject, auditAction, object, string(action))
	}
	return err
}

// grantOwnership gives the creator of a node full control over it. The node
// is already persisted, so a failure here is logged rather than undone.
func (s *Service) grantOwnership(ctx context.Context, subject domain.Subject, object domain.NodeRef) {
	if subject.IsAdmin {
		return
	}
	t := domain.Tuple{Subject: subject, Relation: domain.RelationOwnership, Object: object}
	if err := s.policy.Assert(ctx, t); err != nil {
		s.logger.Warn("assign ownership failed", "object", object.String(), "subject", subject.String(), "error", err)
	}
}

// forgetObject removes the policy tuples of a deleted node.
func (s *Service) forgetObject(ctx context.Context, object domain.NodeRef) {
	if err := s.policy.RevokeObject(context.WithoutCancel(ctx), object); err != nil {
		s.logger.Warn("revoke tuples of deleted object failed", "object", object.String(), "error", err)
	}
}

// filterVisible keeps the items the subject may describe.
func filterVisible[T any](ctx context.Context, g Gate, subject domain.Subject, items []T, ref func(T) domain.NodeRef) ([]T, error) {
	if len(items) == 0 {
		return items, nil
	}
	refs := make([]domain.NodeRef, len(items))
	for i, it := range items {
		refs[i] = ref(it)
	}
	decisions, err := g.BatchCheck(ctx, subject, domain.ActionDescribe, refs)
	if err != nil {
		return nil, fmt.Errorf("filter visible: %w", err)
	}
	out := make([]T, 0, len(items))
	for i, it := range items {
		if decisions[i] == domain.Allow {
			out = append(out, it)
		}
	}
	return out, nil
}

// activeWarehouse loads the warehouse a data-plane operation runs in.
// Inactive warehouses hide their contents from reads and refuse writes.
func (s *Service) activeWarehouse(ctx context.Context, id string, write bool) (*domain.Warehouse, error) {
	w, err := s.store.GetWarehouse(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.IsActive() {
		return w, nil
	}
	if write {
		return nil, domain.ErrConflict("warehouse %q is inactive", w.Name)
	}
	return nil, domain.ErrNotFound("warehouse %q not found", id)
}
