package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/auditutil"
	"lake-catalog/internal/service/commit"
	"lake-catalog/internal/service/location"
)

// TabularResult is a table or view with its current metadata document and,
// when requested, a credential for its storage location.
type TabularResult struct {
	Tabular    *domain.Tabular
	Metadata   json.RawMessage
	Credential *domain.ScopedCredential
}

// placement resolves the namespace and active warehouse a new table or view
// is created in, after checking create on the namespace.
func (s *Service) placement(ctx context.Context, subject domain.Subject, namespaceID, auditAction string) (*domain.Namespace, *domain.Warehouse, error) {
	ref := domain.NamespaceRef(namespaceID)
	if err := s.authorize(ctx, subject, domain.ActionCreate, ref, domain.DenyAsForbidden, auditAction); err != nil {
		return nil, nil, err
	}
	ns, err := s.store.GetNamespace(ctx, namespaceID)
	if err != nil {
		return nil, nil, err
	}
	w, err := s.activeWarehouse(ctx, ns.WarehouseID, true)
	if err != nil {
		return nil, nil, err
	}
	return ns, w, nil
}

// CreateTable creates a table at metadata version 1 under a fresh location.
func (s *Service) CreateTable(ctx context.Context, req domain.CreateTableRequest, access domain.DataAccess) (*TabularResult, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ns, w, err := s.placement(ctx, subject, req.NamespaceID, "create_table")
	if err != nil {
		return nil, err
	}

	id := domain.NewID()
	loc := location.ForNewTabular(w, ns.ID, id)
	meta := commit.NewTableMetadata(req, id, loc, s.now().UTC())
	ptr, doc, err := commit.InitialTable(meta, loc)
	if err != nil {
		return nil, err
	}
	t := &domain.Tabular{
		ID:          id,
		Kind:        domain.TabularTable,
		WarehouseID: w.ID,
		NamespaceID: ns.ID,
		Name:        req.Name,
		Location:    loc,
		Pointer:     ptr,
	}
	return s.finishCreate(ctx, subject, w, t, doc, access)
}

// CreateView creates a view at metadata version 1.
func (s *Service) CreateView(ctx context.Context, req domain.CreateViewRequest) (*TabularResult, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ns, w, err := s.placement(ctx, subject, req.NamespaceID, "create_view")
	if err != nil {
		return nil, err
	}

	id := domain.NewID()
	loc := location.ForNewTabular(w, ns.ID, id)
	meta := commit.NewViewMetadata(req, id, loc, s.now().UTC())
	ptr, doc, err := commit.InitialView(meta, loc)
	if err != nil {
		return nil, err
	}
	t := &domain.Tabular{
		ID:          id,
		Kind:        domain.TabularView,
		WarehouseID: w.ID,
		NamespaceID: ns.ID,
		Name:        req.Name,
		Location:    loc,
		Pointer:     ptr,
	}
	return s.finishCreate(ctx, subject, w, t, doc, domain.DataAccessNone)
}

func (s *Service) finishCreate(ctx context.Context, subject domain.Subject, w *domain.Warehouse, t *domain.Tabular, doc []byte, access domain.DataAccess) (*TabularResult, error) {
	res := &TabularResult{Tabular: t, Metadata: doc}
	// Vend before persisting so a refused credential leaves nothing behind.
	// The creator owns the new table, so it gets every action the warehouse
	// backend can grant.
	if access == domain.DataAccessVendedCredentials {
		actions := s.vendor.Grantable(w.StorageProfile.Type, domain.NewActionSet(domain.AllStorageActions...))
		cred, err := s.vendFor(ctx, w, t, actions, location.PurposeAll, 0)
		if err != nil {
			return nil, err
		}
		res.Credential = cred
	}

	if err := s.commits.CreateInitial(ctx, t, doc); err != nil {
		return nil, err
	}
	ref := t.Ref()
	s.grantOwnership(ctx, subject, ref)
	auditutil.LogAllowed(ctx, s.audit, subject, "create_"+string(t.Kind), ref, t.Name)
	return res, nil
}

// loadTabular authorizes action on a table or view and returns it with its
// active warehouse. A kind mismatch is reported as NotFound.
func (s *Service) loadTabular(ctx context.Context, subject domain.Subject, id string, kind domain.TabularKind, action domain.Action, mode domain.DenialMode, auditAction string) (*domain.Tabular, *domain.Warehouse, error) {
	ref := domain.TabularRef(kind, id)
	if err := s.authorize(ctx, subject, action, ref, mode, auditAction); err != nil {
		return nil, nil, err
	}
	t, err := s.store.GetTabular(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if t.Kind != kind {
		return nil, nil, domain.ErrNotFound("%s %q not found", kind, id)
	}
	w, err := s.activeWarehouse(ctx, t.WarehouseID, mode == domain.DenyAsForbidden)
	if err != nil {
		return nil, nil, err
	}
	return t, w, nil
}

// ListTabulars returns the visible tables or views of a namespace.
func (s *Service) ListTabulars(ctx context.Context, namespaceID string, kind domain.TabularKind) ([]domain.Tabular, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, subject, domain.ActionDescribe, domain.NamespaceRef(namespaceID), domain.DenyAsNotFound, ""); err != nil {
		return nil, err
	}
	ns, err := s.store.GetNamespace(ctx, namespaceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeWarehouse(ctx, ns.WarehouseID, false); err != nil {
		return nil, err
	}
	all, err := s.store.ListTabulars(ctx, namespaceID, kind)
	if err != nil {
		return nil, err
	}
	return filterVisible(ctx, s.gate, subject, all, func(t domain.Tabular) domain.NodeRef { return t.Ref() })
}

// LoadTabular returns the current metadata of a table or view. Requires
// select. With vended credentials requested, the credential allows reads,
// plus writes when the caller may also modify the table.
func (s *Service) LoadTabular(ctx context.Context, id string, kind domain.TabularKind, access domain.DataAccess) (*TabularResult, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	t, w, err := s.loadTabular(ctx, subject, id, kind, domain.ActionSelect, domain.DenyAsNotFound, "")
	if err != nil {
		return nil, err
	}
	doc, err := s.store.LoadMetadata(ctx, id, t.Pointer.Version)
	if err != nil {
		return nil, fmt.Errorf("load metadata of %s %s: %w", kind, id, err)
	}
	res := &TabularResult{Tabular: t, Metadata: doc}
	if access != domain.DataAccessVendedCredentials || kind != domain.TabularTable {
		return res, nil
	}

	actions := domain.NewActionSet(domain.ActionGet, domain.ActionList)
	canWrite, err := s.gate.Check(ctx, subject, domain.ActionModify, t.Ref())
	if err != nil {
		return nil, err
	}
	if canWrite == domain.Allow {
		actions[domain.ActionPut] = struct{}{}
		actions[domain.ActionDelete] = struct{}{}
	}
	cred, err := s.vendFor(ctx, w, t, s.vendor.Grantable(w.StorageProfile.Type, actions), location.PurposeAll, 0)
	if err != nil {
		return nil, err
	}
	res.Credential = cred
	return res, nil
}

// DropTabular removes a table or view. Warehouses with the hard delete
// profile, or purge, discard the metadata history; otherwise the row is
// soft-deleted.
func (s *Service) DropTabular(ctx context.Context, id string, kind domain.TabularKind, purge bool) error {
	subject, err := caller(ctx)
	if err != nil {
		return err
	}
	action := "drop_" + string(kind)
	t, w, err := s.loadTabular(ctx, subject, id, kind, domain.ActionDrop, domain.DenyAsForbidden, action)
	if err != nil {
		return err
	}
	hard := purge || w.DeleteProfile == domain.DeleteHard
	if err := s.store.DropTabular(ctx, id, hard); err != nil {
		return err
	}
	s.forgetObject(ctx, t.Ref())
	detail := t.Name + " (soft)"
	if hard {
		detail = t.Name + " (hard)"
	}
	auditutil.LogAllowed(ctx, s.audit, subject, action, t.Ref(), detail)
	return nil
}

// RenameTabular moves a table or view to a new name, optionally in another
// namespace of the same warehouse. Requires modify on the source and create
// on the destination namespace.
func (s *Service) RenameTabular(ctx context.Context, id string, kind domain.TabularKind, namespaceID, name string) (*domain.Tabular, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateName(string(kind), name); err != nil {
		return nil, err
	}
	action := "rename_" + string(kind)
	t, _, err := s.loadTabular(ctx, subject, id, kind, domain.ActionModify, domain.DenyAsForbidden, action)
	if err != nil {
		return nil, err
	}
	if namespaceID == "" {
		namespaceID = t.NamespaceID
	}
	if namespaceID != t.NamespaceID {
		if err := s.authorize(ctx, subject, domain.ActionCreate, domain.NamespaceRef(namespaceID), domain.DenyAsForbidden, action); err != nil {
			return nil, err
		}
		dest, err := s.store.GetNamespace(ctx, namespaceID)
		if err != nil {
			return nil, err
		}
		if dest.WarehouseID != t.WarehouseID {
			return nil, domain.ErrValidation("cannot move %s %q to another warehouse", kind, t.Name)
		}
	}
	if err := s.store.RenameTabular(ctx, id, namespaceID, name); err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, subject, action, t.Ref(), t.Name+" -> "+name)
	return s.store.GetTabular(ctx, id)
}

// Commit publishes a new metadata version of a table or view. Requires
// modify.
func (s *Service) Commit(ctx context.Context, id string, kind domain.TabularKind, req domain.CommitRequest) (*domain.CommitResult, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	action := "commit_" + string(kind)
	t, _, err := s.loadTabular(ctx, subject, id, kind, domain.ActionModify, domain.DenyAsForbidden, action)
	if err != nil {
		return nil, err
	}
	res, err := s.commits.Commit(ctx, t.ID, kind, req)
	if err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, subject, action, t.Ref(), fmt.Sprintf("version %d", res.Pointer.Version))
	return res, nil
}
