package catalog

import (
	"context"
	"strings"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/auditutil"
)

// CreateNamespaceRequest holds the parameters of a new namespace. ParentID
// is empty for a top-level namespace of the warehouse.
type CreateNamespaceRequest struct {
	WarehouseID string
	ParentID    string
	Name        string
	Properties  map[string]string
}

func namespaceParent(warehouseID, parentID string) domain.NodeRef {
	if parentID != "" {
		return domain.NamespaceRef(parentID)
	}
	return domain.WarehouseRef(warehouseID)
}

// CreateNamespace creates a namespace. Requires create on the parent.
func (s *Service) CreateNamespace(ctx context.Context, req CreateNamespaceRequest) (*domain.Namespace, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateName("namespace", req.Name); err != nil {
		return nil, err
	}
	parent := namespaceParent(req.WarehouseID, req.ParentID)
	if err := s.authorize(ctx, subject, domain.ActionCreate, parent, domain.DenyAsForbidden, "create_namespace"); err != nil {
		return nil, err
	}
	if _, err := s.activeWarehouse(ctx, req.WarehouseID, true); err != nil {
		return nil, err
	}

	ns := &domain.Namespace{
		WarehouseID: req.WarehouseID,
		ParentID:    req.ParentID,
		Name:        req.Name,
		Properties:  req.Properties,
	}
	if err := s.store.CreateNamespace(ctx, ns); err != nil {
		return nil, err
	}
	ref := domain.NamespaceRef(ns.ID)
	s.grantOwnership(ctx, subject, ref)
	auditutil.LogAllowed(ctx, s.audit, subject, "create_namespace", ref, strings.Join(ns.Path, "."))
	return ns, nil
}

// GetNamespace returns a namespace the caller may describe.
func (s *Service) GetNamespace(ctx context.Context, id string) (*domain.Namespace, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, subject, domain.ActionDescribe, domain.NamespaceRef(id), domain.DenyAsNotFound, ""); err != nil {
		return nil, err
	}
	ns, err := s.store.GetNamespace(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeWarehouse(ctx, ns.WarehouseID, false); err != nil {
		return nil, err
	}
	return ns, nil
}

// ListNamespaces returns the visible children of parentID, or the visible
// top-level namespaces of the warehouse when parentID is empty.
func (s *Service) ListNamespaces(ctx context.Context, warehouseID, parentID string) ([]domain.Namespace, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	parent := namespaceParent(warehouseID, parentID)
	if err := s.authorize(ctx, subject, domain.ActionDescribe, parent, domain.DenyAsNotFound, ""); err != nil {
		return nil, err
	}
	if _, err := s.activeWarehouse(ctx, warehouseID, false); err != nil {
		return nil, err
	}
	all, err := s.store.ListNamespaces(ctx, warehouseID, parentID)
	if err != nil {
		return nil, err
	}
	return filterVisible(ctx, s.gate, subject, all, func(ns domain.Namespace) domain.NodeRef {
		return domain.NamespaceRef(ns.ID)
	})
}

// UpdateNamespaceProperties sets and removes namespace properties.
func (s *Service) UpdateNamespaceProperties(ctx context.Context, id string, set map[string]string, remove []string) (*domain.Namespace, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range remove {
		if _, ok := set[k]; ok {
			return nil, domain.ErrValidation("property %q is both set and removed", k)
		}
	}
	ref := domain.NamespaceRef(id)
	if err := s.authorize(ctx, subject, domain.ActionModify, ref, domain.DenyAsForbidden, "update_namespace"); err != nil {
		return nil, err
	}
	current, err := s.store.GetNamespace(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeWarehouse(ctx, current.WarehouseID, true); err != nil {
		return nil, err
	}
	ns, err := s.store.UpdateNamespaceProperties(ctx, id, set, remove)
	if err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "update_namespace", ref, "")
	return ns, nil
}

// DropNamespace soft-deletes a namespace. Without recursive it fails with
// ConflictError while the namespace has children.
func (s *Service) DropNamespace(ctx context.Context, id string, recursive bool) error {
	subject, err := caller(ctx)
	if err != nil {
		return err
	}
	ref := domain.NamespaceRef(id)
	if err := s.authorize(ctx, subject, domain.ActionDrop, ref, domain.DenyAsForbidden, "drop_namespace"); err != nil {
		return err
	}
	ns, err := s.store.GetNamespace(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.activeWarehouse(ctx, ns.WarehouseID, true); err != nil {
		return err
	}
	dropped, err := s.store.DropNamespace(ctx, id, recursive)
	if err != nil {
		return err
	}
	for _, d := range dropped {
		s.forgetObject(ctx, d)
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "drop_namespace", ref, strings.Join(ns.Path, "."))
	return nil
}
