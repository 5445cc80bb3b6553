package catalog

import (
	"context"
	"errors"
	"time"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/auditutil"
)

// CreateWarehouseRequest holds the parameters of a new warehouse.
type CreateWarehouseRequest struct {
	ProjectID        string
	Name             string
	StorageProfile   domain.StorageProfile
	DeleteProfile    domain.DeleteProfile
	MaxCredentialTTL time.Duration
	Protected        bool
}

func (s *Service) validateWarehouse(name string, profile *domain.StorageProfile, del domain.DeleteProfile, maxTTL time.Duration) error {
	if err := domain.ValidateName("warehouse", name); err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	if !s.vendor.Supports(profile.Type) {
		return domain.ErrValidation("storage type %q is not enabled on this server", profile.Type)
	}
	switch del {
	case "", domain.DeleteHard, domain.DeleteSoft:
	default:
		return domain.ErrValidation("delete profile must be %q or %q", domain.DeleteHard, domain.DeleteSoft)
	}
	if maxTTL < 0 {
		return domain.ErrValidation("max credential ttl must not be negative")
	}
	effective := maxTTL
	if effective == 0 {
		effective = domain.DefaultMaxCredentialTTL
	}
	if floor := s.vendor.MinTTL(profile.Type); effective < floor {
		return domain.ErrValidation("max credential ttl %s is below the %s minimum of %s storage", effective, floor, profile.Type)
	}
	return nil
}

// selfCheck runs the downscoping self-check and returns the status the
// warehouse should be stored with alongside the check's error.
func (s *Service) selfCheck(ctx context.Context, w *domain.Warehouse) (domain.WarehouseStatus, error) {
	err := s.vendor.SelfCheck(ctx, w.StorageProfile, w.EffectiveMaxTTL())
	if err != nil {
		s.logger.Warn("warehouse self-check failed", "warehouse", w.Name, "type", w.StorageProfile.Type, "error", err)
		return domain.WarehouseInactive, err
	}
	return domain.WarehouseActive, nil
}

// CreateWarehouse validates the storage profile, runs the downscoping
// self-check, and persists the warehouse. A failed self-check still stores
// the warehouse, inactive, and returns the check's error with it.
func (s *Service) CreateWarehouse(ctx context.Context, req CreateWarehouseRequest) (*domain.Warehouse, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validateWarehouse(req.Name, &req.StorageProfile, req.DeleteProfile, req.MaxCredentialTTL); err != nil {
		return nil, err
	}
	project := domain.ProjectRef(req.ProjectID)
	if err := s.authorize(ctx, subject, domain.ActionCreate, project, domain.DenyAsForbidden, "create_warehouse"); err != nil {
		return nil, err
	}

	w := &domain.Warehouse{
		ProjectID:        req.ProjectID,
		Name:             req.Name,
		Protected:        req.Protected,
		DeleteProfile:    req.DeleteProfile,
		StorageProfile:   req.StorageProfile,
		MaxCredentialTTL: req.MaxCredentialTTL,
	}
	if w.DeleteProfile == "" {
		w.DeleteProfile = domain.DeleteHard
	}
	status, checkErr := s.selfCheck(ctx, w)
	w.Status = status
	if err := s.store.CreateWarehouse(ctx, w); err != nil {
		return nil, err
	}
	ref := domain.WarehouseRef(w.ID)
	s.grantOwnership(ctx, subject, ref)
	if checkErr != nil {
		auditutil.LogError(ctx, s.audit, subject, "create_warehouse", ref, checkErr.Error())
		return w, checkErr
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "create_warehouse", ref, w.Name)
	return w, nil
}

// GetWarehouse returns a warehouse the caller may describe.
func (s *Service) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, subject, domain.ActionDescribe, domain.WarehouseRef(id), domain.DenyAsNotFound, ""); err != nil {
		return nil, err
	}
	return s.store.GetWarehouse(ctx, id)
}

// ListWarehouses returns the visible warehouses of a project, optionally
// filtered by status.
func (s *Service) ListWarehouses(ctx context.Context, projectID string, status *domain.WarehouseStatus) ([]domain.Warehouse, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, subject, domain.ActionDescribe, domain.ProjectRef(projectID), domain.DenyAsNotFound, ""); err != nil {
		return nil, err
	}
	all, err := s.store.ListWarehouses(ctx, projectID, status)
	if err != nil {
		return nil, err
	}
	return filterVisible(ctx, s.gate, subject, all, func(w domain.Warehouse) domain.NodeRef {
		return domain.WarehouseRef(w.ID)
	})
}

// RenameWarehouse changes the display name of a warehouse.
func (s *Service) RenameWarehouse(ctx context.Context, id, name string) (*domain.Warehouse, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateName("warehouse", name); err != nil {
		return nil, err
	}
	ref := domain.WarehouseRef(id)
	if err := s.authorize(ctx, subject, domain.ActionModify, ref, domain.DenyAsForbidden, "rename_warehouse"); err != nil {
		return nil, err
	}
	if err := s.store.RenameWarehouse(ctx, id, name); err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "rename_warehouse", ref, name)
	return s.store.GetWarehouse(ctx, id)
}

// UpdateStorageProfile replaces the warehouse's storage credentials and
// settings. The storage root cannot move, because every table location is
// derived from it. The new profile is self-checked; on failure the
// warehouse is left inactive and the check's error returned.
func (s *Service) UpdateStorageProfile(ctx context.Context, id string, profile domain.StorageProfile) (*domain.Warehouse, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	ref := domain.WarehouseRef(id)
	if err := s.authorize(ctx, subject, domain.ActionModify, ref, domain.DenyAsForbidden, "update_storage_profile"); err != nil {
		return nil, err
	}
	w, err := s.store.GetWarehouse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validateWarehouse(w.Name, &profile, w.DeleteProfile, w.MaxCredentialTTL); err != nil {
		return nil, err
	}
	if profile.Type != w.StorageProfile.Type || profile.Root() != w.StorageProfile.Root() {
		return nil, domain.ErrValidation("storage root of warehouse %q cannot change from %s", w.Name, w.StorageProfile.Root())
	}

	w.StorageProfile = profile
	status, checkErr := s.selfCheck(ctx, w)
	if err := s.store.UpdateStorageProfile(ctx, id, profile, status); err != nil {
		return nil, err
	}
	w.Status = status
	if checkErr != nil {
		auditutil.LogError(ctx, s.audit, subject, "update_storage_profile", ref, checkErr.Error())
		return w, checkErr
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "update_storage_profile", ref, "")
	return w, nil
}

// ActivateWarehouse re-runs the self-check and activates the warehouse
// when it passes.
func (s *Service) ActivateWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	ref := domain.WarehouseRef(id)
	if err := s.authorize(ctx, subject, domain.ActionModify, ref, domain.DenyAsForbidden, "activate_warehouse"); err != nil {
		return nil, err
	}
	w, err := s.store.GetWarehouse(ctx, id)
	if err != nil {
		return nil, err
	}
	status, checkErr := s.selfCheck(ctx, w)
	if status != w.Status {
		if err := s.store.SetWarehouseStatus(ctx, id, status); err != nil {
			return nil, err
		}
		w.Status = status
	}
	if checkErr != nil {
		auditutil.LogError(ctx, s.audit, subject, "activate_warehouse", ref, checkErr.Error())
		return w, checkErr
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "activate_warehouse", ref, "")
	return w, nil
}

// DeactivateWarehouse takes a warehouse out of the data plane.
func (s *Service) DeactivateWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	ref := domain.WarehouseRef(id)
	if err := s.authorize(ctx, subject, domain.ActionModify, ref, domain.DenyAsForbidden, "deactivate_warehouse"); err != nil {
		return nil, err
	}
	if err := s.store.SetWarehouseStatus(ctx, id, domain.WarehouseInactive); err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "deactivate_warehouse", ref, "")
	return s.store.GetWarehouse(ctx, id)
}

// SetWarehouseProtection toggles deletion protection.
func (s *Service) SetWarehouseProtection(ctx context.Context, id string, protected bool) (*domain.Warehouse, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	ref := domain.WarehouseRef(id)
	if err := s.authorize(ctx, subject, domain.ActionModify, ref, domain.DenyAsForbidden, "set_warehouse_protection"); err != nil {
		return nil, err
	}
	if err := s.store.SetWarehouseProtected(ctx, id, protected); err != nil {
		return nil, err
	}
	detail := "unprotected"
	if protected {
		detail = "protected"
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "set_warehouse_protection", ref, detail)
	return s.store.GetWarehouse(ctx, id)
}

// DeleteWarehouse removes an empty warehouse. Protected warehouses are only
// deleted with force.
func (s *Service) DeleteWarehouse(ctx context.Context, id string, force bool) error {
	subject, err := caller(ctx)
	if err != nil {
		return err
	}
	ref := domain.WarehouseRef(id)
	if err := s.authorize(ctx, subject, domain.ActionDrop, ref, domain.DenyAsForbidden, "delete_warehouse"); err != nil {
		return err
	}
	w, err := s.store.GetWarehouse(ctx, id)
	if err != nil {
		return err
	}
	if w.Protected && !force {
		return domain.ErrConflict("warehouse %q is protected", w.Name)
	}
	if err := s.store.DeleteWarehouse(ctx, id); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			auditutil.LogError(ctx, s.audit, subject, "delete_warehouse", ref, err.Error())
		}
		return err
	}
	s.forgetObject(ctx, ref)
	auditutil.LogAllowed(ctx, s.audit, subject, "delete_warehouse", ref, w.Name)
	return nil
}
