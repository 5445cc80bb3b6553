package catalog

import (
	"context"
	"fmt"
	"time"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/auditutil"
	"lake-catalog/internal/service/location"
)

// VendRequest asks for a credential on part of a table's location.
type VendRequest struct {
	TableID string
	Actions []domain.StorageAction
	Purpose location.Purpose
	TTL     time.Duration
}

// VendCredentials issues a credential for exactly the requested actions on
// the requested sub-prefixes of a table. Reads require select, writes
// require modify.
func (s *Service) VendCredentials(ctx context.Context, req VendRequest) (*domain.ScopedCredential, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if len(req.Actions) == 0 {
		return nil, domain.ErrValidation("at least one storage action is required")
	}
	if req.TTL < 0 {
		return nil, domain.ErrValidation("ttl must not be negative")
	}
	actions := domain.NewActionSet(req.Actions...)

	// Reads hide existence; a write is only Forbidden once the table is
	// known to be readable.
	t, w, err := s.loadTabular(ctx, subject, req.TableID, domain.TabularTable, domain.ActionSelect, domain.DenyAsNotFound, "")
	if err != nil {
		return nil, err
	}
	if actions.Writes() {
		if err := s.authorize(ctx, subject, domain.ActionModify, t.Ref(), domain.DenyAsForbidden, "vend_credentials"); err != nil {
			return nil, err
		}
	}

	cred, err := s.vendFor(ctx, w, t, actions, req.Purpose, req.TTL)
	if err != nil {
		auditutil.LogError(ctx, s.audit, subject, "vend_credentials", t.Ref(), err.Error())
		return nil, err
	}
	if actions.Writes() {
		auditutil.LogAllowed(ctx, s.audit, subject, "vend_credentials", t.Ref(),
			fmt.Sprintf("%v on %v", cred.AllowedActions, cred.AllowedPrefixes))
	}
	return cred, nil
}

// vendFor resolves the table's prefixes for purpose and grants actions on
// them under the warehouse's lifetime cap.
func (s *Service) vendFor(ctx context.Context, w *domain.Warehouse, t *domain.Tabular, actions domain.ActionSet, purpose location.Purpose, ttl time.Duration) (*domain.ScopedCredential, error) {
	res, err := location.ResolveFor(w, t, purpose)
	if err != nil {
		return nil, err
	}
	return s.vendor.Grant(ctx, domain.GrantRequest{
		Profile:   w.StorageProfile,
		MaxTTL:    w.EffectiveMaxTTL(),
		Actions:   actions,
		Locations: res.Prefixes,
		TTL:       ttl,
	})
}
