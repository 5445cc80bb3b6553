package catalog

import (
	"context"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/auditutil"
)

// CreateProject creates a project. Requires create on the server.
func (s *Service) CreateProject(ctx context.Context, name string) (*domain.Project, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateName("project", name); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, subject, domain.ActionCreate, domain.ServerRef(), domain.DenyAsForbidden, "create_project"); err != nil {
		return nil, err
	}

	p := &domain.Project{Name: name}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	s.grantOwnership(ctx, subject, domain.ProjectRef(p.ID))
	auditutil.LogAllowed(ctx, s.audit, subject, "create_project", domain.ProjectRef(p.ID), name)
	return p, nil
}

// GetProject returns a project the caller may describe.
func (s *Service) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, subject, domain.ActionDescribe, domain.ProjectRef(id), domain.DenyAsNotFound, ""); err != nil {
		return nil, err
	}
	return s.store.GetProject(ctx, id)
}

// ListProjects returns the projects the caller may describe.
func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return filterVisible(ctx, s.gate, subject, all, func(p domain.Project) domain.NodeRef {
		return domain.ProjectRef(p.ID)
	})
}
