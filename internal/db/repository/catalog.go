package repository

import (
	"context"
	"fmt"

	"lake-catalog/internal/db"
	"lake-catalog/internal/db/crypto"
	"lake-catalog/internal/domain"
)

// CatalogRepo is the SQL implementation of domain.EntityStore.
type CatalogRepo struct {
	store
	enc *crypto.Encryptor
}

var _ domain.EntityStore = (*CatalogRepo)(nil)

// NewCatalogRepo creates a CatalogRepo. enc seals storage-profile secrets.
func NewCatalogRepo(pools *db.Pools, enc *crypto.Encryptor) *CatalogRepo {
	return &CatalogRepo{store: newStore(pools), enc: enc}
}

// CreateProject inserts a project.
func (r *CatalogRepo) CreateProject(ctx context.Context, p *domain.Project) error {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	now := r.now()
	_, err := r.write.ExecContext(ctx, r.q(
		`INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		p.ID, p.Name, now, now)
	if err != nil {
		return conflictAs(mapDBError(err), "project %q already exists", p.Name)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// GetProject returns a project by id.
func (r *CatalogRepo) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var p domain.Project
	err := r.read.QueryRowContext(ctx, r.q(
		`SELECT id, name, created_at, updated_at FROM projects WHERE id = ?`), id).
		Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundAs(mapDBError(err), "project %q not found", id)
	}
	return &p, nil
}

// ListProjects returns every project ordered by name.
func (r *CatalogRepo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.read.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, mapDBError(rows.Err())
}
