package repository

import (
	"context"
	"fmt"

	"lake-catalog/internal/domain"
)

// Ancestors returns ref and its ancestors up to the server node, nearest
// first. Only live nodes resolve.
func (r *CatalogRepo) Ancestors(ctx context.Context, ref domain.NodeRef) ([]domain.NodeRef, error) {
	var (
		chain       []domain.NodeRef
		namespaceID string
		warehouseID string
		projectID   string
	)

	switch ref.Kind {
	case domain.KindServer:
		return []domain.NodeRef{domain.ServerRef()}, nil
	case domain.KindTable, domain.KindView:
		err := r.read.QueryRowContext(ctx, r.q(
			`SELECT namespace_id FROM tabulars WHERE id = ? AND kind = ? AND deleted_at IS NULL`),
			ref.ID, string(ref.Kind)).Scan(&namespaceID)
		if err != nil {
			return nil, notFoundAs(mapDBError(err), "%s %q not found", ref.Kind, ref.ID)
		}
		chain = append(chain, ref)
	case domain.KindNamespace:
		namespaceID = ref.ID
	case domain.KindWarehouse:
		warehouseID = ref.ID
	case domain.KindProject:
		projectID = ref.ID
	default:
		return nil, domain.ErrValidation("unknown node kind %q", ref.Kind)
	}

	if namespaceID != "" {
		ids, wid, err := r.namespaceChain(ctx, namespaceID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, domain.ErrNotFound("%s %q not found", ref.Kind, ref.ID)
		}
		for _, id := range ids {
			chain = append(chain, domain.NamespaceRef(id))
		}
		warehouseID = wid
	}

	if warehouseID != "" {
		err := r.read.QueryRowContext(ctx, r.q(
			`SELECT project_id FROM warehouses WHERE id = ?`), warehouseID).Scan(&projectID)
		if err != nil {
			return nil, notFoundAs(mapDBError(err), "warehouse %q not found", warehouseID)
		}
		chain = append(chain, domain.WarehouseRef(warehouseID))
	}

	var exists int
	if err := r.read.QueryRowContext(ctx, r.q(`SELECT 1 FROM projects WHERE id = ?`), projectID).Scan(&exists); err != nil {
		return nil, notFoundAs(mapDBError(err), "project %q not found", projectID)
	}
	chain = append(chain, domain.ProjectRef(projectID), domain.ServerRef())
	return chain, nil
}

// namespaceChain returns the live namespace ids from id up to its top-level
// namespace, nearest first. A soft-deleted link ends the chain early.
func (r *CatalogRepo) namespaceChain(ctx context.Context, id string) ([]string, string, error) {
	rows, err := r.read.QueryContext(ctx, r.q(`
		WITH RECURSIVE chain (id, parent_id, warehouse_id, depth) AS (
			SELECT id, parent_id, warehouse_id, 0 FROM namespaces WHERE id = ? AND deleted_at IS NULL
			UNION ALL
			SELECT n.id, n.parent_id, n.warehouse_id, c.depth + 1
			FROM namespaces n JOIN chain c ON n.id = c.parent_id
			WHERE n.deleted_at IS NULL
		)
		SELECT id, parent_id, warehouse_id FROM chain ORDER BY depth`), id)
	if err != nil {
		return nil, "", mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var (
		ids         []string
		warehouseID string
		lastParent  string
	)
	for rows.Next() {
		var nsID string
		if err := rows.Scan(&nsID, &lastParent, &warehouseID); err != nil {
			return nil, "", fmt.Errorf("scan namespace chain: %w", err)
		}
		ids = append(ids, nsID)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapDBError(err)
	}
	if lastParent != "" {
		// A parent was dropped; the subtree is no longer reachable.
		return nil, "", nil
	}
	return ids, warehouseID, nil
}
