package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"lake-catalog/internal/domain"
)

const namespaceColumns = `id, warehouse_id, parent_id, name, properties, created_at, updated_at`

func scanNamespace(row rowScanner) (*domain.Namespace, error) {
	var (
		ns    domain.Namespace
		props string
	)
	if err := row.Scan(&ns.ID, &ns.WarehouseID, &ns.ParentID, &ns.Name, &props, &ns.CreatedAt, &ns.UpdatedAt); err != nil {
		return nil, err
	}
	p, err := decodeProperties(props)
	if err != nil {
		return nil, err
	}
	ns.Properties = p
	return &ns, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// namespacePath returns the names from the top-level namespace down to id.
func (r *CatalogRepo) namespacePath(ctx context.Context, q querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, r.q(`
		WITH RECURSIVE chain (id, parent_id, name, depth) AS (
			SELECT id, parent_id, name, 0 FROM namespaces WHERE id = ?
			UNION ALL
			SELECT n.id, n.parent_id, n.name, c.depth + 1
			FROM namespaces n JOIN chain c ON n.id = c.parent_id
		)
		SELECT name FROM chain ORDER BY depth DESC`), id)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var path []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan namespace path: %w", err)
		}
		path = append(path, name)
	}
	return path, mapDBError(rows.Err())
}

// CreateNamespace inserts a namespace under its warehouse or parent namespace.
func (r *CatalogRepo) CreateNamespace(ctx context.Context, ns *domain.Namespace) error {
	if ns.ID == "" {
		ns.ID = domain.NewID()
	}
	props, err := encodeProperties(ns.Properties)
	if err != nil {
		return err
	}
	now := r.now()
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		if ns.ParentID != "" {
			var warehouseID string
			err := tx.QueryRowContext(ctx, r.q(
				`SELECT warehouse_id FROM namespaces WHERE id = ? AND deleted_at IS NULL`), ns.ParentID).Scan(&warehouseID)
			if err != nil {
				return notFoundAs(mapDBError(err), "parent namespace %q not found", ns.ParentID)
			}
			if warehouseID != ns.WarehouseID {
				return domain.ErrValidation("parent namespace %q belongs to another warehouse", ns.ParentID)
			}
		}
		_, err := tx.ExecContext(ctx, r.q(`INSERT INTO namespaces (`+namespaceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			ns.ID, ns.WarehouseID, ns.ParentID, ns.Name, props, now, now)
		if err != nil {
			return conflictAs(mapDBError(err), "namespace %q already exists", ns.Name)
		}
		path, err := r.namespacePath(ctx, tx, ns.ID)
		if err != nil {
			return err
		}
		ns.Path = path
		return nil
	})
	if err != nil {
		return err
	}
	ns.CreatedAt, ns.UpdatedAt = now, now
	return nil
}

// GetNamespace returns a live namespace with its full path.
func (r *CatalogRepo) GetNamespace(ctx context.Context, id string) (*domain.Namespace, error) {
	row := r.read.QueryRowContext(ctx, r.q(
		`SELECT `+namespaceColumns+` FROM namespaces WHERE id = ? AND deleted_at IS NULL`), id)
	ns, err := scanNamespace(row)
	if err != nil {
		return nil, notFoundAs(mapDBError(err), "namespace %q not found", id)
	}
	if ns.Path, err = r.namespacePath(ctx, r.read, id); err != nil {
		return nil, err
	}
	return ns, nil
}

// ListNamespaces returns the live children of parentID ordered by name.
func (r *CatalogRepo) ListNamespaces(ctx context.Context, warehouseID, parentID string) ([]domain.Namespace, error) {
	var parentPath []string
	if parentID != "" {
		parent, err := r.GetNamespace(ctx, parentID)
		if err != nil {
			return nil, err
		}
		parentPath = parent.Path
	}

	rows, err := r.read.QueryContext(ctx, r.q(`SELECT `+namespaceColumns+` FROM namespaces
		WHERE warehouse_id = ? AND parent_id = ? AND deleted_at IS NULL ORDER BY name`), warehouseID, parentID)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		ns.Path = append(append([]string{}, parentPath...), ns.Name)
		out = append(out, *ns)
	}
	return out, mapDBError(rows.Err())
}

// UpdateNamespaceProperties sets and removes property keys atomically.
func (r *CatalogRepo) UpdateNamespaceProperties(ctx context.Context, id string, set map[string]string, remove []string) (*domain.Namespace, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, r.q(
			`SELECT properties FROM namespaces WHERE id = ? AND deleted_at IS NULL`), id).Scan(&raw)
		if err != nil {
			return notFoundAs(mapDBError(err), "namespace %q not found", id)
		}
		props, err := decodeProperties(raw)
		if err != nil {
			return err
		}
		for _, k := range remove {
			delete(props, k)
		}
		for k, v := range set {
			props[k] = v
		}
		encoded, err := encodeProperties(props)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, r.q(
			`UPDATE namespaces SET properties = ?, updated_at = ? WHERE id = ?`), encoded, r.now(), id)
		return mapDBError(err)
	})
	if err != nil {
		return nil, err
	}
	return r.GetNamespace(ctx, id)
}

// DropNamespace soft-deletes a namespace. The returned refs name every node
// that was removed so callers can clean up their grants.
func (r *CatalogRepo) DropNamespace(ctx context.Context, id string, recursive bool) ([]domain.NodeRef, error) {
	var dropped []domain.NodeRef
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		nsIDs, err := collectStrings(ctx, tx, r.q(`
			WITH RECURSIVE sub (id) AS (
				SELECT id FROM namespaces WHERE id = ? AND deleted_at IS NULL
				UNION ALL
				SELECT n.id FROM namespaces n JOIN sub s ON n.parent_id = s.id
				WHERE n.deleted_at IS NULL
			)
			SELECT id FROM sub`), id)
		if err != nil {
			return err
		}
		if len(nsIDs) == 0 {
			return domain.ErrNotFound("namespace %q not found", id)
		}

		in, args := inClause(nsIDs)
		rows, err := tx.QueryContext(ctx, r.q(
			`SELECT id, kind FROM tabulars WHERE deleted_at IS NULL AND namespace_id IN `+in), args...)
		if err != nil {
			return mapDBError(err)
		}
		var tabulars []domain.NodeRef
		for rows.Next() {
			var tid, kind string
			if err := rows.Scan(&tid, &kind); err != nil {
				rows.Close() //nolint:errcheck,gosec
				return fmt.Errorf("scan tabular: %w", err)
			}
			tabulars = append(tabulars, domain.TabularRef(domain.TabularKind(kind), tid))
		}
		if err := rows.Err(); err != nil {
			rows.Close() //nolint:errcheck,gosec
			return mapDBError(err)
		}
		if err := rows.Close(); err != nil {
			return mapDBError(err)
		}

		if !recursive && (len(nsIDs) > 1 || len(tabulars) > 0) {
			return domain.ErrConflict("namespace %q is not empty", id)
		}

		now := r.now()
		setArgs := append([]any{now}, args...)
		if _, err := tx.ExecContext(ctx, r.q(
			`UPDATE tabulars SET deleted_at = ? WHERE deleted_at IS NULL AND namespace_id IN `+in), setArgs...); err != nil {
			return mapDBError(err)
		}
		if _, err := tx.ExecContext(ctx, r.q(
			`UPDATE namespaces SET deleted_at = ? WHERE id IN `+in), setArgs...); err != nil {
			return mapDBError(err)
		}

		for _, nsID := range nsIDs {
			dropped = append(dropped, domain.NamespaceRef(nsID))
		}
		dropped = append(dropped, tabulars...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dropped, nil
}

func collectStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, s)
	}
	return out, mapDBError(rows.Err())
}

// inClause renders "(?, ?, ...)" for ids.
func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}
