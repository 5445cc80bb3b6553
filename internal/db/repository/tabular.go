package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lake-catalog/internal/domain"
)

const tabularColumns = `id, kind, warehouse_id, namespace_id, name, location,
	metadata_location, version, schema_id, current_snapshot_id, created_at, updated_at`

func scanTabular(row rowScanner) (*domain.Tabular, error) {
	var (
		t          domain.Tabular
		kind, loc  string
		snapshotID sql.NullInt64
	)
	if err := row.Scan(&t.ID, &kind, &t.WarehouseID, &t.NamespaceID, &t.Name, &loc,
		&t.Pointer.MetadataLocation, &t.Pointer.Version, &t.Pointer.SchemaID, &snapshotID,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Kind = domain.TabularKind(kind)
	t.Location = domain.Location(loc)
	t.Pointer.CurrentSnapshotID = ptrInt64(snapshotID)
	return &t, nil
}

// CreateTabular inserts a table or view with its first metadata document.
func (r *CatalogRepo) CreateTabular(ctx context.Context, t *domain.Tabular, document []byte) error {
	if t.ID == "" {
		t.ID = domain.NewID()
	}
	now := r.now()
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var warehouseID string
		err := tx.QueryRowContext(ctx, r.q(
			`SELECT warehouse_id FROM namespaces WHERE id = ? AND deleted_at IS NULL`), t.NamespaceID).Scan(&warehouseID)
		if err != nil {
			return notFoundAs(mapDBError(err), "namespace %q not found", t.NamespaceID)
		}
		if warehouseID != t.WarehouseID {
			return domain.ErrValidation("namespace %q belongs to another warehouse", t.NamespaceID)
		}

		_, err = tx.ExecContext(ctx, r.q(`INSERT INTO tabulars (`+tabularColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			t.ID, string(t.Kind), t.WarehouseID, t.NamespaceID, t.Name, string(t.Location),
			t.Pointer.MetadataLocation, t.Pointer.Version, t.Pointer.SchemaID,
			nullInt64(t.Pointer.CurrentSnapshotID), now, now)
		if err != nil {
			return conflictAs(mapDBError(err), "table or view %q already exists", t.Name)
		}
		return insertDocument(ctx, tx, r.q, t.ID, t.Pointer, document, now)
	})
	if err != nil {
		return err
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, q func(string) string, id string, p domain.MetadataPointer, document []byte, now time.Time) error {
	_, err := tx.ExecContext(ctx, q(`INSERT INTO metadata_documents
		(tabular_id, version, metadata_location, document, created_at) VALUES (?, ?, ?, ?, ?)`),
		id, p.Version, p.MetadataLocation, string(document), now)
	return mapDBError(err)
}

// GetTabular returns a live table or view.
func (r *CatalogRepo) GetTabular(ctx context.Context, id string) (*domain.Tabular, error) {
	return r.getTabular(ctx, r.read, id)
}

func (r *CatalogRepo) getTabular(ctx context.Context, q querier, id string) (*domain.Tabular, error) {
	row := q.QueryRowContext(ctx, r.q(
		`SELECT `+tabularColumns+` FROM tabulars WHERE id = ? AND deleted_at IS NULL`), id)
	t, err := scanTabular(row)
	if err != nil {
		return nil, notFoundAs(mapDBError(err), "table or view %q not found", id)
	}
	return t, nil
}

// ListTabulars returns the live tables or views in a namespace. An empty
// kind lists both.
func (r *CatalogRepo) ListTabulars(ctx context.Context, namespaceID string, kind domain.TabularKind) ([]domain.Tabular, error) {
	query := `SELECT ` + tabularColumns + ` FROM tabulars WHERE namespace_id = ? AND deleted_at IS NULL`
	args := []any{namespaceID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY name`

	rows, err := r.read.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Tabular
	for rows.Next() {
		t, err := scanTabular(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tabular: %w", err)
		}
		out = append(out, *t)
	}
	return out, mapDBError(rows.Err())
}

// RenameTabular moves a table or view to a new name, possibly in another
// namespace of the same warehouse. The storage location does not change.
func (r *CatalogRepo) RenameTabular(ctx context.Context, id, namespaceID, name string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		t, err := r.getTabular(ctx, tx, id)
		if err != nil {
			return err
		}
		var warehouseID string
		err = tx.QueryRowContext(ctx, r.q(
			`SELECT warehouse_id FROM namespaces WHERE id = ? AND deleted_at IS NULL`), namespaceID).Scan(&warehouseID)
		if err != nil {
			return notFoundAs(mapDBError(err), "namespace %q not found", namespaceID)
		}
		if warehouseID != t.WarehouseID {
			return domain.ErrValidation("cannot rename %q across warehouses", t.Name)
		}
		_, err = tx.ExecContext(ctx, r.q(
			`UPDATE tabulars SET namespace_id = ?, name = ?, updated_at = ? WHERE id = ?`),
			namespaceID, name, r.now(), id)
		return conflictAs(mapDBError(err), "table or view %q already exists", name)
	})
}

// DropTabular soft-deletes a table or view, or removes it and its metadata
// history when hard is set.
func (r *CatalogRepo) DropTabular(ctx context.Context, id string, hard bool) error {
	var (
		res sql.Result
		err error
	)
	if hard {
		res, err = r.write.ExecContext(ctx, r.q(`DELETE FROM tabulars WHERE id = ? AND deleted_at IS NULL`), id)
	} else {
		res, err = r.write.ExecContext(ctx, r.q(
			`UPDATE tabulars SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`), r.now(), id)
	}
	if err != nil {
		return mapDBError(err)
	}
	return expectOneRow(res, "table or view %q not found", id)
}

// LoadMetadata returns the metadata document of one version.
func (r *CatalogRepo) LoadMetadata(ctx context.Context, id string, version int64) ([]byte, error) {
	return r.loadMetadata(ctx, r.read, id, version)
}

func (r *CatalogRepo) loadMetadata(ctx context.Context, q querier, id string, version int64) ([]byte, error) {
	var doc string
	err := q.QueryRowContext(ctx, r.q(
		`SELECT document FROM metadata_documents WHERE tabular_id = ? AND version = ?`), id, version).Scan(&doc)
	if err != nil {
		return nil, notFoundAs(mapDBError(err), "metadata version %d of %q not found", version, id)
	}
	return []byte(doc), nil
}
