package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"lake-catalog/internal/domain"
)

// profileRecord is the persisted, secret-free form of a storage profile.
type profileRecord struct {
	Bucket         string `json:"bucket"`
	AccountName    string `json:"account_name,omitempty"`
	KeyPrefix      string `json:"key_prefix,omitempty"`
	Region         string `json:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	STSEndpoint    string `json:"sts_endpoint,omitempty"`
	PathStyle      bool   `json:"path_style,omitempty"`
	AssumeRoleARN  string `json:"assume_role_arn,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	ServiceAccount string `json:"service_account,omitempty"`
}

func (r *CatalogRepo) encodeProfile(p domain.StorageProfile) (profile, secret string, err error) {
	b, err := json.Marshal(profileRecord{
		Bucket:         p.Bucket,
		AccountName:    p.AccountName,
		KeyPrefix:      p.KeyPrefix,
		Region:         p.Region,
		Endpoint:       p.Endpoint,
		STSEndpoint:    p.STSEndpoint,
		PathStyle:      p.PathStyle,
		AssumeRoleARN:  p.AssumeRoleARN,
		ExternalID:     p.ExternalID,
		ServiceAccount: p.ServiceAccount,
	})
	if err != nil {
		return "", "", fmt.Errorf("encode storage profile: %w", err)
	}
	if p.Secret != (domain.StorageSecret{}) {
		secret, err = r.enc.SealJSON(p.Secret)
		if err != nil {
			return "", "", fmt.Errorf("seal storage secret: %w", err)
		}
	}
	return string(b), secret, nil
}

func (r *CatalogRepo) decodeProfile(typ, profile, secret string) (domain.StorageProfile, error) {
	var rec profileRecord
	if err := json.Unmarshal([]byte(profile), &rec); err != nil {
		return domain.StorageProfile{}, fmt.Errorf("decode storage profile: %w", err)
	}
	p := domain.StorageProfile{
		Type:           domain.StorageType(typ),
		Bucket:         rec.Bucket,
		AccountName:    rec.AccountName,
		KeyPrefix:      rec.KeyPrefix,
		Region:         rec.Region,
		Endpoint:       rec.Endpoint,
		STSEndpoint:    rec.STSEndpoint,
		PathStyle:      rec.PathStyle,
		AssumeRoleARN:  rec.AssumeRoleARN,
		ExternalID:     rec.ExternalID,
		ServiceAccount: rec.ServiceAccount,
	}
	if err := r.enc.OpenJSON(secret, &p.Secret); err != nil {
		return domain.StorageProfile{}, fmt.Errorf("open storage secret: %w", err)
	}
	return p, nil
}

const warehouseColumns = `id, project_id, name, status, protected, delete_profile,
	storage_type, storage_profile, storage_secret, max_credential_ttl_seconds, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *CatalogRepo) scanWarehouse(row rowScanner) (*domain.Warehouse, error) {
	var (
		w                          domain.Warehouse
		status, deleteProfile, typ string
		profile, secret            string
		ttlSeconds                 int64
	)
	if err := row.Scan(&w.ID, &w.ProjectID, &w.Name, &status, &w.Protected, &deleteProfile,
		&typ, &profile, &secret, &ttlSeconds, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Status = domain.WarehouseStatus(status)
	w.DeleteProfile = domain.DeleteProfile(deleteProfile)
	w.MaxCredentialTTL = time.Duration(ttlSeconds) * time.Second
	p, err := r.decodeProfile(typ, profile, secret)
	if err != nil {
		return nil, err
	}
	w.StorageProfile = p
	return &w, nil
}

// CreateWarehouse inserts a warehouse with its sealed storage profile.
func (r *CatalogRepo) CreateWarehouse(ctx context.Context, w *domain.Warehouse) error {
	if w.ID == "" {
		w.ID = domain.NewID()
	}
	if w.Status == "" {
		w.Status = domain.WarehouseInactive
	}
	if w.DeleteProfile == "" {
		w.DeleteProfile = domain.DeleteHard
	}
	if w.MaxCredentialTTL <= 0 {
		w.MaxCredentialTTL = domain.DefaultMaxCredentialTTL
	}
	profile, secret, err := r.encodeProfile(w.StorageProfile)
	if err != nil {
		return err
	}
	now := r.now()
	_, err = r.write.ExecContext(ctx, r.q(`INSERT INTO warehouses (`+warehouseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		w.ID, w.ProjectID, w.Name, string(w.Status), w.Protected, string(w.DeleteProfile),
		string(w.StorageProfile.Type), profile, secret, int64(w.MaxCredentialTTL/time.Second), now, now)
	if err != nil {
		return conflictAs(mapDBError(err), "warehouse %q already exists in project", w.Name)
	}
	w.CreatedAt, w.UpdatedAt = now, now
	return nil
}

// GetWarehouse returns a warehouse with its decrypted storage profile.
func (r *CatalogRepo) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	row := r.read.QueryRowContext(ctx, r.q(`SELECT `+warehouseColumns+` FROM warehouses WHERE id = ?`), id)
	w, err := r.scanWarehouse(row)
	if err != nil {
		return nil, notFoundAs(mapDBError(err), "warehouse %q not found", id)
	}
	return w, nil
}

// ListWarehouses returns the warehouses of a project, optionally filtered by
// status.
func (r *CatalogRepo) ListWarehouses(ctx context.Context, projectID string, status *domain.WarehouseStatus) ([]domain.Warehouse, error) {
	query := `SELECT ` + warehouseColumns + ` FROM warehouses WHERE project_id = ?`
	args := []any{projectID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY name`

	rows, err := r.read.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Warehouse
	for rows.Next() {
		w, err := r.scanWarehouse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan warehouse: %w", err)
		}
		out = append(out, *w)
	}
	return out, mapDBError(rows.Err())
}

func (r *CatalogRepo) updateWarehouse(ctx context.Context, id, set string, args ...any) error {
	args = append(args, r.now(), id)
	res, err := r.write.ExecContext(ctx, r.q(`UPDATE warehouses SET `+set+`, updated_at = ? WHERE id = ?`), args...)
	if err != nil {
		return mapDBError(err)
	}
	return expectOneRow(res, "warehouse %q not found", id)
}

// RenameWarehouse changes a warehouse's name within its project.
func (r *CatalogRepo) RenameWarehouse(ctx context.Context, id, name string) error {
	err := r.updateWarehouse(ctx, id, `name = ?`, name)
	return conflictAs(err, "warehouse %q already exists in project", name)
}

// SetWarehouseStatus activates or deactivates a warehouse.
func (r *CatalogRepo) SetWarehouseStatus(ctx context.Context, id string, status domain.WarehouseStatus) error {
	return r.updateWarehouse(ctx, id, `status = ?`, string(status))
}

// SetWarehouseProtected toggles delete protection.
func (r *CatalogRepo) SetWarehouseProtected(ctx context.Context, id string, protected bool) error {
	return r.updateWarehouse(ctx, id, `protected = ?`, protected)
}

// UpdateStorageProfile replaces the storage profile and sets the status in
// one statement, so a changed profile is never active before it is checked.
func (r *CatalogRepo) UpdateStorageProfile(ctx context.Context, id string, p domain.StorageProfile, status domain.WarehouseStatus) error {
	profile, secret, err := r.encodeProfile(p)
	if err != nil {
		return err
	}
	return r.updateWarehouse(ctx, id,
		`storage_type = ?, storage_profile = ?, storage_secret = ?, status = ?`,
		string(p.Type), profile, secret, string(status))
}

// DeleteWarehouse removes an empty warehouse together with any soft-deleted
// namespaces, tables, and views it still holds.
func (r *CatalogRepo) DeleteWarehouse(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var live int
		if err := tx.QueryRowContext(ctx, r.q(
			`SELECT COUNT(*) FROM namespaces WHERE warehouse_id = ? AND deleted_at IS NULL`), id).Scan(&live); err != nil {
			return mapDBError(err)
		}
		if live > 0 {
			return domain.ErrConflict("warehouse %q is not empty", id)
		}
		for _, stmt := range []string{
			`DELETE FROM tabulars WHERE warehouse_id = ?`,
			`DELETE FROM namespaces WHERE warehouse_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, r.q(stmt), id); err != nil {
				return mapDBError(err)
			}
		}
		res, err := tx.ExecContext(ctx, r.q(`DELETE FROM warehouses WHERE id = ?`), id)
		if err != nil {
			return mapDBError(err)
		}
		return expectOneRow(res, "warehouse %q not found", id)
	})
}

func expectOneRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapDBError(err)
	}
	if n == 0 {
		return domain.ErrNotFound(format, args...)
	}
	return nil
}
