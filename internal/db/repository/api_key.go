package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lake-catalog/internal/db"
	"lake-catalog/internal/domain"
)

// APIKeyRepo implements domain.APIKeyRepository.
type APIKeyRepo struct {
	store
}

var _ domain.APIKeyRepository = (*APIKeyRepo)(nil)

// NewAPIKeyRepo creates an APIKeyRepo.
func NewAPIKeyRepo(pools *db.Pools) *APIKeyRepo {
	return &APIKeyRepo{store: newStore(pools)}
}

const apiKeyColumns = `id, subject_id, name, key_prefix, key_hash, expires_at, created_at`

func scanAPIKey(row rowScanner) (*domain.APIKey, error) {
	var (
		k       domain.APIKey
		expires sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.SubjectID, &k.Name, &k.KeyPrefix, &k.KeyHash, &expires, &k.CreatedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		k.ExpiresAt = &t
	}
	return &k, nil
}

// Create stores a hashed API key.
func (r *APIKeyRepo) Create(ctx context.Context, key *domain.APIKey) error {
	if key.ID == "" {
		key.ID = domain.NewID()
	}
	var expires sql.NullTime
	if key.ExpiresAt != nil {
		expires = sql.NullTime{Time: *key.ExpiresAt, Valid: true}
	}
	now := r.now()
	_, err := r.write.ExecContext(ctx, r.q(`INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		key.ID, key.SubjectID, key.Name, key.KeyPrefix, key.KeyHash, expires, now)
	if err != nil {
		return conflictAs(mapDBError(err), "api key already exists")
	}
	key.CreatedAt = now
	return nil
}

// GetByHash looks up a key by the SHA-256 of its raw value.
func (r *APIKeyRepo) GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	row := r.read.QueryRowContext(ctx, r.q(`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`), keyHash)
	k, err := scanAPIKey(row)
	if err != nil {
		return nil, notFoundAs(mapDBError(err), "api key not found")
	}
	return k, nil
}

// ListForSubject returns a subject's keys, newest first.
func (r *APIKeyRepo) ListForSubject(ctx context.Context, subjectID string) ([]domain.APIKey, error) {
	rows, err := r.read.QueryContext(ctx, r.q(`SELECT `+apiKeyColumns+` FROM api_keys
		WHERE subject_id = ? ORDER BY created_at DESC, id DESC`), subjectID)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, *k)
	}
	return out, mapDBError(rows.Err())
}

// Delete removes a key.
func (r *APIKeyRepo) Delete(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx, r.q(`DELETE FROM api_keys WHERE id = ?`), id)
	if err != nil {
		return mapDBError(err)
	}
	return expectOneRow(res, "api key %q not found", id)
}
