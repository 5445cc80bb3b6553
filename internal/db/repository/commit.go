package repository

import (
	"context"
	"database/sql"

	"lake-catalog/internal/domain"
)

// InCommitTx runs fn in one write transaction. The transaction commits only
// if fn returns nil. ctx bounds only the wait for a connection; fn runs
// detached from its cancellation and deadline.
func (r *CatalogRepo) InCommitTx(ctx context.Context, fn func(ctx context.Context, tx domain.CommitTx) error) error {
	txCtx := context.WithoutCancel(ctx)
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return fn(txCtx, &commitTx{repo: r, tx: tx})
	})
}

// ReadPointer returns the current pointer of a live table or view.
func (r *CatalogRepo) ReadPointer(ctx context.Context, id string) (domain.MetadataPointer, error) {
	t, err := r.getTabular(ctx, r.read, id)
	if err != nil {
		return domain.MetadataPointer{}, err
	}
	return t.Pointer, nil
}

type commitTx struct {
	repo *CatalogRepo
	tx   *sql.Tx
}

func (c *commitTx) ReadTabular(ctx context.Context, id string) (*domain.Tabular, error) {
	return c.repo.getTabular(ctx, c.tx, id)
}

func (c *commitTx) ReadMetadata(ctx context.Context, id string, version int64) ([]byte, error) {
	return c.repo.loadMetadata(ctx, c.tx, id, version)
}

// SwapPointer is a conditional update on the stored version. Zero affected
// rows means another writer committed first.
func (c *commitTx) SwapPointer(ctx context.Context, id string, expectedVersion int64, next domain.MetadataPointer, document []byte) (bool, error) {
	now := c.repo.now()
	res, err := c.tx.ExecContext(ctx, c.repo.q(`UPDATE tabulars
		SET metadata_location = ?, version = ?, schema_id = ?, current_snapshot_id = ?, updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL`),
		next.MetadataLocation, next.Version, next.SchemaID, nullInt64(next.CurrentSnapshotID), now,
		id, expectedVersion)
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapDBError(err)
	}
	if n == 0 {
		return false, nil
	}
	if err := insertDocument(ctx, c.tx, c.repo.q, id, next, document, now); err != nil {
		return false, err
	}
	return true, nil
}
