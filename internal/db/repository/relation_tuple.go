package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lake-catalog/internal/db"
	"lake-catalog/internal/domain"
)

// embeddedBatchSize keeps IN lists well below SQLite's bound-parameter limit.
const embeddedBatchSize = 500

// PolicyRepo is the embedded policy store: relation tuples kept in the
// catalog database. It implements domain.PolicyClient.
type PolicyRepo struct {
	store
}

var _ domain.PolicyClient = (*PolicyRepo)(nil)

// NewPolicyRepo creates a PolicyRepo.
func NewPolicyRepo(pools *db.Pools) *PolicyRepo {
	return &PolicyRepo{store: newStore(pools)}
}

// MaxBatchSize implements domain.PolicyClient.
func (r *PolicyRepo) MaxBatchSize() int { return embeddedBatchSize }

// QueryRelation reports whether the exact tuple exists.
func (r *PolicyRepo) QueryRelation(ctx context.Context, q domain.RelationQuery) (bool, error) {
	var one int
	err := r.read.QueryRowContext(ctx, r.q(`SELECT 1 FROM relation_tuples
		WHERE subject_kind = ? AND subject_id = ? AND relation = ? AND object_kind = ? AND object_id = ?`),
		string(q.Subject.Kind), q.Subject.ID, string(q.Relation), string(q.Object.Kind), q.Object.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapDBError(err)
	}
	return true, nil
}

type tupleKey struct {
	relation domain.Relation
	object   domain.NodeRef
}

// BatchQuery answers every query with one SELECT per distinct subject.
func (r *PolicyRepo) BatchQuery(ctx context.Context, qs []domain.RelationQuery) ([]bool, error) {
	if len(qs) > embeddedBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(qs), embeddedBatchSize)
	}

	bySubject := map[domain.Subject][]int{}
	for i, q := range qs {
		s := domain.Subject{ID: q.Subject.ID, Kind: q.Subject.Kind}
		bySubject[s] = append(bySubject[s], i)
	}

	out := make([]bool, len(qs))
	for subject, idx := range bySubject {
		seen := map[string]bool{}
		var objectIDs []string
		for _, i := range idx {
			if !seen[qs[i].Object.ID] {
				seen[qs[i].Object.ID] = true
				objectIDs = append(objectIDs, qs[i].Object.ID)
			}
		}
		in, args := inClause(objectIDs)
		args = append([]any{string(subject.Kind), subject.ID}, args...)

		present, err := r.selectTuples(ctx, `SELECT relation, object_kind, object_id FROM relation_tuples
			WHERE subject_kind = ? AND subject_id = ? AND object_id IN `+in, args...)
		if err != nil {
			return nil, err
		}
		for _, i := range idx {
			out[i] = present[tupleKey{relation: qs[i].Relation, object: qs[i].Object}]
		}
	}
	return out, nil
}

func (r *PolicyRepo) selectTuples(ctx context.Context, query string, args ...any) (map[tupleKey]bool, error) {
	rows, err := r.read.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	present := map[tupleKey]bool{}
	for rows.Next() {
		var rel, kind, id string
		if err := rows.Scan(&rel, &kind, &id); err != nil {
			return nil, fmt.Errorf("scan relation tuple: %w", err)
		}
		present[tupleKey{relation: domain.Relation(rel), object: domain.NodeRef{Kind: domain.NodeKind(kind), ID: id}}] = true
	}
	return present, mapDBError(rows.Err())
}

// Assert writes a tuple. Writing an existing tuple is a no-op.
func (r *PolicyRepo) Assert(ctx context.Context, t domain.Tuple) error {
	_, err := r.write.ExecContext(ctx, r.q(`INSERT INTO relation_tuples
		(subject_kind, subject_id, relation, object_kind, object_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`),
		string(t.Subject.Kind), t.Subject.ID, string(t.Relation), string(t.Object.Kind), t.Object.ID, r.now())
	return mapDBError(err)
}

// Revoke deletes a tuple. Revoking a missing tuple is a no-op.
func (r *PolicyRepo) Revoke(ctx context.Context, t domain.Tuple) error {
	_, err := r.write.ExecContext(ctx, r.q(`DELETE FROM relation_tuples
		WHERE subject_kind = ? AND subject_id = ? AND relation = ? AND object_kind = ? AND object_id = ?`),
		string(t.Subject.Kind), t.Subject.ID, string(t.Relation), string(t.Object.Kind), t.Object.ID)
	return mapDBError(err)
}

// RevokeObject deletes every tuple on object.
func (r *PolicyRepo) RevokeObject(ctx context.Context, object domain.NodeRef) error {
	_, err := r.write.ExecContext(ctx, r.q(
		`DELETE FROM relation_tuples WHERE object_kind = ? AND object_id = ?`),
		string(object.Kind), object.ID)
	return mapDBError(err)
}

// ListTuples returns every tuple on object.
func (r *PolicyRepo) ListTuples(ctx context.Context, object domain.NodeRef) ([]domain.Tuple, error) {
	rows, err := r.read.QueryContext(ctx, r.q(`SELECT subject_kind, subject_id, relation
		FROM relation_tuples WHERE object_kind = ? AND object_id = ?
		ORDER BY subject_kind, subject_id, relation`), string(object.Kind), object.ID)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Tuple
	for rows.Next() {
		var kind, id, rel string
		if err := rows.Scan(&kind, &id, &rel); err != nil {
			return nil, fmt.Errorf("scan relation tuple: %w", err)
		}
		out = append(out, domain.Tuple{
			Subject:  domain.Subject{ID: id, Kind: domain.SubjectKind(kind)},
			Relation: domain.Relation(rel),
			Object:   object,
		})
	}
	return out, mapDBError(rows.Err())
}
