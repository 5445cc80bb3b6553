package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "lake-catalog/internal/db"
	"lake-catalog/internal/domain"
)

func setupPolicyRepo(t *testing.T) *PolicyRepo {
	t.Helper()
	return NewPolicyRepo(internaldb.OpenTestSQLite(t))
}

func TestPolicyRepo_AssertQueryRevoke(t *testing.T) {
	repo := setupPolicyRepo(t)
	ctx := context.Background()

	alice := domain.Subject{ID: "alice", Kind: domain.SubjectUser}
	table := domain.NodeRef{Kind: domain.KindTable, ID: "t1"}
	tuple := domain.Tuple{Subject: alice, Relation: "select", Object: table}

	ok, err := repo.QueryRelation(ctx, domain.RelationQuery(tuple))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Assert(ctx, tuple))
	require.NoError(t, repo.Assert(ctx, tuple), "asserting twice is a no-op")

	ok, err = repo.QueryRelation(ctx, domain.RelationQuery(tuple))
	require.NoError(t, err)
	assert.True(t, ok)

	// The admin flag is not part of the stored identity.
	admin := alice
	admin.IsAdmin = true
	ok, err = repo.QueryRelation(ctx, domain.RelationQuery{Subject: admin, Relation: "select", Object: table})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Revoke(ctx, tuple))
	ok, err = repo.QueryRelation(ctx, domain.RelationQuery(tuple))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPolicyRepo_BatchQuery(t *testing.T) {
	repo := setupPolicyRepo(t)
	ctx := context.Background()

	alice := domain.Subject{ID: "alice", Kind: domain.SubjectUser}
	bob := domain.Subject{ID: "bob", Kind: domain.SubjectUser}
	wh := domain.WarehouseRef("w1")
	ns := domain.NamespaceRef("n1")

	require.NoError(t, repo.Assert(ctx, domain.Tuple{Subject: alice, Relation: "describe", Object: wh}))
	require.NoError(t, repo.Assert(ctx, domain.Tuple{Subject: alice, Relation: "deny_describe", Object: ns}))
	require.NoError(t, repo.Assert(ctx, domain.Tuple{Subject: bob, Relation: "ownership", Object: ns}))

	got, err := repo.BatchQuery(ctx, []domain.RelationQuery{
		{Subject: alice, Relation: "describe", Object: wh},
		{Subject: alice, Relation: "describe", Object: ns},
		{Subject: alice, Relation: "deny_describe", Object: ns},
		{Subject: bob, Relation: "ownership", Object: ns},
		{Subject: bob, Relation: "ownership", Object: wh},
		// Same id under another kind must not match.
		{Subject: alice, Relation: "describe", Object: domain.NodeRef{Kind: domain.KindProject, ID: "w1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, true, false, false}, got)

	empty, err := repo.BatchQuery(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = repo.BatchQuery(ctx, make([]domain.RelationQuery, repo.MaxBatchSize()+1))
	require.Error(t, err)
}

func TestPolicyRepo_ObjectTuples(t *testing.T) {
	repo := setupPolicyRepo(t)
	ctx := context.Background()

	table := domain.NodeRef{Kind: domain.KindTable, ID: "t1"}
	other := domain.NodeRef{Kind: domain.KindTable, ID: "t2"}
	alice := domain.Subject{ID: "alice", Kind: domain.SubjectUser}
	etl := domain.Subject{ID: "etl", Kind: domain.SubjectService}

	require.NoError(t, repo.Assert(ctx, domain.Tuple{Subject: alice, Relation: "select", Object: table}))
	require.NoError(t, repo.Assert(ctx, domain.Tuple{Subject: etl, Relation: "modify", Object: table}))
	require.NoError(t, repo.Assert(ctx, domain.Tuple{Subject: etl, Relation: "modify", Object: other}))

	tuples, err := repo.ListTuples(ctx, table)
	require.NoError(t, err)
	require.Len(t, tuples, 2)
	assert.Equal(t, etl, tuples[0].Subject)
	assert.Equal(t, domain.Relation("modify"), tuples[0].Relation)

	require.NoError(t, repo.RevokeObject(ctx, table))
	tuples, err = repo.ListTuples(ctx, table)
	require.NoError(t, err)
	assert.Empty(t, tuples)

	tuples, err = repo.ListTuples(ctx, other)
	require.NoError(t, err)
	assert.Len(t, tuples, 1)
}
