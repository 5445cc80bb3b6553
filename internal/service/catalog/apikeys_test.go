package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/testutil"
)

func TestAPIKeyService_Create(t *testing.T) {
	var stored *domain.APIKey
	repo := &testutil.MockAPIKeyRepo{
		CreateFn: func(_ context.Context, key *domain.APIKey) error {
			key.ID = "key-1"
			stored = key
			return nil
		},
	}
	audit := &testutil.MockAuditRepo{}
	svc := NewAPIKeyService(repo, audit)

	raw, key, err := svc.Create(as(alice), domain.CreateAPIKeyRequest{Name: "ci"})
	require.NoError(t, err)
	assert.Len(t, raw, 64)
	assert.Equal(t, "alice", key.SubjectID)
	assert.Equal(t, raw[:8], key.KeyPrefix)
	assert.Equal(t, HashAPIKey(raw), stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, raw)
	assert.True(t, audit.HasAction("create_api_key"))
}

func TestAPIKeyService_OtherSubjectsNeedAdmin(t *testing.T) {
	repo := &testutil.MockAPIKeyRepo{
		CreateFn: func(context.Context, *domain.APIKey) error { return nil },
		ListForSubjectFn: func(_ context.Context, subjectID string) ([]domain.APIKey, error) {
			return []domain.APIKey{{ID: "k1", SubjectID: subjectID, KeyHash: "secret"}}, nil
		},
	}
	svc := NewAPIKeyService(repo, &testutil.MockAuditRepo{})

	_, _, err := svc.Create(as(alice), domain.CreateAPIKeyRequest{SubjectID: "bob", Name: "ci"})
	assertErrorAs[*domain.AccessDeniedError](t, err)
	_, err = svc.List(as(alice), "bob")
	assertErrorAs[*domain.AccessDeniedError](t, err)

	_, _, err = svc.Create(as(admin), domain.CreateAPIKeyRequest{SubjectID: "bob", Name: "ci"})
	require.NoError(t, err)
	keys, err := svc.List(as(admin), "bob")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].KeyHash)
}

func TestAPIKeyService_Delete(t *testing.T) {
	var deleted string
	repo := &testutil.MockAPIKeyRepo{
		ListForSubjectFn: func(context.Context, string) ([]domain.APIKey, error) {
			return []domain.APIKey{{ID: "k1", SubjectID: "alice"}}, nil
		},
		DeleteFn: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	svc := NewAPIKeyService(repo, &testutil.MockAuditRepo{})

	err := svc.Delete(as(alice), "", "k2")
	assertErrorAs[*domain.NotFoundError](t, err)
	require.NoError(t, svc.Delete(as(alice), "", "k1"))
	assert.Equal(t, "k1", deleted)
}

func TestAuditService_AdminOnly(t *testing.T) {
	repo := &testutil.MockAuditRepo{
		ListFn: func(context.Context, domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
			return []domain.AuditEntry{{Action: "create_table"}}, 1, nil
		},
	}
	svc := NewAuditService(repo)

	_, _, err := svc.List(as(alice), domain.AuditFilter{})
	assertErrorAs[*domain.AccessDeniedError](t, err)

	entries, total, err := svc.List(as(admin), domain.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, entries, 1)
}
