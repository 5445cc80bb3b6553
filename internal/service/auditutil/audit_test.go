package auditutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/testutil"
)

func TestLogDecision(t *testing.T) {
	audit := &testutil.MockAuditRepo{}
	ctx := domain.WithRequestID(context.Background(), "req-1")
	alice := domain.Subject{ID: "alice", Kind: domain.SubjectUser}

	LogAllowed(ctx, audit, alice, "create_table", domain.NamespaceRef("n1"), "orders")
	LogDenied(context.Background(), audit, alice, "drop_table", domain.TabularRef(domain.TabularTable, "t1"), "")

	require.Len(t, audit.Entries, 2)
	first := audit.Entries[0]
	assert.Equal(t, "user:alice", first.Subject)
	assert.Equal(t, domain.AuditAllowed, first.Status)
	assert.Equal(t, "namespace", first.ObjectType)
	require.NotNil(t, first.RequestID)
	assert.Equal(t, "req-1", *first.RequestID)
	assert.Equal(t, "orders", *first.Detail)

	second := audit.LastEntry()
	assert.Equal(t, domain.AuditDenied, second.Status)
	assert.Equal(t, "table", second.ObjectType)
	assert.Nil(t, second.Detail)
	assert.Nil(t, second.RequestID)
}

func TestLogDecision_IgnoresFailures(t *testing.T) {
	audit := &testutil.MockAuditRepo{InsertFn: func(context.Context, *domain.AuditEntry) error {
		return errors.New("disk full")
	}}
	assert.NotPanics(t, func() {
		LogError(context.Background(), audit, domain.Subject{ID: "svc"}, "commit", domain.ServerRef(), "boom")
		LogAllowed(context.Background(), nil, domain.Subject{ID: "svc"}, "commit", domain.ServerRef(), "")
	})
}
