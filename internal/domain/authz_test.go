package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImplyingRelations(t *testing.T) {
	assert.Contains(t, ImplyingRelations(ActionDescribe), Relation("select"))
	assert.Contains(t, ImplyingRelations(ActionSelect), Relation("modify"))
	assert.NotContains(t, ImplyingRelations(ActionModify), Relation("select"), "select must not imply modify")
	for _, a := range AllActions {
		assert.Contains(t, ImplyingRelations(a), RelationOwnership, "ownership implies %s", a)
	}
}

func TestParseRelation(t *testing.T) {
	for _, ok := range []string{"ownership", "select", "deny_select", "manage_grants"} {
		r, err := ParseRelation(ok)
		require.NoError(t, err, ok)
		assert.Equal(t, Relation(ok), r)
	}
	for _, bad := range []string{"", "deny_", "deny_ownership", "admin"} {
		_, err := ParseRelation(bad)
		var valErr *ValidationError
		assert.ErrorAs(t, err, &valErr, bad)
	}
	assert.True(t, DenyRelation(ActionSelect).IsDeny())
	assert.False(t, GrantRelation(ActionSelect).IsDeny())
}

func TestRequiredAction(t *testing.T) {
	assert.Equal(t, ActionSelect, RequiredAction(ActionGet))
	assert.Equal(t, ActionSelect, RequiredAction(ActionList))
	assert.Equal(t, ActionModify, RequiredAction(ActionPut))
	assert.Equal(t, ActionModify, RequiredAction(ActionDelete))
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	p := Paginate(items, PageRequest{MaxResults: 2})
	assert.Equal(t, []int{1, 2}, p.Items)
	require.NotEmpty(t, p.NextPageToken)

	p = Paginate(items, PageRequest{MaxResults: 2, PageToken: p.NextPageToken})
	assert.Equal(t, []int{3, 4}, p.Items)

	p = Paginate(items, PageRequest{MaxResults: 2, PageToken: p.NextPageToken})
	assert.Equal(t, []int{5}, p.Items)
	assert.Empty(t, p.NextPageToken)

	p = Paginate(items, PageRequest{PageToken: "garbage"})
	assert.Equal(t, items, p.Items)
}
