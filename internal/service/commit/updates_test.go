package commit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lake-catalog/internal/domain"
)

func baseTable(t *testing.T) *domain.TableMetadata {
	t.Helper()
	return NewTableMetadata(domain.CreateTableRequest{
		Name:       "orders",
		Schema:     orderSchema(),
		Properties: map[string]string{"owner": "sales"},
	}, "uuid-1", "s3://lake/w1/n1/t1", time.UnixMilli(1_700_000_000_000))
}

func intp(v int) *int       { return &v }
func int64p(v int64) *int64 { return &v }

func TestNewTableMetadata(t *testing.T) {
	m := baseTable(t)
	assert.Equal(t, DefaultFormatVersion, m.FormatVersion)
	assert.Equal(t, 2, m.LastColumnID)
	assert.Equal(t, 999, m.LastPartitionID)
	assert.Equal(t, "struct", m.Schemas[0].Type)
	assert.Nil(t, m.CurrentSnapshotID)
	assert.Empty(t, m.Refs)
}

func TestApplyTableUpdates_DoesNotMutateInput(t *testing.T) {
	m := baseTable(t)
	_, err := ApplyTableUpdates(m, []domain.Update{
		{Action: domain.UpdateSetProperties, Updates: map[string]string{"owner": "finance"}},
		{Action: domain.UpdateRemoveProperties, Removals: []string{"missing"}},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "sales", m.Properties["owner"])
}

func TestApplyTableUpdates_SchemaEvolution(t *testing.T) {
	m := baseTable(t)
	wider := orderSchema()
	wider.Fields = append(wider.Fields, domain.SchemaField{ID: 3, Name: "region", Type: json.RawMessage(`"string"`)})

	got, err := ApplyTableUpdates(m, []domain.Update{
		{Action: domain.UpdateAddSchema, Schema: &wider},
		{Action: domain.UpdateSetCurrentSchema, SchemaID: intp(domain.LastAddedID)},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentSchemaID)
	assert.Equal(t, 3, got.LastColumnID)
	assert.Len(t, got.Schemas, 2)

	// Re-adding an identical schema reuses its id.
	again, err := ApplyTableUpdates(got, []domain.Update{
		{Action: domain.UpdateAddSchema, Schema: &wider},
		{Action: domain.UpdateSetCurrentSchema, SchemaID: intp(domain.LastAddedID)},
	}, time.Now())
	require.NoError(t, err)
	assert.Len(t, again.Schemas, 2)
	assert.Equal(t, 1, again.CurrentSchemaID)
}

func TestApplyTableUpdates_PartitionSpec(t *testing.T) {
	m := baseTable(t)
	got, err := ApplyTableUpdates(m, []domain.Update{
		{Action: domain.UpdateAddPartitionSpec, Spec: &domain.PartitionSpec{Fields: []domain.PartitionField{
			{SourceID: 1, FieldID: 1000, Name: "id_bucket", Transform: "bucket[16]"},
		}}},
		{Action: domain.UpdateSetDefaultSpec, SpecID: intp(domain.LastAddedID)},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, got.DefaultSpecID)
	assert.Equal(t, 1000, got.LastPartitionID)
}

func TestApplyTableUpdates_Snapshots(t *testing.T) {
	m := baseTable(t)
	now := time.UnixMilli(1_700_000_100_000)
	got, err := ApplyTableUpdates(m, []domain.Update{
		{Action: domain.UpdateAddSnapshot, Snapshot: &domain.Snapshot{SnapshotID: 1, ManifestList: "s3://lake/w1/n1/t1/metadata/snap-1.avro"}},
		{Action: domain.UpdateSetSnapshotRef, RefName: domain.MainRef, RefType: domain.RefBranch, SnapshotID: int64p(1)},
		{Action: domain.UpdateAddSnapshot, Snapshot: &domain.Snapshot{SnapshotID: 2, ParentSnapshotID: int64p(1), ManifestList: "s3://lake/w1/n1/t1/metadata/snap-2.avro"}},
		{Action: domain.UpdateSetSnapshotRef, RefName: "audit", RefType: domain.RefTag, SnapshotID: int64p(2)},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, int64(1), *got.CurrentSnapshotID)
	assert.Equal(t, int64(2), got.LastSequenceNumber)
	assert.Equal(t, now.UnixMilli(), got.Snapshots[0].TimestampMs)
	assert.Equal(t, domain.RefTag, got.Refs["audit"].Type)
	assert.Len(t, got.SnapshotLog, 1)
	assert.Equal(t, now.UnixMilli(), got.LastUpdatedMs)
}

func TestApplyTableUpdates_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		updates []domain.Update
		wantErr string
	}{
		{
			name:    "downgrade format",
			updates: []domain.Update{{Action: domain.UpdateUpgradeFormatVersion, FormatVersion: 1}},
			wantErr: "cannot downgrade",
		},
		{
			name:    "unknown schema",
			updates: []domain.Update{{Action: domain.UpdateSetCurrentSchema, SchemaID: intp(7)}},
			wantErr: "schema 7 does not exist",
		},
		{
			name:    "last added without add",
			updates: []domain.Update{{Action: domain.UpdateSetCurrentSchema, SchemaID: intp(domain.LastAddedID)}},
			wantErr: "no schema was added",
		},
		{
			name: "duplicate snapshot",
			updates: []domain.Update{
				{Action: domain.UpdateAddSnapshot, Snapshot: &domain.Snapshot{SnapshotID: 1, ManifestList: "m"}},
				{Action: domain.UpdateAddSnapshot, Snapshot: &domain.Snapshot{SnapshotID: 1, ManifestList: "m"}},
			},
			wantErr: "already exists",
		},
		{
			name:    "missing parent",
			updates: []domain.Update{{Action: domain.UpdateAddSnapshot, Snapshot: &domain.Snapshot{SnapshotID: 2, ParentSnapshotID: int64p(1), ManifestList: "m"}}},
			wantErr: "parent snapshot 1",
		},
		{
			name:    "ref to unknown snapshot",
			updates: []domain.Update{{Action: domain.UpdateSetSnapshotRef, RefName: "main", RefType: domain.RefBranch, SnapshotID: int64p(9)}},
			wantErr: "snapshot 9 does not exist",
		},
		{
			name: "main as tag",
			updates: []domain.Update{
				{Action: domain.UpdateAddSnapshot, Snapshot: &domain.Snapshot{SnapshotID: 1, ManifestList: "m"}},
				{Action: domain.UpdateSetSnapshotRef, RefName: "main", RefType: domain.RefTag, SnapshotID: int64p(1)},
			},
			wantErr: "must be a branch",
		},
		{
			name:    "relocate",
			updates: []domain.Update{{Action: domain.UpdateSetLocation, Location: "s3://elsewhere/t1"}},
			wantErr: "cannot change",
		},
		{
			name:    "view update on table",
			updates: []domain.Update{{Action: domain.UpdateAddViewVersion}},
			wantErr: "unsupported update",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ApplyTableUpdates(baseTable(t), tc.updates, time.Now())
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestApplyTableUpdates_SetLocationToSameIsNoop(t *testing.T) {
	m := baseTable(t)
	got, err := ApplyTableUpdates(m, []domain.Update{{Action: domain.UpdateSetLocation, Location: m.Location}}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, m.Location, got.Location)
}

func TestApplyViewUpdates(t *testing.T) {
	view := NewViewMetadata(domain.CreateViewRequest{
		Name:    "recent",
		Schema:  orderSchema(),
		Version: domain.ViewVersion{Representations: []domain.ViewRepresentation{{Type: "sql", SQL: "SELECT 1", Dialect: "spark"}}},
	}, "view-uuid", "s3://lake/w1/n1/v1", time.Now())

	got, err := ApplyViewUpdates(view, []domain.Update{
		{Action: domain.UpdateAddViewVersion, ViewVersion: &domain.ViewVersion{
			SchemaID:        0,
			Representations: []domain.ViewRepresentation{{Type: "sql", SQL: "SELECT 2", Dialect: "spark"}},
		}},
		{Action: domain.UpdateSetCurrentViewVersion, ViewVersionID: intp(domain.LastAddedID)},
		{Action: domain.UpdateSetProperties, Updates: map[string]string{"comment": "v2"}},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentVersionID)
	assert.Equal(t, "v2", got.Properties["comment"])
	assert.Equal(t, 1, view.CurrentVersionID)

	_, err = ApplyViewUpdates(view, []domain.Update{
		{Action: domain.UpdateSetCurrentViewVersion, ViewVersionID: intp(5)},
	}, time.Now())
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = ApplyViewUpdates(view, []domain.Update{
		{Action: domain.UpdateAddViewVersion, ViewVersion: &domain.ViewVersion{
			SchemaID:        domain.LastAddedID,
			Representations: []domain.ViewRepresentation{{Type: "sql", SQL: "SELECT 3", Dialect: "spark"}},
		}},
	}, time.Now())
	require.ErrorAs(t, err, &ve)
}

func TestMetadataLocation(t *testing.T) {
	loc := MetadataLocation("s3://lake/w1/n1/t1", 12)
	assert.Regexp(t, `^s3://lake/w1/n1/t1/metadata/00012-[0-9a-f-]{36}\.metadata\.json$`, loc)
	assert.NotEqual(t, loc, MetadataLocation("s3://lake/w1/n1/t1", 12))
}
