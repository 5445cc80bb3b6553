package commit

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/location"
)

// DefaultFormatVersion is the format version of newly created tables.
const DefaultFormatVersion = 2

// NewTableMetadata builds the version-1 document of a table.
func NewTableMetadata(req domain.CreateTableRequest, tableUUID string, loc domain.Location, now time.Time) *domain.TableMetadata {
	schema := req.Schema
	schema.SchemaID = 0
	if schema.Type == "" {
		schema.Type = "struct"
	}
	spec := domain.PartitionSpec{SpecID: 0, Fields: []domain.PartitionField{}}
	lastPartitionID := 999
	if req.PartitionSpec != nil {
		spec.Fields = req.PartitionSpec.Fields
		for _, f := range spec.Fields {
			lastPartitionID = max(lastPartitionID, f.FieldID)
		}
	}
	return &domain.TableMetadata{
		FormatVersion:      DefaultFormatVersion,
		TableUUID:          tableUUID,
		Location:           string(loc),
		LastSequenceNumber: 0,
		LastUpdatedMs:      now.UnixMilli(),
		LastColumnID:       schema.MaxFieldID(),
		Schemas:            []domain.Schema{schema},
		CurrentSchemaID:    0,
		PartitionSpecs:     []domain.PartitionSpec{spec},
		DefaultSpecID:      0,
		LastPartitionID:    lastPartitionID,
		SortOrders:         []domain.SortOrder{{OrderID: 0, Fields: []json.RawMessage{}}},
		DefaultSortOrderID: 0,
		Properties:         maps.Clone(req.Properties),
		Refs:               map[string]domain.SnapshotRef{},
	}
}

// NewViewMetadata builds the version-1 document of a view.
func NewViewMetadata(req domain.CreateViewRequest, viewUUID string, loc domain.Location, now time.Time) *domain.ViewMetadata {
	schema := req.Schema
	schema.SchemaID = 0
	if schema.Type == "" {
		schema.Type = "struct"
	}
	v := req.Version
	v.VersionID = 1
	v.SchemaID = 0
	v.TimestampMs = now.UnixMilli()
	return &domain.ViewMetadata{
		ViewUUID:         viewUUID,
		FormatVersion:    1,
		Location:         string(loc),
		Schemas:          []domain.Schema{schema},
		CurrentVersionID: 1,
		Versions:         []domain.ViewVersion{v},
		VersionLog:       []domain.ViewVersionLogEntry{{VersionID: 1, TimestampMs: v.TimestampMs}},
		Properties:       maps.Clone(req.Properties),
	}
}

// MetadataLocation is where version of the table or view at loc is written.
func MetadataLocation(loc domain.Location, version int64) string {
	return string(location.MetadataPrefix(loc).Join(domain.MetadataFileName(version)))
}

// InitialTable returns the pointer and encoded document of a new table.
func InitialTable(meta *domain.TableMetadata, loc domain.Location) (domain.MetadataPointer, []byte, error) {
	doc, err := json.Marshal(meta)
	if err != nil {
		return domain.MetadataPointer{}, nil, fmt.Errorf("encode table metadata: %w", err)
	}
	return domain.MetadataPointer{
		MetadataLocation: MetadataLocation(loc, 1),
		Version:          1,
		SchemaID:         meta.CurrentSchemaID,
	}, doc, nil
}

// InitialView returns the pointer and encoded document of a new view.
func InitialView(meta *domain.ViewMetadata, loc domain.Location) (domain.MetadataPointer, []byte, error) {
	doc, err := json.Marshal(meta)
	if err != nil {
		return domain.MetadataPointer{}, nil, fmt.Errorf("encode view metadata: %w", err)
	}
	return domain.MetadataPointer{
		MetadataLocation: MetadataLocation(loc, 1),
		Version:          1,
		SchemaID:         meta.Versions[0].SchemaID,
	}, doc, nil
}
