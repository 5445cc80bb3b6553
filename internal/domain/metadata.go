package domain

import "encoding/json"

// Schema is a table or view schema.
type Schema struct {
	SchemaID           int           `json:"schema-id"`
	Type               string        `json:"type"`
	Fields             []SchemaField `json:"fields"`
	IdentifierFieldIDs []int         `json:"identifier-field-ids,omitempty"`
}

// SchemaField is one column. Type is kept as raw JSON so nested types pass
// through untouched.
type SchemaField struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Type     json.RawMessage `json:"type"`
	Required bool            `json:"required"`
	Doc      string          `json:"doc,omitempty"`
}

// MaxFieldID returns the highest field id in the schema.
func (s *Schema) MaxFieldID() int {
	m := 0
	for _, f := range s.Fields {
		if f.ID > m {
			m = f.ID
		}
	}
	return m
}

// PartitionSpec describes how data files are partitioned.
type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

// PartitionField is one partition transform.
type PartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

// SortOrder describes the default data ordering.
type SortOrder struct {
	OrderID int               `json:"order-id"`
	Fields  []json.RawMessage `json:"fields"`
}

// Snapshot is one committed state of a table's data files.
type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMs      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list"`
	Summary          map[string]string `json:"summary,omitempty"`
	SchemaID         *int              `json:"schema-id,omitempty"`
}

// SnapshotRef is a named branch or tag.
type SnapshotRef struct {
	SnapshotID int64  `json:"snapshot-id"`
	Type       string `json:"type"`
}

// Ref types.
const (
	RefBranch = "branch"
	RefTag    = "tag"
	MainRef   = "main"
)

// SnapshotLogEntry records when a snapshot became current.
type SnapshotLogEntry struct {
	SnapshotID  int64 `json:"snapshot-id"`
	TimestampMs int64 `json:"timestamp-ms"`
}

// MetadataLogEntry records a previous metadata file.
type MetadataLogEntry struct {
	MetadataFile string `json:"metadata-file"`
	TimestampMs  int64  `json:"timestamp-ms"`
}

// TableMetadata is the metadata document of a table.
type TableMetadata struct {
	FormatVersion      int                    `json:"format-version"`
	TableUUID          string                 `json:"table-uuid"`
	Location           string                 `json:"location"`
	LastSequenceNumber int64                  `json:"last-sequence-number"`
	LastUpdatedMs      int64                  `json:"last-updated-ms"`
	LastColumnID       int                    `json:"last-column-id"`
	Schemas            []Schema               `json:"schemas"`
	CurrentSchemaID    int                    `json:"current-schema-id"`
	PartitionSpecs     []PartitionSpec        `json:"partition-specs"`
	DefaultSpecID      int                    `json:"default-spec-id"`
	LastPartitionID    int                    `json:"last-partition-id"`
	SortOrders         []SortOrder            `json:"sort-orders"`
	DefaultSortOrderID int                    `json:"default-sort-order-id"`
	Properties         map[string]string      `json:"properties,omitempty"`
	CurrentSnapshotID  *int64                 `json:"current-snapshot-id,omitempty"`
	Snapshots          []Snapshot             `json:"snapshots,omitempty"`
	SnapshotLog        []SnapshotLogEntry     `json:"snapshot-log,omitempty"`
	MetadataLog        []MetadataLogEntry     `json:"metadata-log,omitempty"`
	Refs               map[string]SnapshotRef `json:"refs,omitempty"`
}

// Schema returns the schema with the given id.
func (m *TableMetadata) Schema(id int) (*Schema, bool) {
	for i := range m.Schemas {
		if m.Schemas[i].SchemaID == id {
			return &m.Schemas[i], true
		}
	}
	return nil, false
}

// Snapshot returns the snapshot with the given id.
func (m *TableMetadata) Snapshot(id int64) (*Snapshot, bool) {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i], true
		}
	}
	return nil, false
}

// ViewRepresentation is one dialect-specific definition of a view.
type ViewRepresentation struct {
	Type    string `json:"type"`
	SQL     string `json:"sql"`
	Dialect string `json:"dialect"`
}

// ViewVersion is one version of a view definition.
type ViewVersion struct {
	VersionID        int                  `json:"version-id"`
	SchemaID         int                  `json:"schema-id"`
	TimestampMs      int64                `json:"timestamp-ms"`
	Summary          map[string]string    `json:"summary,omitempty"`
	Representations  []ViewRepresentation `json:"representations"`
	DefaultNamespace []string             `json:"default-namespace"`
}

// ViewVersionLogEntry records when a view version became current.
type ViewVersionLogEntry struct {
	VersionID   int   `json:"version-id"`
	TimestampMs int64 `json:"timestamp-ms"`
}

// ViewMetadata is the metadata document of a view.
type ViewMetadata struct {
	ViewUUID         string                `json:"view-uuid"`
	FormatVersion    int                   `json:"format-version"`
	Location         string                `json:"location"`
	Schemas          []Schema              `json:"schemas"`
	CurrentVersionID int                   `json:"current-version-id"`
	Versions         []ViewVersion         `json:"versions"`
	VersionLog       []ViewVersionLogEntry `json:"version-log"`
	Properties       map[string]string     `json:"properties,omitempty"`
}

// CurrentVersion returns the current view version.
func (m *ViewMetadata) CurrentVersion() (*ViewVersion, bool) {
	for i := range m.Versions {
		if m.Versions[i].VersionID == m.CurrentVersionID {
			return &m.Versions[i], true
		}
	}
	return nil, false
}

// CreateTableRequest carries the initial state of a new table.
type CreateTableRequest struct {
	NamespaceID   string
	Name          string
	Schema        Schema
	PartitionSpec *PartitionSpec
	Properties    map[string]string
}

// Validate checks that the request is well-formed.
func (r *CreateTableRequest) Validate() error {
	if err := ValidateName("table", r.Name); err != nil {
		return err
	}
	return validateSchema(&r.Schema)
}

// CreateViewRequest carries the initial state of a new view.
type CreateViewRequest struct {
	NamespaceID string
	Name        string
	Schema      Schema
	Version     ViewVersion
	Properties  map[string]string
}

// Validate checks that the request is well-formed.
func (r *CreateViewRequest) Validate() error {
	if err := ValidateName("view", r.Name); err != nil {
		return err
	}
	if err := validateSchema(&r.Schema); err != nil {
		return err
	}
	if len(r.Version.Representations) == 0 {
		return ErrValidation("view version must have at least one representation")
	}
	return nil
}

func validateSchema(s *Schema) error {
	if len(s.Fields) == 0 {
		return ErrValidation("schema must have at least one field")
	}
	seen := make(map[int]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.ID <= 0 {
			return ErrValidation("schema field %q must have a positive id", f.Name)
		}
		if f.Name == "" {
			return ErrValidation("schema field %d must have a name", f.ID)
		}
		if len(f.Type) == 0 {
			return ErrValidation("schema field %q must have a type", f.Name)
		}
		if seen[f.ID] {
			return ErrValidation("duplicate schema field id %d", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}
