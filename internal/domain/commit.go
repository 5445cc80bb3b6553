package domain

import "encoding/json"

// RequirementType names an assertion over the current state of a table or view.
type RequirementType string

const (
	AssertCreate              RequirementType = "assert-create"
	AssertTableUUID           RequirementType = "assert-table-uuid"
	AssertViewUUID            RequirementType = "assert-view-uuid"
	AssertMetadataLocation    RequirementType = "assert-metadata-location"
	AssertRefSnapshotID       RequirementType = "assert-ref-snapshot-id"
	AssertCurrentSchemaID     RequirementType = "assert-current-schema-id"
	AssertLastAssignedFieldID RequirementType = "assert-last-assigned-field-id"
	AssertDefaultSpecID       RequirementType = "assert-default-spec-id"
)

// Requirement is one assertion of a CommitRequest. Only the fields relevant
// to Type are read.
type Requirement struct {
	Type                RequirementType `json:"type"`
	UUID                string          `json:"uuid,omitempty"`
	MetadataLocation    string          `json:"metadata-location,omitempty"`
	Ref                 string          `json:"ref,omitempty"`
	SnapshotID          *int64          `json:"snapshot-id,omitempty"`
	CurrentSchemaID     *int            `json:"current-schema-id,omitempty"`
	LastAssignedFieldID *int            `json:"last-assigned-field-id,omitempty"`
	DefaultSpecID       *int            `json:"default-spec-id,omitempty"`
}

// UpdateAction names a state transition of a CommitRequest.
type UpdateAction string

const (
	UpdateUpgradeFormatVersion  UpdateAction = "upgrade-format-version"
	UpdateAddSchema             UpdateAction = "add-schema"
	UpdateSetCurrentSchema      UpdateAction = "set-current-schema"
	UpdateAddPartitionSpec      UpdateAction = "add-spec"
	UpdateSetDefaultSpec        UpdateAction = "set-default-spec"
	UpdateAddSnapshot           UpdateAction = "add-snapshot"
	UpdateSetSnapshotRef        UpdateAction = "set-snapshot-ref"
	UpdateRemoveSnapshotRef     UpdateAction = "remove-snapshot-ref"
	UpdateSetProperties         UpdateAction = "set-properties"
	UpdateRemoveProperties      UpdateAction = "remove-properties"
	UpdateSetLocation           UpdateAction = "set-location"
	UpdateAddViewVersion        UpdateAction = "add-view-version"
	UpdateSetCurrentViewVersion UpdateAction = "set-current-view-version"
)

// LastAddedID in set-current-schema, set-default-spec, or
// set-current-view-version refers to the item added earlier in the same commit.
const LastAddedID = -1

// Update is one state transition of a CommitRequest. Only the fields
// relevant to Action are read.
type Update struct {
	Action        UpdateAction      `json:"action"`
	FormatVersion int               `json:"format-version,omitempty"`
	Schema        *Schema           `json:"schema,omitempty"`
	SchemaID      *int              `json:"schema-id,omitempty"`
	Spec          *PartitionSpec    `json:"spec,omitempty"`
	SpecID        *int              `json:"spec-id,omitempty"`
	Snapshot      *Snapshot         `json:"snapshot,omitempty"`
	RefName       string            `json:"ref-name,omitempty"`
	RefType       string            `json:"type,omitempty"`
	SnapshotID    *int64            `json:"snapshot-id,omitempty"`
	Updates       map[string]string `json:"updates,omitempty"`
	Removals      []string          `json:"removals,omitempty"`
	Location      string            `json:"location,omitempty"`
	ViewVersion   *ViewVersion      `json:"view-version,omitempty"`
	ViewVersionID *int              `json:"view-version-id,omitempty"`
}

// CommitRequest publishes a new metadata version if every requirement holds.
type CommitRequest struct {
	Requirements []Requirement `json:"requirements"`
	Updates      []Update      `json:"updates"`
}

// CommitResult is the outcome of a successful commit.
type CommitResult struct {
	Pointer  MetadataPointer
	Metadata json.RawMessage
}

var tableUpdates = map[UpdateAction]bool{
	UpdateUpgradeFormatVersion: true, UpdateAddSchema: true, UpdateSetCurrentSchema: true,
	UpdateAddPartitionSpec: true, UpdateSetDefaultSpec: true, UpdateAddSnapshot: true,
	UpdateSetSnapshotRef: true, UpdateRemoveSnapshotRef: true, UpdateSetProperties: true,
	UpdateRemoveProperties: true, UpdateSetLocation: true,
}

var viewUpdates = map[UpdateAction]bool{
	UpdateUpgradeFormatVersion: true, UpdateAddSchema: true, UpdateAddViewVersion: true,
	UpdateSetCurrentViewVersion: true, UpdateSetProperties: true, UpdateRemoveProperties: true,
	UpdateSetLocation: true,
}

var tableRequirements = map[RequirementType]bool{
	AssertCreate: true, AssertTableUUID: true, AssertMetadataLocation: true,
	AssertRefSnapshotID: true, AssertCurrentSchemaID: true,
	AssertLastAssignedFieldID: true, AssertDefaultSpecID: true,
}

var viewRequirements = map[RequirementType]bool{
	AssertCreate: true, AssertViewUUID: true, AssertMetadataLocation: true,
}

// Validate checks the shape of every requirement and update for the target
// kind. State-dependent checks happen when the updates are applied.
func (r *CommitRequest) Validate(kind TabularKind) error {
	if len(r.Updates) == 0 && len(r.Requirements) == 0 {
		return ErrValidation("commit must contain at least one requirement or update")
	}
	allowedReq, allowedUpd := tableRequirements, tableUpdates
	if kind == TabularView {
		allowedReq, allowedUpd = viewRequirements, viewUpdates
	}
	for i, req := range r.Requirements {
		if !allowedReq[req.Type] {
			return ErrValidation("requirement %d: %q is not valid for a %s", i, req.Type, kind)
		}
		if err := req.validate(); err != nil {
			return ErrValidation("requirement %d (%s): %s", i, req.Type, err.Error())
		}
	}
	for i, u := range r.Updates {
		if !allowedUpd[u.Action] {
			return ErrValidation("update %d: %q is not valid for a %s", i, u.Action, kind)
		}
		if err := u.validate(); err != nil {
			return ErrValidation("update %d (%s): %s", i, u.Action, err.Error())
		}
	}
	return nil
}

func (r Requirement) validate() error {
	switch r.Type {
	case AssertTableUUID, AssertViewUUID:
		if r.UUID == "" {
			return ErrValidation("uuid is required")
		}
	case AssertMetadataLocation:
		if r.MetadataLocation == "" {
			return ErrValidation("metadata-location is required")
		}
	case AssertRefSnapshotID:
		if r.Ref == "" {
			return ErrValidation("ref is required")
		}
	case AssertCurrentSchemaID:
		if r.CurrentSchemaID == nil {
			return ErrValidation("current-schema-id is required")
		}
	case AssertLastAssignedFieldID:
		if r.LastAssignedFieldID == nil {
			return ErrValidation("last-assigned-field-id is required")
		}
	case AssertDefaultSpecID:
		if r.DefaultSpecID == nil {
			return ErrValidation("default-spec-id is required")
		}
	}
	return nil
}

func (u Update) validate() error {
	switch u.Action {
	case UpdateUpgradeFormatVersion:
		if u.FormatVersion < 1 || u.FormatVersion > 3 {
			return ErrValidation("format-version must be 1, 2, or 3")
		}
	case UpdateAddSchema:
		if u.Schema == nil {
			return ErrValidation("schema is required")
		}
		return validateSchema(u.Schema)
	case UpdateSetCurrentSchema:
		if u.SchemaID == nil {
			return ErrValidation("schema-id is required")
		}
	case UpdateAddPartitionSpec:
		if u.Spec == nil {
			return ErrValidation("spec is required")
		}
	case UpdateSetDefaultSpec:
		if u.SpecID == nil {
			return ErrValidation("spec-id is required")
		}
	case UpdateAddSnapshot:
		if u.Snapshot == nil {
			return ErrValidation("snapshot is required")
		}
		if u.Snapshot.ManifestList == "" {
			return ErrValidation("snapshot manifest-list is required")
		}
	case UpdateSetSnapshotRef:
		if u.RefName == "" || u.SnapshotID == nil {
			return ErrValidation("ref-name and snapshot-id are required")
		}
		if u.RefType != RefBranch && u.RefType != RefTag {
			return ErrValidation("ref type must be %q or %q", RefBranch, RefTag)
		}
	case UpdateRemoveSnapshotRef:
		if u.RefName == "" {
			return ErrValidation("ref-name is required")
		}
	case UpdateSetProperties:
		if len(u.Updates) == 0 {
			return ErrValidation("updates must not be empty")
		}
	case UpdateRemoveProperties:
		if len(u.Removals) == 0 {
			return ErrValidation("removals must not be empty")
		}
	case UpdateSetLocation:
		if u.Location == "" {
			return ErrValidation("location is required")
		}
	case UpdateAddViewVersion:
		if u.ViewVersion == nil {
			return ErrValidation("view-version is required")
		}
		if len(u.ViewVersion.Representations) == 0 {
			return ErrValidation("view-version must have at least one representation")
		}
	case UpdateSetCurrentViewVersion:
		if u.ViewVersionID == nil {
			return ErrValidation("view-version-id is required")
		}
	}
	return nil
}
