package commit

import (
	"encoding/json"
	"fmt"

	"lake-catalog/internal/domain"
)

// CheckTableRequirements returns a ConflictError for the first requirement
// the current state does not satisfy.
func CheckTableRequirements(ptr domain.MetadataPointer, m *domain.TableMetadata, reqs []domain.Requirement) error {
	for _, r := range reqs {
		if msg := tableRequirementFailure(ptr, m, r); msg != "" {
			return domain.ErrCommitConflict(ptr, "requirement failed: %s", msg)
		}
	}
	return nil
}

func tableRequirementFailure(ptr domain.MetadataPointer, m *domain.TableMetadata, r domain.Requirement) string {
	switch r.Type {
	case domain.AssertCreate:
		return "table already exists"
	case domain.AssertTableUUID:
		if r.UUID != m.TableUUID {
			return fmt.Sprintf("table uuid does not match: expected %s, found %s", r.UUID, m.TableUUID)
		}
	case domain.AssertMetadataLocation:
		if r.MetadataLocation != ptr.MetadataLocation {
			return fmt.Sprintf("metadata location does not match: expected %s, found %s", r.MetadataLocation, ptr.MetadataLocation)
		}
	case domain.AssertRefSnapshotID:
		ref, exists := m.Refs[r.Ref]
		switch {
		case r.SnapshotID == nil && exists:
			return fmt.Sprintf("ref %s was created concurrently", r.Ref)
		case r.SnapshotID != nil && !exists:
			return fmt.Sprintf("ref %s is missing, expected snapshot %d", r.Ref, *r.SnapshotID)
		case r.SnapshotID != nil && ref.SnapshotID != *r.SnapshotID:
			return fmt.Sprintf("ref %s has changed: expected snapshot %d, found %d", r.Ref, *r.SnapshotID, ref.SnapshotID)
		}
	case domain.AssertCurrentSchemaID:
		if *r.CurrentSchemaID != m.CurrentSchemaID {
			return fmt.Sprintf("current schema changed: expected %d, found %d", *r.CurrentSchemaID, m.CurrentSchemaID)
		}
	case domain.AssertLastAssignedFieldID:
		if *r.LastAssignedFieldID != m.LastColumnID {
			return fmt.Sprintf("last assigned field id changed: expected %d, found %d", *r.LastAssignedFieldID, m.LastColumnID)
		}
	case domain.AssertDefaultSpecID:
		if *r.DefaultSpecID != m.DefaultSpecID {
			return fmt.Sprintf("default partition spec changed: expected %d, found %d", *r.DefaultSpecID, m.DefaultSpecID)
		}
	}
	return ""
}

// CheckViewRequirements is CheckTableRequirements for views.
func CheckViewRequirements(ptr domain.MetadataPointer, m *domain.ViewMetadata, reqs []domain.Requirement) error {
	for _, r := range reqs {
		var msg string
		switch r.Type {
		case domain.AssertCreate:
			msg = "view already exists"
		case domain.AssertViewUUID:
			if r.UUID != m.ViewUUID {
				msg = fmt.Sprintf("view uuid does not match: expected %s, found %s", r.UUID, m.ViewUUID)
			}
		case domain.AssertMetadataLocation:
			if r.MetadataLocation != ptr.MetadataLocation {
				msg = fmt.Sprintf("metadata location does not match: expected %s, found %s", r.MetadataLocation, ptr.MetadataLocation)
			}
		}
		if msg != "" {
			return domain.ErrCommitConflict(ptr, "requirement failed: %s", msg)
		}
	}
	return nil
}

func cloneTable(m *domain.TableMetadata) *domain.TableMetadata {
	out := &domain.TableMetadata{}
	mustRoundTrip(m, out)
	return out
}

func cloneView(m *domain.ViewMetadata) *domain.ViewMetadata {
	out := &domain.ViewMetadata{}
	mustRoundTrip(m, out)
	return out
}

// mustRoundTrip deep-copies documents that were themselves decoded from
// JSON, so encoding cannot fail.
func mustRoundTrip(in, out any) {
	b, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("encode metadata: %v", err))
	}
	if err := json.Unmarshal(b, out); err != nil {
		panic(fmt.Sprintf("decode metadata: %v", err))
	}
}
