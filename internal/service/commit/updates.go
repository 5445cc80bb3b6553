package commit

import (
	"slices"
	"time"

	"lake-catalog/internal/domain"
)

// tableBuilder applies updates to a copy of a table document, remembering
// the ids added earlier in the same commit.
type tableBuilder struct {
	meta            *domain.TableMetadata
	location        string
	now             time.Time
	lastAddedSchema *int
	lastAddedSpec   *int
}

// ApplyTableUpdates applies updates in order and returns the new document.
// The input is not modified.
func ApplyTableUpdates(current *domain.TableMetadata, updates []domain.Update, now time.Time) (*domain.TableMetadata, error) {
	b := &tableBuilder{meta: cloneTable(current), location: current.Location, now: now}
	for i, u := range updates {
		if err := b.apply(u); err != nil {
			return nil, domain.ErrValidation("update %d (%s): %s", i, u.Action, err.Error())
		}
	}
	b.meta.LastUpdatedMs = now.UnixMilli()
	return b.meta, nil
}

func (b *tableBuilder) apply(u domain.Update) error {
	m := b.meta
	switch u.Action {
	case domain.UpdateUpgradeFormatVersion:
		if u.FormatVersion < m.FormatVersion {
			return domain.ErrValidation("cannot downgrade format version from %d to %d", m.FormatVersion, u.FormatVersion)
		}
		m.FormatVersion = u.FormatVersion

	case domain.UpdateAddSchema:
		id := addSchema(&m.Schemas, *u.Schema)
		b.lastAddedSchema = &id
		m.LastColumnID = max(m.LastColumnID, u.Schema.MaxFieldID())

	case domain.UpdateSetCurrentSchema:
		id, err := resolveLastAdded(*u.SchemaID, b.lastAddedSchema, "schema")
		if err != nil {
			return err
		}
		if _, ok := m.Schema(id); !ok {
			return domain.ErrValidation("schema %d does not exist", id)
		}
		m.CurrentSchemaID = id

	case domain.UpdateAddPartitionSpec:
		spec := *u.Spec
		spec.SpecID = 0
		for _, s := range m.PartitionSpecs {
			spec.SpecID = max(spec.SpecID, s.SpecID+1)
		}
		for _, f := range spec.Fields {
			m.LastPartitionID = max(m.LastPartitionID, f.FieldID)
		}
		m.PartitionSpecs = append(m.PartitionSpecs, spec)
		b.lastAddedSpec = &spec.SpecID

	case domain.UpdateSetDefaultSpec:
		id, err := resolveLastAdded(*u.SpecID, b.lastAddedSpec, "partition spec")
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(m.PartitionSpecs, func(s domain.PartitionSpec) bool { return s.SpecID == id }) {
			return domain.ErrValidation("partition spec %d does not exist", id)
		}
		m.DefaultSpecID = id

	case domain.UpdateAddSnapshot:
		snap := *u.Snapshot
		if _, exists := m.Snapshot(snap.SnapshotID); exists {
			return domain.ErrValidation("snapshot %d already exists", snap.SnapshotID)
		}
		if snap.ParentSnapshotID != nil {
			if _, ok := m.Snapshot(*snap.ParentSnapshotID); !ok {
				return domain.ErrValidation("parent snapshot %d does not exist", *snap.ParentSnapshotID)
			}
		}
		switch {
		case snap.SequenceNumber == 0:
			snap.SequenceNumber = m.LastSequenceNumber + 1
		case m.FormatVersion > 1 && snap.SequenceNumber <= m.LastSequenceNumber:
			return domain.ErrValidation("sequence number %d is not after last sequence number %d", snap.SequenceNumber, m.LastSequenceNumber)
		}
		if snap.TimestampMs == 0 {
			snap.TimestampMs = b.now.UnixMilli()
		}
		m.LastSequenceNumber = max(m.LastSequenceNumber, snap.SequenceNumber)
		m.Snapshots = append(m.Snapshots, snap)

	case domain.UpdateSetSnapshotRef:
		id := *u.SnapshotID
		snap, ok := m.Snapshot(id)
		if !ok {
			return domain.ErrValidation("snapshot %d does not exist", id)
		}
		if m.Refs == nil {
			m.Refs = map[string]domain.SnapshotRef{}
		}
		if u.RefName == domain.MainRef && u.RefType != domain.RefBranch {
			return domain.ErrValidation("%s must be a branch", domain.MainRef)
		}
		m.Refs[u.RefName] = domain.SnapshotRef{SnapshotID: id, Type: u.RefType}
		if u.RefName == domain.MainRef {
			m.CurrentSnapshotID = &id
			m.SnapshotLog = append(m.SnapshotLog, domain.SnapshotLogEntry{SnapshotID: id, TimestampMs: snap.TimestampMs})
		}

	case domain.UpdateRemoveSnapshotRef:
		delete(m.Refs, u.RefName)
		if u.RefName == domain.MainRef {
			m.CurrentSnapshotID = nil
		}

	case domain.UpdateSetProperties:
		setProperties(&m.Properties, u.Updates)

	case domain.UpdateRemoveProperties:
		for _, k := range u.Removals {
			delete(m.Properties, k)
		}

	case domain.UpdateSetLocation:
		if u.Location != b.location {
			return domain.ErrValidation("table location is managed by the catalog and cannot change")
		}

	default:
		return domain.ErrValidation("unsupported update %q", u.Action)
	}
	return nil
}

// ApplyViewUpdates applies updates to a copy of a view document.
func ApplyViewUpdates(current *domain.ViewMetadata, updates []domain.Update, now time.Time) (*domain.ViewMetadata, error) {
	m := cloneView(current)
	var lastSchema, lastVersion *int
	for i, u := range updates {
		if err := applyView(m, u, now, &lastSchema, &lastVersion, current.Location); err != nil {
			return nil, domain.ErrValidation("update %d (%s): %s", i, u.Action, err.Error())
		}
	}
	return m, nil
}

func applyView(m *domain.ViewMetadata, u domain.Update, now time.Time, lastSchema, lastVersion **int, loc string) error {
	switch u.Action {
	case domain.UpdateUpgradeFormatVersion:
		if u.FormatVersion < m.FormatVersion {
			return domain.ErrValidation("cannot downgrade format version from %d to %d", m.FormatVersion, u.FormatVersion)
		}
		m.FormatVersion = u.FormatVersion

	case domain.UpdateAddSchema:
		id := addSchema(&m.Schemas, *u.Schema)
		*lastSchema = &id

	case domain.UpdateAddViewVersion:
		v := *u.ViewVersion
		if v.SchemaID == domain.LastAddedID {
			if *lastSchema == nil {
				return domain.ErrValidation("no schema was added in this commit")
			}
			v.SchemaID = **lastSchema
		}
		if !slices.ContainsFunc(m.Schemas, func(s domain.Schema) bool { return s.SchemaID == v.SchemaID }) {
			return domain.ErrValidation("schema %d does not exist", v.SchemaID)
		}
		v.VersionID = 0
		for _, existing := range m.Versions {
			v.VersionID = max(v.VersionID, existing.VersionID)
		}
		v.VersionID++
		if v.TimestampMs == 0 {
			v.TimestampMs = now.UnixMilli()
		}
		m.Versions = append(m.Versions, v)
		*lastVersion = &v.VersionID

	case domain.UpdateSetCurrentViewVersion:
		id, err := resolveLastAdded(*u.ViewVersionID, *lastVersion, "view version")
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(m.Versions, func(v domain.ViewVersion) bool { return v.VersionID == id }) {
			return domain.ErrValidation("view version %d does not exist", id)
		}
		m.CurrentVersionID = id
		m.VersionLog = append(m.VersionLog, domain.ViewVersionLogEntry{VersionID: id, TimestampMs: now.UnixMilli()})

	case domain.UpdateSetProperties:
		setProperties(&m.Properties, u.Updates)

	case domain.UpdateRemoveProperties:
		for _, k := range u.Removals {
			delete(m.Properties, k)
		}

	case domain.UpdateSetLocation:
		if u.Location != loc {
			return domain.ErrValidation("view location is managed by the catalog and cannot change")
		}

	default:
		return domain.ErrValidation("unsupported update %q", u.Action)
	}
	return nil
}

// addSchema appends s with the next free schema id, reusing the id of an
// identical existing schema.
func addSchema(schemas *[]domain.Schema, s domain.Schema) int {
	next := 0
	for _, existing := range *schemas {
		if sameFields(existing, s) {
			return existing.SchemaID
		}
		next = max(next, existing.SchemaID+1)
	}
	s.SchemaID = next
	if s.Type == "" {
		s.Type = "struct"
	}
	*schemas = append(*schemas, s)
	return next
}

func sameFields(a, b domain.Schema) bool {
	return slices.EqualFunc(a.Fields, b.Fields, func(x, y domain.SchemaField) bool {
		return x.ID == y.ID && x.Name == y.Name && x.Required == y.Required && string(x.Type) == string(y.Type)
	})
}

func resolveLastAdded(id int, last *int, what string) (int, error) {
	if id != domain.LastAddedID {
		return id, nil
	}
	if last == nil {
		return 0, domain.ErrValidation("no %s was added in this commit", what)
	}
	return *last, nil
}

func setProperties(props *map[string]string, updates map[string]string) {
	if *props == nil {
		*props = map[string]string{}
	}
	for k, v := range updates {
		(*props)[k] = v
	}
}
