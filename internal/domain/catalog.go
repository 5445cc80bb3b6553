package domain

import (
	"fmt"
	"strings"
	"time"
)

// NodeKind identifies the level of a catalog node in the hierarchy.
type NodeKind string

const (
	KindServer    NodeKind = "server"
	KindProject   NodeKind = "project"
	KindWarehouse NodeKind = "warehouse"
	KindNamespace NodeKind = "namespace"
	KindTable     NodeKind = "table"
	KindView      NodeKind = "view"
)

// ServerID is the object id of the single server node that roots every
// ancestor chain. Grants on it apply catalog-wide.
const ServerID = "server"

// NodeRef addresses a catalog node by kind and id.
type NodeRef struct {
	Kind NodeKind
	ID   string
}

func (r NodeRef) String() string { return string(r.Kind) + ":" + r.ID }

// Ref constructors.
func ServerRef() NodeRef             { return NodeRef{Kind: KindServer, ID: ServerID} }
func ProjectRef(id string) NodeRef   { return NodeRef{Kind: KindProject, ID: id} }
func WarehouseRef(id string) NodeRef { return NodeRef{Kind: KindWarehouse, ID: id} }
func NamespaceRef(id string) NodeRef { return NodeRef{Kind: KindNamespace, ID: id} }
func TabularRef(k TabularKind, id string) NodeRef {
	if k == TabularView {
		return NodeRef{Kind: KindView, ID: id}
	}
	return NodeRef{Kind: KindTable, ID: id}
}

// Project is the top-level tenant grouping of warehouses.
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WarehouseStatus gates data-plane access to a warehouse.
type WarehouseStatus string

const (
	WarehouseActive   WarehouseStatus = "active"
	WarehouseInactive WarehouseStatus = "inactive"
)

// DeleteProfile decides what dropping a table or view does.
type DeleteProfile string

const (
	DeleteHard DeleteProfile = "hard"
	DeleteSoft DeleteProfile = "soft"
)

// DefaultMaxCredentialTTL applies when a warehouse does not set its own cap.
const DefaultMaxCredentialTTL = 15 * time.Minute

// Warehouse binds a subtree of the catalog to one storage root.
type Warehouse struct {
	ID               string
	ProjectID        string
	Name             string
	Status           WarehouseStatus
	Protected        bool
	DeleteProfile    DeleteProfile
	StorageProfile   StorageProfile
	MaxCredentialTTL time.Duration
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EffectiveMaxTTL returns the credential lifetime cap for this warehouse.
func (w *Warehouse) EffectiveMaxTTL() time.Duration {
	if w.MaxCredentialTTL <= 0 {
		return DefaultMaxCredentialTTL
	}
	return w.MaxCredentialTTL
}

// IsActive reports whether data-plane operations may run in the warehouse.
func (w *Warehouse) IsActive() bool { return w.Status == WarehouseActive }

// Namespace groups tables and views. ParentID is the parent namespace id,
// empty for a top-level namespace.
type Namespace struct {
	ID          string
	WarehouseID string
	ParentID    string
	Name        string
	Path        []string
	Properties  map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TabularKind distinguishes tables from views. Both share one namespace.
type TabularKind string

const (
	TabularTable TabularKind = "table"
	TabularView  TabularKind = "view"
)

// Tabular is a table or view together with its current metadata pointer.
type Tabular struct {
	ID          string
	Kind        TabularKind
	WarehouseID string
	NamespaceID string
	Name        string
	Location    Location
	Pointer     MetadataPointer
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ref returns the NodeRef of this table or view.
func (t *Tabular) Ref() NodeRef { return TabularRef(t.Kind, t.ID) }

// MetadataPointer is the current (location, version) of a table or view.
type MetadataPointer struct {
	MetadataLocation  string `json:"metadata-location"`
	Version           int64  `json:"version"`
	SchemaID          int    `json:"schema-id"`
	CurrentSnapshotID *int64 `json:"current-snapshot-id,omitempty"`
}

// ValidateName checks a single catalog identifier segment.
func ValidateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrValidation("%s name must not be empty", kind)
	}
	if len(name) > 255 {
		return ErrValidation("%s name must be at most 255 characters", kind)
	}
	if kind == "namespace" && strings.Contains(name, ".") {
		return ErrValidation("namespace name %q must not contain '.'", name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return ErrValidation("%s name %q must not contain '/' or NUL", kind, name)
	}
	return nil
}

// QualifiedName renders a namespace path joined with dots.
func QualifiedName(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return fmt.Sprintf("%s.%s", strings.Join(path, "."), name)
}
