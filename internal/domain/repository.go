package domain

import "context"

// ProjectRepository persists projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
}

// WarehouseRepository persists warehouses and their storage profiles.
type WarehouseRepository interface {
	CreateWarehouse(ctx context.Context, w *Warehouse) error
	GetWarehouse(ctx context.Context, id string) (*Warehouse, error)
	ListWarehouses(ctx context.Context, projectID string, status *WarehouseStatus) ([]Warehouse, error)
	RenameWarehouse(ctx context.Context, id, name string) error
	SetWarehouseStatus(ctx context.Context, id string, status WarehouseStatus) error
	SetWarehouseProtected(ctx context.Context, id string, protected bool) error
	UpdateStorageProfile(ctx context.Context, id string, profile StorageProfile, status WarehouseStatus) error
	// DeleteWarehouse removes an empty warehouse. Returns ConflictError when
	// live namespaces remain.
	DeleteWarehouse(ctx context.Context, id string) error
}

// NamespaceRepository persists namespaces.
type NamespaceRepository interface {
	CreateNamespace(ctx context.Context, ns *Namespace) error
	GetNamespace(ctx context.Context, id string) (*Namespace, error)
	// ListNamespaces returns the live children of parentID (empty for
	// top-level namespaces of the warehouse).
	ListNamespaces(ctx context.Context, warehouseID, parentID string) ([]Namespace, error)
	UpdateNamespaceProperties(ctx context.Context, id string, set map[string]string, remove []string) (*Namespace, error)
	// DropNamespace soft-deletes the namespace. Without recursive it
	// returns ConflictError when live children remain; with recursive the
	// whole subtree is soft-deleted.
	DropNamespace(ctx context.Context, id string, recursive bool) ([]NodeRef, error)
}

// TabularRepository persists tables and views.
type TabularRepository interface {
	// CreateTabular inserts the tabular with its version-1 pointer and
	// metadata document in one transaction.
	CreateTabular(ctx context.Context, t *Tabular, document []byte) error
	GetTabular(ctx context.Context, id string) (*Tabular, error)
	ListTabulars(ctx context.Context, namespaceID string, kind TabularKind) ([]Tabular, error)
	RenameTabular(ctx context.Context, id, namespaceID, name string) error
	// DropTabular soft-deletes the tabular, or removes it with its metadata
	// history when hard is set.
	DropTabular(ctx context.Context, id string, hard bool) error
	LoadMetadata(ctx context.Context, id string, version int64) ([]byte, error)
}

// HierarchyReader resolves the ancestor chain of a catalog node.
type HierarchyReader interface {
	// Ancestors returns ref followed by every ancestor up to and including
	// the server node, nearest first. NotFoundError when ref is not live.
	Ancestors(ctx context.Context, ref NodeRef) ([]NodeRef, error)
}

// CommitTx is the view of the store inside one commit transaction.
type CommitTx interface {
	ReadTabular(ctx context.Context, id string) (*Tabular, error)
	ReadMetadata(ctx context.Context, id string, version int64) ([]byte, error)
	// SwapPointer replaces the pointer only if the stored version still
	// equals expectedVersion. ok=false reports a version mismatch.
	SwapPointer(ctx context.Context, id string, expectedVersion int64, next MetadataPointer, document []byte) (ok bool, err error)
}

// PointerStore runs commit transactions.
type PointerStore interface {
	InCommitTx(ctx context.Context, fn func(ctx context.Context, tx CommitTx) error) error
	ReadPointer(ctx context.Context, id string) (MetadataPointer, error)
}

// EntityStore is the persistent catalog hierarchy.
type EntityStore interface {
	ProjectRepository
	WarehouseRepository
	NamespaceRepository
	TabularRepository
	HierarchyReader
	PointerStore
}

// PolicyClient is the integration contract with the relationship-based
// policy service.
type PolicyClient interface {
	QueryRelation(ctx context.Context, q RelationQuery) (bool, error)
	// BatchQuery answers every query in one logical request. The result has
	// the same length and order as qs.
	BatchQuery(ctx context.Context, qs []RelationQuery) ([]bool, error)
	Assert(ctx context.Context, t Tuple) error
	Revoke(ctx context.Context, t Tuple) error
	// RevokeObject removes every tuple on object.
	RevokeObject(ctx context.Context, object NodeRef) error
	ListTuples(ctx context.Context, object NodeRef) ([]Tuple, error)
	// MaxBatchSize is the largest batch the backend accepts in one call.
	MaxBatchSize() int
}

// AuditRepository persists the audit trail.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error)
}
