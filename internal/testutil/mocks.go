// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lake-catalog/internal/domain"
)

// === Audit Repository Mock ===

// MockAuditRepo implements domain.AuditRepository for testing.
type MockAuditRepo struct {
	InsertFn func(ctx context.Context, e *domain.AuditEntry) error
	ListFn   func(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error)

	mu      sync.Mutex
	Entries []*domain.AuditEntry // collected entries for assertions
}

var _ domain.AuditRepository = (*MockAuditRepo)(nil)

// Insert implements the interface method for testing.
func (m *MockAuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

// List implements the interface method for testing.
func (m *MockAuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockAuditRepo.List")
}

// LastEntry returns the last collected audit entry, or nil if none.
func (m *MockAuditRepo) LastEntry() *domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Entries) == 0 {
		return nil
	}
	return m.Entries[len(m.Entries)-1]
}

// HasAction returns true if any collected entry has the given action.
func (m *MockAuditRepo) HasAction(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

// === Hierarchy Mock ===

// MockHierarchy implements domain.HierarchyReader for testing.
type MockHierarchy struct {
	AncestorsFn func(ctx context.Context, ref domain.NodeRef) ([]domain.NodeRef, error)
}

var _ domain.HierarchyReader = (*MockHierarchy)(nil)

// Ancestors implements the interface method for testing.
func (m *MockHierarchy) Ancestors(ctx context.Context, ref domain.NodeRef) ([]domain.NodeRef, error) {
	if m.AncestorsFn != nil {
		return m.AncestorsFn(ctx, ref)
	}
	panic("unexpected call to MockHierarchy.Ancestors")
}

// StaticHierarchy builds a MockHierarchy from child → parent links. Nodes
// without a parent link attach to the server node. Unknown nodes are
// NotFound.
func StaticHierarchy(parents map[domain.NodeRef]domain.NodeRef) *MockHierarchy {
	return &MockHierarchy{AncestorsFn: func(_ context.Context, ref domain.NodeRef) ([]domain.NodeRef, error) {
		if ref == domain.ServerRef() {
			return []domain.NodeRef{ref}, nil
		}
		if _, ok := parents[ref]; !ok {
			return nil, domain.ErrNotFound("%s %q not found", ref.Kind, ref.ID)
		}
		chain := []domain.NodeRef{ref}
		for cur := ref; ; {
			parent, ok := parents[cur]
			if !ok || parent == domain.ServerRef() {
				break
			}
			chain = append(chain, parent)
			cur = parent
		}
		return append(chain, domain.ServerRef()), nil
	}}
}

// === Policy Client Mock ===

// MockPolicyClient implements domain.PolicyClient for testing.
type MockPolicyClient struct {
	QueryRelationFn func(ctx context.Context, q domain.RelationQuery) (bool, error)
	BatchQueryFn    func(ctx context.Context, qs []domain.RelationQuery) ([]bool, error)
	AssertFn        func(ctx context.Context, t domain.Tuple) error
	RevokeFn        func(ctx context.Context, t domain.Tuple) error
	RevokeObjectFn  func(ctx context.Context, object domain.NodeRef) error
	ListTuplesFn    func(ctx context.Context, object domain.NodeRef) ([]domain.Tuple, error)
	BatchSize       int
}

var _ domain.PolicyClient = (*MockPolicyClient)(nil)

// QueryRelation implements the interface method for testing.
func (m *MockPolicyClient) QueryRelation(ctx context.Context, q domain.RelationQuery) (bool, error) {
	if m.QueryRelationFn != nil {
		return m.QueryRelationFn(ctx, q)
	}
	panic("unexpected call to MockPolicyClient.QueryRelation")
}

// BatchQuery implements the interface method for testing.
func (m *MockPolicyClient) BatchQuery(ctx context.Context, qs []domain.RelationQuery) ([]bool, error) {
	if m.BatchQueryFn != nil {
		return m.BatchQueryFn(ctx, qs)
	}
	panic("unexpected call to MockPolicyClient.BatchQuery")
}

// Assert implements the interface method for testing.
func (m *MockPolicyClient) Assert(ctx context.Context, t domain.Tuple) error {
	if m.AssertFn != nil {
		return m.AssertFn(ctx, t)
	}
	panic("unexpected call to MockPolicyClient.Assert")
}

// Revoke implements the interface method for testing.
func (m *MockPolicyClient) Revoke(ctx context.Context, t domain.Tuple) error {
	if m.RevokeFn != nil {
		return m.RevokeFn(ctx, t)
	}
	panic("unexpected call to MockPolicyClient.Revoke")
}

// RevokeObject implements the interface method for testing.
func (m *MockPolicyClient) RevokeObject(ctx context.Context, object domain.NodeRef) error {
	if m.RevokeObjectFn != nil {
		return m.RevokeObjectFn(ctx, object)
	}
	panic("unexpected call to MockPolicyClient.RevokeObject")
}

// ListTuples implements the interface method for testing.
func (m *MockPolicyClient) ListTuples(ctx context.Context, object domain.NodeRef) ([]domain.Tuple, error) {
	if m.ListTuplesFn != nil {
		return m.ListTuplesFn(ctx, object)
	}
	panic("unexpected call to MockPolicyClient.ListTuples")
}

// MaxBatchSize implements the interface method for testing.
func (m *MockPolicyClient) MaxBatchSize() int { return m.BatchSize }

// ErrPolicyDown is returned by MemoryPolicy while it is failing.
var ErrPolicyDown = errors.New("policy service unavailable")

// MemoryPolicy is an in-memory domain.PolicyClient. Set FailCalls to make
// the next n batch calls fail with ErrPolicyDown.
type MemoryPolicy struct {
	BatchSize int
	FailCalls int

	mu         sync.Mutex
	tuples     map[tupleKey]bool
	BatchCalls int
	Queried    int
}

type tupleKey struct {
	subjectKind domain.SubjectKind
	subjectID   string
	relation    domain.Relation
	object      domain.NodeRef
}

func keyOf(s domain.Subject, r domain.Relation, o domain.NodeRef) tupleKey {
	return tupleKey{subjectKind: s.Kind, subjectID: s.ID, relation: r, object: o}
}

var _ domain.PolicyClient = (*MemoryPolicy)(nil)

// NewMemoryPolicy creates an empty MemoryPolicy.
func NewMemoryPolicy() *MemoryPolicy {
	return &MemoryPolicy{tuples: map[tupleKey]bool{}}
}

// Grant is shorthand for Assert in test setup.
func (m *MemoryPolicy) Grant(s domain.Subject, r domain.Relation, o domain.NodeRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tuples[keyOf(s, r, o)] = true
}

// QueryRelation implements domain.PolicyClient.
func (m *MemoryPolicy) QueryRelation(_ context.Context, q domain.RelationQuery) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tuples[keyOf(q.Subject, q.Relation, q.Object)], nil
}

// BatchQuery implements domain.PolicyClient.
func (m *MemoryPolicy) BatchQuery(ctx context.Context, qs []domain.RelationQuery) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls++
	if m.FailCalls > 0 {
		m.FailCalls--
		return nil, ErrPolicyDown
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.Queried += len(qs)
	out := make([]bool, len(qs))
	for i, q := range qs {
		out[i] = m.tuples[keyOf(q.Subject, q.Relation, q.Object)]
	}
	return out, nil
}

// Assert implements domain.PolicyClient.
func (m *MemoryPolicy) Assert(_ context.Context, t domain.Tuple) error {
	m.Grant(t.Subject, t.Relation, t.Object)
	return nil
}

// Revoke implements domain.PolicyClient.
func (m *MemoryPolicy) Revoke(_ context.Context, t domain.Tuple) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tuples, keyOf(t.Subject, t.Relation, t.Object))
	return nil
}

// RevokeObject implements domain.PolicyClient.
func (m *MemoryPolicy) RevokeObject(_ context.Context, object domain.NodeRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.tuples {
		if k.object == object {
			delete(m.tuples, k)
		}
	}
	return nil
}

// ListTuples implements domain.PolicyClient.
func (m *MemoryPolicy) ListTuples(_ context.Context, object domain.NodeRef) ([]domain.Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Tuple
	for k := range m.tuples {
		if k.object == object {
			out = append(out, domain.Tuple{
				Subject:  domain.Subject{ID: k.subjectID, Kind: k.subjectKind},
				Relation: k.relation,
				Object:   k.object,
			})
		}
	}
	return out, nil
}

// MaxBatchSize implements domain.PolicyClient.
func (m *MemoryPolicy) MaxBatchSize() int { return m.BatchSize }

// === Storage Backend Mock ===

// MockStorageBackend implements domain.StorageBackend for testing.
type MockStorageBackend struct {
	TypeValue domain.StorageType
	IssueFn   func(ctx context.Context, profile *domain.StorageProfile, req domain.IssueRequest) (*domain.IssuedMaterial, error)
	ProbeFn   func(ctx context.Context, profile *domain.StorageProfile, material map[string]string, target domain.Location, action domain.StorageAction) (domain.ProbeResult, error)
}

var _ domain.StorageBackend = (*MockStorageBackend)(nil)

// Type implements the interface method for testing.
func (m *MockStorageBackend) Type() domain.StorageType { return m.TypeValue }

// Issue implements the interface method for testing.
func (m *MockStorageBackend) Issue(ctx context.Context, profile *domain.StorageProfile, req domain.IssueRequest) (*domain.IssuedMaterial, error) {
	if m.IssueFn != nil {
		return m.IssueFn(ctx, profile, req)
	}
	panic("unexpected call to MockStorageBackend.Issue")
}

// Probe implements the interface method for testing.
func (m *MockStorageBackend) Probe(ctx context.Context, profile *domain.StorageProfile, material map[string]string, target domain.Location, action domain.StorageAction) (domain.ProbeResult, error) {
	if m.ProbeFn != nil {
		return m.ProbeFn(ctx, profile, material, target, action)
	}
	panic("unexpected call to MockStorageBackend.Probe")
}

// NewScopedStorageBackend returns a backend of type t that encodes the
// granted prefixes and actions into the material and enforces them on probe,
// so the vending self-check passes.
func NewScopedStorageBackend(t domain.StorageType) *MockStorageBackend {
	return &MockStorageBackend{
		TypeValue: t,
		IssueFn: func(_ context.Context, _ *domain.StorageProfile, req domain.IssueRequest) (*domain.IssuedMaterial, error) {
			var prefixes, actions []string
			for _, p := range req.Prefixes {
				prefixes = append(prefixes, p.Prefix())
			}
			for _, a := range req.Actions.Sorted() {
				actions = append(actions, string(a))
			}
			return &domain.IssuedMaterial{
				Material: map[string]string{
					"prefixes": strings.Join(prefixes, ","),
					"actions":  strings.Join(actions, ","),
				},
				ExpiresAt: time.Now().Add(req.TTL),
			}, nil
		},
		ProbeFn: func(_ context.Context, _ *domain.StorageProfile, m map[string]string, target domain.Location, action domain.StorageAction) (domain.ProbeResult, error) {
			if !strings.Contains(","+m["actions"]+",", ","+string(action)+",") {
				return domain.ProbeDenied, nil
			}
			for _, p := range strings.Split(m["prefixes"], ",") {
				if strings.HasPrefix(target.Prefix(), p) {
					return domain.ProbeAllowed, nil
				}
			}
			return domain.ProbeDenied, nil
		},
	}
}

// === API Key Repository Mock ===

// MockAPIKeyRepo implements domain.APIKeyRepository for testing.
type MockAPIKeyRepo struct {
	CreateFn         func(ctx context.Context, key *domain.APIKey) error
	GetByHashFn      func(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListForSubjectFn func(ctx context.Context, subjectID string) ([]domain.APIKey, error)
	DeleteFn         func(ctx context.Context, id string) error
}

var _ domain.APIKeyRepository = (*MockAPIKeyRepo)(nil)

// Create implements the interface method for testing.
func (m *MockAPIKeyRepo) Create(ctx context.Context, key *domain.APIKey) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, key)
	}
	panic("unexpected call to MockAPIKeyRepo.Create")
}

// GetByHash implements the interface method for testing.
func (m *MockAPIKeyRepo) GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	if m.GetByHashFn != nil {
		return m.GetByHashFn(ctx, keyHash)
	}
	panic("unexpected call to MockAPIKeyRepo.GetByHash")
}

// ListForSubject implements the interface method for testing.
func (m *MockAPIKeyRepo) ListForSubject(ctx context.Context, subjectID string) ([]domain.APIKey, error) {
	if m.ListForSubjectFn != nil {
		return m.ListForSubjectFn(ctx, subjectID)
	}
	panic("unexpected call to MockAPIKeyRepo.ListForSubject")
}

// Delete implements the interface method for testing.
func (m *MockAPIKeyRepo) Delete(ctx context.Context, id string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	panic("unexpected call to MockAPIKeyRepo.Delete")
}
