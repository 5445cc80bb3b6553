package commit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "lake-catalog/internal/db"
	"lake-catalog/internal/db/crypto"
	"lake-catalog/internal/db/repository"
	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/location"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type fixture struct {
	pools *internaldb.Pools
	repo  *repository.CatalogRepo
	coord *Coordinator
	wh    *domain.Warehouse
	ns    *domain.Namespace
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	enc, err := crypto.NewEncryptor(testEncryptionKey)
	require.NoError(t, err)
	pools := internaldb.OpenTestSQLite(t)
	repo := repository.NewCatalogRepo(pools, enc)

	p := &domain.Project{Name: "analytics"}
	require.NoError(t, repo.CreateProject(ctx, p))
	w := &domain.Warehouse{
		ProjectID: p.ID,
		Name:      "lake",
		Status:    domain.WarehouseActive,
		StorageProfile: domain.StorageProfile{
			Type:          domain.StorageTypeS3,
			Bucket:        "lake",
			KeyPrefix:     "w1",
			Region:        "eu-west-1",
			AssumeRoleARN: "arn:aws:iam::123456789012:role/catalog",
		},
	}
	require.NoError(t, repo.CreateWarehouse(ctx, w))
	ns := &domain.Namespace{WarehouseID: w.ID, Name: "sales"}
	require.NoError(t, repo.CreateNamespace(ctx, ns))

	cfg := Config{Retries: 2, Backoff: time.Millisecond}
	return &fixture{pools: pools, repo: repo, coord: NewCoordinator(repo, cfg, nil), wh: w, ns: ns}
}

func orderSchema() domain.Schema {
	return domain.Schema{Fields: []domain.SchemaField{
		{ID: 1, Name: "id", Type: json.RawMessage(`"long"`), Required: true},
		{ID: 2, Name: "amount", Type: json.RawMessage(`"double"`)},
	}}
}

func (f *fixture) createTable(t *testing.T, name string) *domain.Tabular {
	t.Helper()
	id := domain.NewID()
	loc := location.ForNewTabular(f.wh, f.ns.ID, id)
	meta := NewTableMetadata(domain.CreateTableRequest{Name: name, Schema: orderSchema()}, domain.NewID(), loc, time.Now())
	ptr, doc, err := InitialTable(meta, loc)
	require.NoError(t, err)
	tab := &domain.Tabular{
		ID: id, Kind: domain.TabularTable, WarehouseID: f.wh.ID, NamespaceID: f.ns.ID,
		Name: name, Location: loc, Pointer: ptr,
	}
	require.NoError(t, f.coord.CreateInitial(context.Background(), tab, doc))
	return tab
}

func (f *fixture) createView(t *testing.T, name string) *domain.Tabular {
	t.Helper()
	id := domain.NewID()
	loc := location.ForNewTabular(f.wh, f.ns.ID, id)
	meta := NewViewMetadata(domain.CreateViewRequest{
		Name:   name,
		Schema: orderSchema(),
		Version: domain.ViewVersion{
			Representations:  []domain.ViewRepresentation{{Type: "sql", SQL: "SELECT id FROM orders", Dialect: "spark"}},
			DefaultNamespace: []string{"sales"},
		},
	}, domain.NewID(), loc, time.Now())
	ptr, doc, err := InitialView(meta, loc)
	require.NoError(t, err)
	v := &domain.Tabular{
		ID: id, Kind: domain.TabularView, WarehouseID: f.wh.ID, NamespaceID: f.ns.ID,
		Name: name, Location: loc, Pointer: ptr,
	}
	require.NoError(t, f.coord.CreateInitial(context.Background(), v, doc))
	return v
}

func setProps(kv map[string]string) domain.Update {
	return domain.Update{Action: domain.UpdateSetProperties, Updates: kv}
}

func assertLocation(loc string) domain.Requirement {
	return domain.Requirement{Type: domain.AssertMetadataLocation, MetadataLocation: loc}
}

func TestCommit_AdvancesPointer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tab := f.createTable(t, "orders")

	res, err := f.coord.Commit(ctx, tab.ID, domain.TabularTable, domain.CommitRequest{
		Requirements: []domain.Requirement{assertLocation(tab.Pointer.MetadataLocation)},
		Updates:      []domain.Update{setProps(map[string]string{"owner": "finance"})},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Pointer.Version)
	assert.NotEqual(t, tab.Pointer.MetadataLocation, res.Pointer.MetadataLocation)
	assert.True(t, domain.Location(res.Pointer.MetadataLocation).IsBeneath(location.MetadataPrefix(tab.Location)))

	stored, err := f.repo.ReadPointer(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Pointer, stored)

	var meta domain.TableMetadata
	require.NoError(t, json.Unmarshal(res.Metadata, &meta))
	assert.Equal(t, "finance", meta.Properties["owner"])
	require.Len(t, meta.MetadataLog, 1)
	assert.Equal(t, tab.Pointer.MetadataLocation, meta.MetadataLog[0].MetadataFile)

	// Every version stays readable.
	doc, err := f.repo.LoadMetadata(ctx, tab.ID, 1)
	require.NoError(t, err)
	assert.NotContains(t, string(doc), "finance")
}

func TestCommit_StaleRequirementConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tab := f.createTable(t, "orders")
	v1 := tab.Pointer.MetadataLocation

	_, err := f.coord.Commit(ctx, tab.ID, domain.TabularTable, domain.CommitRequest{
		Requirements: []domain.Requirement{assertLocation(v1)},
		Updates:      []domain.Update{setProps(map[string]string{"a": "1"})},
	})
	require.NoError(t, err)

	_, err = f.coord.Commit(ctx, tab.ID, domain.TabularTable, domain.CommitRequest{
		Requirements: []domain.Requirement{assertLocation(v1)},
		Updates:      []domain.Update{setProps(map[string]string{"b": "2"})},
	})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.Current)
	assert.Equal(t, int64(2), conflict.Current.Version)

	ptr, err := f.repo.ReadPointer(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ptr.Version)
}

func TestCommit_ConcurrentWritersOneWins(t *testing.T) {
	f := setup(t)
	tab := f.createTable(t, "orders")

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.coord.Commit(context.Background(), tab.ID, domain.TabularTable, domain.CommitRequest{
				Requirements: []domain.Requirement{assertLocation(tab.Pointer.MetadataLocation)},
				Updates:      []domain.Update{setProps(map[string]string{"writer": string(rune('a' + i))})},
			})
			mu.Lock()
			defer mu.Unlock()
			var conflict *domain.ConflictError
			switch {
			case err == nil:
				wins++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
	ptr, err := f.repo.ReadPointer(context.Background(), tab.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ptr.Version)
}

func TestCommit_InvalidRequestTouchesNothing(t *testing.T) {
	store := &scriptedStore{}
	c := NewCoordinator(store, Config{Retries: 2, Backoff: time.Millisecond}, nil)

	_, err := c.Commit(context.Background(), "t1", domain.TabularTable, domain.CommitRequest{})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = c.Commit(context.Background(), "t1", domain.TabularTable, domain.CommitRequest{
		Updates: []domain.Update{{Action: domain.UpdateAddViewVersion}},
	})
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, store.txCalls)
}

func TestCommit_FailedUpdateLeavesPointer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tab := f.createTable(t, "orders")

	missing := 42
	_, err := f.coord.Commit(ctx, tab.ID, domain.TabularTable, domain.CommitRequest{
		Updates: []domain.Update{
			setProps(map[string]string{"a": "1"}),
			{Action: domain.UpdateSetCurrentSchema, SchemaID: &missing},
		},
	})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "update 1")

	ptr, err := f.repo.ReadPointer(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, tab.Pointer, ptr)
}

func TestCommit_KindMismatchIsNotFound(t *testing.T) {
	f := setup(t)
	v := f.createView(t, "recent_orders")

	_, err := f.coord.Commit(context.Background(), v.ID, domain.TabularTable, domain.CommitRequest{
		Updates: []domain.Update{setProps(map[string]string{"a": "1"})},
	})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestCommit_ViewVersion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	v := f.createView(t, "recent_orders")

	wider := orderSchema()
	wider.Fields = append(wider.Fields, domain.SchemaField{ID: 3, Name: "region", Type: json.RawMessage(`"string"`)})
	last := domain.LastAddedID
	res, err := f.coord.Commit(ctx, v.ID, domain.TabularView, domain.CommitRequest{
		Requirements: []domain.Requirement{assertLocation(v.Pointer.MetadataLocation)},
		Updates: []domain.Update{
			{Action: domain.UpdateAddSchema, Schema: &wider},
			{Action: domain.UpdateAddViewVersion, ViewVersion: &domain.ViewVersion{
				SchemaID:         domain.LastAddedID,
				Representations:  []domain.ViewRepresentation{{Type: "sql", SQL: "SELECT id, region FROM orders", Dialect: "spark"}},
				DefaultNamespace: []string{"sales"},
			}},
			{Action: domain.UpdateSetCurrentViewVersion, ViewVersionID: &last},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Pointer.Version)
	assert.Equal(t, 1, res.Pointer.SchemaID)

	var meta domain.ViewMetadata
	require.NoError(t, json.Unmarshal(res.Metadata, &meta))
	assert.Equal(t, 2, meta.CurrentVersionID)
	assert.Len(t, meta.VersionLog, 2)
}

func TestCommit_AppendSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tab := f.createTable(t, "orders")

	snapID := int64(3051729675574597004)
	res, err := f.coord.Commit(ctx, tab.ID, domain.TabularTable, domain.CommitRequest{
		Requirements: []domain.Requirement{{Type: domain.AssertRefSnapshotID, Ref: domain.MainRef}},
		Updates: []domain.Update{
			{Action: domain.UpdateAddSnapshot, Snapshot: &domain.Snapshot{
				SnapshotID:   snapID,
				ManifestList: string(location.MetadataPrefix(tab.Location).Join("snap-1.avro")),
			}},
			{Action: domain.UpdateSetSnapshotRef, RefName: domain.MainRef, RefType: domain.RefBranch, SnapshotID: &snapID},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Pointer.CurrentSnapshotID)
	assert.Equal(t, snapID, *res.Pointer.CurrentSnapshotID)

	// A second writer that also expected main to be absent loses.
	_, err = f.coord.Commit(ctx, tab.ID, domain.TabularTable, domain.CommitRequest{
		Requirements: []domain.Requirement{{Type: domain.AssertRefSnapshotID, Ref: domain.MainRef}},
		Updates:      []domain.Update{setProps(map[string]string{"a": "1"})},
	})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Error(), "main")
}

// scriptedStore drives the coordinator without a database.
type scriptedStore struct {
	mu        sync.Mutex
	txCalls   int
	failures  int
	swapFails bool
	pointer   domain.MetadataPointer
	document  []byte
}

func (s *scriptedStore) InCommitTx(ctx context.Context, fn func(ctx context.Context, tx domain.CommitTx) error) error {
	s.mu.Lock()
	s.txCalls++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return &domain.StorageBackendError{Message: "catalog database busy"}
	}
	s.mu.Unlock()
	return fn(ctx, s)
}

func (s *scriptedStore) ReadPointer(context.Context, string) (domain.MetadataPointer, error) {
	return domain.MetadataPointer{MetadataLocation: "s3://lake/w1/n1/t1/metadata/00007-x.metadata.json", Version: 7}, nil
}

func (s *scriptedStore) CreateTabular(context.Context, *domain.Tabular, []byte) error { return nil }

func (s *scriptedStore) ReadTabular(_ context.Context, id string) (*domain.Tabular, error) {
	return &domain.Tabular{ID: id, Kind: domain.TabularTable, Location: "s3://lake/w1/n1/t1", Pointer: s.pointer}, nil
}

func (s *scriptedStore) ReadMetadata(context.Context, string, int64) ([]byte, error) {
	return s.document, nil
}

func (s *scriptedStore) SwapPointer(context.Context, string, int64, domain.MetadataPointer, []byte) (bool, error) {
	return !s.swapFails, nil
}

func newScripted(t *testing.T) *scriptedStore {
	t.Helper()
	loc := domain.Location("s3://lake/w1/n1/t1")
	meta := NewTableMetadata(domain.CreateTableRequest{Name: "t", Schema: orderSchema()}, "uuid-1", loc, time.Now())
	ptr, doc, err := InitialTable(meta, loc)
	require.NoError(t, err)
	return &scriptedStore{pointer: ptr, document: doc}
}

func TestCommit_RetriesTransientStoreFailures(t *testing.T) {
	store := newScripted(t)
	store.failures = 2
	c := NewCoordinator(store, Config{Retries: 2, Backoff: time.Millisecond}, nil)

	res, err := c.Commit(context.Background(), "t1", domain.TabularTable, domain.CommitRequest{
		Updates: []domain.Update{setProps(map[string]string{"a": "1"})},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Pointer.Version)
	assert.Equal(t, 3, store.txCalls)
}

func TestCommit_GivesUpAfterRetries(t *testing.T) {
	store := newScripted(t)
	store.failures = 10
	c := NewCoordinator(store, Config{Retries: 2, Backoff: time.Millisecond}, nil)

	_, err := c.Commit(context.Background(), "t1", domain.TabularTable, domain.CommitRequest{
		Updates: []domain.Update{setProps(map[string]string{"a": "1"})},
	})
	var sbe *domain.StorageBackendError
	require.ErrorAs(t, err, &sbe)
	assert.Equal(t, 3, store.txCalls)
}

func TestCommit_LostSwapReportsCurrentPointer(t *testing.T) {
	store := newScripted(t)
	store.swapFails = true
	c := NewCoordinator(store, Config{Retries: 2, Backoff: time.Millisecond}, nil)

	_, err := c.Commit(context.Background(), "t1", domain.TabularTable, domain.CommitRequest{
		Updates: []domain.Update{setProps(map[string]string{"a": "1"})},
	})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.Current)
	assert.Equal(t, int64(7), conflict.Current.Version)
	assert.Equal(t, 1, store.txCalls, "conflicts are not retried")
}

func TestCommit_IgnoresCallerCancellation(t *testing.T) {
	store := newScripted(t)
	c := NewCoordinator(store, Config{Retries: 0, Backoff: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Commit(ctx, "t1", domain.TabularTable, domain.CommitRequest{
		Updates: []domain.Update{setProps(map[string]string{"a": "1"})},
	})
	require.NoError(t, err)
}

func TestCommit_ExhaustedPoolHonorsDeadline(t *testing.T) {
	f := setup(t)
	tab := f.createTable(t, "orders")

	held, err := f.pools.Write.Conn(context.Background())
	require.NoError(t, err)
	defer held.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = f.coord.Commit(ctx, tab.ID, domain.TabularTable, domain.CommitRequest{
		Updates: []domain.Update{setProps(map[string]string{"a": "1"})},
	})
	var sbe *domain.StorageBackendError
	require.ErrorAs(t, err, &sbe)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.NoError(t, held.Close())
	got, err := f.repo.GetTabular(context.Background(), tab.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Pointer.Version)
}

// gatedStore blocks every commit transaction until want of them are open.
type gatedStore struct {
	*scriptedStore
	mu      sync.Mutex
	open    int
	want    int
	allOpen chan struct{}
}

func (g *gatedStore) InCommitTx(ctx context.Context, fn func(ctx context.Context, tx domain.CommitTx) error) error {
	g.mu.Lock()
	g.open++
	if g.open == g.want {
		close(g.allOpen)
	}
	g.mu.Unlock()
	select {
	case <-g.allOpen:
	case <-time.After(2 * time.Second):
		return errors.New("commit transactions were serialized")
	}
	return fn(ctx, g.scriptedStore)
}

func TestCommit_IndependentTablesDoNotSerialize(t *testing.T) {
	store := &gatedStore{scriptedStore: newScripted(t), want: 2, allOpen: make(chan struct{})}
	c := NewCoordinator(store, Config{Retries: 0, Backoff: time.Millisecond}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"t1", "t2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Commit(context.Background(), id, domain.TabularTable, domain.CommitRequest{
				Updates: []domain.Update{setProps(map[string]string{"a": "1"})},
			})
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
}
