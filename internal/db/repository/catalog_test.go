package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "lake-catalog/internal/db"
	"lake-catalog/internal/db/crypto"
	"lake-catalog/internal/domain"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func setupCatalogRepo(t *testing.T) (*CatalogRepo, *internaldb.Pools) {
	t.Helper()
	pools := internaldb.OpenTestSQLite(t)
	enc, err := crypto.NewEncryptor(testEncryptionKey)
	require.NoError(t, err)
	return NewCatalogRepo(pools, enc), pools
}

func s3Profile() domain.StorageProfile {
	return domain.StorageProfile{
		Type:          domain.StorageTypeS3,
		Bucket:        "lake",
		KeyPrefix:     "wh1",
		Region:        "eu-west-1",
		AssumeRoleARN: "arn:aws:iam::123456789012:role/catalog",
		Secret: domain.StorageSecret{
			AccessKeyID:     "AKIAEXAMPLE",
			SecretAccessKey: "super-secret-value",
		},
	}
}

// seedWarehouse creates a project and an active warehouse.
func seedWarehouse(t *testing.T, repo *CatalogRepo) (*domain.Project, *domain.Warehouse) {
	t.Helper()
	ctx := context.Background()
	p := &domain.Project{Name: "proj-" + domain.NewID()}
	require.NoError(t, repo.CreateProject(ctx, p))
	w := &domain.Warehouse{
		ProjectID:      p.ID,
		Name:           "wh",
		Status:         domain.WarehouseActive,
		StorageProfile: s3Profile(),
	}
	require.NoError(t, repo.CreateWarehouse(ctx, w))
	return p, w
}

func seedNamespace(t *testing.T, repo *CatalogRepo, w *domain.Warehouse, parentID, name string) *domain.Namespace {
	t.Helper()
	ns := &domain.Namespace{WarehouseID: w.ID, ParentID: parentID, Name: name}
	require.NoError(t, repo.CreateNamespace(context.Background(), ns))
	return ns
}

func seedTable(t *testing.T, repo *CatalogRepo, w *domain.Warehouse, ns *domain.Namespace, name string) *domain.Tabular {
	t.Helper()
	id := domain.NewID()
	loc := w.StorageProfile.Root().Join(ns.ID, id)
	tab := &domain.Tabular{
		ID:          id,
		Kind:        domain.TabularTable,
		WarehouseID: w.ID,
		NamespaceID: ns.ID,
		Name:        name,
		Location:    loc,
		Pointer: domain.MetadataPointer{
			MetadataLocation: loc.Join("metadata", domain.MetadataFileName(1)).String(),
			Version:          1,
		},
	}
	require.NoError(t, repo.CreateTabular(context.Background(), tab, []byte(`{"format-version":2}`)))
	return tab
}

func TestCatalogRepo_Projects(t *testing.T) {
	repo, _ := setupCatalogRepo(t)
	ctx := context.Background()

	p := &domain.Project{Name: "analytics"}
	require.NoError(t, repo.CreateProject(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	got, err := repo.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "analytics", got.Name)

	err = repo.CreateProject(ctx, &domain.Project{Name: "analytics"})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	_, err = repo.GetProject(ctx, domain.NewID())
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	list, err := repo.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCatalogRepo_WarehouseSecretSealed(t *testing.T) {
	repo, pools := setupCatalogRepo(t)
	ctx := context.Background()
	_, w := seedWarehouse(t, repo)

	var rawProfile, rawSecret string
	require.NoError(t, pools.Read.QueryRow(
		`SELECT storage_profile, storage_secret FROM warehouses WHERE id = ?`, w.ID).Scan(&rawProfile, &rawSecret))
	assert.NotContains(t, rawProfile, "super-secret-value")
	assert.NotContains(t, rawSecret, "super-secret-value")
	assert.NotEmpty(t, rawSecret)

	got, err := repo.GetWarehouse(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, s3Profile(), got.StorageProfile)
	assert.Equal(t, domain.WarehouseActive, got.Status)
	assert.Equal(t, domain.DeleteHard, got.DeleteProfile)
	assert.Equal(t, domain.DefaultMaxCredentialTTL, got.MaxCredentialTTL)
}

func TestCatalogRepo_WarehouseLifecycle(t *testing.T) {
	repo, _ := setupCatalogRepo(t)
	ctx := context.Background()
	p, w := seedWarehouse(t, repo)

	other := &domain.Warehouse{ProjectID: p.ID, Name: "other", StorageProfile: s3Profile(), MaxCredentialTTL: time.Hour}
	require.NoError(t, repo.CreateWarehouse(ctx, other))
	assert.Equal(t, domain.WarehouseInactive, other.Status)

	t.Run("rename conflict", func(t *testing.T) {
		err := repo.RenameWarehouse(ctx, other.ID, "wh")
		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
	})

	t.Run("status filter", func(t *testing.T) {
		active := domain.WarehouseActive
		list, err := repo.ListWarehouses(ctx, p.ID, &active)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, w.ID, list[0].ID)

		all, err := repo.ListWarehouses(ctx, p.ID, nil)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("update profile deactivates", func(t *testing.T) {
		prof := s3Profile()
		prof.KeyPrefix = "moved"
		require.NoError(t, repo.UpdateStorageProfile(ctx, w.ID, prof, domain.WarehouseInactive))
		got, err := repo.GetWarehouse(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, "moved", got.StorageProfile.KeyPrefix)
		assert.False(t, got.IsActive())
	})

	t.Run("protection", func(t *testing.T) {
		require.NoError(t, repo.SetWarehouseProtected(ctx, w.ID, true))
		got, err := repo.GetWarehouse(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, got.Protected)
	})

	t.Run("missing warehouse", func(t *testing.T) {
		err := repo.SetWarehouseStatus(ctx, domain.NewID(), domain.WarehouseActive)
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
	})
}

func TestCatalogRepo_DeleteWarehouse(t *testing.T) {
	repo, _ := setupCatalogRepo(t)
	ctx := context.Background()
	_, w := seedWarehouse(t, repo)
	ns := seedNamespace(t, repo, w, "", "sales")
	seedTable(t, repo, w, ns, "orders")

	err := repo.DeleteWarehouse(ctx, w.ID)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	_, err = repo.DropNamespace(ctx, ns.ID, true)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteWarehouse(ctx, w.ID))

	_, err = repo.GetWarehouse(ctx, w.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestCatalogRepo_Namespaces(t *testing.T) {
	repo, _ := setupCatalogRepo(t)
	ctx := context.Background()
	_, w := seedWarehouse(t, repo)

	sales := seedNamespace(t, repo, w, "", "sales")
	eu := seedNamespace(t, repo, w, sales.ID, "eu")
	assert.Equal(t, []string{"sales", "eu"}, eu.Path)

	t.Run("duplicate live name", func(t *testing.T) {
		err := repo.CreateNamespace(ctx, &domain.Namespace{WarehouseID: w.ID, ParentID: sales.ID, Name: "eu"})
		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
	})

	t.Run("list children", func(t *testing.T) {
		seedNamespace(t, repo, w, sales.ID, "apac")
		children, err := repo.ListNamespaces(ctx, w.ID, sales.ID)
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "apac", children[0].Name)
		assert.Equal(t, []string{"sales", "apac"}, children[0].Path)

		top, err := repo.ListNamespaces(ctx, w.ID, "")
		require.NoError(t, err)
		assert.Len(t, top, 1)
	})

	t.Run("properties", func(t *testing.T) {
		got, err := repo.UpdateNamespaceProperties(ctx, eu.ID, map[string]string{"owner": "ops", "tier": "gold"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "gold", got.Properties["tier"])

		got, err = repo.UpdateNamespaceProperties(ctx, eu.ID, nil, []string{"tier"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"owner": "ops"}, got.Properties)
	})

	t.Run("parent in other warehouse", func(t *testing.T) {
		_, w2 := seedWarehouse(t, repo)
		err := repo.CreateNamespace(ctx, &domain.Namespace{WarehouseID: w2.ID, ParentID: sales.ID, Name: "x"})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
	})
}

func TestCatalogRepo_DropNamespace(t *testing.T) {
	repo, _ := setupCatalogRepo(t)
	ctx := context.Background()
	_, w := seedWarehouse(t, repo)

	sales := seedNamespace(t, repo, w, "", "sales")
	eu := seedNamespace(t, repo, w, sales.ID, "eu")
	orders := seedTable(t, repo, w, eu, "orders")

	_, err := repo.DropNamespace(ctx, sales.ID, false)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	dropped, err := repo.DropNamespace(ctx, sales.ID, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.NodeRef{
		domain.NamespaceRef(sales.ID),
		domain.NamespaceRef(eu.ID),
		domain.TabularRef(domain.TabularTable, orders.ID),
	}, dropped)

	var nf *domain.NotFoundError
	_, err = repo.GetTabular(ctx, orders.ID)
	require.ErrorAs(t, err, &nf)
	_, err = repo.GetNamespace(ctx, eu.ID)
	require.ErrorAs(t, err, &nf)

	// The name is free again once the old namespace is soft-deleted.
	seedNamespace(t, repo, w, "", "sales")
}

func TestCatalogRepo_Tabulars(t *testing.T) {
	repo, _ := setupCatalogRepo(t)
	ctx := context.Background()
	_, w := seedWarehouse(t, repo)
	ns := seedNamespace(t, repo, w, "", "sales")
	other := seedNamespace(t, repo, w, "", "archive")
	orders := seedTable(t, repo, w, ns, "orders")

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetTabular(ctx, orders.ID)
		require.NoError(t, err)
		assert.Equal(t, orders.Pointer, got.Pointer)
		assert.Equal(t, orders.Location, got.Location)

		doc, err := repo.LoadMetadata(ctx, orders.ID, 1)
		require.NoError(t, err)
		assert.JSONEq(t, `{"format-version":2}`, string(doc))
	})

	t.Run("duplicate name", func(t *testing.T) {
		dup := *orders
		dup.ID = domain.NewID()
		dup.Location = w.StorageProfile.Root().Join(ns.ID, dup.ID)
		dup.Pointer.MetadataLocation = dup.Location.Join("metadata", domain.MetadataFileName(1)).String()
		err := repo.CreateTabular(ctx, &dup, []byte(`{}`))
		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
	})

	t.Run("list by kind", func(t *testing.T) {
		seedTable(t, repo, w, ns, "customers")
		tables, err := repo.ListTabulars(ctx, ns.ID, domain.TabularTable)
		require.NoError(t, err)
		assert.Len(t, tables, 2)
		views, err := repo.ListTabulars(ctx, ns.ID, domain.TabularView)
		require.NoError(t, err)
		assert.Empty(t, views)
	})

	t.Run("rename across namespaces", func(t *testing.T) {
		require.NoError(t, repo.RenameTabular(ctx, orders.ID, other.ID, "orders_2024"))
		got, err := repo.GetTabular(ctx, orders.ID)
		require.NoError(t, err)
		assert.Equal(t, other.ID, got.NamespaceID)
		assert.Equal(t, "orders_2024", got.Name)
		assert.Equal(t, orders.Location, got.Location)
	})

	t.Run("hard drop removes history", func(t *testing.T) {
		require.NoError(t, repo.DropTabular(ctx, orders.ID, true))
		_, err := repo.LoadMetadata(ctx, orders.ID, 1)
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
		require.ErrorAs(t, repo.DropTabular(ctx, orders.ID, true), &nf)
	})
}

func TestCatalogRepo_Ancestors(t *testing.T) {
	repo, _ := setupCatalogRepo(t)
	ctx := context.Background()
	p, w := seedWarehouse(t, repo)
	sales := seedNamespace(t, repo, w, "", "sales")
	eu := seedNamespace(t, repo, w, sales.ID, "eu")
	orders := seedTable(t, repo, w, eu, "orders")

	chain, err := repo.Ancestors(ctx, orders.Ref())
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeRef{
		orders.Ref(),
		domain.NamespaceRef(eu.ID),
		domain.NamespaceRef(sales.ID),
		domain.WarehouseRef(w.ID),
		domain.ProjectRef(p.ID),
		domain.ServerRef(),
	}, chain)

	chain, err = repo.Ancestors(ctx, domain.WarehouseRef(w.ID))
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeRef{domain.WarehouseRef(w.ID), domain.ProjectRef(p.ID), domain.ServerRef()}, chain)

	t.Run("wrong kind", func(t *testing.T) {
		_, err := repo.Ancestors(ctx, domain.TabularRef(domain.TabularView, orders.ID))
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
	})

	t.Run("dropped parent hides subtree", func(t *testing.T) {
		_, err := repo.DropNamespace(ctx, sales.ID, true)
		require.NoError(t, err)
		_, err = repo.Ancestors(ctx, domain.NamespaceRef(eu.ID))
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
	})
}

func TestCatalogRepo_SwapPointer(t *testing.T) {
	repo, _ := setupCatalogRepo(t)
	ctx := context.Background()
	_, w := seedWarehouse(t, repo)
	ns := seedNamespace(t, repo, w, "", "sales")
	orders := seedTable(t, repo, w, ns, "orders")

	next := domain.MetadataPointer{
		MetadataLocation: orders.Location.Join("metadata", domain.MetadataFileName(2)).String(),
		Version:          2,
		SchemaID:         1,
	}

	err := repo.InCommitTx(ctx, func(ctx context.Context, tx domain.CommitTx) error {
		cur, err := tx.ReadTabular(ctx, orders.ID)
		require.NoError(t, err)
		ok, err := tx.SwapPointer(ctx, orders.ID, cur.Pointer.Version, next, []byte(`{"v":2}`))
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	ptr, err := repo.ReadPointer(ctx, orders.ID)
	require.NoError(t, err)
	assert.Equal(t, next, ptr)

	t.Run("stale version", func(t *testing.T) {
		err := repo.InCommitTx(ctx, func(ctx context.Context, tx domain.CommitTx) error {
			ok, err := tx.SwapPointer(ctx, orders.ID, 1, domain.MetadataPointer{
				MetadataLocation: orders.Location.Join("metadata", domain.MetadataFileName(2)).String(),
				Version:          2,
			}, []byte(`{}`))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
		require.NoError(t, err)
		ptr, err := repo.ReadPointer(ctx, orders.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), ptr.Version)
	})

	t.Run("rollback on error", func(t *testing.T) {
		third := domain.MetadataPointer{
			MetadataLocation: orders.Location.Join("metadata", domain.MetadataFileName(3)).String(),
			Version:          3,
		}
		err := repo.InCommitTx(ctx, func(ctx context.Context, tx domain.CommitTx) error {
			ok, err := tx.SwapPointer(ctx, orders.ID, 2, third, []byte(`{}`))
			require.NoError(t, err)
			require.True(t, ok)
			return domain.ErrValidation("abort")
		})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)

		ptr, err := repo.ReadPointer(ctx, orders.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), ptr.Version)
		_, err = repo.LoadMetadata(ctx, orders.ID, 3)
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
	})
}

func TestCatalogRepo_InCommitTxBoundsConnectionWait(t *testing.T) {
	pools := internaldb.OpenTestSQLite(t)
	pools.AcquireTimeout = 50 * time.Millisecond
	enc, err := crypto.NewEncryptor(testEncryptionKey)
	require.NoError(t, err)
	repo := NewCatalogRepo(pools, enc)

	held, err := pools.Write.Conn(context.Background())
	require.NoError(t, err)
	defer held.Close() //nolint:errcheck

	called := false
	start := time.Now()
	err = repo.InCommitTx(context.Background(), func(context.Context, domain.CommitTx) error {
		called = true
		return nil
	})
	var sbe *domain.StorageBackendError
	require.ErrorAs(t, err, &sbe)
	assert.False(t, called)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, held.Close())
	err = repo.InCommitTx(context.Background(), func(context.Context, domain.CommitTx) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
