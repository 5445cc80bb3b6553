package db

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	write := buildDSN("/tmp/catalog.sqlite", PoolWrite)
	assert.Contains(t, write, "_journal_mode=WAL")
	assert.Contains(t, write, "_busy_timeout=5000")
	assert.Contains(t, write, "_foreign_keys=on")
	assert.Contains(t, write, "_txlock=immediate")
	assert.True(t, strings.HasPrefix(write, "/tmp/catalog.sqlite?"))

	read := buildDSN("/tmp/catalog.sqlite", PoolRead)
	assert.Contains(t, read, "_journal_mode=WAL")
	assert.NotContains(t, read, "_txlock")
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), "bogus", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpenSQLitePair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	writeDB, readDB, err := OpenSQLitePair(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = writeDB.Close()
		_ = readDB.Close()
	})

	assert.Equal(t, 1, writeDB.Stats().MaxOpenConnections)
	assert.Equal(t, defaultReadConns, readDB.Stats().MaxOpenConnections)

	var fk int
	require.NoError(t, writeDB.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	_, err = writeDB.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, val TEXT)")
	require.NoError(t, err)
	_, err = writeDB.Exec("INSERT INTO test (val) VALUES ('hello')")
	require.NoError(t, err)

	var val string
	require.NoError(t, readDB.QueryRow("SELECT val FROM test WHERE id = 1").Scan(&val))
	assert.Equal(t, "hello", val)
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	_, _, err := OpenSQLitePair("/nonexistent/dir/test.db", 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping sqlite")
}

func TestOpenSQLitePair_ConcurrentReadersDuringWrites(t *testing.T) {
	pools := OpenTestSQLite(t)

	_, err := pools.Write.Exec("CREATE TABLE counter (id INTEGER PRIMARY KEY, n INTEGER)")
	require.NoError(t, err)
	_, err = pools.Write.Exec("INSERT INTO counter (id, n) VALUES (1, 0)")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = pools.Write.Exec("UPDATE counter SET n = n + 1 WHERE id = 1")
		}(i)
		go func(idx int) {
			defer wg.Done()
			var n int
			errs[idx] = pools.Read.QueryRow("SELECT n FROM counter WHERE id = 1").Scan(&n)
		}(20 + i)
	}
	wg.Wait()
	for i, e := range errs {
		assert.NoError(t, e, "op %d failed", i)
	}

	var n int
	require.NoError(t, pools.Read.QueryRow("SELECT n FROM counter WHERE id = 1").Scan(&n))
	assert.Equal(t, 20, n)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	pools := OpenTestSQLite(t)

	require.NoError(t, RunMigrations(pools.Write, DialectSQLite))
	v, err := MigrationVersion(pools.Write, DialectSQLite)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, int64(1))

	for _, table := range []string{"projects", "warehouses", "namespaces", "tabulars", "metadata_documents", "relation_tuples", "api_keys", "audit_log"} {
		var name string
		err := pools.Read.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}
