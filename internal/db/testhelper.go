package db

import (
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a hardened SQLite pool pair in t.TempDir(), runs all
// pending migrations on the write pool, and registers cleanup.
func OpenTestSQLite(t *testing.T) *Pools {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.sqlite")

	writeDB, readDB, err := OpenSQLitePair(path, 4)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})

	if err := RunMigrations(writeDB, DialectSQLite); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return &Pools{Write: writeDB, Read: readDB, Dialect: DialectSQLite}
}
