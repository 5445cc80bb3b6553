package db

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// RunMigrations executes all pending goose migrations against the catalog
// database. The migration files are written to run on both dialects.
func RunMigrations(db *sql.DB, dialect Dialect) error {
	goose.SetBaseFS(EmbedMigrations)

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// MigrationVersion returns the currently applied migration version.
func MigrationVersion(db *sql.DB, dialect Dialect) (int64, error) {
	goose.SetBaseFS(EmbedMigrations)
	if err := goose.SetDialect(string(dialect)); err != nil {
		return 0, fmt.Errorf("goose set dialect: %w", err)
	}
	v, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	return v, nil
}
