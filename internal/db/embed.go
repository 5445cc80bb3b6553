package db

import "embed"

// EmbedMigrations holds the catalog schema migrations. Every file runs
// unchanged on SQLite and Postgres.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
