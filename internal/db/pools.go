package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect is the SQL dialect of the catalog database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a DB_DRIVER value to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q: must be sqlite or postgres", driver)
	}
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax.
// Queries must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// DefaultAcquireTimeout bounds the wait for a write connection when the
// pool is exhausted.
const DefaultAcquireTimeout = 5 * time.Second

// Pools holds the write and read handles of the catalog database. For
// Postgres both point at the same pool.
type Pools struct {
	Write   *sql.DB
	Read    *sql.DB
	Dialect Dialect
	// AcquireTimeout caps how long a write transaction waits for a pooled
	// connection. Zero means DefaultAcquireTimeout.
	AcquireTimeout time.Duration
}

// Open connects to the catalog database described by driver and dsn.
// For SQLite, dsn is the database file path.
func Open(ctx context.Context, driver, dsn string, maxOpen int) (*Pools, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case DialectPostgres:
		pg, err := OpenPostgres(ctx, dsn, maxOpen)
		if err != nil {
			return nil, err
		}
		return &Pools{Write: pg, Read: pg, Dialect: dialect}, nil
	default:
		w, r, err := OpenSQLitePair(dsn, maxOpen)
		if err != nil {
			return nil, err
		}
		return &Pools{Write: w, Read: r, Dialect: dialect}, nil
	}
}

// Close closes both pools.
func (p *Pools) Close() error {
	if p.Read == p.Write {
		return p.Write.Close()
	}
	return errors.Join(p.Read.Close(), p.Write.Close())
}
