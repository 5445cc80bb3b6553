// Package repository implements the catalog entity store, the embedded
// relation-tuple policy store, API keys, and the audit log on SQLite or
// Postgres.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"lake-catalog/internal/db"
	"lake-catalog/internal/domain"
)

// Postgres SQLSTATE codes the store reacts to.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgTooManyConnections   = "53300"
	pgAdminShutdown        = "57P01"
	pgCannotConnectNow     = "57P03"
)

// mapDBError translates driver errors into domain errors. Unique violations
// become ConflictError; busy, locked, serialization, and connection failures
// become StorageBackendError so callers can retry them.
func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return &domain.ConflictError{Message: "resource already exists"}
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return &domain.ConflictError{Message: "resource is still referenced"}
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return &domain.StorageBackendError{Message: "catalog database busy", Err: err}
		}
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &domain.ConflictError{Message: "resource already exists"}
		case pgForeignKeyViolation:
			return &domain.ConflictError{Message: "resource is still referenced"}
		case pgSerializationFailure, pgDeadlockDetected, pgTooManyConnections, pgAdminShutdown, pgCannotConnectNow:
			return &domain.StorageBackendError{Message: "catalog database unavailable", Err: err}
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.StorageBackendError{Message: "catalog database unavailable", Err: err}
	}
	return err
}

// conflictAs rewrites a mapped ConflictError with a specific message.
func conflictAs(err error, format string, args ...interface{}) error {
	var c *domain.ConflictError
	if errors.As(err, &c) {
		return domain.ErrConflict(format, args...)
	}
	return err
}

// notFoundAs rewrites a mapped NotFoundError with a specific message.
func notFoundAs(err error, format string, args ...interface{}) error {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return domain.ErrNotFound(format, args...)
	}
	return err
}

// store carries the pools shared by every repository.
type store struct {
	write          *sql.DB
	read           *sql.DB
	dialect        db.Dialect
	acquireTimeout time.Duration
	now            func() time.Time
}

func newStore(pools *db.Pools) store {
	acquire := pools.AcquireTimeout
	if acquire <= 0 {
		acquire = db.DefaultAcquireTimeout
	}
	return store{
		write:          pools.Write,
		read:           pools.Read,
		dialect:        pools.Dialect,
		acquireTimeout: acquire,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s store) q(query string) string { return s.dialect.Rebind(query) }

// inTx runs fn inside a write transaction and maps commit errors. Waiting
// for a write connection is bounded by ctx and the acquire timeout; once the
// transaction has begun, ctx cancellation no longer rolls it back.
func (s store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck

	tx, err := conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return mapDBError(err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return mapDBError(tx.Commit())
}

// acquire takes a connection from the write pool. An exhausted pool is a
// transient StorageBackendError, never an unbounded wait.
func (s store) acquire(ctx context.Context) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	conn, err := s.write.Conn(actx)
	if err == nil {
		return conn, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, &domain.StorageBackendError{Message: "no catalog database connection available", Err: err}
	}
	return nil, mapDBError(err)
}

func encodeProperties(props map[string]string) (string, error) {
	if props == nil {
		props = map[string]string{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(b), nil
}

func decodeProperties(raw string) (map[string]string, error) {
	props := map[string]string{}
	if raw == "" {
		return props, nil
	}
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return props, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func ptrInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func ptrString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
