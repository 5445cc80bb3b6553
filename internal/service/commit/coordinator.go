// Package commit publishes new metadata versions of tables and views with an
// optimistic pointer swap.
package commit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"lake-catalog/internal/domain"
)

// maxMetadataLog bounds the metadata-log carried in a table document.
const maxMetadataLog = 100

var errVersionMoved = errors.New("pointer version moved")

// Config tunes the retry of transient store failures.
type Config struct {
	Retries int
	Backoff time.Duration
}

// DefaultConfig returns the commit retry defaults.
func DefaultConfig() Config {
	return Config{Retries: 3, Backoff: 20 * time.Millisecond}
}

// Store is what the coordinator needs from the entity store.
type Store interface {
	domain.PointerStore
	CreateTabular(ctx context.Context, t *domain.Tabular, document []byte) error
}

// Coordinator serializes commits to one table or view through a
// compare-and-swap on its pointer version.
type Coordinator struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store Store, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, cfg: cfg, logger: logger.With("component", "commit"), now: time.Now}
}

// CreateInitial persists a new table or view with its version-1 document.
func (c *Coordinator) CreateInitial(ctx context.Context, t *domain.Tabular, document []byte) error {
	if t.Pointer.Version != 1 {
		return fmt.Errorf("initial pointer must be version 1, got %d", t.Pointer.Version)
	}
	submit, cancel := submitContext(ctx)
	defer cancel()
	return c.withRetry(context.WithoutCancel(ctx), func(context.Context) error {
		return c.store.CreateTabular(submit, t, document)
	})
}

// submitContext detaches ctx from caller cancellation but keeps its
// deadline, so waiting on an exhausted store still gives up in time. The
// store drops the deadline too once a transaction has begun.
func submitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return detached, func() {}
}

// Commit applies req to the table or view id of the given kind. Malformed
// requests fail before any store access. Once submitted, caller
// cancellation no longer aborts the commit; the caller's deadline still
// bounds the wait for a store connection.
func (c *Coordinator) Commit(ctx context.Context, id string, kind domain.TabularKind, req domain.CommitRequest) (*domain.CommitResult, error) {
	if err := req.Validate(kind); err != nil {
		return nil, err
	}
	submit, cancel := submitContext(ctx)
	defer cancel()
	ctx = context.WithoutCancel(ctx)

	var result *domain.CommitResult
	err := c.withRetry(ctx, func(context.Context) error {
		var err error
		result, err = c.attempt(submit, id, kind, req)
		return err
	})
	if errors.Is(err, errVersionMoved) {
		current, rerr := c.store.ReadPointer(ctx, id)
		if rerr != nil {
			return nil, rerr
		}
		c.logger.Debug("commit lost race", "id", id, "current_version", current.Version)
		return nil, domain.ErrCommitConflict(current, "%s %s was modified concurrently; current version is %d", kind, id, current.Version)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Debug("commit applied", "id", id, "version", result.Pointer.Version)
	return result, nil
}

func (c *Coordinator) attempt(ctx context.Context, id string, kind domain.TabularKind, req domain.CommitRequest) (*domain.CommitResult, error) {
	var result *domain.CommitResult
	err := c.store.InCommitTx(ctx, func(ctx context.Context, tx domain.CommitTx) error {
		t, err := tx.ReadTabular(ctx, id)
		if err != nil {
			return err
		}
		if t.Kind != kind {
			return domain.ErrNotFound("%s %q not found", kind, id)
		}
		doc, err := tx.ReadMetadata(ctx, id, t.Pointer.Version)
		if err != nil {
			return err
		}

		now := c.now().UTC()
		next := domain.MetadataPointer{
			MetadataLocation: MetadataLocation(t.Location, t.Pointer.Version+1),
			Version:          t.Pointer.Version + 1,
		}
		var encoded []byte
		if kind == domain.TabularView {
			encoded, err = commitView(t.Pointer, doc, req, now, &next)
		} else {
			encoded, err = commitTable(t.Pointer, doc, req, now, &next)
		}
		if err != nil {
			return err
		}

		ok, err := tx.SwapPointer(ctx, id, t.Pointer.Version, next, encoded)
		if err != nil {
			return err
		}
		if !ok {
			return errVersionMoved
		}
		result = &domain.CommitResult{Pointer: next, Metadata: encoded}
		return nil
	})
	return result, err
}

func commitTable(ptr domain.MetadataPointer, doc []byte, req domain.CommitRequest, now time.Time, next *domain.MetadataPointer) ([]byte, error) {
	var current domain.TableMetadata
	if err := json.Unmarshal(doc, &current); err != nil {
		return nil, fmt.Errorf("decode table metadata: %w", err)
	}
	if err := CheckTableRequirements(ptr, &current, req.Requirements); err != nil {
		return nil, err
	}
	updated, err := ApplyTableUpdates(&current, req.Updates, now)
	if err != nil {
		return nil, err
	}
	updated.MetadataLog = append(updated.MetadataLog, domain.MetadataLogEntry{
		MetadataFile: ptr.MetadataLocation,
		TimestampMs:  current.LastUpdatedMs,
	})
	if n := len(updated.MetadataLog); n > maxMetadataLog {
		updated.MetadataLog = updated.MetadataLog[n-maxMetadataLog:]
	}
	next.SchemaID = updated.CurrentSchemaID
	next.CurrentSnapshotID = updated.CurrentSnapshotID
	return json.Marshal(updated)
}

func commitView(ptr domain.MetadataPointer, doc []byte, req domain.CommitRequest, now time.Time, next *domain.MetadataPointer) ([]byte, error) {
	var current domain.ViewMetadata
	if err := json.Unmarshal(doc, &current); err != nil {
		return nil, fmt.Errorf("decode view metadata: %w", err)
	}
	if err := CheckViewRequirements(ptr, &current, req.Requirements); err != nil {
		return nil, err
	}
	updated, err := ApplyViewUpdates(&current, req.Updates, now)
	if err != nil {
		return nil, err
	}
	if v, ok := updated.CurrentVersion(); ok {
		next.SchemaID = v.SchemaID
	}
	return json.Marshal(updated)
}

// withRetry retries fn while the store reports a transient failure.
// Conflicts and every other error are returned at once.
func (c *Coordinator) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(c.cfg.Retries), retry.NewExponential(c.cfg.Backoff))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		var sbe *domain.StorageBackendError
		if errors.As(err, &sbe) {
			c.logger.Warn("transient store failure, retrying", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	var sbe *domain.StorageBackendError
	if errors.As(err, &sbe) && attempt > c.cfg.Retries {
		return &domain.StorageBackendError{Message: fmt.Sprintf("store unavailable after %d attempts", attempt), Err: err}
	}
	return err
}
