// Package authz implements the authorization gate: hierarchical
// relationship checks delegated to the policy service.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"lake-catalog/internal/domain"
)

// Config bounds calls to the policy service.
type Config struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// Backoff is the base delay of the exponential backoff between attempts.
	Backoff time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{Retries: 3, Backoff: 50 * time.Millisecond, Timeout: 2 * time.Second}
}

// Gate answers "may subject perform action on object". A grant on any
// ancestor applies to every descendant; the nearest explicit grant or deny
// wins; no relation anywhere on the chain denies.
type Gate struct {
	hierarchy domain.HierarchyReader
	policy    domain.PolicyClient
	cfg       Config
	logger    *slog.Logger
}

// NewGate creates a Gate.
func NewGate(hierarchy domain.HierarchyReader, policy domain.PolicyClient, cfg Config, logger *slog.Logger) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{hierarchy: hierarchy, policy: policy, cfg: cfg, logger: logger}
}

// Check evaluates one decision. A missing object returns Deny together with
// the NotFoundError from the hierarchy.
func (g *Gate) Check(ctx context.Context, subject domain.Subject, action domain.Action, object domain.NodeRef) (domain.Decision, error) {
	if subject.IsAdmin {
		return domain.Allow, nil
	}
	chain, err := g.hierarchy.Ancestors(ctx, object)
	if err != nil {
		return domain.Deny, err
	}
	decisions, err := g.evaluate(ctx, subject, action, [][]domain.NodeRef{chain})
	if err != nil {
		return domain.Deny, err
	}
	g.logger.Debug("authorization decision",
		"subject", subject.String(), "action", action, "object", object.String(), "allow", bool(decisions[0]))
	return decisions[0], nil
}

// BatchCheck evaluates one decision per object with a single logical policy
// request. Objects that no longer exist are denied.
func (g *Gate) BatchCheck(ctx context.Context, subject domain.Subject, action domain.Action, objects []domain.NodeRef) ([]domain.Decision, error) {
	out := make([]domain.Decision, len(objects))
	if len(objects) == 0 {
		return out, nil
	}
	if subject.IsAdmin {
		for i := range out {
			out[i] = domain.Allow
		}
		return out, nil
	}

	chains := make([][]domain.NodeRef, len(objects))
	for i, obj := range objects {
		chain, err := g.hierarchy.Ancestors(ctx, obj)
		var nf *domain.NotFoundError
		switch {
		case errors.As(err, &nf):
			continue
		case err != nil:
			return nil, err
		}
		chains[i] = chain
	}

	decisions, err := g.evaluate(ctx, subject, action, chains)
	if err != nil {
		return nil, err
	}
	copy(out, decisions)
	return out, nil
}

// Authorize turns a Deny into the error the caller should see. With
// DenyAsNotFound every denial hides existence. With DenyAsForbidden the
// subject gets AccessDeniedError only if it may describe the object.
func (g *Gate) Authorize(ctx context.Context, subject domain.Subject, action domain.Action, object domain.NodeRef, mode domain.DenialMode) error {
	d, err := g.Check(ctx, subject, action, object)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return notFound(object)
		}
		return err
	}
	if d == domain.Allow {
		return nil
	}
	if mode == domain.DenyAsForbidden && action != domain.ActionDescribe {
		visible, err := g.Check(ctx, subject, domain.ActionDescribe, object)
		if err != nil {
			return err
		}
		if visible == domain.Allow {
			return domain.ErrAccessDenied("%s on %s is not permitted", action, object.Kind)
		}
	}
	return notFound(object)
}

func notFound(object domain.NodeRef) error {
	return domain.ErrNotFound("%s %q not found", object.Kind, object.ID)
}

type queryKey struct {
	relation domain.Relation
	object   domain.NodeRef
}

// evaluate resolves decisions for every chain from one de-duplicated batch
// of relation queries. A nil chain is denied without a query.
func (g *Gate) evaluate(ctx context.Context, subject domain.Subject, action domain.Action, chains [][]domain.NodeRef) ([]domain.Decision, error) {
	grants := domain.ImplyingRelations(action)
	if len(grants) == 0 {
		return nil, domain.ErrValidation("unknown action %q", action)
	}
	deny := domain.DenyRelation(action)

	index := map[queryKey]int{}
	var queries []domain.RelationQuery
	add := func(rel domain.Relation, obj domain.NodeRef) {
		k := queryKey{relation: rel, object: obj}
		if _, ok := index[k]; ok {
			return
		}
		index[k] = len(queries)
		queries = append(queries, domain.RelationQuery{Subject: subject, Relation: rel, Object: obj})
	}
	for _, chain := range chains {
		for _, node := range chain {
			add(deny, node)
			for _, rel := range grants {
				add(rel, node)
			}
		}
	}

	out := make([]domain.Decision, len(chains))
	if len(queries) == 0 {
		return out, nil
	}
	answers, err := g.batchQuery(ctx, queries)
	if err != nil {
		return nil, err
	}
	has := func(rel domain.Relation, obj domain.NodeRef) bool {
		return answers[index[queryKey{relation: rel, object: obj}]]
	}

	for i, chain := range chains {
		out[i] = domain.Deny
	levels:
		for _, node := range chain {
			if has(deny, node) {
				break
			}
			for _, rel := range grants {
				if has(rel, node) {
					out[i] = domain.Allow
					break levels
				}
			}
		}
	}
	return out, nil
}

// batchQuery sends qs to the policy service, split into chunks of at most
// MaxBatchSize issued concurrently. Failed attempts are retried with
// exponential backoff; once retries are exhausted the request fails closed.
func (g *Gate) batchQuery(ctx context.Context, qs []domain.RelationQuery) ([]bool, error) {
	var answers []bool
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(g.cfg.Retries), retry.NewExponential(g.cfg.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		res, err := g.fanOut(attemptCtx, qs)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.Warn("policy service query failed", "attempt", attempt, "queries", len(qs), "error", err)
			return retry.RetryableError(err)
		}
		answers = res
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.AuthorizationUnavailableError{
			Message: fmt.Sprintf("policy service unavailable after %d attempts", attempt),
			Err:     err,
		}
	}
	return answers, nil
}

func (g *Gate) fanOut(ctx context.Context, qs []domain.RelationQuery) ([]bool, error) {
	size := g.policy.MaxBatchSize()
	if size <= 0 || size >= len(qs) {
		res, err := g.policy.BatchQuery(ctx, qs)
		if err != nil {
			return nil, err
		}
		if len(res) != len(qs) {
			return nil, fmt.Errorf("policy service answered %d of %d queries", len(res), len(qs))
		}
		return res, nil
	}

	out := make([]bool, len(qs))
	eg, egCtx := errgroup.WithContext(ctx)
	for start := 0; start < len(qs); start += size {
		end := min(start+size, len(qs))
		chunk := qs[start:end]
		eg.Go(func() error {
			res, err := g.policy.BatchQuery(egCtx, chunk)
			if err != nil {
				return err
			}
			if len(res) != len(chunk) {
				return fmt.Errorf("policy service answered %d of %d queries", len(res), len(chunk))
			}
			copy(out[start:end], res)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
