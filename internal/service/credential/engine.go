// Package credential vends short-lived, downscoped storage credentials and
// verifies that a warehouse's backend actually enforces the scope.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sort"
	"time"

	"lake-catalog/internal/domain"
)

// clockSkew tolerates backends whose clocks run slightly ahead of ours.
const clockSkew = 30 * time.Second

// Config holds process-wide vending limits.
type Config struct {
	// MaxTTL caps every credential regardless of warehouse settings.
	// Zero means no process-wide cap.
	MaxTTL time.Duration
	// Timeout bounds one call to a backend.
	Timeout time.Duration
}

// ttlFloor is implemented by backends that cannot issue credentials shorter
// than a fixed lifetime.
type ttlFloor interface {
	MinTTL() time.Duration
}

// actionLimit is implemented by backends that can only grant some actions.
type actionLimit interface {
	GrantableActions() domain.ActionSet
}

// Engine dispatches grants to the strategy registered for a storage type.
// Strategies are chosen at construction and never change.
type Engine struct {
	backends map[domain.StorageType]domain.StorageBackend
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine registers one strategy per storage type.
func NewEngine(backends []domain.StorageBackend, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[domain.StorageType]domain.StorageBackend, len(backends))
	for _, b := range backends {
		m[b.Type()] = b
	}
	return &Engine{backends: m, cfg: cfg, logger: logger, now: time.Now}
}

// Supports reports whether a strategy is registered for t.
func (e *Engine) Supports(t domain.StorageType) bool {
	_, ok := e.backends[t]
	return ok
}

// Grantable narrows actions to those the strategy for t can grant.
func (e *Engine) Grantable(t domain.StorageType, actions domain.ActionSet) domain.ActionSet {
	l, ok := e.backends[t].(actionLimit)
	if !ok {
		return maps.Clone(actions)
	}
	limit := l.GrantableActions()
	out := domain.ActionSet{}
	for a := range actions {
		if limit.Has(a) {
			out[a] = struct{}{}
		}
	}
	return out
}

// MinTTL returns the shortest lifetime the strategy for t can issue, zero
// when it has no floor.
func (e *Engine) MinTTL(t domain.StorageType) time.Duration {
	if f, ok := e.backends[t].(ttlFloor); ok {
		return f.MinTTL()
	}
	return 0
}

// ClampTTL returns the lifetime a request for ttl receives under a warehouse
// cap of maxTTL. Zero requests the cap itself.
func (e *Engine) ClampTTL(ttl, maxTTL time.Duration) time.Duration {
	limit := maxTTL
	if limit <= 0 {
		limit = domain.DefaultMaxCredentialTTL
	}
	if e.cfg.MaxTTL > 0 && e.cfg.MaxTTL < limit {
		limit = e.cfg.MaxTTL
	}
	if ttl <= 0 || ttl > limit {
		return limit
	}
	return ttl
}

// Grant issues a credential allowing exactly req.Actions on exactly
// req.Locations. Backend failures are returned as CredentialVendingError and
// never retried.
func (e *Engine) Grant(ctx context.Context, req domain.GrantRequest) (*domain.ScopedCredential, error) {
	profile := req.Profile
	backend, ok := e.backends[profile.Type]
	if !ok {
		return nil, domain.ErrVending(profile.Type, nil, "no credential strategy for storage type")
	}
	if len(req.Actions) == 0 {
		return nil, domain.ErrValidation("at least one storage action is required")
	}
	if req.TTL < 0 {
		return nil, domain.ErrValidation("ttl must not be negative")
	}
	prefixes, err := scopePrefixes(profile.Root(), req.Locations, req.AllowRoot)
	if err != nil {
		return nil, err
	}
	limit := e.ClampTTL(0, req.MaxTTL)
	ttl := e.ClampTTL(req.TTL, req.MaxTTL)
	if f, ok := backend.(ttlFloor); ok && ttl < f.MinTTL() {
		if f.MinTTL() > limit {
			return nil, domain.ErrVending(profile.Type, nil,
				"backend cannot issue credentials shorter than %s, warehouse limit is %s", f.MinTTL(), limit)
		}
		ttl = f.MinTTL()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	issuedAt := e.now().UTC()
	mat, err := backend.Issue(callCtx, &profile, domain.IssueRequest{
		Actions:     maps.Clone(req.Actions),
		Prefixes:    prefixes,
		TTL:         ttl,
		SessionName: "lake-catalog-" + issuedAt.Format("20060102T150405"),
	})
	if err != nil {
		return nil, asVendingError(profile.Type, err)
	}
	if mat == nil || len(mat.Material) == 0 {
		return nil, domain.ErrVending(profile.Type, nil, "backend returned no credential material")
	}

	// ExpiresAt is the backend's own expiry, never shortened.
	deadline := issuedAt.Add(ttl)
	expiresAt := mat.ExpiresAt.UTC()
	switch {
	case mat.ExpiresAt.IsZero():
		expiresAt = deadline
	case expiresAt.After(deadline.Add(clockSkew)):
		return nil, domain.ErrVending(profile.Type, nil,
			"backend issued a credential valid until %s, beyond the %s limit", expiresAt.Format(time.RFC3339), ttl)
	}

	allowed := make([]string, len(prefixes))
	for i, p := range prefixes {
		allowed[i] = p.Prefix()
	}
	e.logger.Debug("credential issued",
		"backend", profile.Type, "actions", req.Actions.Sorted(), "prefixes", len(prefixes), "ttl", ttl)

	return &domain.ScopedCredential{
		BackendType:     profile.Type,
		Material:        maps.Clone(mat.Material),
		AllowedActions:  req.Actions.Sorted(),
		AllowedPrefixes: allowed,
		IssuedAt:        issuedAt,
		ExpiresAt:       expiresAt,
	}, nil
}

// scopePrefixes normalizes and validates the requested locations. Every
// location must lie beneath root; root itself only when allowRoot is set.
func scopePrefixes(root domain.Location, locations []domain.Location, allowRoot bool) ([]domain.Location, error) {
	if root == "" {
		return nil, domain.ErrValidation("storage profile has no root location")
	}
	if len(locations) == 0 {
		return nil, domain.ErrValidation("at least one location is required")
	}
	seen := map[domain.Location]bool{}
	out := make([]domain.Location, 0, len(locations))
	for _, raw := range locations {
		loc, err := domain.ParseLocation(string(raw))
		if err != nil {
			return nil, err
		}
		if !loc.IsBeneath(root) {
			return nil, domain.ErrValidation("location %s is outside the warehouse", loc)
		}
		if loc == root && !allowRoot {
			return nil, domain.ErrValidation("credentials for the warehouse root require warehouse-level authorization")
		}
		if !seen[loc] {
			seen[loc] = true
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func asVendingError(backend domain.StorageType, err error) error {
	var ve *domain.CredentialVendingError
	if errors.As(err, &ve) {
		return err
	}
	var vd *domain.ValidationError
	if errors.As(err, &vd) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrVending(backend, err, "backend did not answer in time")
	}
	return domain.ErrVending(backend, err, "issue credential")
}
