package credential

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lake-catalog/internal/domain"
)

// selfCheckDir holds the throwaway prefixes used by SelfCheck.
const selfCheckDir = ".catalog-selfcheck"

type probe struct {
	target domain.Location
	action domain.StorageAction
}

// SelfCheck vends a read-only credential for a random prefix under the
// warehouse root and asks the backend to use it outside that scope. Any
// probe the backend allows means scoping is not enforced, and the warehouse
// must not be activated.
func (e *Engine) SelfCheck(ctx context.Context, profile domain.StorageProfile, maxTTL time.Duration) error {
	backend, ok := e.backends[profile.Type]
	if !ok {
		return domain.ErrVending(profile.Type, nil, "no credential strategy for storage type")
	}
	base := profile.Root().Join(selfCheckDir, domain.NewID())
	granted := base.Join("granted")
	outside := base.Join("outside")

	cred, err := e.Grant(ctx, domain.GrantRequest{
		Profile:   profile,
		MaxTTL:    maxTTL,
		Actions:   domain.NewActionSet(domain.ActionGet, domain.ActionList),
		Locations: []domain.Location{granted},
	})
	if err != nil {
		return err
	}

	probes := []probe{
		{target: outside.Join("probe"), action: domain.ActionGet},
		{target: outside, action: domain.ActionList},
		{target: granted.Join("probe"), action: domain.ActionPut},
		{target: granted.Join("probe"), action: domain.ActionDelete},
	}

	var (
		mu     sync.Mutex
		leaked []string
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, p := range probes {
		eg.Go(func() error {
			callCtx, cancel := context.WithTimeout(egCtx, e.cfg.Timeout)
			defer cancel()
			res, err := backend.Probe(callCtx, &profile, cred.Material, p.target, p.action)
			if err != nil {
				return asVendingError(profile.Type, fmt.Errorf("probe %s on %s: %w", p.action, p.target, err))
			}
			if res == domain.ProbeAllowed {
				mu.Lock()
				leaked = append(leaked, fmt.Sprintf("%s on %s", p.action, p.target))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if len(leaked) > 0 {
		sort.Strings(leaked)
		e.logger.Warn("downscoping self-check failed", "backend", profile.Type, "leaked", leaked)
		return &domain.DownscopingValidationError{
			Backend: profile.Type,
			Message: "backend allowed access outside the granted scope: " + strings.Join(leaked, ", "),
		}
	}
	e.logger.Info("downscoping self-check passed", "backend", profile.Type, "root", profile.Root().String())
	return nil
}
