// Package app wires repositories, policy client, storage backends, and
// services into a runnable catalog server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lake-catalog/internal/api"
	"lake-catalog/internal/backend/adls"
	"lake-catalog/internal/backend/gcs"
	"lake-catalog/internal/backend/s3"
	"lake-catalog/internal/backend/s3presign"
	"lake-catalog/internal/config"
	"lake-catalog/internal/db"
	"lake-catalog/internal/db/crypto"
	"lake-catalog/internal/db/repository"
	"lake-catalog/internal/domain"
	"lake-catalog/internal/middleware"
	"lake-catalog/internal/policy/spicedb"
	"lake-catalog/internal/service/authz"
	"lake-catalog/internal/service/catalog"
	"lake-catalog/internal/service/commit"
	"lake-catalog/internal/service/credential"
)

const shutdownTimeout = 15 * time.Second

// Deps holds what main must provide: configuration, the opened database,
// and the root logger.
type Deps struct {
	Cfg    *config.Config
	Pools  *db.Pools
	Logger *slog.Logger
	// Backends replaces the built-in storage backends when set.
	Backends []domain.StorageBackend
}

// App is the fully wired catalog.
type App struct {
	Catalog *catalog.Service
	APIKeys *catalog.APIKeyService
	Audit   *catalog.AuditService
	Store   *repository.CatalogRepo
	Policy  domain.PolicyClient
	Handler http.Handler

	logger *slog.Logger
}

// New wires every component from deps. It does not run migrations.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// === Repositories ===
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	store := repository.NewCatalogRepo(deps.Pools, encryptor)
	auditRepo := repository.NewAuditRepo(deps.Pools)
	apiKeyRepo := repository.NewAPIKeyRepo(deps.Pools)

	// === Policy service ===
	policy, err := newPolicyClient(ctx, cfg.Policy, deps.Pools, logger)
	if err != nil {
		return nil, err
	}
	gate := authz.NewGate(store, policy, authz.Config{
		Retries: cfg.Policy.Retries,
		Backoff: authz.DefaultConfig().Backoff,
		Timeout: cfg.Policy.Timeout,
	}, logger)

	// === Credential vending ===
	backends := deps.Backends
	if backends == nil {
		backends = []domain.StorageBackend{
			s3.New(logger),
			s3presign.New(logger),
			adls.New(logger),
			gcs.New(logger),
		}
	}
	engine := credential.NewEngine(backends, credential.Config{
		MaxTTL:  cfg.CredentialMaxTTL,
		Timeout: cfg.BackendTimeout,
	}, logger)

	// === Commits ===
	coordinator := commit.NewCoordinator(store, commit.Config{
		Retries: cfg.CommitStoreRetries,
		Backoff: commit.DefaultConfig().Backoff,
	}, logger)

	// === Services ===
	a := &App{
		Catalog: catalog.NewService(store, gate, policy, engine, coordinator, auditRepo, logger),
		APIKeys: catalog.NewAPIKeyService(apiKeyRepo, auditRepo),
		Audit:   catalog.NewAuditService(auditRepo),
		Store:   store,
		Policy:  policy,
		logger:  logger,
	}

	// === HTTP ===
	tokens, err := newTokenValidator(ctx, cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	handler := api.NewHandler(a.Catalog, a.APIKeys, a.Audit, logger)
	a.Handler = api.NewRouter(handler, api.RouterConfig{
		Auth: middleware.AuthConfig{
			Tokens:       tokens,
			APIKeys:      apiKeyRepo,
			APIKeyHeader: cfg.Auth.APIKeyHeader,
			SubjectClaim: cfg.Auth.SubjectClaim,
			Admins:       cfg.Auth.AdminSubjects,
			Logger:       logger,
		},
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	return a, nil
}

// newPolicyClient returns the embedded tuple store or a SpiceDB client.
func newPolicyClient(ctx context.Context, cfg config.PolicyConfig, pools *db.Pools, logger *slog.Logger) (domain.PolicyClient, error) {
	switch cfg.Backend {
	case "", "embedded":
		logger.Info("policy service: embedded relation tuples")
		return repository.NewPolicyRepo(pools), nil
	case "spicedb":
		client, err := spicedb.Dial(spicedb.Config{
			Endpoint: cfg.Endpoint,
			Token:    cfg.Token,
			Insecure: cfg.Insecure,
		}, logger)
		if err != nil {
			return nil, err
		}
		schemaCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := client.EnsureSchema(schemaCtx); err != nil {
			return nil, err
		}
		logger.Info("policy service: spicedb", "endpoint", cfg.Endpoint)
		return client, nil
	default:
		return nil, fmt.Errorf("unknown policy backend %q", cfg.Backend)
	}
}

// newTokenValidator builds the bearer token validator chain. OIDC comes
// first; the shared secret is only configured outside production.
func newTokenValidator(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (middleware.JWTValidator, error) {
	var chain middleware.ChainValidator
	switch {
	case cfg.JWKSURL != "":
		chain = append(chain, middleware.NewOIDCValidatorFromJWKS(ctx, cfg.JWKSURL, cfg.IssuerURL, cfg.Audience, cfg.AllowedIssuers))
	case cfg.IssuerURL != "":
		v, err := middleware.NewOIDCValidator(ctx, cfg.IssuerURL, cfg.Audience, cfg.AllowedIssuers)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		chain = append(chain, v)
	}
	if cfg.JWTSecret != "" {
		chain = append(chain, middleware.NewSharedSecretValidator(cfg.JWTSecret))
	}
	switch len(chain) {
	case 0:
		logger.Warn("no token validator configured; only API keys authenticate")
		return nil, nil
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}

// Close releases the policy client connection, if any.
func (a *App) Close() error {
	if c, ok := a.Policy.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down.
func (a *App) Serve(ctx context.Context, srv *http.Server) error {
	srv.Handler = a.Handler
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("catalog listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
