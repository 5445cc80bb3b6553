// Package api serves the catalog over HTTP. Management resources use
// snake_case JSON; table load and commit payloads follow the Iceberg REST
// field names.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/middleware"
	"lake-catalog/internal/service/catalog"
)

// Handler implements the HTTP endpoints of the catalog.
type Handler struct {
	catalog *catalog.Service
	apiKeys *catalog.APIKeyService
	audit   *catalog.AuditService
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *catalog.Service, apiKeys *catalog.APIKeyService, audit *catalog.AuditService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{catalog: svc, apiKeys: apiKeys, audit: audit, logger: logger.With("component", "api")}
}

// RouterConfig holds the cross-cutting settings of the HTTP router.
type RouterConfig struct {
	Auth           middleware.AuthConfig
	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
}

// NewRouter mounts the handler under /v1 behind request ids, logging,
// panic recovery, CORS, rate limiting, and authentication.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "X-Iceberg-Access-Delegation"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimit.RequestsPerSecond > 0 {
			r.Use(middleware.RateLimiter(cfg.RateLimit))
		}
		r.Use(middleware.Authenticate(cfg.Auth))
		h.Routes(r)
	})
	return r
}

// Routes registers every /v1 endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/projects", func(r chi.Router) {
		r.Post("/", h.createProject)
		r.Get("/", h.listProjects)
		r.Get("/{projectID}", h.getProject)
		r.Post("/{projectID}/warehouses", h.createWarehouse)
		r.Get("/{projectID}/warehouses", h.listWarehouses)
	})

	r.Route("/warehouses/{warehouseID}", func(r chi.Router) {
		r.Get("/", h.getWarehouse)
		r.Patch("/", h.renameWarehouse)
		r.Delete("/", h.deleteWarehouse)
		r.Post("/activate", h.activateWarehouse)
		r.Post("/deactivate", h.deactivateWarehouse)
		r.Put("/storage-profile", h.updateStorageProfile)
		r.Put("/protection", h.setProtection)
		r.Post("/namespaces", h.createNamespace)
		r.Get("/namespaces", h.listNamespaces)
	})

	r.Route("/namespaces/{namespaceID}", func(r chi.Router) {
		r.Get("/", h.getNamespace)
		r.Delete("/", h.dropNamespace)
		r.Post("/properties", h.updateNamespaceProperties)
		r.Post("/tables", h.createTable)
		r.Get("/tables", h.listTabulars(domain.TabularTable))
		r.Post("/views", h.createView)
		r.Get("/views", h.listTabulars(domain.TabularView))
	})

	r.Route("/tables/{tabularID}", func(r chi.Router) {
		r.Get("/", h.loadTabular(domain.TabularTable))
		r.Post("/", h.commit(domain.TabularTable))
		r.Delete("/", h.dropTabular(domain.TabularTable))
		r.Post("/rename", h.renameTabular(domain.TabularTable))
		r.Post("/credentials", h.vendCredentials)
	})

	r.Route("/views/{tabularID}", func(r chi.Router) {
		r.Get("/", h.loadTabular(domain.TabularView))
		r.Post("/", h.commit(domain.TabularView))
		r.Delete("/", h.dropTabular(domain.TabularView))
		r.Post("/rename", h.renameTabular(domain.TabularView))
	})

	r.Get("/grants", h.listGrants)
	r.Post("/grants", h.grant)
	r.Post("/grants/revoke", h.revoke)

	r.Post("/api-keys", h.createAPIKey)
	r.Get("/api-keys", h.listAPIKeys)
	r.Delete("/api-keys/{apiKeyID}", h.deleteAPIKey)

	r.Get("/audit", h.listAudit)
}

// requestLogger logs one line per request with its status and latency.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.RequestIDFromContext(r.Context()),
		)
	})
}

func pageRequest(r *http.Request) (domain.PageRequest, error) {
	q := r.URL.Query()
	req := domain.PageRequest{PageToken: q.Get("page_token")}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, domain.ErrValidation("max_results must be a non-negative integer")
		}
		req.MaxResults = n
	}
	return req, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, domain.ErrValidation("%s must be a boolean", name)
	}
	return b, nil
}

// dataAccess reads the requested delegation mode from the
// X-Iceberg-Access-Delegation header or the data_access query parameter.
func dataAccess(r *http.Request) (domain.DataAccess, error) {
	v := r.Header.Get("X-Iceberg-Access-Delegation")
	if v == "" {
		v = r.URL.Query().Get("data_access")
	}
	if v == "" {
		return domain.DataAccessNone, nil
	}
	for _, mode := range strings.Split(v, ",") {
		if strings.TrimSpace(mode) == string(domain.DataAccessVendedCredentials) {
			return domain.DataAccessVendedCredentials, nil
		}
	}
	return "", domain.ErrValidation("unsupported access delegation %q", v)
}

func writeList[S, T any](w http.ResponseWriter, r *http.Request, h *Handler, items []S, f func(S) T) {
	page, err := pageRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p := domain.Paginate(items, page)
	writeJSON(w, http.StatusOK, listResponse[T]{Items: mapList(p.Items, f), NextPageToken: p.NextPageToken})
}
