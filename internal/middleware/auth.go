package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lake-catalog/internal/domain"
)

// APIKeyLookup resolves a stored API key by the hash of its raw value.
type APIKeyLookup interface {
	GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
}

// AuthConfig configures Authenticate.
type AuthConfig struct {
	// Tokens validates bearer tokens. Nil disables bearer authentication.
	Tokens JWTValidator
	// APIKeys resolves API keys. Nil disables API key authentication.
	APIKeys APIKeyLookup
	// APIKeyHeader defaults to X-API-Key.
	APIKeyHeader string
	// SubjectClaim names the token claim used as subject id. Defaults to
	// "sub".
	SubjectClaim string
	// Admins lists subject ids that bypass authorization.
	Admins []string
	Logger *slog.Logger
}

// Authenticate resolves the caller into a domain.Subject stored on the
// request context. Bearer tokens identify users, API keys identify
// services. Requests without a valid identity get 401.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	header := cfg.APIKeyHeader
	if header == "" {
		header = "X-API-Key"
	}
	claim := cfg.SubjectClaim
	if claim == "" {
		claim = "sub"
	}
	admins := make(map[string]bool, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins[a] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "authn")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var subject domain.Subject

			if auth := r.Header.Get("Authorization"); cfg.Tokens != nil && strings.HasPrefix(auth, "Bearer ") {
				claims, err := cfg.Tokens.Validate(ctx, strings.TrimPrefix(auth, "Bearer "))
				if err != nil {
					logger.Debug("bearer token rejected", "error", err)
				} else if id := subjectID(claims, claim); id != "" {
					subject = domain.Subject{ID: id, Kind: domain.SubjectUser}
				}
			}

			if raw := r.Header.Get(header); subject.ID == "" && raw != "" && cfg.APIKeys != nil {
				sum := sha256.Sum256([]byte(raw))
				key, err := cfg.APIKeys.GetByHash(ctx, hex.EncodeToString(sum[:]))
				switch {
				case err != nil:
					logger.Debug("api key rejected", "error", err)
				case key.Expired(time.Now()):
					logger.Debug("api key expired", "key", key.KeyPrefix)
				default:
					subject = domain.Subject{ID: key.SubjectID, Kind: domain.SubjectService}
				}
			}

			if subject.ID == "" {
				writeError(w, http.StatusUnauthorized, "UnauthenticatedError",
					"provide a valid bearer token or API key")
				return
			}
			subject.IsAdmin = admins[subject.ID]
			next.ServeHTTP(w, r.WithContext(domain.WithSubject(ctx, subject)))
		})
	}
}

func subjectID(claims *JWTClaims, claim string) string {
	if claim == "sub" {
		return claims.Subject
	}
	if v, ok := claims.Raw[claim].(string); ok {
		return v
	}
	return ""
}

// writeError writes the catalog's JSON error envelope.
func writeError(w http.ResponseWriter, status int, typ, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"type":    typ,
			"code":    status,
			"message": message,
			"stack":   []string{},
		},
	})
}
