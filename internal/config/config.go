// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const insecureEncryptionKey = "0000000000000000000000000000000000000000000000000000000000000000"

// AuthConfig holds authentication and identity provider configuration.
type AuthConfig struct {
	IssuerURL      string   // OIDC issuer URL
	JWKSURL        string   // JWKS URL when the issuer has no discovery document
	Audience       string   // required audience claim
	AllowedIssuers []string // accepted issuers, defaults to [IssuerURL]
	JWTSecret      string   // HS256 shared secret for local/dev tokens
	SubjectClaim   string   // claim used as subject id (default "sub")
	APIKeyHeader   string   // header carrying API keys (default X-API-Key)
	AdminSubjects  []string // subject ids that bypass authorization
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != "" || a.JWKSURL != ""
}

// PolicyConfig selects and tunes the relationship policy service.
type PolicyConfig struct {
	Backend  string // "embedded" (default) or "spicedb"
	Endpoint string // SpiceDB gRPC endpoint
	Token    string // SpiceDB preshared key
	Insecure bool   // plaintext gRPC, for local SpiceDB
	Timeout  time.Duration
	Retries  int
}

// Config holds the server configuration. It is loaded once and not mutated
// afterwards.
type Config struct {
	ListenAddr     string // HTTP listen address (default ":8181")
	DBDriver       string // "sqlite" (default) or "postgres"
	DBDSN          string // sqlite path or postgres URL
	DBMaxOpenConns int
	// DBAcquireTimeout bounds the wait for a free write connection.
	DBAcquireTimeout time.Duration
	EncryptionKey    string // 64-char hex string (32-byte AES key) for storage secrets
	LogLevel         string // debug, info, warn, error (default "info")
	Env              string // "development" (default) or "production"

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	Auth   AuthConfig
	Policy PolicyConfig

	CredentialMaxTTL   time.Duration // process-wide credential lifetime cap
	BackendTimeout     time.Duration // bound on one storage backend call
	CommitStoreRetries int           // transient store retries per commit
	BootstrapFile      string        // optional YAML bootstrap

	// Warnings collects non-fatal findings. They are logged by the caller
	// once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables, applies
// defaults, and validates it.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		DBDriver:      strings.ToLower(os.Getenv("DB_DRIVER")),
		DBDSN:         os.Getenv("DB_DSN"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Env:           os.Getenv("ENV"),
		BootstrapFile: os.Getenv("BOOTSTRAP_FILE"),
		Auth: AuthConfig{
			IssuerURL:      os.Getenv("AUTH_ISSUER_URL"),
			JWKSURL:        os.Getenv("AUTH_JWKS_URL"),
			Audience:       os.Getenv("AUTH_AUDIENCE"),
			AllowedIssuers: splitList(os.Getenv("AUTH_ALLOWED_ISSUERS")),
			JWTSecret:      os.Getenv("JWT_SECRET"),
			SubjectClaim:   os.Getenv("AUTH_SUBJECT_CLAIM"),
			APIKeyHeader:   os.Getenv("AUTH_API_KEY_HEADER"),
			AdminSubjects:  splitList(os.Getenv("ADMIN_SUBJECTS")),
		},
		Policy: PolicyConfig{
			Backend:  strings.ToLower(os.Getenv("POLICY_BACKEND")),
			Endpoint: os.Getenv("SPICEDB_ENDPOINT"),
			Token:    os.Getenv("SPICEDB_TOKEN"),
		},
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.DBMaxOpenConns, err = intEnv("DB_MAX_OPEN_CONNS", 8); err != nil {
		return nil, err
	}
	if cfg.DBAcquireTimeout, err = durationEnv("DB_ACQUIRE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = floatEnv("RATE_LIMIT_RPS", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", 200); err != nil {
		return nil, err
	}
	if cfg.Policy.Insecure, err = boolEnv("SPICEDB_INSECURE", false); err != nil {
		return nil, err
	}
	if cfg.Policy.Timeout, err = durationEnv("POLICY_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.Policy.Retries, err = intEnv("POLICY_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.CredentialMaxTTL, err = durationEnv("CREDENTIAL_MAX_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.BackendTimeout, err = durationEnv("BACKEND_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CommitStoreRetries, err = intEnv("COMMIT_STORE_RETRIES", 3); err != nil {
		return nil, err
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8181"
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite"
	}
	if cfg.DBDSN == "" && cfg.DBDriver == "sqlite" {
		cfg.DBDSN = "catalog.sqlite"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Policy.Backend == "" {
		cfg.Policy.Backend = "embedded"
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = insecureEncryptionKey
		cfg.Warnings = append(cfg.Warnings, "ENCRYPTION_KEY not set, storage secrets are encrypted with an insecure default key")
	}
	if !cfg.Auth.OIDCEnabled() && cfg.Auth.JWTSecret == "" {
		cfg.Warnings = append(cfg.Warnings, "no token issuer configured, only API keys can authenticate")
	}
	if len(cfg.Auth.AdminSubjects) == 0 {
		cfg.Warnings = append(cfg.Warnings, "ADMIN_SUBJECTS is empty, nobody can create projects")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	switch c.Policy.Backend {
	case "embedded":
	case "spicedb":
		if c.Policy.Endpoint == "" {
			return fmt.Errorf("SPICEDB_ENDPOINT is required when POLICY_BACKEND=spicedb")
		}
	default:
		return fmt.Errorf("POLICY_BACKEND must be embedded or spicedb, got %q", c.Policy.Backend)
	}
	if c.Auth.IssuerURL != "" && c.Auth.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE is required when AUTH_ISSUER_URL is set")
	}
	if len(c.EncryptionKey) != 64 {
		return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters")
	}
	if c.Policy.Retries < 0 || c.CommitStoreRetries < 0 {
		return fmt.Errorf("POLICY_RETRIES and COMMIT_STORE_RETRIES must not be negative")
	}
	if c.CredentialMaxTTL <= 0 {
		return fmt.Errorf("CREDENTIAL_MAX_TTL must be positive")
	}

	// Production mode: insecure defaults are fatal errors.
	if c.IsProduction() {
		if !c.Auth.OIDCEnabled() {
			return fmt.Errorf("OIDC must be configured in production (set AUTH_ISSUER_URL or AUTH_JWKS_URL)")
		}
		if c.Auth.JWTSecret != "" {
			return fmt.Errorf("JWT_SECRET must not be set in production (ENV=production)")
		}
		if c.EncryptionKey == insecureEncryptionKey {
			return fmt.Errorf("ENCRYPTION_KEY must be set in production (ENV=production)")
		}
		if len(c.CORSAllowedOrigins) == 1 && c.CORSAllowedOrigins[0] == "*" {
			return fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if c.Policy.Backend == "spicedb" && c.Policy.Insecure {
			return fmt.Errorf("SPICEDB_INSECURE is not allowed in production (ENV=production)")
		}
	}
	return nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "":
		return def, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid boolean %q", key, v)
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes one pair of matching surrounding quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
