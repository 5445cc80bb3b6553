// Package gcs vends downscoped OAuth2 tokens for Google Cloud Storage using
// a credential access boundary over an impersonated service account.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/auth/credentials/downscope"
	"cloud.google.com/go/auth/credentials/impersonate"
	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"lake-catalog/internal/domain"
)

// Material keys understood by Iceberg-compatible GCS clients.
const (
	KeyToken          = "gcs.oauth2.token"
	KeyTokenExpiresAt = "gcs.oauth2.token-expires-at"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var _ domain.StorageBackend = (*Backend)(nil)

// Backend is the access-boundary strategy.
type Backend struct {
	logger *slog.Logger
}

// New creates the GCS strategy.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger.With("component", "backend-gcs")}
}

// Type implements domain.StorageBackend.
func (b *Backend) Type() domain.StorageType { return domain.StorageTypeGCS }

// Issue impersonates the warehouse service account for the requested
// lifetime and narrows the token with an access boundary.
func (b *Backend) Issue(ctx context.Context, p *domain.StorageProfile, req domain.IssueRequest) (*domain.IssuedMaterial, error) {
	rules, err := AccessBoundary(p.Bucket, req.Prefixes, req.Actions)
	if err != nil {
		return nil, err
	}

	opts := &credentials.DetectOptions{Scopes: []string{cloudPlatformScope}}
	if p.Secret.ServiceAccountJSON != "" {
		opts.CredentialsJSON = []byte(p.Secret.ServiceAccountJSON)
	}
	base, err := credentials.DetectDefault(opts)
	if err != nil {
		return nil, fmt.Errorf("detect google credentials: %w", err)
	}
	impersonated, err := impersonate.NewCredentials(&impersonate.CredentialsOptions{
		TargetPrincipal: p.ServiceAccount,
		Scopes:          []string{cloudPlatformScope},
		Lifetime:        req.TTL,
		Credentials:     base,
	})
	if err != nil {
		return nil, fmt.Errorf("impersonate %s: %w", p.ServiceAccount, err)
	}
	scoped, err := downscope.NewCredentials(&downscope.Options{
		Credentials: impersonated,
		Rules:       rules,
	})
	if err != nil {
		return nil, fmt.Errorf("downscope credentials: %w", err)
	}
	tok, err := scoped.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange downscoped token: %w", err)
	}

	b.logger.Debug("downscoped token issued", "service_account", p.ServiceAccount, "rules", len(rules))
	return &domain.IssuedMaterial{
		Material: map[string]string{
			KeyToken:          tok.Value,
			KeyTokenExpiresAt: strconv.FormatInt(tok.Expiry.UnixMilli(), 10),
		},
		ExpiresAt: tok.Expiry,
	}, nil
}

// Probe attempts action on target with the downscoped token.
func (b *Backend) Probe(ctx context.Context, p *domain.StorageProfile, material map[string]string, target domain.Location, action domain.StorageAction) (domain.ProbeResult, error) {
	bucket, key, err := SplitLocation(target)
	if err != nil {
		return "", err
	}
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: material[KeyToken]})),
	}
	if p.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("create GCS client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	obj := client.Bucket(bucket).Object(key)
	switch action {
	case domain.ActionGet:
		_, err = obj.Attrs(ctx)
	case domain.ActionPut:
		w := obj.NewWriter(ctx)
		err = w.Close()
	case domain.ActionDelete:
		err = obj.Delete(ctx)
	case domain.ActionList:
		it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: objectPrefix(key)})
		_, err = it.Next()
		if errors.Is(err, iterator.Done) {
			err = nil
		}
	default:
		return "", fmt.Errorf("unknown storage action %q", action)
	}
	return ProbeResult(err)
}

// ProbeResult classifies a GCS API error.
func ProbeResult(err error) (domain.ProbeResult, error) {
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return domain.ProbeAllowed, nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.ProbeDenied, nil
		case http.StatusNotFound:
			return domain.ProbeAllowed, nil
		}
	}
	return "", err
}

// SplitLocation returns the bucket and object key of a gs:// location.
func SplitLocation(loc domain.Location) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(string(loc), "gs://")
	if !ok {
		return "", "", fmt.Errorf("expected gs:// scheme in %q", loc)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in %q", loc)
	}
	return bucket, key, nil
}

func objectPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}
