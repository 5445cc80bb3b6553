// Package s3presign vends a set of signed GET URLs for S3-compatible stores
// that have no STS. A grant covers only the objects present when it was
// issued.
package s3presign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"lake-catalog/internal/backend/s3"
	"lake-catalog/internal/domain"
)

// Material keys.
const (
	KeySignedURLs   = "s3-presign.signed-urls"
	KeyListing      = "s3-presign.listing"
	KeyListPrefixes = "s3-presign.list-prefixes"
)

// MaxSignedURLs bounds the URL set of one grant.
const MaxSignedURLs = 1000

var _ domain.StorageBackend = (*Backend)(nil)

// Backend is the signed-URL-set strategy.
type Backend struct {
	logger *slog.Logger
}

// New creates the presign strategy.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger.With("component", "backend-s3presign")}
}

// Type implements domain.StorageBackend.
func (b *Backend) Type() domain.StorageType { return domain.StorageTypeS3Presign }

// GrantableActions reports that signed URL sets only serve reads.
func (b *Backend) GrantableActions() domain.ActionSet {
	return domain.NewActionSet(domain.ActionGet, domain.ActionList)
}

// Issue enumerates the objects beneath each prefix. get signs each object;
// list returns the enumerated keys. put and delete cannot be granted on a
// prefix with signed URLs.
func (b *Backend) Issue(ctx context.Context, p *domain.StorageProfile, req domain.IssueRequest) (*domain.IssuedMaterial, error) {
	if req.Actions.Writes() {
		return nil, domain.ErrVending(domain.StorageTypeS3Presign, nil, "signed URLs cannot grant put or delete on a prefix")
	}
	client := s3.NewClient(p, credentials.NewStaticCredentialsProvider(p.Secret.AccessKeyID, p.Secret.SecretAccessKey, ""))
	presigner := awss3.NewPresignClient(client)

	urls := map[string]string{}
	var listing []string
	for _, prefix := range req.Prefixes {
		objects, err := enumerate(ctx, client, prefix, MaxSignedURLs-len(urls))
		if err != nil {
			return nil, err
		}
		for _, loc := range objects {
			if req.Actions.Has(domain.ActionList) {
				listing = append(listing, string(loc))
			}
			if !req.Actions.Has(domain.ActionGet) {
				continue
			}
			bucket, key, _ := s3.SplitLocation(loc)
			signed, err := presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}, awss3.WithPresignExpires(req.TTL))
			if err != nil {
				return nil, fmt.Errorf("presign GetObject for %q: %w", loc, err)
			}
			urls[string(loc)] = signed.URL
		}
	}

	material, err := encodeMaterial(urls, listing, req)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("signed url set issued", "urls", len(urls), "listed", len(listing))
	return &domain.IssuedMaterial{Material: material, ExpiresAt: time.Now().Add(req.TTL)}, nil
}

// Probe answers from the URL set alone: a target is reachable only if a
// signed URL addresses it or a granted listing covers it.
func (b *Backend) Probe(_ context.Context, _ *domain.StorageProfile, material map[string]string, target domain.Location, action domain.StorageAction) (domain.ProbeResult, error) {
	switch action {
	case domain.ActionGet:
		var urls map[string]string
		if err := json.Unmarshal([]byte(material[KeySignedURLs]), &urls); err != nil {
			return "", fmt.Errorf("decode signed urls: %w", err)
		}
		if _, ok := urls[string(target)]; ok {
			return domain.ProbeAllowed, nil
		}
	case domain.ActionList:
		var prefixes []string
		if raw := material[KeyListPrefixes]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &prefixes); err != nil {
				return "", fmt.Errorf("decode list prefixes: %w", err)
			}
		}
		for _, p := range prefixes {
			if strings.HasPrefix(target.Prefix(), p) {
				return domain.ProbeAllowed, nil
			}
		}
	}
	return domain.ProbeDenied, nil
}

func enumerate(ctx context.Context, client *awss3.Client, prefix domain.Location, limit int) ([]domain.Location, error) {
	bucket, key, err := s3.SplitLocation(prefix)
	if err != nil {
		return nil, err
	}
	var out []domain.Location
	pager := awss3.NewListObjectsV2Paginator(client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(s3.KeyPrefix(key)),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if len(out) >= limit {
				return nil, domain.ErrVending(domain.StorageTypeS3Presign, nil,
					"more than %d objects under the requested prefixes", MaxSignedURLs)
			}
			out = append(out, domain.Location("s3://"+bucket+"/"+aws.ToString(obj.Key)))
		}
	}
	return out, nil
}

func encodeMaterial(urls map[string]string, listing []string, req domain.IssueRequest) (map[string]string, error) {
	material := map[string]string{}
	if req.Actions.Has(domain.ActionGet) {
		b, err := json.Marshal(urls)
		if err != nil {
			return nil, err
		}
		material[KeySignedURLs] = string(b)
	}
	if req.Actions.Has(domain.ActionList) {
		sort.Strings(listing)
		if listing == nil {
			listing = []string{}
		}
		b, err := json.Marshal(listing)
		if err != nil {
			return nil, err
		}
		material[KeyListing] = string(b)

		prefixes := make([]string, len(req.Prefixes))
		for i, p := range req.Prefixes {
			prefixes[i] = p.Prefix()
		}
		b, err = json.Marshal(prefixes)
		if err != nil {
			return nil, err
		}
		material[KeyListPrefixes] = string(b)
	}
	return material, nil
}
