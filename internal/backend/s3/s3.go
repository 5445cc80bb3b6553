// Package s3 vends temporary S3 credentials through STS AssumeRole with an
// inline session policy limited to the granted prefixes and actions.
package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"lake-catalog/internal/domain"
)

// Material keys understood by Iceberg-compatible S3 clients.
const (
	KeyAccessKeyID     = "s3.access-key-id"
	KeySecretAccessKey = "s3.secret-access-key"
	KeySessionToken    = "s3.session-token"
	KeyRegion          = "client.region"
	KeyEndpoint        = "s3.endpoint"
	KeyPathStyle       = "s3.path-style-access"
)

// stsMinDuration is the shortest session STS issues.
const stsMinDuration = 15 * time.Minute

var _ domain.StorageBackend = (*Backend)(nil)

// Backend is the STS session-policy strategy.
type Backend struct {
	logger *slog.Logger
}

// New creates the S3 strategy.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger.With("component", "backend-s3")}
}

// Type implements domain.StorageBackend.
func (b *Backend) Type() domain.StorageType { return domain.StorageTypeS3 }

// MinTTL is the STS session floor.
func (b *Backend) MinTTL() time.Duration { return stsMinDuration }

// Issue assumes the warehouse role with a session policy that allows exactly
// req.Actions on req.Prefixes.
func (b *Backend) Issue(ctx context.Context, p *domain.StorageProfile, req domain.IssueRequest) (*domain.IssuedMaterial, error) {
	policy, err := SessionPolicy(p.Bucket, req.Prefixes, req.Actions)
	if err != nil {
		return nil, err
	}
	duration := req.TTL
	if duration < stsMinDuration {
		duration = stsMinDuration
	}

	client := sts.New(sts.Options{
		Region:       p.Region,
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(p.Secret.AccessKeyID, p.Secret.SecretAccessKey, "")),
		BaseEndpoint: optionalString(p.STSEndpoint),
	})
	in := &sts.AssumeRoleInput{
		RoleArn:         aws.String(p.AssumeRoleARN),
		RoleSessionName: aws.String(sessionName(req.SessionName)),
		Policy:          aws.String(policy),
		DurationSeconds: aws.Int32(int32(duration / time.Second)),
	}
	if p.ExternalID != "" {
		in.ExternalId = aws.String(p.ExternalID)
	}
	out, err := client.AssumeRole(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("assume role %s: %w", p.AssumeRoleARN, err)
	}
	if out.Credentials == nil {
		return nil, errors.New("assume role returned no credentials")
	}
	c := out.Credentials

	material := map[string]string{
		KeyAccessKeyID:     aws.ToString(c.AccessKeyId),
		KeySecretAccessKey: aws.ToString(c.SecretAccessKey),
		KeySessionToken:    aws.ToString(c.SessionToken),
		KeyRegion:          p.Region,
	}
	if p.Endpoint != "" {
		material[KeyEndpoint] = p.Endpoint
	}
	if p.PathStyle {
		material[KeyPathStyle] = strconv.FormatBool(true)
	}
	b.logger.Debug("sts session issued", "role", p.AssumeRoleARN, "duration", duration)
	return &domain.IssuedMaterial{Material: material, ExpiresAt: aws.ToTime(c.Expiration)}, nil
}

// Probe attempts action on target with the vended credential.
func (b *Backend) Probe(ctx context.Context, p *domain.StorageProfile, material map[string]string, target domain.Location, action domain.StorageAction) (domain.ProbeResult, error) {
	bucket, key, err := SplitLocation(target)
	if err != nil {
		return "", err
	}
	client := NewClient(p, credentials.NewStaticCredentialsProvider(
		material[KeyAccessKeyID], material[KeySecretAccessKey], material[KeySessionToken]))

	switch action {
	case domain.ActionGet:
		_, err = client.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	case domain.ActionPut:
		_, err = client.PutObject(ctx, &awss3.PutObjectInput{
			Bucket: aws.String(bucket), Key: aws.String(key), Body: strings.NewReader(""),
		})
	case domain.ActionDelete:
		_, err = client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	case domain.ActionList:
		_, err = client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket: aws.String(bucket), Prefix: aws.String(KeyPrefix(key)), MaxKeys: aws.Int32(1),
		})
	default:
		return "", fmt.Errorf("unknown storage action %q", action)
	}
	return ProbeResult(err)
}

// ProbeResult classifies the error of a probe request. Denials are a result;
// anything other than a denial or a missing object is a transport failure.
func ProbeResult(err error) (domain.ProbeResult, error) {
	if err == nil {
		return domain.ProbeAllowed, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return domain.ProbeDenied, nil
		case "NoSuchKey", "NotFound":
			return domain.ProbeAllowed, nil
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 401, 403:
			return domain.ProbeDenied, nil
		case 404:
			return domain.ProbeAllowed, nil
		}
	}
	return "", err
}

// NewClient builds an S3 client for the profile's endpoint with the given
// credentials.
func NewClient(p *domain.StorageProfile, creds aws.CredentialsProvider) *awss3.Client {
	return awss3.New(awss3.Options{
		Region:       p.Region,
		Credentials:  creds,
		BaseEndpoint: optionalString(p.Endpoint),
		UsePathStyle: p.PathStyle,
	})
}

// SplitLocation returns the bucket and key of an s3:// location.
func SplitLocation(loc domain.Location) (bucket, key string, err error) {
	u, err := url.Parse(string(loc))
	if err != nil {
		return "", "", fmt.Errorf("parse s3 location %q: %w", loc, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, loc)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// KeyPrefix turns an object key into a directory-style prefix.
func KeyPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// sessionName trims a session name to the 64 characters STS accepts.
func sessionName(s string) string {
	if s == "" {
		s = "lake-catalog"
	}
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	return aws.String(s)
}
