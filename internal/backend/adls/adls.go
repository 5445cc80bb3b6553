// Package adls vends directory-scoped SAS tokens for Azure Data Lake Storage
// and Blob Storage, signed with the warehouse's shared account key.
package adls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"lake-catalog/internal/domain"
)

// Material keys. A token is returned per granted prefix; when exactly one
// prefix is granted it is also returned under the account key clients look
// up by default.
const (
	KeySASTokenPrefix = "adls.sas-token."
	KeyAccountName    = "adls.account-name"
)

var _ domain.StorageBackend = (*Backend)(nil)

// Backend is the SAS strategy.
type Backend struct {
	logger *slog.Logger
}

// New creates the ADLS strategy.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger.With("component", "backend-adls")}
}

// Type implements domain.StorageBackend.
func (b *Backend) Type() domain.StorageType { return domain.StorageTypeADLS }

// Issue signs one SAS per prefix carrying exactly the requested permissions.
func (b *Backend) Issue(_ context.Context, p *domain.StorageProfile, req domain.IssueRequest) (*domain.IssuedMaterial, error) {
	cred, err := azblob.NewSharedKeyCredential(p.AccountName, p.Secret.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	now := time.Now().UTC()
	expiry := now.Add(req.TTL)

	material := map[string]string{KeyAccountName: p.AccountName}
	for _, prefix := range req.Prefixes {
		values, err := SignatureValues(prefix, req.Actions, now, expiry)
		if err != nil {
			return nil, err
		}
		qp, err := values.SignWithSharedKey(cred)
		if err != nil {
			return nil, fmt.Errorf("sign sas for %s: %w", prefix, err)
		}
		material[KeySASTokenPrefix+prefix.Prefix()] = qp.Encode()
		if len(req.Prefixes) == 1 {
			material[KeySASTokenPrefix+accountHost(p)] = qp.Encode()
		}
	}
	b.logger.Debug("sas issued", "account", p.AccountName, "prefixes", len(req.Prefixes))
	return &domain.IssuedMaterial{Material: material, ExpiresAt: expiry}, nil
}

// Probe uses the SAS covering target, or any issued SAS when none covers it,
// to attempt action against the blob endpoint.
func (b *Backend) Probe(ctx context.Context, p *domain.StorageProfile, material map[string]string, target domain.Location, action domain.StorageAction) (domain.ProbeResult, error) {
	container, path, err := SplitLocation(target)
	if err != nil {
		return "", err
	}
	token := tokenFor(material, target)
	if token == "" {
		return "", errors.New("credential material holds no sas token")
	}
	client, err := azblob.NewClientWithNoCredential(blobServiceURL(p)+"?"+token, nil)
	if err != nil {
		return "", fmt.Errorf("create blob client: %w", err)
	}

	switch action {
	case domain.ActionGet:
		_, err = client.DownloadStream(ctx, container, path, nil)
	case domain.ActionPut:
		_, err = client.UploadBuffer(ctx, container, path, []byte{}, nil)
	case domain.ActionDelete:
		_, err = client.DeleteBlob(ctx, container, path, nil)
	case domain.ActionList:
		prefix := path + "/"
		pager := client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{Prefix: &prefix, MaxResults: to32(1)})
		_, err = pager.NextPage(ctx)
	default:
		return "", fmt.Errorf("unknown storage action %q", action)
	}
	return ProbeResult(err)
}

// ProbeResult classifies a blob service error.
func ProbeResult(err error) (domain.ProbeResult, error) {
	if err == nil {
		return domain.ProbeAllowed, nil
	}
	if bloberror.HasCode(err,
		bloberror.AuthorizationFailure,
		bloberror.AuthorizationPermissionMismatch,
		bloberror.AuthorizationResourceTypeMismatch,
		bloberror.AuthenticationFailed,
	) {
		return domain.ProbeDenied, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return domain.ProbeAllowed, nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 401, 403:
			return domain.ProbeDenied, nil
		case 404:
			return domain.ProbeAllowed, nil
		}
	}
	return "", err
}

// SignatureValues builds a directory-scoped SAS for prefix.
func SignatureValues(prefix domain.Location, actions domain.ActionSet, start, expiry time.Time) (sas.BlobSignatureValues, error) {
	container, dir, err := SplitLocation(prefix)
	if err != nil {
		return sas.BlobSignatureValues{}, err
	}
	values := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     start.Add(-time.Minute),
		ExpiryTime:    expiry,
		Permissions:   Permissions(actions),
		ContainerName: container,
	}
	if dir != "" {
		values.Directory = dir
	}
	return values, nil
}

// Permissions maps storage actions to SAS permission letters in canonical
// order.
func Permissions(actions domain.ActionSet) string {
	p := sas.BlobPermissions{
		Read:   actions.Has(domain.ActionGet),
		Create: actions.Has(domain.ActionPut),
		Write:  actions.Has(domain.ActionPut),
		Delete: actions.Has(domain.ActionDelete),
		List:   actions.Has(domain.ActionList),
	}
	return p.String()
}

// SplitLocation returns the container and path of an
// abfss://container@account.dfs.core.windows.net/path location.
func SplitLocation(loc domain.Location) (container, path string, err error) {
	u, err := url.Parse(string(loc))
	if err != nil {
		return "", "", fmt.Errorf("parse adls location %q: %w", loc, err)
	}
	if u.Scheme != "abfss" {
		return "", "", fmt.Errorf("expected abfss:// scheme, got %q in %q", u.Scheme, loc)
	}
	if u.User == nil || u.User.Username() == "" {
		return "", "", fmt.Errorf("adls location %q missing container@account component", loc)
	}
	return u.User.Username(), strings.Trim(u.Path, "/"), nil
}

// tokenFor returns the longest-prefix SAS covering target, falling back to
// any issued token so that out-of-scope probes still carry a credential.
func tokenFor(material map[string]string, target domain.Location) string {
	var keys []string
	for k := range material {
		if strings.HasPrefix(k, KeySASTokenPrefix+"abfss://") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(target.Prefix(), strings.TrimPrefix(k, KeySASTokenPrefix)) {
			return material[k]
		}
	}
	return material[keys[len(keys)-1]]
}

func accountHost(p *domain.StorageProfile) string {
	return p.AccountName + ".dfs.core.windows.net"
}

func blobServiceURL(p *domain.StorageProfile) string {
	if p.Endpoint != "" {
		return strings.TrimRight(p.Endpoint, "/") + "/"
	}
	return "https://" + p.AccountName + ".blob.core.windows.net/"
}

func to32(n int32) *int32 { return &n }
