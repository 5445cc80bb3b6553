package domain

import (
	"net/url"
	"strings"
)

// StorageType identifies the backend a warehouse stores its data in.
type StorageType string

// Supported storage types. Each maps to one credential vending strategy.
const (
	StorageTypeS3        StorageType = "s3"
	StorageTypeS3Presign StorageType = "s3-presign"
	StorageTypeADLS      StorageType = "adls"
	StorageTypeGCS       StorageType = "gcs"
)

// StorageSecret is the broad credential the catalog downscopes from.
// Stored encrypted at rest and never returned to clients.
type StorageSecret struct {
	AccessKeyID        string `json:"access_key_id,omitempty"`
	SecretAccessKey    string `json:"secret_access_key,omitempty"`
	AccountKey         string `json:"account_key,omitempty"`
	ServiceAccountJSON string `json:"service_account_json,omitempty"`
}

// StorageProfile describes where a warehouse lives and how to issue
// credentials for it.
type StorageProfile struct {
	Type StorageType

	// Bucket is the S3/GCS bucket or the ADLS filesystem (container).
	Bucket      string
	AccountName string // ADLS storage account
	KeyPrefix   string

	Region      string
	Endpoint    string // custom S3/ADLS endpoint, empty for the public cloud
	STSEndpoint string
	PathStyle   bool

	AssumeRoleARN  string // S3
	ExternalID     string // S3
	ServiceAccount string // GCS impersonation target

	Secret StorageSecret
}

// Root returns the canonical root location of the profile.
func (p *StorageProfile) Root() Location {
	prefix := strings.Trim(p.KeyPrefix, "/")
	var base string
	switch p.Type {
	case StorageTypeS3, StorageTypeS3Presign:
		base = "s3://" + p.Bucket
	case StorageTypeADLS:
		base = "abfss://" + p.Bucket + "@" + p.AccountName + ".dfs.core.windows.net"
	case StorageTypeGCS:
		base = "gs://" + p.Bucket
	default:
		return ""
	}
	if prefix == "" {
		return Location(base)
	}
	return Location(base + "/" + prefix)
}

// Validate checks that the profile is complete for its storage type.
func (p *StorageProfile) Validate() error {
	if p.Bucket == "" {
		return ErrValidation("storage profile bucket is required")
	}
	if strings.Contains(p.KeyPrefix, "..") {
		return ErrValidation("storage profile key prefix must not contain '..'")
	}
	switch p.Type {
	case StorageTypeS3:
		if p.Region == "" {
			return ErrValidation("region is required for s3 storage profiles")
		}
		if p.AssumeRoleARN == "" {
			return ErrValidation("assume_role_arn is required for s3 storage profiles")
		}
		if p.Secret.AccessKeyID == "" || p.Secret.SecretAccessKey == "" {
			return ErrValidation("access key credentials are required for s3 storage profiles")
		}
	case StorageTypeS3Presign:
		if p.Region == "" {
			return ErrValidation("region is required for s3-presign storage profiles")
		}
		if p.Secret.AccessKeyID == "" || p.Secret.SecretAccessKey == "" {
			return ErrValidation("access key credentials are required for s3-presign storage profiles")
		}
	case StorageTypeADLS:
		if p.AccountName == "" {
			return ErrValidation("account_name is required for adls storage profiles")
		}
		if p.Secret.AccountKey == "" {
			return ErrValidation("account_key is required for adls storage profiles")
		}
	case StorageTypeGCS:
		if p.ServiceAccount == "" {
			return ErrValidation("service_account is required for gcs storage profiles")
		}
	default:
		return ErrValidation("unsupported storage type %q; supported: s3, s3-presign, adls, gcs", string(p.Type))
	}
	return nil
}

// Location is a normalized storage URL without a trailing slash.
type Location string

// ParseLocation validates and normalizes a storage URL.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrValidation("invalid location %q: %v", raw, err)
	}
	switch u.Scheme {
	case "s3", "abfss", "gs":
	default:
		return "", ErrValidation("unsupported location scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return "", ErrValidation("location %q has no bucket", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", ErrValidation("location %q must not carry a query or fragment", raw)
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == ".." || seg == "." {
			return "", ErrValidation("location %q must not contain relative segments", raw)
		}
	}
	return Location(strings.TrimRight(raw, "/")), nil
}

func (l Location) String() string { return string(l) }

// Join appends path segments.
func (l Location) Join(segments ...string) Location {
	out := string(l)
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		out += "/" + s
	}
	return Location(out)
}

// Prefix returns the location with a trailing slash, the form credentials
// are scoped to.
func (l Location) Prefix() string { return string(l) + "/" }

// IsBeneath reports whether l equals root or lies under it.
func (l Location) IsBeneath(root Location) bool {
	if l == root {
		return true
	}
	return strings.HasPrefix(string(l), root.Prefix())
}

// StorageAction is a data-plane operation a credential may allow.
type StorageAction string

const (
	ActionGet    StorageAction = "get"
	ActionPut    StorageAction = "put"
	ActionDelete StorageAction = "delete"
	ActionList   StorageAction = "list"
)

// AllStorageActions lists every storage action in canonical order.
var AllStorageActions = []StorageAction{ActionGet, ActionPut, ActionDelete, ActionList}

// ParseStorageAction validates a storage action name.
func ParseStorageAction(s string) (StorageAction, error) {
	for _, a := range AllStorageActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", ErrValidation("unknown storage action %q", s)
}

// ActionSet is an exact set of storage actions.
type ActionSet map[StorageAction]struct{}

// NewActionSet builds a set from the given actions.
func NewActionSet(actions ...StorageAction) ActionSet {
	s := make(ActionSet, len(actions))
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s ActionSet) Has(a StorageAction) bool {
	_, ok := s[a]
	return ok
}

// Sorted returns the actions in canonical order.
func (s ActionSet) Sorted() []StorageAction {
	out := make([]StorageAction, 0, len(s))
	for _, a := range AllStorageActions {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// Writes reports whether the set contains a mutating action.
func (s ActionSet) Writes() bool {
	return s.Has(ActionPut) || s.Has(ActionDelete)
}

// Equal reports whether two sets hold the same actions.
func (s ActionSet) Equal(o ActionSet) bool {
	if len(s) != len(o) {
		return false
	}
	for a := range s {
		if !o.Has(a) {
			return false
		}
	}
	return true
}
