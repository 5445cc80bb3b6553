package domain

import (
	"context"
	"time"
)

// ScopedCredential is a short-lived storage credential. It is created per
// grant, never persisted, and never modified after issue.
type ScopedCredential struct {
	BackendType     StorageType
	Material        map[string]string
	AllowedActions  []StorageAction
	AllowedPrefixes []string
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// TTL returns the lifetime the credential was issued with.
func (c *ScopedCredential) TTL() time.Duration { return c.ExpiresAt.Sub(c.IssuedAt) }

// GrantRequest asks the vending engine for a credential.
type GrantRequest struct {
	Profile   StorageProfile
	MaxTTL    time.Duration
	Actions   ActionSet
	Locations []Location
	TTL       time.Duration // zero means the maximum
	// AllowRoot permits the warehouse root itself in Locations. Only set
	// when the caller was authorized at warehouse breadth.
	AllowRoot bool
}

// IssueRequest is what a backend strategy receives after the engine has
// validated scope and clamped the lifetime.
type IssueRequest struct {
	Actions  ActionSet
	Prefixes []Location
	TTL      time.Duration
	// SessionName labels the issued credential in backend audit logs.
	SessionName string
}

// IssuedMaterial is the backend-specific credential payload.
type IssuedMaterial struct {
	Material  map[string]string
	ExpiresAt time.Time
}

// ProbeResult is the outcome of one access probe.
type ProbeResult string

const (
	ProbeAllowed ProbeResult = "allowed"
	ProbeDenied  ProbeResult = "denied"
)

// StorageBackend is one downscoping strategy. Implementations share no
// state with each other.
type StorageBackend interface {
	Type() StorageType
	Issue(ctx context.Context, profile *StorageProfile, req IssueRequest) (*IssuedMaterial, error)
	Probe(ctx context.Context, profile *StorageProfile, material map[string]string, target Location, action StorageAction) (ProbeResult, error)
}

// DataAccess selects what a load response includes for direct data I/O.
type DataAccess string

const (
	DataAccessNone              DataAccess = ""
	DataAccessVendedCredentials DataAccess = "vended-credentials"
)
