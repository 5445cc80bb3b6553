package domain

import (
	"context"
	"time"
)

// APIKey authenticates a service subject without an identity provider.
type APIKey struct {
	ID        string
	SubjectID string
	Name      string
	KeyPrefix string // first 8 chars for identification
	KeyHash   string // SHA-256 of raw key; raw key is never stored
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether the key is past its expiry at now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// CreateAPIKeyRequest holds parameters for creating a new API key.
type CreateAPIKeyRequest struct {
	SubjectID string
	Name      string
	ExpiresAt *time.Time
}

// Validate checks that the request is well-formed.
func (r *CreateAPIKeyRequest) Validate() error {
	if r.SubjectID == "" {
		return ErrValidation("subject_id is required")
	}
	if r.Name == "" {
		return ErrValidation("api key name is required")
	}
	return nil
}

// APIKeyRepository persists API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, keyHash string) (*APIKey, error)
	ListForSubject(ctx context.Context, subjectID string) ([]APIKey, error)
	Delete(ctx context.Context, id string) error
}
