package catalog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/auditutil"
)

// APIKeyService manages API keys of service subjects. Callers manage their
// own keys; admins manage any.
type APIKeyService struct {
	repo  domain.APIKeyRepository
	audit domain.AuditRepository
}

// NewAPIKeyService creates an APIKeyService.
func NewAPIKeyService(repo domain.APIKeyRepository, audit domain.AuditRepository) *APIKeyService {
	return &APIKeyService{repo: repo, audit: audit}
}

// HashAPIKey returns the stored form of a raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func mayManageKeys(caller domain.Subject, subjectID string) error {
	if caller.IsAdmin || caller.ID == subjectID {
		return nil
	}
	return domain.ErrAccessDenied("only admins may manage keys of other subjects")
}

// Create generates a key and returns the raw value, shown only once.
func (s *APIKeyService) Create(ctx context.Context, req domain.CreateAPIKeyRequest) (string, *domain.APIKey, error) {
	subject, err := caller(ctx)
	if err != nil {
		return "", nil, err
	}
	if req.SubjectID == "" {
		req.SubjectID = subject.ID
	}
	if err := req.Validate(); err != nil {
		return "", nil, err
	}
	if err := mayManageKeys(subject, req.SubjectID); err != nil {
		return "", nil, err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	raw := hex.EncodeToString(buf)
	key := &domain.APIKey{
		SubjectID: req.SubjectID,
		Name:      req.Name,
		KeyPrefix: raw[:8],
		KeyHash:   HashAPIKey(raw),
		ExpiresAt: req.ExpiresAt,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return "", nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "create_api_key", domain.ServerRef(), req.SubjectID+"/"+req.Name)
	return raw, key, nil
}

// List returns the keys of subjectID without their hashes.
func (s *APIKeyService) List(ctx context.Context, subjectID string) ([]domain.APIKey, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if subjectID == "" {
		subjectID = subject.ID
	}
	if err := mayManageKeys(subject, subjectID); err != nil {
		return nil, err
	}
	keys, err := s.repo.ListForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	return keys, nil
}

// Delete removes one of the caller's keys, or any key for admins.
func (s *APIKeyService) Delete(ctx context.Context, subjectID, id string) error {
	subject, err := caller(ctx)
	if err != nil {
		return err
	}
	if subjectID == "" {
		subjectID = subject.ID
	}
	if err := mayManageKeys(subject, subjectID); err != nil {
		return err
	}
	keys, err := s.repo.ListForSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	found := false
	for _, k := range keys {
		if k.ID == id {
			found = true
			break
		}
	}
	if !found {
		return domain.ErrNotFound("api key %q not found", id)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	auditutil.LogAllowed(ctx, s.audit, subject, "delete_api_key", domain.ServerRef(), subjectID+"/"+id)
	return nil
}

// AuditService exposes the audit trail to admins.
type AuditService struct {
	repo domain.AuditRepository
}

// NewAuditService creates an AuditService.
func NewAuditService(repo domain.AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// List returns one page of audit entries.
func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	subject, err := caller(ctx)
	if err != nil {
		return nil, 0, err
	}
	if !subject.IsAdmin {
		return nil, 0, domain.ErrAccessDenied("audit log is restricted to admins")
	}
	return s.repo.List(ctx, filter)
}
