package api

import (
	"encoding/json"
	"time"

	"lake-catalog/internal/domain"
)

type projectJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func projectToAPI(p domain.Project) projectJSON {
	return projectJSON{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
}

type storageSecretJSON struct {
	AccessKeyID        string `json:"access_key_id,omitempty"`
	SecretAccessKey    string `json:"secret_access_key,omitempty"`
	AccountKey         string `json:"account_key,omitempty"`
	ServiceAccountJSON string `json:"service_account_json,omitempty"`
}

// storageProfileJSON carries a storage profile. Credential is accepted on
// input and never returned.
type storageProfileJSON struct {
	Type           string             `json:"type"`
	Bucket         string             `json:"bucket"`
	AccountName    string             `json:"account_name,omitempty"`
	KeyPrefix      string             `json:"key_prefix,omitempty"`
	Region         string             `json:"region,omitempty"`
	Endpoint       string             `json:"endpoint,omitempty"`
	STSEndpoint    string             `json:"sts_endpoint,omitempty"`
	PathStyle      bool               `json:"path_style,omitempty"`
	AssumeRoleARN  string             `json:"assume_role_arn,omitempty"`
	ExternalID     string             `json:"external_id,omitempty"`
	ServiceAccount string             `json:"service_account,omitempty"`
	Credential     *storageSecretJSON `json:"credential,omitempty"`
}

func (p storageProfileJSON) toDomain() domain.StorageProfile {
	out := domain.StorageProfile{
		Type:           domain.StorageType(p.Type),
		Bucket:         p.Bucket,
		AccountName:    p.AccountName,
		KeyPrefix:      p.KeyPrefix,
		Region:         p.Region,
		Endpoint:       p.Endpoint,
		STSEndpoint:    p.STSEndpoint,
		PathStyle:      p.PathStyle,
		AssumeRoleARN:  p.AssumeRoleARN,
		ExternalID:     p.ExternalID,
		ServiceAccount: p.ServiceAccount,
	}
	if p.Credential != nil {
		out.Secret = domain.StorageSecret(*p.Credential)
	}
	return out
}

func profileToAPI(p domain.StorageProfile) storageProfileJSON {
	return storageProfileJSON{
		Type:           string(p.Type),
		Bucket:         p.Bucket,
		AccountName:    p.AccountName,
		KeyPrefix:      p.KeyPrefix,
		Region:         p.Region,
		Endpoint:       p.Endpoint,
		STSEndpoint:    p.STSEndpoint,
		PathStyle:      p.PathStyle,
		AssumeRoleARN:  p.AssumeRoleARN,
		ExternalID:     p.ExternalID,
		ServiceAccount: p.ServiceAccount,
	}
}

type warehouseJSON struct {
	ID                      string             `json:"id"`
	ProjectID               string             `json:"project_id"`
	Name                    string             `json:"name"`
	Status                  string             `json:"status"`
	Protected               bool               `json:"protected"`
	DeleteProfile           string             `json:"delete_profile"`
	StorageProfile          storageProfileJSON `json:"storage_profile"`
	StorageRoot             string             `json:"storage_root"`
	MaxCredentialTTLSeconds int64              `json:"max_credential_ttl_seconds"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

func warehouseToAPI(w domain.Warehouse) warehouseJSON {
	return warehouseJSON{
		ID:                      w.ID,
		ProjectID:               w.ProjectID,
		Name:                    w.Name,
		Status:                  string(w.Status),
		Protected:               w.Protected,
		DeleteProfile:           string(w.DeleteProfile),
		StorageProfile:          profileToAPI(w.StorageProfile),
		StorageRoot:             w.StorageProfile.Root().String(),
		MaxCredentialTTLSeconds: int64(w.EffectiveMaxTTL() / time.Second),
		CreatedAt:               w.CreatedAt,
		UpdatedAt:               w.UpdatedAt,
	}
}

type namespaceJSON struct {
	ID          string            `json:"id"`
	WarehouseID string            `json:"warehouse_id"`
	ParentID    string            `json:"parent_id,omitempty"`
	Name        string            `json:"name"`
	Path        []string          `json:"path"`
	Properties  map[string]string `json:"properties"`
}

func namespaceToAPI(ns domain.Namespace) namespaceJSON {
	props := ns.Properties
	if props == nil {
		props = map[string]string{}
	}
	return namespaceJSON{
		ID:          ns.ID,
		WarehouseID: ns.WarehouseID,
		ParentID:    ns.ParentID,
		Name:        ns.Name,
		Path:        ns.Path,
		Properties:  props,
	}
}

type tabularJSON struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	WarehouseID      string `json:"warehouse_id"`
	NamespaceID      string `json:"namespace_id"`
	Name             string `json:"name"`
	Location         string `json:"location"`
	MetadataLocation string `json:"metadata_location"`
	Version          int64  `json:"version"`
}

func tabularToAPI(t domain.Tabular) tabularJSON {
	return tabularJSON{
		ID:               t.ID,
		Kind:             string(t.Kind),
		WarehouseID:      t.WarehouseID,
		NamespaceID:      t.NamespaceID,
		Name:             t.Name,
		Location:         t.Location.String(),
		MetadataLocation: t.Pointer.MetadataLocation,
		Version:          t.Pointer.Version,
	}
}

type credentialJSON struct {
	Backend         string            `json:"backend"`
	Config          map[string]string `json:"config"`
	AllowedActions  []string          `json:"allowed_actions"`
	AllowedPrefixes []string          `json:"allowed_prefixes"`
	IssuedAt        time.Time         `json:"issued_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
}

func credentialToAPI(c *domain.ScopedCredential) *credentialJSON {
	if c == nil {
		return nil
	}
	actions := make([]string, len(c.AllowedActions))
	for i, a := range c.AllowedActions {
		actions[i] = string(a)
	}
	return &credentialJSON{
		Backend:         string(c.BackendType),
		Config:          c.Material,
		AllowedActions:  actions,
		AllowedPrefixes: c.AllowedPrefixes,
		IssuedAt:        c.IssuedAt,
		ExpiresAt:       c.ExpiresAt,
	}
}

// loadResponse follows the load-table result shape of Iceberg REST
// catalogs, plus the catalog's own identifiers.
type loadResponse struct {
	Tabular          tabularJSON     `json:"tabular"`
	MetadataLocation string          `json:"metadata-location"`
	Metadata         json.RawMessage `json:"metadata"`
	Credential       *credentialJSON `json:"storage-credential,omitempty"`
}

type commitResponse struct {
	MetadataLocation string          `json:"metadata-location"`
	Version          int64           `json:"version"`
	Metadata         json.RawMessage `json:"metadata"`
}

type subjectJSON struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type objectJSON struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type tupleJSON struct {
	Subject  subjectJSON `json:"subject"`
	Relation string      `json:"relation"`
	Object   objectJSON  `json:"object"`
}

func (t tupleJSON) toDomain() (domain.Tuple, error) {
	rel, err := domain.ParseRelation(t.Relation)
	if err != nil {
		return domain.Tuple{}, err
	}
	obj, err := parseObject(t.Object.Kind, t.Object.ID)
	if err != nil {
		return domain.Tuple{}, err
	}
	return domain.Tuple{
		Subject:  domain.Subject{ID: t.Subject.ID, Kind: domain.SubjectKind(t.Subject.Kind)},
		Relation: rel,
		Object:   obj,
	}, nil
}

func tupleToAPI(t domain.Tuple) tupleJSON {
	return tupleJSON{
		Subject:  subjectJSON{Kind: string(t.Subject.Kind), ID: t.Subject.ID},
		Relation: string(t.Relation),
		Object:   objectJSON{Kind: string(t.Object.Kind), ID: t.Object.ID},
	}
}

func parseObject(kind, id string) (domain.NodeRef, error) {
	switch k := domain.NodeKind(kind); k {
	case domain.KindServer:
		return domain.ServerRef(), nil
	case domain.KindProject, domain.KindWarehouse, domain.KindNamespace, domain.KindTable, domain.KindView:
		if id == "" {
			return domain.NodeRef{}, errMissing("object id")
		}
		return domain.NodeRef{Kind: k, ID: id}, nil
	default:
		return domain.NodeRef{}, domain.ErrValidation("unknown object kind %q", kind)
	}
}

type apiKeyJSON struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subject_id"`
	Name      string     `json:"name"`
	KeyPrefix string     `json:"key_prefix"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	// Key is only set in the create response.
	Key string `json:"key,omitempty"`
}

func apiKeyToAPI(k domain.APIKey) apiKeyJSON {
	return apiKeyJSON{
		ID:        k.ID,
		SubjectID: k.SubjectID,
		Name:      k.Name,
		KeyPrefix: k.KeyPrefix,
		ExpiresAt: k.ExpiresAt,
		CreatedAt: k.CreatedAt,
	}
}

type auditEntryJSON struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Action     string    `json:"action"`
	ObjectType string    `json:"object_type"`
	ObjectID   string    `json:"object_id"`
	Status     string    `json:"status"`
	Detail     *string   `json:"detail,omitempty"`
	RequestID  *string   `json:"request_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func auditToAPI(e domain.AuditEntry) auditEntryJSON {
	return auditEntryJSON{
		ID:         e.ID,
		Subject:    e.Subject,
		Action:     e.Action,
		ObjectType: e.ObjectType,
		ObjectID:   e.ObjectID,
		Status:     e.Status,
		Detail:     e.Detail,
		RequestID:  e.RequestID,
		CreatedAt:  e.CreatedAt,
	}
}

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func mapList[S, T any](items []S, f func(S) T) []T {
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = f(it)
	}
	return out
}
