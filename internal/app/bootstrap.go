package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/service/catalog"
)

// BootstrapSubject performs bootstrap changes. It is an admin so bootstrap
// works on an empty policy store; audit entries name it.
var BootstrapSubject = domain.Subject{ID: "bootstrap", Kind: domain.SubjectService, IsAdmin: true}

// Bootstrap is the YAML document applied at startup.
//
//	projects:
//	  - name: analytics
//	    warehouses:
//	      - name: lake
//	        storage_profile: {type: s3, bucket: lake, region: eu-west-1, assume_role_arn: ...}
//	        namespaces: [sales, sales.eu]
//	grants:
//	  - subject: user:alice
//	    relation: select
//	    object: namespace:analytics/lake/sales
type Bootstrap struct {
	Projects []BootstrapProject `yaml:"projects"`
	Grants   []BootstrapGrant   `yaml:"grants"`
}

// BootstrapProject declares a project and its warehouses.
type BootstrapProject struct {
	Name       string               `yaml:"name"`
	Warehouses []BootstrapWarehouse `yaml:"warehouses"`
}

// BootstrapWarehouse declares a warehouse. Namespaces are dotted paths.
type BootstrapWarehouse struct {
	Name             string                  `yaml:"name"`
	StorageProfile   BootstrapStorageProfile `yaml:"storage_profile"`
	DeleteProfile    string                  `yaml:"delete_profile"`
	MaxCredentialTTL time.Duration           `yaml:"max_credential_ttl"`
	Protected        bool                    `yaml:"protected"`
	Namespaces       []string                `yaml:"namespaces"`
}

// BootstrapStorageProfile mirrors domain.StorageProfile. Secret values may
// reference environment variables as ${NAME}.
type BootstrapStorageProfile struct {
	Type               string `yaml:"type"`
	Bucket             string `yaml:"bucket"`
	AccountName        string `yaml:"account_name"`
	KeyPrefix          string `yaml:"key_prefix"`
	Region             string `yaml:"region"`
	Endpoint           string `yaml:"endpoint"`
	STSEndpoint        string `yaml:"sts_endpoint"`
	PathStyle          bool   `yaml:"path_style"`
	AssumeRoleARN      string `yaml:"assume_role_arn"`
	ExternalID         string `yaml:"external_id"`
	ServiceAccount     string `yaml:"service_account"`
	AccessKeyID        string `yaml:"access_key_id"`
	SecretAccessKey    string `yaml:"secret_access_key"`
	AccountKey         string `yaml:"account_key"`
	ServiceAccountJSON string `yaml:"service_account_json"`
}

func (p BootstrapStorageProfile) toDomain() domain.StorageProfile {
	return domain.StorageProfile{
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
		Secret: domain.StorageSecret{
			AccessKeyID:        os.ExpandEnv(p.AccessKeyID),
			SecretAccessKey:    os.ExpandEnv(p.SecretAccessKey),
			AccountKey:         os.ExpandEnv(p.AccountKey),
			ServiceAccountJSON: os.ExpandEnv(p.ServiceAccountJSON),
		},
	}
}

// BootstrapGrant declares one tuple. Subject is "user:<id>" or
// "service:<id>". Object is "<kind>:<path>" where path names the node by
// project/warehouse/namespace/table, or "server".
type BootstrapGrant struct {
	Subject  string `yaml:"subject"`
	Relation string `yaml:"relation"`
	Object   string `yaml:"object"`
}

// LoadBootstrap reads and parses a bootstrap file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap file: %w", err)
	}
	var b Bootstrap
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parse bootstrap file %s: %w", path, err)
	}
	return &b, nil
}

// ApplyBootstrap creates whatever the document declares that does not exist
// yet. Existing nodes are matched by name and left unchanged, so applying
// the same document twice is a no-op.
func (a *App) ApplyBootstrap(ctx context.Context, b *Bootstrap) error {
	ctx = domain.WithSubject(ctx, BootstrapSubject)
	ids := newNameIndex()

	for _, bp := range b.Projects {
		p, err := a.ensureProject(ctx, bp.Name)
		if err != nil {
			return err
		}
		ids.put(domain.KindProject, p.ID, bp.Name)

		for _, bw := range bp.Warehouses {
			w, err := a.ensureWarehouse(ctx, p.ID, bw)
			if err != nil {
				return err
			}
			ids.put(domain.KindWarehouse, w.ID, bp.Name, bw.Name)
			if !w.IsActive() {
				a.logger.Warn("bootstrap warehouse is inactive; skipping its namespaces", "warehouse", bw.Name)
				continue
			}
			for _, path := range bw.Namespaces {
				if err := a.ensureNamespacePath(ctx, w.ID, strings.Split(path, "."), ids, bp.Name, bw.Name); err != nil {
					return err
				}
			}
		}
	}

	for _, g := range b.Grants {
		t, err := a.resolveGrant(ctx, g, ids)
		if err != nil {
			return fmt.Errorf("bootstrap grant %s %s %s: %w", g.Subject, g.Relation, g.Object, err)
		}
		if err := a.Catalog.Grant(ctx, t); err != nil {
			return fmt.Errorf("bootstrap grant %s %s %s: %w", g.Subject, g.Relation, g.Object, err)
		}
	}
	a.logger.Info("bootstrap applied", "projects", len(b.Projects), "grants", len(b.Grants))
	return nil
}

func (a *App) ensureProject(ctx context.Context, name string) (*domain.Project, error) {
	projects, err := a.Catalog.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].Name == name {
			return &projects[i], nil
		}
	}
	p, err := a.Catalog.CreateProject(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("bootstrap project %s: %w", name, err)
	}
	a.logger.Info("bootstrap created project", "project", name)
	return p, nil
}

func (a *App) ensureWarehouse(ctx context.Context, projectID string, bw BootstrapWarehouse) (*domain.Warehouse, error) {
	existing, err := a.Catalog.ListWarehouses(ctx, projectID, nil)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].Name == bw.Name {
			return &existing[i], nil
		}
	}
	w, err := a.Catalog.CreateWarehouse(ctx, catalog.CreateWarehouseRequest{
		ProjectID:        projectID,
		Name:             bw.Name,
		StorageProfile:   bw.StorageProfile.toDomain(),
		DeleteProfile:    domain.DeleteProfile(bw.DeleteProfile),
		MaxCredentialTTL: bw.MaxCredentialTTL,
		Protected:        bw.Protected,
	})
	var downscoping *domain.DownscopingValidationError
	switch {
	case errors.As(err, &downscoping) && w != nil:
		// Stored inactive; an operator activates it after fixing the backend.
		a.logger.Warn("bootstrap warehouse failed its self-check", "warehouse", bw.Name, "error", err)
		return w, nil
	case err != nil:
		return nil, fmt.Errorf("bootstrap warehouse %s: %w", bw.Name, err)
	}
	a.logger.Info("bootstrap created warehouse", "warehouse", bw.Name, "root", w.StorageProfile.Root())
	return w, nil
}

func (a *App) ensureNamespacePath(ctx context.Context, warehouseID string, path []string, ids *nameIndex, prefix ...string) error {
	parentID := ""
	names := append([]string{}, prefix...)
	for _, name := range path {
		names = append(names, name)
		if id, ok := ids.get(domain.KindNamespace, names...); ok {
			parentID = id
			continue
		}
		children, err := a.Catalog.ListNamespaces(ctx, warehouseID, parentID)
		if err != nil {
			return err
		}
		id := ""
		for _, c := range children {
			if c.Name == name {
				id = c.ID
				break
			}
		}
		if id == "" {
			ns, err := a.Catalog.CreateNamespace(ctx, catalog.CreateNamespaceRequest{
				WarehouseID: warehouseID, ParentID: parentID, Name: name,
			})
			if err != nil {
				return fmt.Errorf("bootstrap namespace %s: %w", strings.Join(names, "/"), err)
			}
			id = ns.ID
		}
		ids.put(domain.KindNamespace, id, names...)
		parentID = id
	}
	return nil
}

func (a *App) resolveGrant(ctx context.Context, g BootstrapGrant, ids *nameIndex) (domain.Tuple, error) {
	kind, subjectID, ok := strings.Cut(g.Subject, ":")
	if !ok || subjectID == "" {
		return domain.Tuple{}, domain.ErrValidation("subject must be user:<id> or service:<id>")
	}
	rel, err := domain.ParseRelation(g.Relation)
	if err != nil {
		return domain.Tuple{}, err
	}
	object, err := a.resolveObject(ctx, g.Object, ids)
	if err != nil {
		return domain.Tuple{}, err
	}
	return domain.Tuple{
		Subject:  domain.Subject{ID: subjectID, Kind: domain.SubjectKind(kind)},
		Relation: rel,
		Object:   object,
	}, nil
}

// resolveObject maps "<kind>:<path>" to a NodeRef. Tables and views are
// looked up in their namespace, which must be declared in the document.
func (a *App) resolveObject(ctx context.Context, object string, ids *nameIndex) (domain.NodeRef, error) {
	if object == domain.ServerID {
		return domain.ServerRef(), nil
	}
	k, path, ok := strings.Cut(object, ":")
	if !ok {
		return domain.NodeRef{}, domain.ErrValidation("object must be <kind>:<path>")
	}
	kind := domain.NodeKind(k)
	names := strings.Split(path, "/")

	switch kind {
	case domain.KindServer:
		return domain.ServerRef(), nil
	case domain.KindProject, domain.KindWarehouse, domain.KindNamespace:
		if id, ok := ids.get(kind, names...); ok {
			return domain.NodeRef{Kind: kind, ID: id}, nil
		}
		return domain.NodeRef{}, domain.ErrNotFound("%s %s is not declared in the bootstrap file", kind, path)
	case domain.KindTable, domain.KindView:
		if len(names) < 4 {
			return domain.NodeRef{}, domain.ErrValidation("%s path must be project/warehouse/namespace.../name", kind)
		}
		nsID, ok := ids.get(domain.KindNamespace, names[:len(names)-1]...)
		if !ok {
			return domain.NodeRef{}, domain.ErrNotFound("namespace of %s is not declared in the bootstrap file", path)
		}
		tk := domain.TabularTable
		if kind == domain.KindView {
			tk = domain.TabularView
		}
		items, err := a.Catalog.ListTabulars(ctx, nsID, tk)
		if err != nil {
			return domain.NodeRef{}, err
		}
		for _, t := range items {
			if t.Name == names[len(names)-1] {
				return t.Ref(), nil
			}
		}
		return domain.NodeRef{}, domain.ErrNotFound("%s %s not found", kind, path)
	default:
		return domain.NodeRef{}, domain.ErrValidation("unknown object kind %q", k)
	}
}

// nameIndex maps name paths of bootstrapped nodes to their ids.
type nameIndex struct {
	m map[string]string
}

func newNameIndex() *nameIndex { return &nameIndex{m: map[string]string{}} }

func (n *nameIndex) key(kind domain.NodeKind, names []string) string {
	return string(kind) + ":" + strings.Join(names, "/")
}

func (n *nameIndex) put(kind domain.NodeKind, id string, names ...string) {
	n.m[n.key(kind, names)] = id
}

func (n *nameIndex) get(kind domain.NodeKind, names ...string) (string, bool) {
	id, ok := n.m[n.key(kind, names)]
	return id, ok
}
