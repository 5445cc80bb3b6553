package gcs

import (
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials/downscope"

	"lake-catalog/internal/domain"
)

// Roles granting the narrowest permission set for each storage action.
const (
	roleObjectReader = "inRole:roles/storage.legacyObjectReader"
	roleObjectCreate = "inRole:roles/storage.objectCreator"
	roleBucketReader = "inRole:roles/storage.legacyBucketReader"
	roleObjectUser   = "inRole:roles/storage.objectUser"
)

// AccessBoundary builds the access boundary rules for a grant. Object
// permissions are conditioned on the object name, listing on the list
// prefix. GCS has no role carrying delete alone, so delete is only granted
// together with every other action.
func AccessBoundary(bucket string, prefixes []domain.Location, actions domain.ActionSet) ([]downscope.AccessBoundaryRule, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if len(prefixes) == 0 || len(actions) == 0 {
		return nil, fmt.Errorf("access boundary needs at least one prefix and one action")
	}
	keys := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		b, key, err := SplitLocation(p)
		if err != nil {
			return nil, err
		}
		if b != bucket {
			return nil, fmt.Errorf("prefix %s is not in bucket %s", p, bucket)
		}
		keys = append(keys, objectPrefix(key))
	}

	var objectRoles []string
	switch {
	case actions.Has(domain.ActionDelete):
		if len(actions) != len(domain.AllStorageActions) {
			return nil, domain.ErrVending(domain.StorageTypeGCS, nil, "delete can only be granted together with get, put, and list")
		}
		objectRoles = []string{roleObjectUser}
	default:
		if actions.Has(domain.ActionGet) {
			objectRoles = append(objectRoles, roleObjectReader)
		}
		if actions.Has(domain.ActionPut) {
			objectRoles = append(objectRoles, roleObjectCreate)
		}
	}

	resource := "//storage.googleapis.com/projects/_/buckets/" + bucket
	var rules []downscope.AccessBoundaryRule
	if len(objectRoles) > 0 {
		rules = append(rules, downscope.AccessBoundaryRule{
			AvailableResource:    resource,
			AvailablePermissions: objectRoles,
			Condition: &downscope.AvailabilityCondition{
				Title:      "objects",
				Expression: objectCondition(bucket, keys),
			},
		})
	}
	if actions.Has(domain.ActionList) {
		rules = append(rules, downscope.AccessBoundaryRule{
			AvailableResource:    resource,
			AvailablePermissions: []string{roleBucketReader},
			Condition: &downscope.AvailabilityCondition{
				Title:      "list",
				Expression: listCondition(keys),
			},
		})
	}
	return rules, nil
}

func objectCondition(bucket string, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("resource.name.startsWith('projects/_/buckets/%s/objects/%s')", bucket, celEscape(k))
	}
	return strings.Join(parts, " || ")
}

func listCondition(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("api.getAttribute('storage.googleapis.com/objectListPrefix', '').startsWith('%s')", celEscape(k))
	}
	return strings.Join(parts, " || ")
}

func celEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
