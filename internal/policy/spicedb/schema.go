package spicedb

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"lake-catalog/internal/domain"
)

// encodedPrefix marks object ids that were base64 encoded because they
// contain characters SpiceDB does not accept.
const encodedPrefix = "b64="

// maxPlainID is the longest object id SpiceDB accepts.
const maxPlainID = 1024

var plainID = regexp.MustCompile(`^[a-zA-Z0-9/_|\-+]+$`)

// EncodeID returns id in a form SpiceDB accepts as an object id.
func EncodeID(id string) string {
	if len(id) <= maxPlainID && plainID.MatchString(id) && !strings.HasPrefix(id, encodedPrefix) {
		return id
	}
	return encodedPrefix + base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeID reverses EncodeID.
func DecodeID(id string) (string, error) {
	raw, ok := strings.CutPrefix(id, encodedPrefix)
	if !ok {
		return id, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode object id %q: %w", id, err)
	}
	return string(b), nil
}

var schemaKinds = []domain.NodeKind{
	domain.KindServer, domain.KindProject, domain.KindWarehouse,
	domain.KindNamespace, domain.KindTable, domain.KindView,
}

// Schema renders the SpiceDB schema: every catalog node kind carries one
// relation per grantable and deniable relation name, each holding users and
// services directly.
func Schema() string {
	var relations []string
	relations = append(relations, string(domain.RelationOwnership))
	for _, a := range domain.AllActions {
		relations = append(relations, string(domain.GrantRelation(a)), string(domain.DenyRelation(a)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "definition %s {}\n\n", domain.SubjectUser)
	fmt.Fprintf(&b, "definition %s {}\n", domain.SubjectService)
	for _, k := range schemaKinds {
		fmt.Fprintf(&b, "\ndefinition %s {\n", k)
		for _, r := range relations {
			fmt.Fprintf(&b, "\trelation %s: %s | %s\n", r, domain.SubjectUser, domain.SubjectService)
		}
		b.WriteString("}\n")
	}
	return b.String()
}
