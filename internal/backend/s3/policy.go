package s3

import (
	"encoding/json"
	"fmt"

	"lake-catalog/internal/domain"
)

// PolicyDocument is an IAM policy.
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement is one IAM policy statement.
type Statement struct {
	Effect    string                         `json:"Effect"`
	Action    []string                       `json:"Action"`
	Resource  []string                       `json:"Resource"`
	Condition map[string]map[string][]string `json:"Condition,omitempty"`
}

var objectActions = map[domain.StorageAction]string{
	domain.ActionGet:    "s3:GetObject",
	domain.ActionPut:    "s3:PutObject",
	domain.ActionDelete: "s3:DeleteObject",
}

// BuildPolicy returns a session policy allowing exactly actions on the
// objects beneath prefixes. List is expressed as s3:ListBucket on the
// bucket, restricted by an s3:prefix condition.
func BuildPolicy(bucket string, prefixes []domain.Location, actions domain.ActionSet) (*PolicyDocument, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if len(prefixes) == 0 || len(actions) == 0 {
		return nil, fmt.Errorf("session policy needs at least one prefix and one action")
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
		keys = append(keys, KeyPrefix(key))
	}

	doc := &PolicyDocument{Version: "2012-10-17"}

	var objActs []string
	for _, a := range actions.Sorted() {
		if s, ok := objectActions[a]; ok {
			objActs = append(objActs, s)
		}
	}
	if len(objActs) > 0 {
		resources := make([]string, len(keys))
		for i, k := range keys {
			resources[i] = "arn:aws:s3:::" + bucket + "/" + k + "*"
		}
		doc.Statement = append(doc.Statement, Statement{Effect: "Allow", Action: objActs, Resource: resources})
	}

	if actions.Has(domain.ActionList) {
		patterns := make([]string, 0, 2*len(keys))
		for _, k := range keys {
			patterns = append(patterns, k, k+"*")
		}
		doc.Statement = append(doc.Statement, Statement{
			Effect:    "Allow",
			Action:    []string{"s3:ListBucket"},
			Resource:  []string{"arn:aws:s3:::" + bucket},
			Condition: map[string]map[string][]string{"StringLike": {"s3:prefix": patterns}},
		})
	}
	return doc, nil
}

// SessionPolicy renders BuildPolicy as the JSON STS expects.
func SessionPolicy(bucket string, prefixes []domain.Location, actions domain.ActionSet) (string, error) {
	doc, err := BuildPolicy(bucket, prefixes, actions)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal session policy: %w", err)
	}
	return string(b), nil
}
