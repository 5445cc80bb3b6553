package domain

import "strings"

// SubjectKind distinguishes human users from service identities.
type SubjectKind string

const (
	SubjectUser    SubjectKind = "user"
	SubjectService SubjectKind = "service"
)

// Subject is the authenticated caller of a catalog operation.
type Subject struct {
	ID      string
	Kind    SubjectKind
	IsAdmin bool
}

func (s Subject) String() string { return string(s.Kind) + ":" + s.ID }

// Action is a catalog operation checked by the authorization gate.
type Action string

const (
	ActionDescribe     Action = "describe"
	ActionSelect       Action = "select"
	ActionModify       Action = "modify"
	ActionCreate       Action = "create"
	ActionDrop         Action = "drop"
	ActionManageGrants Action = "manage_grants"
)

// AllActions lists the checkable actions.
var AllActions = []Action{ActionDescribe, ActionSelect, ActionModify, ActionCreate, ActionDrop, ActionManageGrants}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range AllActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", ErrValidation("unknown action %q", s)
}

// Relation is a stored relation name in the policy service.
type Relation string

// RelationOwnership grants every action on the object and its descendants.
const RelationOwnership Relation = "ownership"

// GrantRelation returns the relation that grants a.
func GrantRelation(a Action) Relation { return Relation(a) }

// DenyRelation returns the relation that explicitly denies a.
func DenyRelation(a Action) Relation { return Relation("deny_" + string(a)) }

// IsDeny reports whether r is an explicit deny relation.
func (r Relation) IsDeny() bool { return strings.HasPrefix(string(r), "deny_") }

// ParseRelation validates a relation name for grant management.
func ParseRelation(s string) (Relation, error) {
	if s == string(RelationOwnership) {
		return RelationOwnership, nil
	}
	if a, ok := strings.CutPrefix(s, "deny_"); ok {
		if _, err := ParseAction(a); err != nil {
			return "", ErrValidation("unknown relation %q", s)
		}
		return Relation(s), nil
	}
	if _, err := ParseAction(s); err != nil {
		return "", ErrValidation("unknown relation %q", s)
	}
	return Relation(s), nil
}

var implyingRelations = map[Action][]Relation{
	ActionDescribe:     {"describe", "select", "modify", "create", "drop", RelationOwnership},
	ActionSelect:       {"select", "modify", RelationOwnership},
	ActionModify:       {"modify", RelationOwnership},
	ActionCreate:       {"create", RelationOwnership},
	ActionDrop:         {"drop", RelationOwnership},
	ActionManageGrants: {"manage_grants", RelationOwnership},
}

// ImplyingRelations returns every grant relation that implies a.
func ImplyingRelations(a Action) []Relation { return implyingRelations[a] }

// RequiredAction maps a storage action to the catalog action it needs.
func RequiredAction(sa StorageAction) Action {
	switch sa {
	case ActionPut, ActionDelete:
		return ActionModify
	default:
		return ActionSelect
	}
}

// Tuple is a (subject, relation, object) fact in the policy service.
type Tuple struct {
	Subject  Subject
	Relation Relation
	Object   NodeRef
}

// RelationQuery asks whether one tuple exists.
type RelationQuery struct {
	Subject  Subject
	Relation Relation
	Object   NodeRef
}

// Decision is the outcome of an authorization check.
type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

// DenialMode selects how a Deny is surfaced to the caller.
type DenialMode int

const (
	// DenyAsNotFound hides existence. Used for read, list, and load.
	DenyAsNotFound DenialMode = iota
	// DenyAsForbidden reports Forbidden when the subject can describe the
	// object, NotFound otherwise. Used for mutations.
	DenyAsForbidden
)
