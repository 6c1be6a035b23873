// internal/types/rules.go
package types

/*
 * Domain types for rule resolution.
 *
 * Provides RuleSet, Rule and ActionKind used by internal/rules for matching
 * and by internal/core/db for persistence. Storage-format agnostic: the
 * (action, target JSON) column pair is converted at the store boundary via
 * EncodeAction/DecodeAction in actions.go.
 *
 * Key types:
 *   - RuleSet: the ordered rule collection attached to one Step
 *   - Rule: trigger set + match mode + tagged action + priority
 *   - ActionKind: the string tag of an Action variant
 *
 * Dependencies: None (standard library only)
 */

// ActionKind is the storage tag of an Action variant.
type ActionKind string

const (
	ActionAdvanceStep ActionKind = "ADVANCE_STEP"
	ActionAdvanceFlow ActionKind = "ADVANCE_FLOW"
	ActionRouteQueue  ActionKind = "ROUTE_QUEUE"
	ActionRouteUser   ActionKind = "ROUTE_USER"
	ActionSetVariable ActionKind = "SET_VARIABLE"
	ActionGetVariable ActionKind = "GET_VARIABLE"
	ActionCallAPI     ActionKind = "CALL_API"
	ActionQueryDB     ActionKind = "QUERY_DB"
)

// IsNavigation reports whether the kind moves the conversation somewhere:
// another step, another flow, a queue or a user.
func (k ActionKind) IsNavigation() bool {
	switch k {
	case ActionAdvanceStep, ActionAdvanceFlow, ActionRouteQueue, ActionRouteUser:
		return true
	default:
		return false
	}
}

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionAdvanceStep, ActionAdvanceFlow, ActionRouteQueue, ActionRouteUser,
		ActionSetVariable, ActionGetVariable, ActionCallAPI, ActionQueryDB:
		return true
	default:
		return false
	}
}

// Rule is a single trigger -> action mapping.
// Inputs is a set: order is irrelevant and duplicates are removed at
// construction. Lower Priority is evaluated first.
type Rule struct {
	ID        RuleID
	RuleSetID RuleSetID
	TenantID  TenantID
	Inputs    []string
	Exact     bool
	Action    Action
	Priority  int
}

// Kind returns the rule's action kind, or "" when no action is set.
func (r *Rule) Kind() ActionKind {
	if r == nil || r.Action == nil {
		return ""
	}
	return r.Action.Kind()
}

// RuleSet is the rule collection attached to one Step.
// Rules are ordered by ascending priority, ties by creation order.
type RuleSet struct {
	ID       RuleSetID
	StepID   StepID
	TenantID TenantID
	Rules    []Rule
}
