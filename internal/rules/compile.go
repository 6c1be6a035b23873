// internal/rules/compile.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/flowkeeper/internal/types"
	"github.com/solatis/flowkeeper/internal/variables"
)

/*
 * Rule construction and validation.
 *
 * NewRule is the single constructor used by the authoring write path. All
 * structural invariants are checked here so the matcher never re-validates:
 *
 *   1. Action present and of a known kind
 *   2. Priority non-negative
 *   3. Trigger set bounded (MaxRuleInputs, MaxRuleInputLength)
 *   4. Trigger set trimmed and de-duplicated, blank entries dropped
 *   5. exact=true requires a non-empty trigger set
 *   6. Kind-specific target present (step id, flow id, queue, user,
 *      variable name, API config, query)
 *
 * Variable names of SET_VARIABLE / GET_VARIABLE are stored normalized so the
 * same name always addresses the same map key.
 */

// RuleSpec is an unvalidated rule as submitted by flow authoring.
// An empty ID asks NewRule to generate one.
type RuleSpec struct {
	ID        types.RuleID
	RuleSetID types.RuleSetID
	TenantID  types.TenantID
	Inputs    []string
	Exact     bool
	Action    types.Action
	Priority  int
}

// NewRule validates spec and returns the rule in canonical form.
func NewRule(spec RuleSpec) (types.Rule, error) {
	if spec.Action == nil || !spec.Action.Kind().Valid() {
		return types.Rule{}, types.ErrUnknownAction
	}
	if spec.Priority < 0 {
		return types.Rule{}, types.ErrInvalidPriority
	}
	if len(spec.Inputs) > types.MaxRuleInputs {
		return types.Rule{}, fmt.Errorf("%w: %d > %d", types.ErrTooManyInputs, len(spec.Inputs), types.MaxRuleInputs)
	}

	inputs, err := canonicalInputs(spec.Inputs)
	if err != nil {
		return types.Rule{}, err
	}
	if spec.Exact && len(inputs) == 0 {
		return types.Rule{}, types.ErrExactRequiresInput
	}

	action, err := canonicalAction(spec.Action)
	if err != nil {
		return types.Rule{}, err
	}

	id := spec.ID
	if id == "" {
		id = types.NewRuleID()
	}

	return types.Rule{
		ID:        id,
		RuleSetID: spec.RuleSetID,
		TenantID:  spec.TenantID,
		Inputs:    inputs,
		Exact:     spec.Exact,
		Action:    action,
		Priority:  spec.Priority,
	}, nil
}

// canonicalInputs trims each trigger, drops blanks and removes entries that
// fold to an already seen candidate.
func canonicalInputs(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, in := range raw {
		if len(in) > types.MaxRuleInputLength {
			return nil, fmt.Errorf("%w: %d bytes", types.ErrInputTooLong, len(in))
		}
		trimmed := strings.TrimSpace(in)
		folded := foldText(trimmed)
		if folded == "" {
			continue
		}
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		out = append(out, trimmed)
	}
	return out, nil
}

func canonicalAction(a types.Action) (types.Action, error) {
	switch v := a.(type) {
	case types.AdvanceStep:
		if v.StepID == "" {
			return nil, fmt.Errorf("%w: %s needs step_id", types.ErrMalformedRule, v.Kind())
		}
	case types.AdvanceFlow:
		if v.FlowID == "" {
			return nil, fmt.Errorf("%w: %s needs flow_id", types.ErrMalformedRule, v.Kind())
		}
	case types.RouteQueue:
		if strings.TrimSpace(v.QueueID) == "" {
			return nil, fmt.Errorf("%w: %s needs queue_id", types.ErrMalformedRule, v.Kind())
		}
	case types.RouteUser:
		if strings.TrimSpace(v.UserID) == "" {
			return nil, fmt.Errorf("%w: %s needs user_id", types.ErrMalformedRule, v.Kind())
		}
	case types.SetVariable:
		name, err := variableName(v.Name)
		if err != nil {
			return nil, err
		}
		v.Name = name
		return v, nil
	case types.GetVariable:
		name, err := variableName(v.Name)
		if err != nil {
			return nil, err
		}
		v.Name = name
		return v, nil
	case types.CallAPI:
		if v.Config != nil {
			if err := v.Config.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %w", types.ErrMalformedRule, err)
			}
		}
	case types.QueryDB:
		if strings.TrimSpace(v.Query) == "" {
			return nil, fmt.Errorf("%w: %s needs query", types.ErrMalformedRule, v.Kind())
		}
	default:
		return nil, types.ErrUnknownAction
	}
	return a, nil
}

func variableName(raw string) (string, error) {
	name := variables.NormalizeName(raw)
	if name == "" || len(name) > types.MaxVariableNameLength {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidVariableName, raw)
	}
	return name, nil
}
