package api

import (
	"encoding/json"

	"github.com/solatis/flowkeeper/internal/apistep"
	"github.com/solatis/flowkeeper/internal/dialog"
	"github.com/solatis/flowkeeper/internal/rules"
	"github.com/solatis/flowkeeper/internal/types"
)

// Wire messages of flowkeeper.engine.v1.FlowEngine. The tenant is never part
// of a message; it comes from request metadata.

type ResolveRequest struct {
	StepID    string `json:"step_id"`
	Message   string `json:"message"`
	TicketID  string `json:"ticket_id,omitempty"`
	FlowID    string `json:"flow_id,omitempty"`
	Secondary bool   `json:"secondary,omitempty"`
}

type ResolveResponse struct {
	Resolution Resolution `json:"resolution"`
}

type AdvanceRequest struct {
	FlowID    string `json:"flow_id,omitempty"`
	StepID    string `json:"step_id"`
	TicketID  string `json:"ticket_id,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
	Message   string `json:"message"`
	Secondary bool   `json:"secondary,omitempty"`
}

type AdvanceResponse struct {
	Directive   string          `json:"directive"`
	Rule        *Rule           `json:"rule,omitempty"`
	Action      *Action         `json:"action,omitempty"`
	Resolutions []Resolution    `json:"resolutions"`
	Effects     []dialog.Effect `json:"effects,omitempty"`
	API         *apistep.Result `json:"api,omitempty"`
}

type RenderRequest struct {
	ContactID string   `json:"contact_id,omitempty"`
	TicketID  string   `json:"ticket_id,omitempty"`
	Templates []string `json:"templates"`
}

type RenderResponse struct {
	Rendered []string `json:"rendered"`
}

type ExecuteAPIStepRequest struct {
	ContactID string               `json:"contact_id,omitempty"`
	TicketID  string               `json:"ticket_id,omitempty"`
	Config    *types.APIStepConfig `json:"config"`
}

type ExecuteAPIStepResponse struct {
	Result apistep.Result `json:"result"`
}

// ClearSandboxRequest clears one contact, or every contact when ContactID is
// empty.
type ClearSandboxRequest struct {
	ContactID string `json:"contact_id,omitempty"`
}

type ClearSandboxResponse struct {
	Remaining int `json:"remaining"`
}

// Resolution mirrors rules.Resolution.
type Resolution struct {
	Outcome   string `json:"outcome"`
	Rule      *Rule  `json:"rule,omitempty"`
	RuleSetID string `json:"rule_set_id,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Audited   bool   `json:"audited"`
}

// Rule mirrors types.Rule with its action flattened to kind + target.
type Rule struct {
	ID        string   `json:"id"`
	RuleSetID string   `json:"rule_set_id"`
	Inputs    []string `json:"inputs"`
	Exact     bool     `json:"exact"`
	Priority  int      `json:"priority"`
	Action    Action   `json:"action"`
}

// Action is the storage form of a types.Action.
type Action struct {
	Kind   types.ActionKind `json:"kind"`
	Target json.RawMessage  `json:"target,omitempty"`
}

func toAction(a types.Action) (*Action, error) {
	if a == nil {
		return nil, nil
	}
	kind, target, err := types.EncodeAction(a)
	if err != nil {
		return nil, err
	}
	return &Action{Kind: kind, Target: target}, nil
}

func toRule(r *types.Rule) (*Rule, error) {
	if r == nil {
		return nil, nil
	}
	action, err := toAction(r.Action)
	if err != nil {
		return nil, err
	}
	inputs := r.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	return &Rule{
		ID:        string(r.ID),
		RuleSetID: string(r.RuleSetID),
		Inputs:    inputs,
		Exact:     r.Exact,
		Priority:  r.Priority,
		Action:    *action,
	}, nil
}

// ResolutionFrom converts an engine resolution to its wire form.
func ResolutionFrom(res rules.Resolution) (Resolution, error) {
	rule, err := toRule(res.Rule)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Outcome:   res.Outcome.String(),
		Rule:      rule,
		RuleSetID: string(res.RuleSetID),
		Strategy:  res.Strategy,
		Audited:   res.Audited,
	}, nil
}
