package types

import (
	"encoding/json"
	"fmt"
)

// Action is the tagged union of everything a rule can do. Each variant
// carries only the target reference its kind needs.
type Action interface {
	Kind() ActionKind
	isAction()
}

// AdvanceStep moves the conversation to another step of the same flow.
type AdvanceStep struct {
	StepID StepID `json:"step_id"`
}

// AdvanceFlow jumps to the start of another flow.
type AdvanceFlow struct {
	FlowID FlowID `json:"flow_id"`
}

// RouteQueue hands the conversation to a human queue.
type RouteQueue struct {
	QueueID string `json:"queue_id"`
}

// RouteUser hands the conversation to a specific user.
type RouteUser struct {
	UserID string `json:"user_id"`
}

// SetVariable stores Value (or the inbound message when Value is empty)
// under Name. Value may contain {{placeholders}}.
type SetVariable struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// GetVariable reads Name from the conversation's variable map.
type GetVariable struct {
	Name string `json:"name"`
}

// CallAPI invokes an external HTTP endpoint. A nil Config means the step's
// own API configuration applies.
type CallAPI struct {
	Config *APIStepConfig `json:"config,omitempty"`
}

// QueryDB carries a query for the caller to run; the engine never executes it.
type QueryDB struct {
	Query string `json:"query"`
}

func (AdvanceStep) Kind() ActionKind { return ActionAdvanceStep }
func (AdvanceFlow) Kind() ActionKind { return ActionAdvanceFlow }
func (RouteQueue) Kind() ActionKind  { return ActionRouteQueue }
func (RouteUser) Kind() ActionKind   { return ActionRouteUser }
func (SetVariable) Kind() ActionKind { return ActionSetVariable }
func (GetVariable) Kind() ActionKind { return ActionGetVariable }
func (CallAPI) Kind() ActionKind     { return ActionCallAPI }
func (QueryDB) Kind() ActionKind     { return ActionQueryDB }

func (AdvanceStep) isAction() {}
func (AdvanceFlow) isAction() {}
func (RouteQueue) isAction()  {}
func (RouteUser) isAction()   {}
func (SetVariable) isAction() {}
func (GetVariable) isAction() {}
func (CallAPI) isAction()     {}
func (QueryDB) isAction()     {}

// EncodeAction converts an Action to its storage (kind, target JSON) pair.
func EncodeAction(a Action) (ActionKind, []byte, error) {
	if a == nil {
		return "", nil, ErrUnknownAction
	}
	target, err := json.Marshal(a)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s target: %w", a.Kind(), err)
	}
	return a.Kind(), target, nil
}

// DecodeAction rebuilds an Action from its storage pair.
// Unknown kinds and undecodable targets wrap ErrMalformedRule.
func DecodeAction(kind ActionKind, target []byte) (Action, error) {
	if len(target) == 0 {
		target = []byte("{}")
	}

	var (
		a   Action
		err error
	)
	switch kind {
	case ActionAdvanceStep:
		var v AdvanceStep
		err = json.Unmarshal(target, &v)
		a = v
	case ActionAdvanceFlow:
		var v AdvanceFlow
		err = json.Unmarshal(target, &v)
		a = v
	case ActionRouteQueue:
		var v RouteQueue
		err = json.Unmarshal(target, &v)
		a = v
	case ActionRouteUser:
		var v RouteUser
		err = json.Unmarshal(target, &v)
		a = v
	case ActionSetVariable:
		var v SetVariable
		err = json.Unmarshal(target, &v)
		a = v
	case ActionGetVariable:
		var v GetVariable
		err = json.Unmarshal(target, &v)
		a = v
	case ActionCallAPI:
		var v CallAPI
		err = json.Unmarshal(target, &v)
		a = v
	case ActionQueryDB:
		var v QueryDB
		err = json.Unmarshal(target, &v)
		a = v
	default:
		return nil, fmt.Errorf("%w: %w %q", ErrMalformedRule, ErrUnknownAction, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s target: %v", ErrMalformedRule, kind, err)
	}
	return a, nil
}
