// Package dialog drives one conversation turn: resolve the inbound message,
// perform the selected action, and tell the caller what happens next.
//
// Navigation actions are returned for the caller to apply. Data actions
// (SET_VARIABLE, GET_VARIABLE, CALL_API) are performed here and followed by
// exactly one secondary-mode resolution that picks where the flow goes
// after the value was collected. QUERY_DB is never executed by the engine.
//
// Only SET_VARIABLE rules fire without a trigger in primary mode. GET_VARIABLE
// and CALL_API rules need a non-empty input set, otherwise the turn resolves
// to no match and the action never runs.
package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"

	"github.com/solatis/flowkeeper/internal/apistep"
	"github.com/solatis/flowkeeper/internal/core/logging"
	"github.com/solatis/flowkeeper/internal/rules"
	"github.com/solatis/flowkeeper/internal/types"
	"github.com/solatis/flowkeeper/internal/variables"
)

// Directive tells the caller what to do with the conversation.
type Directive string

const (
	// DirectiveTransition applies Outcome.Action (step, flow, queue or user).
	DirectiveTransition Directive = "TRANSITION"
	// DirectiveAwait keeps the step and waits for the value Outcome.Rule collects.
	DirectiveAwait Directive = "AWAIT"
	// DirectiveReprompt re-asks using the flow's "invalid option" message.
	DirectiveReprompt Directive = "REPROMPT"
	// DirectiveStay keeps the conversation where it is; nothing matched.
	DirectiveStay Directive = "STAY"
	// DirectiveStop means the step has no rules: the flow ends here.
	DirectiveStop Directive = "STOP"
	// DirectiveQuery hands a QUERY_DB action to the caller.
	DirectiveQuery Directive = "QUERY"
	// DirectiveAPIFailed reports a failed API step in Outcome.API.
	DirectiveAPIFailed Directive = "API_FAILED"
)

// Resolver selects rules; *rules.Engine implements it.
type Resolver interface {
	Resolve(ctx context.Context, req rules.Request) (rules.Resolution, error)
}

// VariableStore reads and writes conversation variables; *variables.Service
// implements it.
type VariableStore interface {
	ResolveMap(ctx context.Context, conv variables.Conversation) types.Variables
	Lookup(ctx context.Context, conv variables.Conversation, name string) (string, bool)
	Save(ctx context.Context, conv variables.Conversation, name, value string) error
}

// APICaller runs API steps; *apistep.Executor implements it.
type APICaller interface {
	Execute(ctx context.Context, cfg *types.APIStepConfig, vars types.Variables) apistep.Result
}

// StepSource loads a step, used for CALL_API rules without their own config.
type StepSource interface {
	GetStep(ctx context.Context, tenantID types.TenantID, stepID types.StepID) (types.Step, error)
}

// Turn is one inbound message of a conversation.
type Turn struct {
	TenantID  types.TenantID
	FlowID    types.FlowID
	StepID    types.StepID
	TicketID  string
	ContactID string
	Message   string
	// Secondary starts the turn in secondary mode, for callers that already
	// collected the value themselves.
	Secondary bool
}

func (t Turn) conversation() variables.Conversation {
	return variables.Conversation{TenantID: t.TenantID, ContactID: t.ContactID, TicketID: t.TicketID}
}

func (t Turn) request(secondary bool) rules.Request {
	return rules.Request{
		TenantID:  t.TenantID,
		StepID:    t.StepID,
		Message:   t.Message,
		TicketID:  t.TicketID,
		FlowID:    t.FlowID,
		Secondary: secondary,
	}
}

// Effect records a data action performed during the turn.
type Effect struct {
	Kind  types.ActionKind `json:"kind"`
	Name  string           `json:"name,omitempty"`
	Value string           `json:"value,omitempty"`
	Found bool             `json:"found,omitempty"`
}

// Outcome is the result of Advance.
type Outcome struct {
	Directive Directive
	// Rule decided the directive; nil for STOP/STAY/REPROMPT.
	Rule *types.Rule
	// Action is the navigation or query action to apply.
	Action types.Action
	// Resolutions lists every resolution made, in order.
	Resolutions []rules.Resolution
	Effects     []Effect
	API         *apistep.Result
}

// Driver performs conversation turns.
type Driver struct {
	resolver Resolver
	vars     VariableStore
	api      APICaller
	steps    StepSource
	logger   *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithStepSource enables the step-level API config fallback.
func WithStepSource(s StepSource) Option {
	return func(d *Driver) { d.steps = s }
}

// NewDriver creates a Driver.
func NewDriver(resolver Resolver, vars VariableStore, api APICaller, opts ...Option) (*Driver, error) {
	if resolver == nil || vars == nil || api == nil {
		return nil, fmt.Errorf("dialog driver needs a resolver, a variable store and an api caller")
	}
	d := &Driver{resolver: resolver, vars: vars, api: api, logger: logging.Discard()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Advance resolves turn.Message and performs the selected action.
func (d *Driver) Advance(ctx context.Context, turn Turn) (Outcome, error) {
	var out Outcome

	res, err := d.resolver.Resolve(ctx, turn.request(turn.Secondary))
	if err != nil {
		return out, err
	}
	out.Resolutions = append(out.Resolutions, res)

	if done := terminal(&out, res); done {
		return out, nil
	}

	rule := res.Rule
	switch rule.Kind() {
	case types.ActionQueryDB:
		out.Directive, out.Rule, out.Action = DirectiveQuery, rule, rule.Action
		return out, nil
	case types.ActionSetVariable, types.ActionGetVariable, types.ActionCallAPI:
		ok, err := d.perform(ctx, turn, rule, &out)
		if err != nil || !ok {
			return out, err
		}
	default:
		out.Directive, out.Rule, out.Action = DirectiveTransition, rule, rule.Action
		return out, nil
	}

	next, err := d.resolver.Resolve(ctx, turn.request(true))
	if err != nil {
		return out, err
	}
	out.Resolutions = append(out.Resolutions, next)

	if done := terminal(&out, next); done {
		return out, nil
	}
	switch {
	case next.Rule.Kind().IsNavigation():
		out.Directive, out.Rule, out.Action = DirectiveTransition, next.Rule, next.Rule.Action
	case next.Rule.Kind() == types.ActionQueryDB:
		out.Directive, out.Rule, out.Action = DirectiveQuery, next.Rule, next.Rule.Action
	default:
		out.Directive, out.Rule = DirectiveAwait, next.Rule
	}
	return out, nil
}

// terminal sets the directive for outcomes without a rule.
func terminal(out *Outcome, res rules.Resolution) bool {
	switch res.Outcome {
	case rules.OutcomeNoRules:
		out.Directive = DirectiveStop
	case rules.OutcomeInvalidOption:
		out.Directive = DirectiveReprompt
	case rules.OutcomeNoMatch:
		out.Directive = DirectiveStay
	default:
		return res.Rule == nil
	}
	return true
}

// perform runs a data action. ok=false ends the turn without a follow-up.
func (d *Driver) perform(ctx context.Context, turn Turn, rule *types.Rule, out *Outcome) (bool, error) {
	conv := turn.conversation()

	switch a := rule.Action.(type) {
	case types.SetVariable:
		value := turn.Message
		if a.Value != "" {
			value = variables.Substitute(a.Value, d.vars.ResolveMap(ctx, conv))
		}
		if err := d.vars.Save(ctx, conv, a.Name, value); err != nil {
			return false, fmt.Errorf("set variable %s: %w", a.Name, err)
		}
		out.Effects = append(out.Effects, Effect{Kind: a.Kind(), Name: a.Name, Value: value, Found: true})

	case types.GetVariable:
		value, found := d.vars.Lookup(ctx, conv, a.Name)
		out.Effects = append(out.Effects, Effect{Kind: a.Kind(), Name: a.Name, Value: value, Found: found})

	case types.CallAPI:
		cfg, err := d.apiConfig(ctx, turn, a)
		if err != nil {
			return false, err
		}
		result := d.api.Execute(ctx, cfg, d.vars.ResolveMap(ctx, conv))
		out.API = &result
		out.Effects = append(out.Effects, Effect{Kind: a.Kind(), Value: strconv.Itoa(result.Status), Found: result.Success})
		if !result.Success {
			d.logger.Warn("api step failed",
				"step_id", turn.StepID,
				"rule_id", rule.ID,
				"error_kind", result.ErrorKind,
				"attempts", result.Metadata.Attempts)
			out.Directive, out.Rule = DirectiveAPIFailed, rule
			return false, nil
		}
		if err := d.saveOutputs(ctx, conv, result.Outputs, out); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (d *Driver) apiConfig(ctx context.Context, turn Turn, a types.CallAPI) (*types.APIStepConfig, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	if d.steps == nil {
		return nil, fmt.Errorf("%w: rule has no config and no step source is configured", types.ErrInvalidAPIConfig)
	}
	step, err := d.steps.GetStep(ctx, turn.TenantID, turn.StepID)
	if err != nil {
		return nil, fmt.Errorf("load api config for step %s: %w", turn.StepID, err)
	}
	if step.APIConfig == nil {
		return nil, fmt.Errorf("%w: step %s has no api config", types.ErrInvalidAPIConfig, turn.StepID)
	}
	return step.APIConfig, nil
}

// saveOutputs stores mapped response fields as variables. Null outputs are
// skipped so a missing field never overwrites an earlier value.
func (d *Driver) saveOutputs(ctx context.Context, conv variables.Conversation, outputs map[string]any, out *Outcome) error {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := outputs[name]
		if v == nil {
			continue
		}
		value := stringify(v)
		if err := d.vars.Save(ctx, conv, name, value); err != nil {
			return fmt.Errorf("save api output %s: %w", name, err)
		}
		out.Effects = append(out.Effects, Effect{Kind: types.ActionSetVariable, Name: variables.NormalizeName(name), Value: value, Found: true})
	}
	return nil
}

// stringify renders an extracted JSON value as a variable value.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case *big.Int:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
