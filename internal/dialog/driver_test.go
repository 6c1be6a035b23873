package dialog

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/flowkeeper/internal/apistep"
	"github.com/solatis/flowkeeper/internal/rules"
	"github.com/solatis/flowkeeper/internal/types"
	"github.com/solatis/flowkeeper/internal/variables"
)

const sandboxTicket = "test-ticket"

type staticLoader map[types.StepID][]types.RuleSet

func (l staticLoader) LoadRuleSets(_ context.Context, _ types.TenantID, stepID types.StepID) ([]types.RuleSet, error) {
	return l[stepID], nil
}

type fakeAPI struct {
	result apistep.Result
	calls  []*types.APIStepConfig
	vars   []types.Variables
}

func (f *fakeAPI) Execute(_ context.Context, cfg *types.APIStepConfig, vars types.Variables) apistep.Result {
	f.calls = append(f.calls, cfg)
	f.vars = append(f.vars, vars)
	return f.result
}

type fakeSteps map[types.StepID]types.Step

func (f fakeSteps) GetStep(_ context.Context, _ types.TenantID, id types.StepID) (types.Step, error) {
	s, ok := f[id]
	if !ok {
		return types.Step{}, types.ErrStepNotFound
	}
	return s, nil
}

type harness struct {
	driver *Driver
	vars   *variables.Service
	api    *fakeAPI
}

func newHarness(t *testing.T, rs []types.Rule, opts ...Option) *harness {
	t.Helper()
	var sets []types.RuleSet
	if rs != nil {
		sets = []types.RuleSet{{ID: "rs", StepID: "step-1", Rules: rs}}
	}
	engine, err := rules.NewEngine(staticLoader{"step-1": sets}, nil)
	require.NoError(t, err)

	cache, err := variables.NewSandboxCache(8, nil)
	require.NoError(t, err)
	vars, err := variables.NewService(nil, cache)
	require.NoError(t, err)

	api := &fakeAPI{}
	driver, err := NewDriver(engine, vars, api, opts...)
	require.NoError(t, err)
	return &harness{driver: driver, vars: vars, api: api}
}

func turn(message string) Turn {
	return Turn{
		TenantID:  "tenant-a",
		FlowID:    "flow-1",
		StepID:    "step-1",
		TicketID:  sandboxTicket,
		ContactID: "contact-1",
		Message:   message,
	}
}

func conv() variables.Conversation {
	return variables.Conversation{TenantID: "tenant-a", ContactID: "contact-1", TicketID: sandboxTicket}
}

func menu() []types.Rule {
	return []types.Rule{
		{ID: "r1", Priority: 1, Inputs: []string{"1"}, Exact: true, Action: types.AdvanceStep{StepID: "step-2"}},
		{ID: "r2", Priority: 2, Inputs: []string{"2"}, Exact: true, Action: types.RouteQueue{QueueID: "financeiro"}},
	}
}

func TestAdvance_Navigation(t *testing.T) {
	h := newHarness(t, menu())

	out, err := h.driver.Advance(context.Background(), turn("2"))
	require.NoError(t, err)
	assert.Equal(t, DirectiveTransition, out.Directive)
	assert.Equal(t, types.RouteQueue{QueueID: "financeiro"}, out.Action)
	assert.Len(t, out.Resolutions, 1)
}

func TestAdvance_Terminals(t *testing.T) {
	tests := []struct {
		name      string
		rules     []types.Rule
		message   string
		secondary bool
		want      Directive
	}{
		{"no rules", nil, "oi", false, DirectiveStop},
		{"no match", menu(), "9", false, DirectiveStay},
		{"invalid option", menu(), "9", true, DirectiveReprompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.rules)
			tr := turn(tt.message)
			tr.Secondary = tt.secondary

			out, err := h.driver.Advance(context.Background(), tr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Directive)
			assert.Nil(t, out.Rule)
		})
	}
}

func TestAdvance_SetVariableThenNoMenuDefault(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{ID: "collect", Priority: 1, Action: types.SetVariable{Name: "email"}},
		{ID: "next", Priority: 2, Action: types.AdvanceStep{StepID: "step-2"}},
	})

	out, err := h.driver.Advance(context.Background(), turn("ana@example.com"))
	require.NoError(t, err)

	assert.Equal(t, DirectiveTransition, out.Directive)
	assert.Equal(t, types.AdvanceStep{StepID: "step-2"}, out.Action)
	require.Len(t, out.Resolutions, 2)
	assert.Equal(t, "no_menu_default", out.Resolutions[1].Strategy)

	val, ok := h.vars.Lookup(context.Background(), conv(), "email")
	assert.True(t, ok)
	assert.Equal(t, "ana@example.com", val)
}

func TestAdvance_SequentialCollection(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{ID: "nome", Priority: 1, Action: types.SetVariable{Name: "nome"}},
		{ID: "cpf", Priority: 2, Action: types.SetVariable{Name: "cpf"}},
	})

	out, err := h.driver.Advance(context.Background(), turn("Ana"))
	require.NoError(t, err)

	assert.Equal(t, DirectiveAwait, out.Directive)
	require.NotNil(t, out.Rule)
	assert.Equal(t, types.RuleID("cpf"), out.Rule.ID)
	assert.Equal(t, []Effect{{Kind: types.ActionSetVariable, Name: "nome", Value: "Ana", Found: true}}, out.Effects)
}

func TestAdvance_SetVariableTemplateValue(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{ID: "p", Priority: 1, Action: types.SetVariable{Name: "ultimo_protocolo", Value: "#{{protocolo}}"}},
	})

	_, err := h.driver.Advance(context.Background(), turn("qualquer"))
	require.NoError(t, err)

	val, _ := h.vars.Lookup(context.Background(), conv(), "ultimo_protocolo")
	assert.Equal(t, "#"+sandboxTicket, val)
}

func TestAdvance_SetVariableWithoutStoreFails(t *testing.T) {
	h := newHarness(t, []types.Rule{{ID: "c", Action: types.SetVariable{Name: "x"}}})
	tr := turn("v")
	tr.TicketID = "T-real"

	_, err := h.driver.Advance(context.Background(), tr)
	assert.ErrorIs(t, err, variables.ErrNoContactStore)
}

func TestAdvance_GetVariable(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{ID: "g", Priority: 1, Inputs: []string{"x"}, Action: types.GetVariable{Name: "nome"}},
		{ID: "n", Priority: 2, Action: types.RouteUser{UserID: "u-1"}},
	})
	require.NoError(t, h.vars.Save(context.Background(), conv(), "nome", "Ana"))

	out, err := h.driver.Advance(context.Background(), turn("x"))
	require.NoError(t, err)
	assert.Equal(t, DirectiveTransition, out.Directive)
	assert.Equal(t, []Effect{{Kind: types.ActionGetVariable, Name: "nome", Value: "Ana", Found: true}}, out.Effects)
}

func TestAdvance_CallAPISavesOutputs(t *testing.T) {
	cfg := &types.APIStepConfig{URL: "http://crm/{{cpf}}"}
	h := newHarness(t, []types.Rule{
		{ID: "api", Priority: 1, Inputs: []string{"consultar"}, Action: types.CallAPI{Config: cfg}},
		{ID: "next", Priority: 2, Action: types.AdvanceFlow{FlowID: "flow-2"}},
	})
	h.api.result = apistep.Result{
		Success: true,
		Status:  200,
		Outputs: map[string]any{"saldo": 10.5, "Nome Cliente": "Ana", "ausente": nil, "itens": []any{"a", "b"}, "pedido": json.Number("1234567890123456789")},
	}
	require.NoError(t, h.vars.Save(context.Background(), conv(), "cpf", "123"))

	out, err := h.driver.Advance(context.Background(), turn("consultar"))
	require.NoError(t, err)

	assert.Equal(t, DirectiveTransition, out.Directive)
	assert.Equal(t, types.AdvanceFlow{FlowID: "flow-2"}, out.Action)
	require.NotNil(t, out.API)
	assert.True(t, out.API.Success)
	require.Len(t, h.api.calls, 1)
	assert.Same(t, cfg, h.api.calls[0])
	assert.Equal(t, "123", h.api.vars[0]["cpf"])

	vars := h.vars.ResolveMap(context.Background(), conv())
	assert.Equal(t, "10.5", vars["saldo"])
	assert.Equal(t, "1234567890123456789", vars["pedido"])
	assert.Equal(t, "Ana", vars["nome_cliente"])
	assert.Equal(t, `["a","b"]`, vars["itens"])
	assert.NotContains(t, vars, "ausente")
}

func TestAdvance_CallAPIFailure(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{ID: "api", Priority: 1, Inputs: []string{"x"}, Action: types.CallAPI{Config: &types.APIStepConfig{URL: "http://crm"}}},
		{ID: "next", Priority: 2, Action: types.AdvanceFlow{FlowID: "flow-2"}},
	})
	h.api.result = apistep.Result{Status: 503, ErrorKind: apistep.ErrorServer}

	out, err := h.driver.Advance(context.Background(), turn("x"))
	require.NoError(t, err)
	assert.Equal(t, DirectiveAPIFailed, out.Directive)
	require.NotNil(t, out.API)
	assert.Equal(t, apistep.ErrorServer, out.API.ErrorKind)
	assert.Len(t, out.Resolutions, 1)
}

func TestAdvance_CallAPIStepFallback(t *testing.T) {
	stepCfg := &types.APIStepConfig{URL: "http://step-level"}
	rs := []types.Rule{{ID: "api", Inputs: []string{"x"}, Action: types.CallAPI{}}}

	h := newHarness(t, rs, WithStepSource(fakeSteps{"step-1": {ID: "step-1", APIConfig: stepCfg}}))
	h.api.result = apistep.Result{Success: true, Status: 200}

	_, err := h.driver.Advance(context.Background(), turn("x"))
	require.NoError(t, err)
	require.Len(t, h.api.calls, 1)
	assert.Same(t, stepCfg, h.api.calls[0])

	bare := newHarness(t, rs)
	_, err = bare.driver.Advance(context.Background(), turn("x"))
	assert.ErrorIs(t, err, types.ErrInvalidAPIConfig)

	noCfg := newHarness(t, rs, WithStepSource(fakeSteps{"step-1": {ID: "step-1"}}))
	_, err = noCfg.driver.Advance(context.Background(), turn("x"))
	assert.ErrorIs(t, err, types.ErrInvalidAPIConfig)
}

func TestAdvance_QueryDB(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{ID: "q", Inputs: []string{"saldo"}, Action: types.QueryDB{Query: "select saldo from contas"}},
	})

	out, err := h.driver.Advance(context.Background(), turn("meu saldo"))
	require.NoError(t, err)
	assert.Equal(t, DirectiveQuery, out.Directive)
	assert.Equal(t, types.QueryDB{Query: "select saldo from contas"}, out.Action)
}

func TestNewDriver_RequiresCollaborators(t *testing.T) {
	_, err := NewDriver(nil, nil, nil)
	assert.Error(t, err)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "42", stringify(float64(42)))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, "7", stringify(7))
	assert.Equal(t, "1234567890123456789", stringify(1234567890123456789))
	assert.Equal(t, "1234567890123456789", stringify(json.Number("1234567890123456789")))
	n, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	assert.Equal(t, "123456789012345678901234567890", stringify(n))
	assert.Equal(t, `{"a":1}`, stringify(map[string]any{"a": 1}))
}
