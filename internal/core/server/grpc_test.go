package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/solatis/flowkeeper/internal/apistep"
	"github.com/solatis/flowkeeper/internal/core/api"
	"github.com/solatis/flowkeeper/internal/core/config"
	"github.com/solatis/flowkeeper/internal/dialog"
	"github.com/solatis/flowkeeper/internal/rules"
	"github.com/solatis/flowkeeper/internal/types"
	"github.com/solatis/flowkeeper/internal/variables"
)

const (
	menuStep    types.StepID = "step-menu"
	collectStep types.StepID = "step-collect"
)

// memoryLoader serves fixed rule sets per step; unknown steps are not found.
type memoryLoader map[types.StepID][]types.RuleSet

func (m memoryLoader) LoadRuleSets(_ context.Context, _ types.TenantID, stepID types.StepID) ([]types.RuleSet, error) {
	sets, ok := m[stepID]
	if !ok {
		return nil, types.ErrStepNotFound
	}
	return sets, nil
}

func mustRule(t *testing.T, spec rules.RuleSpec) types.Rule {
	t.Helper()
	r, err := rules.NewRule(spec)
	require.NoError(t, err)
	return r
}

func testLoader(t *testing.T) memoryLoader {
	menu := types.RuleSet{ID: "rs-menu", StepID: menuStep, Rules: []types.Rule{
		mustRule(t, rules.RuleSpec{ID: "r1", RuleSetID: "rs-menu", Inputs: []string{"1"}, Exact: true, Priority: 1,
			Action: types.AdvanceStep{StepID: "step-2"}}),
		mustRule(t, rules.RuleSpec{ID: "r2", RuleSetID: "rs-menu", Inputs: []string{"2"}, Exact: true, Priority: 2,
			Action: types.RouteQueue{QueueID: "financeiro"}}),
	}}
	collect := types.RuleSet{ID: "rs-collect", StepID: collectStep, Rules: []types.Rule{
		mustRule(t, rules.RuleSpec{ID: "r-set", RuleSetID: "rs-collect", Priority: 1,
			Action: types.SetVariable{Name: "nome"}}),
		mustRule(t, rules.RuleSpec{ID: "r-next", RuleSetID: "rs-collect", Priority: 2,
			Action: types.AdvanceStep{StepID: "step-confirm"}}),
	}}
	return memoryLoader{
		menuStep:    {menu},
		collectStep: {collect},
		"step-end":  {},
	}
}

// startServer serves the engine over bufconn and returns a connected client.
func startServer(t *testing.T) (*api.FlowEngineClient, *grpc.ClientConn) {
	t.Helper()

	engine, err := rules.NewEngine(testLoader(t), nil)
	require.NoError(t, err)
	sandbox, err := variables.NewSandboxCache(16, nil)
	require.NoError(t, err)
	vars, err := variables.NewService(nil, sandbox)
	require.NoError(t, err)
	executor := apistep.NewExecutor(apistep.WithBackoffUnit(time.Millisecond))
	driver, err := dialog.NewDriver(engine, vars, executor)
	require.NoError(t, err)
	service, err := api.NewFlowEngineService(engine, driver, vars, executor, nil)
	require.NoError(t, err)

	srv, err := NewGRPCServer(config.ServerConfig{RequestTimeout: 5 * time.Second}, service, nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return api.NewFlowEngineClient(conn), conn
}

func tenantCtx(tenant string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-tenant-id", tenant)
}

func TestFlowEngine_Resolve(t *testing.T) {
	client, _ := startServer(t)

	resp, err := client.Resolve(tenantCtx("tenant-a"), &api.ResolveRequest{StepID: string(menuStep), Message: " 2 "})
	require.NoError(t, err)
	assert.Equal(t, "matched", resp.Resolution.Outcome)
	require.NotNil(t, resp.Resolution.Rule)
	assert.Equal(t, "r2", resp.Resolution.Rule.ID)
	assert.Equal(t, types.ActionRouteQueue, resp.Resolution.Rule.Action.Kind)
	assert.JSONEq(t, `{"queue_id":"financeiro"}`, string(resp.Resolution.Rule.Action.Target))
	assert.False(t, resp.Resolution.Audited)

	resp, err = client.Resolve(tenantCtx("tenant-a"), &api.ResolveRequest{StepID: string(menuStep), Message: "9", Secondary: true})
	require.NoError(t, err)
	assert.Equal(t, "invalid_option", resp.Resolution.Outcome)
	assert.Nil(t, resp.Resolution.Rule)

	resp, err = client.Resolve(tenantCtx("tenant-a"), &api.ResolveRequest{StepID: "step-end", Message: "oi"})
	require.NoError(t, err)
	assert.Equal(t, "no_rules", resp.Resolution.Outcome)
}

func TestFlowEngine_Errors(t *testing.T) {
	client, _ := startServer(t)

	tests := []struct {
		name string
		ctx  context.Context
		req  *api.ResolveRequest
		want codes.Code
	}{
		{"no tenant", context.Background(), &api.ResolveRequest{StepID: string(menuStep)}, codes.Unauthenticated},
		{"blank tenant", tenantCtx("  "), &api.ResolveRequest{StepID: string(menuStep)}, codes.Unauthenticated},
		{"no step", tenantCtx("tenant-a"), &api.ResolveRequest{}, codes.InvalidArgument},
		{"unknown step", tenantCtx("tenant-a"), &api.ResolveRequest{StepID: "nope"}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Resolve(tt.ctx, tt.req)
			assert.Equal(t, tt.want, status.Code(err), "err = %v", err)
		})
	}
}

func TestFlowEngine_AdvanceRenderClear(t *testing.T) {
	client, _ := startServer(t)
	ctx := tenantCtx("tenant-a")

	adv, err := client.Advance(ctx, &api.AdvanceRequest{
		StepID: string(collectStep), TicketID: "test-42", ContactID: "c1", Message: "Ana Souza",
	})
	require.NoError(t, err)
	assert.Equal(t, string(dialog.DirectiveTransition), adv.Directive)
	require.NotNil(t, adv.Action)
	assert.Equal(t, types.ActionAdvanceStep, adv.Action.Kind)
	assert.Len(t, adv.Resolutions, 2)
	require.Len(t, adv.Effects, 1)
	assert.Equal(t, "Ana Souza", adv.Effects[0].Value)

	render, err := client.Render(ctx, &api.RenderRequest{
		TicketID: "test-42", ContactID: "c1",
		Templates: []string{"Olá {{Nome}}, protocolo {{protocolo}}", "{{cpf}}"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Olá Ana Souza, protocolo test-42", "{{cpf}}"}, render.Rendered)

	cleared, err := client.ClearSandbox(ctx, &api.ClearSandboxRequest{ContactID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 0, cleared.Remaining)

	render, err = client.Render(ctx, &api.RenderRequest{TicketID: "test-42", ContactID: "c1", Templates: []string{"{{nome}}"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"{{nome}}"}, render.Rendered)
}

func TestFlowEngine_AdvanceRealConversationWithoutStore(t *testing.T) {
	client, _ := startServer(t)

	_, err := client.Advance(tenantCtx("tenant-a"), &api.AdvanceRequest{
		StepID: string(collectStep), TicketID: "T-1", ContactID: "c1", Message: "Ana",
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "err = %v", err)
}

func TestFlowEngine_ExecuteAPIStep(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clientes/test-7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"cliente": map[string]any{"nome": "Ana"}})
	}))
	defer upstream.Close()

	client, _ := startServer(t)
	ctx := tenantCtx("tenant-a")

	resp, err := client.ExecuteAPIStep(ctx, &api.ExecuteAPIStepRequest{
		TicketID: "test-7",
		Config: &types.APIStepConfig{
			Method:          "GET",
			URL:             upstream.URL + "/clientes/{{ticket_id}}",
			ResponseMapping: map[string]string{"nome": "cliente.nome"},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Result.Success)
	assert.Equal(t, http.StatusOK, resp.Result.Status)
	assert.Equal(t, "Ana", resp.Result.Outputs["nome"])

	_, err = client.ExecuteAPIStep(ctx, &api.ExecuteAPIStepRequest{Config: &types.APIStepConfig{}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealth_NoTenantRequired(t *testing.T) {
	_, conn := startServer(t)

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: api.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}

func TestNewGRPCServer_Validation(t *testing.T) {
	_, err := NewGRPCServer(config.ServerConfig{RequestTimeout: time.Second}, nil, nil)
	assert.Error(t, err)
}
