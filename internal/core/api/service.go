// Package api implements the flowkeeper.engine.v1.FlowEngine gRPC service.
package api

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/flowkeeper/internal/apistep"
	"github.com/solatis/flowkeeper/internal/core/auth"
	"github.com/solatis/flowkeeper/internal/core/logging"
	"github.com/solatis/flowkeeper/internal/dialog"
	"github.com/solatis/flowkeeper/internal/rules"
	"github.com/solatis/flowkeeper/internal/types"
	"github.com/solatis/flowkeeper/internal/variables"
)

// FlowEngineService implements FlowEngineServer.
// Thin orchestration layer delegating to rules, dialog, variables and apistep.
type FlowEngineService struct {
	engine   dialog.Resolver
	driver   *dialog.Driver
	vars     *variables.Service
	executor dialog.APICaller
	logger   *slog.Logger
}

var (
	_ FlowEngineServer = (*FlowEngineService)(nil)
	_ dialog.APICaller = (*apistep.Executor)(nil)
)

// NewFlowEngineService creates the service with its dependencies.
func NewFlowEngineService(engine dialog.Resolver, driver *dialog.Driver, vars *variables.Service, executor dialog.APICaller, logger *slog.Logger) (*FlowEngineService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if driver == nil {
		return nil, fmt.Errorf("driver cannot be nil")
	}
	if vars == nil {
		return nil, fmt.Errorf("variables service cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &FlowEngineService{
		engine:   engine,
		driver:   driver,
		vars:     vars,
		executor: executor,
		logger:   logger,
	}, nil
}

func tenantFrom(ctx context.Context) (types.TenantID, error) {
	tenantID := auth.TenantFromContext(ctx)
	if tenantID == "" {
		return "", status.Error(codes.Unauthenticated, auth.ErrMissingTenant.Error())
	}
	return tenantID, nil
}

// Resolve selects a rule for one message without performing it.
func (s *FlowEngineService) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.StepID == "" {
		return nil, status.Error(codes.InvalidArgument, "step_id required")
	}

	res, err := s.engine.Resolve(ctx, rules.Request{
		TenantID:  tenantID,
		StepID:    types.StepID(req.StepID),
		Message:   req.Message,
		TicketID:  req.TicketID,
		FlowID:    types.FlowID(req.FlowID),
		Secondary: req.Secondary,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := ResolutionFrom(res)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ResolveResponse{Resolution: out}, nil
}

// Advance resolves a message and performs the selected action.
func (s *FlowEngineService) Advance(ctx context.Context, req *AdvanceRequest) (*AdvanceResponse, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.StepID == "" {
		return nil, status.Error(codes.InvalidArgument, "step_id required")
	}

	outcome, err := s.driver.Advance(ctx, dialog.Turn{
		TenantID:  tenantID,
		FlowID:    types.FlowID(req.FlowID),
		StepID:    types.StepID(req.StepID),
		TicketID:  req.TicketID,
		ContactID: req.ContactID,
		Message:   req.Message,
		Secondary: req.Secondary,
	})
	if err != nil {
		s.logger.Warn("advance failed",
			"tenant_id", tenantID,
			"step_id", req.StepID,
			"error", err)
		return nil, toStatus(err)
	}

	resp := &AdvanceResponse{
		Directive:   string(outcome.Directive),
		Resolutions: make([]Resolution, 0, len(outcome.Resolutions)),
		Effects:     outcome.Effects,
		API:         outcome.API,
	}
	if resp.Rule, err = toRule(outcome.Rule); err != nil {
		return nil, toStatus(err)
	}
	if resp.Action, err = toAction(outcome.Action); err != nil {
		return nil, toStatus(err)
	}
	for _, r := range outcome.Resolutions {
		converted, err := ResolutionFrom(r)
		if err != nil {
			return nil, toStatus(err)
		}
		resp.Resolutions = append(resp.Resolutions, converted)
	}
	return resp, nil
}

// Render substitutes every template against the conversation's variables.
func (s *FlowEngineService) Render(ctx context.Context, req *RenderRequest) (*RenderResponse, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	conv := variables.Conversation{TenantID: tenantID, ContactID: req.ContactID, TicketID: req.TicketID}
	return &RenderResponse{Rendered: s.vars.SubstituteAll(ctx, req.Templates, conv)}, nil
}

// ExecuteAPIStep runs an API step against the conversation's variables.
// Upstream failures are reported in the result, not as RPC errors.
func (s *FlowEngineService) ExecuteAPIStep(ctx context.Context, req *ExecuteAPIStepRequest) (*ExecuteAPIStepResponse, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Config.Validate(); err != nil {
		return nil, toStatus(err)
	}
	conv := variables.Conversation{TenantID: tenantID, ContactID: req.ContactID, TicketID: req.TicketID}
	result := s.executor.Execute(ctx, req.Config, s.vars.ResolveMap(ctx, conv))
	return &ExecuteAPIStepResponse{Result: result}, nil
}

// ClearSandbox drops sandbox variables for one contact, or for every contact
// of the tenant when none is named.
func (s *FlowEngineService) ClearSandbox(ctx context.Context, req *ClearSandboxRequest) (*ClearSandboxResponse, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	sandbox := s.vars.Sandbox()
	if req.ContactID == "" {
		sandbox.ClearTenant(tenantID)
	} else {
		sandbox.Clear(tenantID, req.ContactID)
	}
	s.logger.Info("sandbox cleared", "tenant_id", tenantID, "contact_id", req.ContactID)
	return &ClearSandboxResponse{Remaining: sandbox.Len()}, nil
}
