package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "flowkeeper.engine.v1.FlowEngine"

// FlowEngineServer is the server API of the engine service.
type FlowEngineServer interface {
	Resolve(context.Context, *ResolveRequest) (*ResolveResponse, error)
	Advance(context.Context, *AdvanceRequest) (*AdvanceResponse, error)
	Render(context.Context, *RenderRequest) (*RenderResponse, error)
	ExecuteAPIStep(context.Context, *ExecuteAPIStepRequest) (*ExecuteAPIStepResponse, error)
	ClearSandbox(context.Context, *ClearSandboxRequest) (*ClearSandboxResponse, error)
}

// RegisterFlowEngineServer registers srv on s.
func RegisterFlowEngineServer(s grpc.ServiceRegistrar, srv FlowEngineServer) {
	s.RegisterService(&FlowEngineServiceDesc, srv)
}

// FlowEngineServiceDesc describes the unary methods of the engine service.
var FlowEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FlowEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: unaryHandler("Resolve", FlowEngineServer.Resolve)},
		{MethodName: "Advance", Handler: unaryHandler("Advance", FlowEngineServer.Advance)},
		{MethodName: "Render", Handler: unaryHandler("Render", FlowEngineServer.Render)},
		{MethodName: "ExecuteAPIStep", Handler: unaryHandler("ExecuteAPIStep", FlowEngineServer.ExecuteAPIStep)},
		{MethodName: "ClearSandbox", Handler: unaryHandler("ClearSandbox", FlowEngineServer.ClearSandbox)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flowkeeper/engine/v1/engine.json",
}

// unaryHandler adapts a typed method to grpc.MethodHandler, running the
// server's interceptor chain the same way generated code does.
func unaryHandler[Req, Resp any](method string, call func(FlowEngineServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FlowEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(FlowEngineServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// FlowEngineClient is the client API of the engine service.
type FlowEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewFlowEngineClient wraps a connection. Every call is sent with the JSON
// content-subtype.
func NewFlowEngineClient(cc grpc.ClientConnInterface) *FlowEngineClient {
	return &FlowEngineClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FlowEngineClient) Resolve(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error) {
	return invoke[ResolveResponse](ctx, c.cc, "Resolve", in, opts)
}

func (c *FlowEngineClient) Advance(ctx context.Context, in *AdvanceRequest, opts ...grpc.CallOption) (*AdvanceResponse, error) {
	return invoke[AdvanceResponse](ctx, c.cc, "Advance", in, opts)
}

func (c *FlowEngineClient) Render(ctx context.Context, in *RenderRequest, opts ...grpc.CallOption) (*RenderResponse, error) {
	return invoke[RenderResponse](ctx, c.cc, "Render", in, opts)
}

func (c *FlowEngineClient) ExecuteAPIStep(ctx context.Context, in *ExecuteAPIStepRequest, opts ...grpc.CallOption) (*ExecuteAPIStepResponse, error) {
	return invoke[ExecuteAPIStepResponse](ctx, c.cc, "ExecuteAPIStep", in, opts)
}

func (c *FlowEngineClient) ClearSandbox(ctx context.Context, in *ClearSandboxRequest, opts ...grpc.CallOption) (*ClearSandboxResponse, error) {
	return invoke[ClearSandboxResponse](ctx, c.cc, "ClearSandbox", in, opts)
}
