package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "incidentrca.v1.RCAEngine"

// Full method names.
const (
	AnalyzeIncidentMethod   = "/" + ServiceName + "/AnalyzeIncident"
	ExplainHypothesisMethod = "/" + ServiceName + "/ExplainHypothesis"
	HealthCheckMethod       = "/" + ServiceName + "/HealthCheck"
)

// RCAEngineServer is the server API of the RCA engine. Requests and responses are
// google.protobuf.Struct documents whose shape is defined by the mapping in this
// package.
type RCAEngineServer interface {
	AnalyzeIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ExplainHypothesis(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterRCAEngineServer registers srv on s.
func RegisterRCAEngineServer(s grpc.ServiceRegistrar, srv RCAEngineServer) {
	s.RegisterService(&RCAEngineServiceDesc, srv)
}

// RCAEngineServiceDesc describes the RCA engine service for grpc.Server.
var RCAEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RCAEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnalyzeIncident", Handler: analyzeIncidentHandler},
		{MethodName: "ExplainHypothesis", Handler: explainHypothesisHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "incidentrca/v1/rca.proto",
}

func analyzeIncidentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RCAEngineServer).AnalyzeIncident(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AnalyzeIncidentMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RCAEngineServer).AnalyzeIncident(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func explainHypothesisHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RCAEngineServer).ExplainHypothesis(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExplainHypothesisMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RCAEngineServer).ExplainHypothesis(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func healthCheckHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RCAEngineServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthCheckMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RCAEngineServer).HealthCheck(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RCAEngineClient is the client API of the RCA engine.
type RCAEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewRCAEngineClient wraps a client connection.
func NewRCAEngineClient(cc grpc.ClientConnInterface) *RCAEngineClient {
	return &RCAEngineClient{cc: cc}
}

// AnalyzeIncident invokes the AnalyzeIncident RPC.
func (c *RCAEngineClient) AnalyzeIncident(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, AnalyzeIncidentMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ExplainHypothesis invokes the ExplainHypothesis RPC.
func (c *RCAEngineClient) ExplainHypothesis(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExplainHypothesisMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// HealthCheck invokes the HealthCheck RPC.
func (c *RCAEngineClient) HealthCheck(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HealthCheckMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
