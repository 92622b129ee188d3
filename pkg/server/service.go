package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lightrag.gemini.v1.Adapter"

const (
	completeMethod = "/" + ServiceName + "/Complete"
	embedMethod    = "/" + ServiceName + "/Embed"
)

// AdapterServer is the server API of the Adapter service. Requests and
// responses are google.protobuf.Struct messages so callers need no
// generated stubs.
type AdapterServer interface {
	Complete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Embed(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv AdapterServer) {
	s.RegisterService(&AdapterServiceDesc, srv)
}

func completeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdapterServer).Complete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: completeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdapterServer).Complete(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func embedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdapterServer).Embed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: embedMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdapterServer).Embed(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AdapterServiceDesc describes the Adapter service for grpc.Server.
var AdapterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdapterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Complete", Handler: completeHandler},
		{MethodName: "Embed", Handler: embedHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// AdapterClient calls the Adapter service.
type AdapterClient struct {
	cc grpc.ClientConnInterface
}

func NewAdapterClient(cc grpc.ClientConnInterface) *AdapterClient {
	return &AdapterClient{cc: cc}
}

func (c *AdapterClient) Complete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, completeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdapterClient) Embed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, embedMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
