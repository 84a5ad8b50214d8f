package distgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DistServer is the server API for the Dist gRPC service.
//
// Messages are protobuf well-known types so no protoc/codegen step is needed.
//
// Proto definition: dist.proto.
type DistServer interface {
	Available(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	Pin(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Unpin(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Add(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	AddJSON(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Cat(*wrapperspb.StringValue, Dist_CatServer) error
}

// UnimplementedDistServer can be embedded to have forward compatible implementations.
type UnimplementedDistServer struct{}

func (UnimplementedDistServer) Available(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Available not implemented")
}
func (UnimplementedDistServer) Pin(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Pin not implemented")
}
func (UnimplementedDistServer) Unpin(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Unpin not implemented")
}
func (UnimplementedDistServer) Add(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Add not implemented")
}
func (UnimplementedDistServer) AddJSON(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method AddJSON not implemented")
}
func (UnimplementedDistServer) Cat(*wrapperspb.StringValue, Dist_CatServer) error {
	return status.Error(codes.Unimplemented, "method Cat not implemented")
}

// RegisterDistServer registers the Dist service on a gRPC server.
func RegisterDistServer(s grpc.ServiceRegistrar, srv DistServer) {
	s.RegisterService(&Dist_ServiceDesc, srv)
}

type Dist_CatServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type distCatServer struct{ grpc.ServerStream }

func (x *distCatServer) Send(m *wrapperspb.BytesValue) error { return x.ServerStream.SendMsg(m) }

// DistClient is the client API for the Dist gRPC service.
type DistClient interface {
	Available(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	Pin(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Unpin(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Add(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	AddJSON(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Cat(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (Dist_CatClient, error)
}

type distClient struct{ cc grpc.ClientConnInterface }

func NewDistClient(cc grpc.ClientConnInterface) DistClient { return &distClient{cc: cc} }

const serviceName = "gamex.dist.v1.Dist"

func (c *distClient) Available(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Available", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *distClient) Pin(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Pin", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *distClient) Unpin(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Unpin", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *distClient) Add(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Add", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *distClient) AddJSON(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/AddJSON", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *distClient) Cat(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (Dist_CatClient, error) {
	stream, err := c.cc.NewStream(ctx, &Dist_ServiceDesc.Streams[0], "/"+serviceName+"/Cat", opts...)
	if err != nil {
		return nil, err
	}
	x := &distCatClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Dist_CatClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type distCatClient struct{ grpc.ClientStream }

func (x *distCatClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Dist_Available_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DistServer).Available(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Available"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DistServer).Available(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dist_Pin_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DistServer).Pin(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Pin"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DistServer).Pin(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dist_Unpin_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DistServer).Unpin(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Unpin"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DistServer).Unpin(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dist_Add_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DistServer).Add(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Add"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DistServer).Add(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dist_AddJSON_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DistServer).AddJSON(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AddJSON"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DistServer).AddJSON(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dist_Cat_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DistServer).Cat(in, &distCatServer{stream})
}

// Dist_ServiceDesc is the grpc.ServiceDesc for Dist service.
var Dist_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DistServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Available", Handler: _Dist_Available_Handler},
		{MethodName: "Pin", Handler: _Dist_Pin_Handler},
		{MethodName: "Unpin", Handler: _Dist_Unpin_Handler},
		{MethodName: "Add", Handler: _Dist_Add_Handler},
		{MethodName: "AddJSON", Handler: _Dist_AddJSON_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Cat", Handler: _Dist_Cat_Handler, ServerStreams: true},
	},
	Metadata: "dist.proto",
}
