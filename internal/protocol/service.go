package protocol

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service carrying the page channel.
const ServiceName = "popwatch.v1.Authority"

// Full method names.
const (
	MethodException    = "/" + ServiceName + "/Exception"
	MethodPopupRequest = "/" + ServiceName + "/PopupRequest"
	MethodAccept       = "/" + ServiceName + "/Accept"
	MethodDeny         = "/" + ServiceName + "/Deny"
	MethodUseShadow    = "/" + ServiceName + "/UseShadow"
	MethodListPending  = "/" + ServiceName + "/ListPending"
	MethodAck          = "/" + ServiceName + "/Ack"
	MethodSubscribe    = "/" + ServiceName + "/Subscribe"
)

// AuthorityServer is the server API of the Authority service. Every message
// is a structpb.Struct carrying the fields of the corresponding command.
type AuthorityServer interface {
	Exception(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PopupRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Accept(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deny(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UseShadow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Ack confirms that a page handled a command that expects acknowledgement.
	Ack(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Subscribe streams authority-to-page messages for the page named in the request.
	Subscribe(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterAuthorityServer registers srv on s.
func RegisterAuthorityServer(s grpc.ServiceRegistrar, srv AuthorityServer) {
	s.RegisterService(&AuthorityServiceDesc, srv)
}

type unaryCall func(AuthorityServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthorityServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthorityServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AuthorityServer).Subscribe(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// AuthorityServiceDesc describes the Authority service for grpc.Server.
var AuthorityServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Exception", Handler: unaryHandler(MethodException, AuthorityServer.Exception)},
		{MethodName: "PopupRequest", Handler: unaryHandler(MethodPopupRequest, AuthorityServer.PopupRequest)},
		{MethodName: "Accept", Handler: unaryHandler(MethodAccept, AuthorityServer.Accept)},
		{MethodName: "Deny", Handler: unaryHandler(MethodDeny, AuthorityServer.Deny)},
		{MethodName: "UseShadow", Handler: unaryHandler(MethodUseShadow, AuthorityServer.UseShadow)},
		{MethodName: "ListPending", Handler: unaryHandler(MethodListPending, AuthorityServer.ListPending)},
		{MethodName: "Ack", Handler: unaryHandler(MethodAck, AuthorityServer.Ack)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "popwatch/v1/authority",
}

// AuthorityClient is the client API of the Authority service.
type AuthorityClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthorityClient wraps cc.
func NewAuthorityClient(cc grpc.ClientConnInterface) *AuthorityClient {
	return &AuthorityClient{cc: cc}
}

// Call invokes a unary method by its full name.
func (c *AuthorityClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe opens the outbound message stream for the page named in in.
func (c *AuthorityClient) Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &AuthorityServiceDesc.Streams[0], MethodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
