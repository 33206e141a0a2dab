package consumer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service a streaming consumer exposes. Consumers
// also report it SERVING on the standard health service; a consumer that
// does not is treated as a null binding.
const ServiceName = "callstream.v1.CallStreamingService"

const (
	methodSetAdapter   = "SetStreamingCallAdapter"
	methodStarted      = "OnCallStreamingStarted"
	methodStateChanged = "OnCallStreamingStateChanged"
	methodStopped      = "OnCallStreamingStopped"
	fullMethodPrefix   = "/" + ServiceName + "/"
	fieldSessionID     = "sessionId"
	fieldCallID        = "callId"
	fieldComponent     = "component"
	fieldDisplayName   = "displayName"
	fieldHandle        = "handle"
	fieldExtras        = "extras"
	fieldState         = "state"
)

// ConsumerServer is implemented by streaming consumers.
//
// SetStreamingCallAdapter carries sessionId and callId. The consumer steers
// the call by posting envelopes for that session to the adapter endpoint.
// OnCallStreamingStarted carries component, displayName, handle and extras.
// OnCallStreamingStateChanged carries state.
type ConsumerServer interface {
	SetStreamingCallAdapter(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	OnCallStreamingStarted(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	OnCallStreamingStateChanged(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	OnCallStreamingStopped(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// RegisterConsumerServer registers srv on s.
func RegisterConsumerServer(s grpc.ServiceRegistrar, srv ConsumerServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConsumerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodSetAdapter, Handler: structHandler(methodSetAdapter, ConsumerServer.SetStreamingCallAdapter)},
		{MethodName: methodStarted, Handler: structHandler(methodStarted, ConsumerServer.OnCallStreamingStarted)},
		{MethodName: methodStateChanged, Handler: structHandler(methodStateChanged, ConsumerServer.OnCallStreamingStateChanged)},
		{MethodName: methodStopped, Handler: stoppedHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "callstream/v1/consumer.proto",
}

type structMethod func(ConsumerServer, context.Context, *structpb.Struct) (*emptypb.Empty, error)

func structHandler(name string, m structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m(srv.(ConsumerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethodPrefix + name}
		handler := func(ctx context.Context, req any) (any, error) {
			return m(srv.(ConsumerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func stoppedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConsumerServer).OnCallStreamingStopped(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethodPrefix + methodStopped}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ConsumerServer).OnCallStreamingStopped(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
