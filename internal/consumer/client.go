package consumer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/RenatoCabral2022/callstream/internal/streaming"
)

// grpcConsumer delivers streaming notifications to a bound consumer.
type grpcConsumer struct {
	conn *grpc.ClientConn
}

func (c *grpcConsumer) SetStreamingCallAdapter(ctx context.Context, a *streaming.Adapter) error {
	req, err := structpb.NewStruct(map[string]any{
		fieldSessionID: a.SessionID(),
		fieldCallID:    a.CallID(),
	})
	if err != nil {
		return err
	}
	return c.invoke(ctx, methodSetAdapter, req)
}

func (c *grpcConsumer) OnCallStreamingStarted(ctx context.Context, call streaming.StreamingCall) error {
	req, err := encodeStreamingCall(call)
	if err != nil {
		return err
	}
	return c.invoke(ctx, methodStarted, req)
}

func (c *grpcConsumer) OnCallStreamingStateChanged(ctx context.Context, state streaming.StreamingState) error {
	req, err := structpb.NewStruct(map[string]any{fieldState: state.String()})
	if err != nil {
		return err
	}
	return c.invoke(ctx, methodStateChanged, req)
}

func (c *grpcConsumer) OnCallStreamingStopped(ctx context.Context) error {
	return c.invoke(ctx, methodStopped, &emptypb.Empty{})
}

func (c *grpcConsumer) invoke(ctx context.Context, method string, req proto.Message) error {
	return c.conn.Invoke(ctx, fullMethodPrefix+method, req, &emptypb.Empty{})
}

func encodeStreamingCall(call streaming.StreamingCall) (*structpb.Struct, error) {
	extras := make(map[string]any, len(call.Extras))
	for k, v := range call.Extras {
		extras[k] = v
	}
	return structpb.NewStruct(map[string]any{
		fieldComponent:   call.Component,
		fieldDisplayName: call.DisplayName,
		fieldHandle:      call.Handle,
		fieldExtras:      extras,
	})
}

// DecodeStreamingCall is the consumer-side counterpart of the started
// notification's payload.
func DecodeStreamingCall(s *structpb.Struct) streaming.StreamingCall {
	f := s.GetFields()
	call := streaming.StreamingCall{
		Component:   f[fieldComponent].GetStringValue(),
		DisplayName: f[fieldDisplayName].GetStringValue(),
		Handle:      f[fieldHandle].GetStringValue(),
		Extras:      map[string]string{},
	}
	for k, v := range f[fieldExtras].GetStructValue().GetFields() {
		call.Extras[k] = v.GetStringValue()
	}
	return call
}

// DecodeState returns the state carried by a state-changed notification.
func DecodeState(s *structpb.Struct) (streaming.StreamingState, error) {
	return streaming.ParseStreamingState(s.GetFields()[fieldState].GetStringValue())
}

var _ streaming.Consumer = (*grpcConsumer)(nil)
