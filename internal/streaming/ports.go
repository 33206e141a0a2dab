package streaming

import "context"

// Call is the call model's handle. The controller only reads it.
type Call interface {
	ID() string
	Handle() string
	CallerDisplayName() string
	AssociatedUser() string
}

// ServiceWrapper represents the app that owns a streamed call. It is told
// to stop streaming on events the session cannot handle itself, and learns
// when a live stream died underneath it.
type ServiceWrapper interface {
	ComponentName() string
	StopCallStreaming(call Call)
	OnCallStreamingFailed(call Call, reason TerminationReason)
	OnStreamingStateRequested(call Call, state StreamingState) error
}

// Candidate is a consumer service found by role resolution.
type Candidate struct {
	Package    string
	Component  string
	Address    string
	Permission string
}

// Resolver finds the consumer authorised to receive streams for a user.
type Resolver interface {
	ResolveAuthorizedConsumer(user string) (Candidate, bool)
	DeclaresRequiredCapability(c Candidate) bool
}

// Binder issues bind requests. An error means the request could not even be
// issued; otherwise exactly the callbacks on cb report how the bind went.
type Binder interface {
	Bind(target Candidate, cb BindCallbacks) (Binding, error)
}

// Binding is a live bind request. Unbind is fire-and-forget.
type Binding interface {
	Unbind()
}

// BindCallbacks receives the asynchronous outcome of a bind.
type BindCallbacks interface {
	OnConnected(consumer Consumer)
	OnDisconnected()
	OnBindingDied()
	OnNullBinding()
}

// Consumer is the notification surface of a connected consumer service.
// Every method may fail with a transport error.
type Consumer interface {
	SetStreamingCallAdapter(ctx context.Context, a *Adapter) error
	OnCallStreamingStarted(ctx context.Context, call StreamingCall) error
	OnCallStreamingStateChanged(ctx context.Context, state StreamingState) error
	OnCallStreamingStopped(ctx context.Context) error
}

// AudioInterceptor engages and releases audio interception for a call.
// Both operations are synchronous and idempotent.
type AudioInterceptor interface {
	Engage(call Call)
	Release(call Call)
}
