package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/RenatoCabral2022/callstream/internal/transaction"
)

type fakeCall struct {
	id, handle, name, user string
}

func (c *fakeCall) ID() string                { return c.id }
func (c *fakeCall) Handle() string            { return c.handle }
func (c *fakeCall) CallerDisplayName() string { return c.name }
func (c *fakeCall) AssociatedUser() string    { return c.user }

func newCall(id string) *fakeCall {
	return &fakeCall{id: id, handle: "tel:+1555" + id, name: "Caller " + id, user: "user-0"}
}

type stateRequest struct {
	callID string
	state  StreamingState
}

type fakeWrapper struct {
	mu        sync.Mutex
	stops     []string
	failures  []TerminationReason
	requested []stateRequest
}

func (w *fakeWrapper) ComponentName() string { return "com.example.dialer/.CallService" }

func (w *fakeWrapper) StopCallStreaming(call Call) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops = append(w.stops, call.ID())
}

func (w *fakeWrapper) OnCallStreamingFailed(_ Call, reason TerminationReason) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = append(w.failures, reason)
}

func (w *fakeWrapper) OnStreamingStateRequested(call Call, state StreamingState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requested = append(w.requested, stateRequest{callID: call.ID(), state: state})
	return nil
}

func (w *fakeWrapper) stopCalls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.stops...)
}

func (w *fakeWrapper) failureReasons() []TerminationReason {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]TerminationReason(nil), w.failures...)
}

type fakeResolver struct {
	candidates map[string]Candidate
}

func (r *fakeResolver) ResolveAuthorizedConsumer(user string) (Candidate, bool) {
	c, ok := r.candidates[user]
	return c, ok
}

func (r *fakeResolver) DeclaresRequiredCapability(c Candidate) bool {
	return c.Permission == RequiredPermission
}

func authorizedResolver() *fakeResolver {
	return &fakeResolver{candidates: map[string]Candidate{
		"user-0": {
			Package:    "com.example.streamer",
			Component:  "com.example.streamer/.StreamingService",
			Address:    "passthrough:///streamer",
			Permission: RequiredPermission,
		},
	}}
}

type fakeBinding struct {
	mu      sync.Mutex
	unbinds int
}

func (b *fakeBinding) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbinds++
}

func (b *fakeBinding) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unbinds
}

// fakeBinder records bind requests and hands the callbacks to the test.
type fakeBinder struct {
	mu       sync.Mutex
	err      error
	requests []Candidate
	cbs      []BindCallbacks
	bindings []*fakeBinding
	// connectWith, when set, connects synchronously inside Bind.
	connectWith Consumer
}

func (b *fakeBinder) Bind(target Candidate, cb BindCallbacks) (Binding, error) {
	b.mu.Lock()
	b.requests = append(b.requests, target)
	if b.err != nil {
		b.mu.Unlock()
		return nil, b.err
	}
	binding := &fakeBinding{}
	b.cbs = append(b.cbs, cb)
	b.bindings = append(b.bindings, binding)
	consumer := b.connectWith
	b.mu.Unlock()

	if consumer != nil {
		cb.OnConnected(consumer)
	}
	return binding, nil
}

func (b *fakeBinder) bindCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func (b *fakeBinder) last(t *testing.T) (BindCallbacks, *fakeBinding) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.cbs, "no bind was issued")
	return b.cbs[len(b.cbs)-1], b.bindings[len(b.bindings)-1]
}

var errTransport = errors.New("transport closed")

type fakeConsumer struct {
	mu         sync.Mutex
	startErr   error
	stateErr   error
	stopErr    error
	adapter    *Adapter
	started    []StreamingCall
	states     []StreamingState
	stopCalled int
}

func (c *fakeConsumer) SetStreamingCallAdapter(_ context.Context, a *Adapter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapter = a
	return nil
}

func (c *fakeConsumer) OnCallStreamingStarted(_ context.Context, call StreamingCall) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.started = append(c.started, call)
	return nil
}

func (c *fakeConsumer) OnCallStreamingStateChanged(_ context.Context, state StreamingState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stateErr != nil {
		return c.stateErr
	}
	c.states = append(c.states, state)
	return nil
}

func (c *fakeConsumer) OnCallStreamingStopped(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalled++
	return c.stopErr
}

func (c *fakeConsumer) stateChanges() []StreamingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StreamingState(nil), c.states...)
}

func (c *fakeConsumer) stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCalled
}

func (c *fakeConsumer) currentAdapter() *Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter
}

type fakeAudio struct {
	mu       sync.Mutex
	engaged  map[string]int
	released map[string]int
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{engaged: map[string]int{}, released: map[string]int{}}
}

func (a *fakeAudio) Engage(call Call) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engaged[call.ID()]++
}

func (a *fakeAudio) Release(call Call) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released[call.ID()]++
}

func (a *fakeAudio) counts(id string) (engaged, released int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engaged[id], a.released[id]
}

// harness wires a Controller to fakes.
type harness struct {
	ctl      *Controller
	resolver *fakeResolver
	binder   *fakeBinder
	audio    *fakeAudio
	wrapper  *fakeWrapper
	consumer *fakeConsumer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mgr := transaction.NewManager(logger, time.Second, 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, mgr.Close(ctx))
	})

	h := &harness{
		resolver: authorizedResolver(),
		binder:   &fakeBinder{},
		audio:    newFakeAudio(),
		wrapper:  &fakeWrapper{},
		consumer: &fakeConsumer{},
	}
	h.ctl = NewController(Deps{
		Logger:        logger,
		Resolver:      h.resolver,
		Binder:        h.binder,
		Audio:         h.audio,
		Transactions:  mgr,
		NotifyTimeout: time.Second,
	})
	return h
}

func await(t *testing.T, f *transaction.Future) transaction.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := f.Await(ctx)
	require.NoError(t, err, "pipeline did not resolve")
	return r
}

// startStreaming runs a start pipeline for call through a successful connect.
func (h *harness) startStreaming(t *testing.T, call Call) {
	t.Helper()
	fut := h.ctl.StartStreaming(h.wrapper, call).Run(context.Background())
	cb, _ := h.binder.last(t)
	cb.OnConnected(h.consumer)
	r := await(t, fut)
	require.True(t, r.OK(), "start failed: %s", r)
	require.True(t, h.ctl.IsStreaming())
}
