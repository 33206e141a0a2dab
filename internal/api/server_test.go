package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/RenatoCabral2022/callstream/internal/adapter"
	"github.com/RenatoCabral2022/callstream/internal/audio"
	"github.com/RenatoCabral2022/callstream/internal/calls"
	"github.com/RenatoCabral2022/callstream/internal/streaming"
	"github.com/RenatoCabral2022/callstream/internal/transaction"
)

type stubResolver struct{}

func (stubResolver) ResolveAuthorizedConsumer(user string) (streaming.Candidate, bool) {
	if user == "nobody" {
		return streaming.Candidate{}, false
	}
	return streaming.Candidate{
		Package:    "com.example.streamer",
		Address:    "passthrough:///streamer",
		Permission: streaming.RequiredPermission,
	}, true
}

func (stubResolver) DeclaresRequiredCapability(c streaming.Candidate) bool {
	return c.Permission == streaming.RequiredPermission
}

type stubConsumer struct {
	mu        sync.Mutex
	sessionID string
	states    []streaming.StreamingState
	stopped   int
}

func (c *stubConsumer) SetStreamingCallAdapter(_ context.Context, a *streaming.Adapter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = a.SessionID()
	return nil
}

func (c *stubConsumer) OnCallStreamingStarted(context.Context, streaming.StreamingCall) error {
	return nil
}

func (c *stubConsumer) OnCallStreamingStateChanged(_ context.Context, s streaming.StreamingState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
	return nil
}

func (c *stubConsumer) OnCallStreamingStopped(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
	return nil
}

func (c *stubConsumer) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *stubConsumer) lastState() (streaming.StreamingState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.states) == 0 {
		return 0, false
	}
	return c.states[len(c.states)-1], true
}

type stubBinding struct{}

func (stubBinding) Unbind() {}

// stubBinder connects every bind to the same consumer.
type stubBinder struct {
	consumer *stubConsumer
	wg       sync.WaitGroup
}

func (b *stubBinder) Bind(_ streaming.Candidate, cb streaming.BindCallbacks) (streaming.Binding, error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		cb.OnConnected(b.consumer)
	}()
	return stubBinding{}, nil
}

// silentBinder accepts binds that never report back until the test says so.
type silentBinder struct {
	mu      sync.Mutex
	cbs     []streaming.BindCallbacks
	unbinds int
}

func (b *silentBinder) Bind(_ streaming.Candidate, cb streaming.BindCallbacks) (streaming.Binding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cbs = append(b.cbs, cb)
	return b, nil
}

func (b *silentBinder) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbinds++
}

func (b *silentBinder) state() (streaming.BindCallbacks, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.cbs) == 0 {
		return nil, b.unbinds
	}
	return b.cbs[len(b.cbs)-1], b.unbinds
}

type fixture struct {
	srv      *httptest.Server
	ctl      *streaming.Controller
	consumer *stubConsumer
	calls    *calls.Manager
	audio    *audio.Interceptor
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	consumer := &stubConsumer{}
	binder := &stubBinder{consumer: consumer}
	t.Cleanup(binder.wg.Wait)
	return newFixtureWith(t, opts, consumer, binder, 2*time.Second)
}

func newFixtureWith(t *testing.T, opts Options, consumer *stubConsumer, binder streaming.Binder, startTimeout time.Duration) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	txs := transaction.NewManager(logger, time.Second, 16)
	interceptor := audio.NewInterceptor(logger, 2)

	ctl := streaming.NewController(streaming.Deps{
		Logger:        logger,
		Resolver:      stubResolver{},
		Binder:        binder,
		Audio:         interceptor,
		Transactions:  txs,
		NotifyTimeout: time.Second,
	})
	callManager := calls.NewManager(logger)
	callManager.AddListener(ctl)

	s := NewServer(Deps{
		Logger:       logger,
		Controller:   ctl,
		Calls:        callManager,
		Owners:       calls.NewOwners(callManager, ctl, txs, logger),
		Audio:        interceptor,
		Adapter:      adapter.NewStreamingRouter(ctl, logger),
		StartTimeout: startTimeout,
	})
	if opts.CORSOrigins == nil {
		opts.CORSOrigins = []string{"*"}
	}
	srv := httptest.NewServer(s.Handler(opts))
	t.Cleanup(func() {
		srv.Close()
		_ = txs.Close(context.Background())
	})
	return &fixture{srv: srv, ctl: ctl, consumer: consumer, calls: callManager, audio: interceptor}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (f *fixture) createCall(t *testing.T, user string) string {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/v1/calls", calls.NewCall{
		Handle:      "tel:+15550100",
		DisplayName: "Ada",
		User:        user,
		Owner:       "com.example.dialer/.InCall",
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	var info calls.Info
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, "new", info.State)
	return info.ID
}

func (f *fixture) streamingStatus(t *testing.T) streamingResponse {
	t.Helper()
	code, body := f.do(t, http.MethodGet, "/v1/streaming", nil)
	require.Equal(t, http.StatusOK, code)
	var st streamingResponse
	require.NoError(t, json.Unmarshal(body, &st))
	return st
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, Options{APIToken: "s3cret"})

	code, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	code, body = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "callstream_")
}

func TestAuthGuardsV1(t *testing.T) {
	f := newFixture(t, Options{APIToken: "s3cret"})

	code, _ := f.do(t, http.MethodGet, "/v1/calls", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/calls", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestCallLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.createCall(t, "user-0")

	code, body := f.do(t, http.MethodPost, "/v1/calls/"+id+"/state", setStateRequest{State: "active"})
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"state":"active"`)

	code, _ = f.do(t, http.MethodPost, "/v1/calls/"+id+"/state", setStateRequest{State: "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/v1/calls", []byte(`{"handle":""}`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/v1/calls/"+id, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = f.do(t, http.MethodGet, "/v1/calls/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStreamingEndToEnd(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.createCall(t, "user-0")
	other := f.createCall(t, "user-0")

	code, body := f.do(t, http.MethodPost, "/v1/calls/"+id+"/streaming", nil)
	require.Equal(t, http.StatusOK, code, string(body))

	st := f.streamingStatus(t)
	assert.True(t, st.Streaming)
	assert.Equal(t, id, st.CallID)

	code, body = f.do(t, http.MethodPost, "/v1/calls/"+other+"/streaming", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(body), streaming.MsgAlreadyStreaming)
	assert.True(t, f.streamingStatus(t).Streaming, "a refused start leaves the live session alone")

	// Call state changes reach the consumer.
	code, _ = f.do(t, http.MethodPost, "/v1/calls/"+id+"/state", setStateRequest{State: "on_hold"})
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool {
		s, ok := f.consumer.lastState()
		return ok && s == streaming.StreamingStateHolding
	}, 2*time.Second, 10*time.Millisecond)

	// The consumer steers the call through its adapter.
	session := f.consumer.session()
	require.NotEmpty(t, session)
	code, body = f.do(t, http.MethodPost, "/v1/streaming/adapter", adapter.Envelope{
		Type:      adapter.TypeSetState,
		SessionID: session,
		Payload:   json.RawMessage(`{"state":"streaming"}`),
	})
	require.Equal(t, http.StatusAccepted, code, string(body))
	_, state, err := f.calls.Get(id)
	require.NoError(t, err)
	assert.Equal(t, streaming.CallStateActive, state)

	code, _ = f.do(t, http.MethodPost, "/v1/streaming/adapter", adapter.Envelope{Type: adapter.TypeStop, SessionID: session})
	require.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool { return !f.ctl.IsStreaming() }, 2*time.Second, 10*time.Millisecond)

	code, _ = f.do(t, http.MethodPost, "/v1/streaming/adapter", adapter.Envelope{Type: adapter.TypeStop, SessionID: session})
	assert.Equal(t, http.StatusGone, code)
}

func TestStartWithoutConsumer(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.createCall(t, "nobody")

	code, body := f.do(t, http.MethodPost, "/v1/calls/"+id+"/streaming", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(body), streaming.MsgNoSender)
	assert.False(t, f.streamingStatus(t).Streaming)

	_, ok := f.audio.Tap(id)
	assert.False(t, ok, "interception released after a failed start")
}

func TestStopStreamingAndAudio(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.createCall(t, "user-0")

	code, _ := f.do(t, http.MethodPost, "/v1/calls/"+id+"/streaming", nil)
	require.Equal(t, http.StatusOK, code)

	pcm := bytes.Repeat([]byte{0x7F}, audio.BytesPerSecond)
	code, body := f.do(t, http.MethodPost, "/v1/calls/"+id+"/audio", pcm)
	require.Equal(t, http.StatusAccepted, code)
	assert.Contains(t, string(body), `"kept":true`)

	code, body = f.do(t, http.MethodGet, "/v1/calls/"+id+"/audio?seconds=1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, pcm, body)

	code, _ = f.do(t, http.MethodPost, "/v1/calls/"+id+"/audio?rate=8000", pcm)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/v1/calls/"+id+"/audio?rate=48000", make([]byte, 3*audio.BytesPerSecond))
	require.Equal(t, http.StatusAccepted, code)
	assert.Contains(t, string(body), `"bufferedSeconds":2`)

	code, _ = f.do(t, http.MethodDelete, "/v1/calls/"+id+"/streaming", nil)
	require.Equal(t, http.StatusNoContent, code)
	assert.False(t, f.streamingStatus(t).Streaming)

	code, _ = f.do(t, http.MethodGet, "/v1/calls/"+id+"/audio", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodPost, "/v1/calls/"+id+"/audio", pcm)
	require.Equal(t, http.StatusAccepted, code)
	assert.Contains(t, string(body), `"kept":false`)
}

func TestRemovingStreamedCallStopsStreaming(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.createCall(t, "user-0")

	code, _ := f.do(t, http.MethodPost, "/v1/calls/"+id+"/streaming", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodDelete, "/v1/calls/"+id, nil)
	require.Equal(t, http.StatusNoContent, code)
	require.Eventually(t, func() bool { return !f.ctl.IsStreaming() }, 2*time.Second, 10*time.Millisecond)
}

func TestStartTimeoutStopsPendingAttempt(t *testing.T) {
	binder := &silentBinder{}
	consumer := &stubConsumer{}
	f := newFixtureWith(t, Options{}, consumer, binder, 100*time.Millisecond)
	id := f.createCall(t, "user-0")

	code, body := f.do(t, http.MethodPost, "/v1/calls/"+id+"/streaming", nil)
	require.Equal(t, http.StatusGatewayTimeout, code, string(body))
	assert.Contains(t, string(body), transaction.MsgTimedOut)

	require.Eventually(t, func() bool {
		_, held := f.ctl.SessionCall()
		_, tapped := f.audio.Tap(id)
		_, unbinds := binder.state()
		return !held && !tapped && unbinds > 0
	}, 2*time.Second, 10*time.Millisecond, "the timed out attempt was not torn down")

	// The consumer connecting after the deadline does not revive the stream.
	cb, _ := binder.state()
	require.NotNil(t, cb)
	cb.OnConnected(consumer)
	assert.False(t, f.ctl.IsStreaming())
	assert.Empty(t, consumer.session())
}

func TestStopStreamingOtherCallKeepsSession(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.createCall(t, "user-0")
	other := f.createCall(t, "user-0")

	code, _ := f.do(t, http.MethodPost, "/v1/calls/"+id+"/streaming", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodDelete, "/v1/calls/"+other+"/streaming", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(body), msgNotSessionCall)

	st := f.streamingStatus(t)
	assert.True(t, st.Streaming)
	assert.Equal(t, id, st.CallID)
	_, tapped := f.audio.Tap(id)
	assert.True(t, tapped)

	code, _ = f.do(t, http.MethodDelete, "/v1/calls/"+id+"/streaming", nil)
	assert.Equal(t, http.StatusNoContent, code)
	assert.False(t, f.streamingStatus(t).Streaming)

	// With no session at all, stopping any call is a no-op.
	code, _ = f.do(t, http.MethodDelete, "/v1/calls/"+other+"/streaming", nil)
	assert.Equal(t, http.StatusNoContent, code)
}
