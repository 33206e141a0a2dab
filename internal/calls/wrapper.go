package calls

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/streaming"
	"github.com/RenatoCabral2022/callstream/internal/transaction"
)

// Streamer builds the stop pipeline for the session a call holds.
type Streamer interface {
	StopSession(call streaming.Call) transaction.Transaction
}

// Wrapper is the owner side of a streamed call: it turns consumer requests
// into call state changes and stop requests into queued stop pipelines.
type Wrapper struct {
	component    string
	calls        *Manager
	streamer     Streamer
	transactions *transaction.Manager
	logger       *zap.Logger
}

func NewWrapper(component string, calls *Manager, streamer Streamer, txs *transaction.Manager, logger *zap.Logger) *Wrapper {
	return &Wrapper{
		component:    component,
		calls:        calls,
		streamer:     streamer,
		transactions: txs,
		logger:       logger.With(zap.String("owner", component)),
	}
}

func (w *Wrapper) ComponentName() string { return w.component }

// StopCallStreaming queues a stop pipeline for the session call holds now.
func (w *Wrapper) StopCallStreaming(call streaming.Call) {
	logger := w.logger.With(zap.String("call", call.ID()))
	err := w.transactions.Add(context.Background(), w.streamer.StopSession(call), func(r transaction.Result) {
		if !r.OK() {
			logger.Warn("stop streaming failed", zap.String("message", r.Message()))
			return
		}
		logger.Info("stop streaming done")
	})
	if err != nil {
		logger.Error("failed to queue stop streaming", zap.Error(err))
	}
}

// OnCallStreamingFailed queues a stop for a stream that died underneath the
// session, so audio interception does not outlive it. The session is already
// gone, so the stop only releases audio.
func (w *Wrapper) OnCallStreamingFailed(call streaming.Call, reason streaming.TerminationReason) {
	w.logger.Warn("call streaming failed",
		zap.String("call", call.ID()),
		zap.Stringer("reason", reason),
	)
	w.StopCallStreaming(call)
}

// OnStreamingStateRequested applies a consumer's request to the call.
func (w *Wrapper) OnStreamingStateRequested(call streaming.Call, state streaming.StreamingState) error {
	var target streaming.CallState
	switch state {
	case streaming.StreamingStateStreaming:
		target = streaming.CallStateActive
	case streaming.StreamingStateHolding:
		target = streaming.CallStateOnHold
	case streaming.StreamingStateDisconnected:
		target = streaming.CallStateDisconnected
	default:
		return fmt.Errorf("unsupported streaming state %v", state)
	}
	w.logger.Info("consumer requested call state",
		zap.String("call", call.ID()),
		zap.Stringer("state", state),
	)
	return w.calls.SetState(call.ID(), target)
}

var _ streaming.ServiceWrapper = (*Wrapper)(nil)

// Owners hands out one Wrapper per owning component.
type Owners struct {
	calls        *Manager
	streamer     Streamer
	transactions *transaction.Manager
	logger       *zap.Logger

	mu       sync.Mutex
	wrappers map[string]*Wrapper
}

func NewOwners(calls *Manager, streamer Streamer, txs *transaction.Manager, logger *zap.Logger) *Owners {
	return &Owners{
		calls:        calls,
		streamer:     streamer,
		transactions: txs,
		logger:       logger,
		wrappers:     make(map[string]*Wrapper),
	}
}

// For returns the wrapper of component, creating it on first use.
func (o *Owners) For(component string) *Wrapper {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.wrappers[component]
	if !ok {
		w = NewWrapper(component, o.calls, o.streamer, o.transactions, o.logger)
		o.wrappers[component] = w
	}
	return w
}
