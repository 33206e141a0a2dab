package streaming

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/metrics"
	"github.com/RenatoCabral2022/callstream/internal/transaction"
)

// session is the controller's record of the call being streamed. It exists
// from the moment a start attempt passes the guard; streaming flips to true
// only once the consumer connected and accepted the start notification.
type session struct {
	id        string
	call      Call
	wrapper   ServiceWrapper
	conn      *ConsumerConnection
	consumer  Consumer
	adapter   *Adapter
	streaming bool
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Logger        *zap.Logger
	Resolver      Resolver
	Binder        Binder
	Audio         AudioInterceptor
	Transactions  *transaction.Manager
	NotifyTimeout time.Duration
}

// Controller owns the single streaming session of a call manager. All
// session state is guarded by mu, which is also the coordination lock handed
// to every transaction it builds.
type Controller struct {
	logger        *zap.Logger
	resolver      Resolver
	binder        Binder
	audio         AudioInterceptor
	transactions  *transaction.Manager
	notifyTimeout time.Duration

	mu      sync.Mutex
	session *session
}

func NewController(d Deps) *Controller {
	timeout := d.NotifyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Controller{
		logger:        d.Logger,
		resolver:      d.Resolver,
		binder:        d.Binder,
		audio:         d.Audio,
		transactions:  d.Transactions,
		notifyTimeout: timeout,
	}
}

// IsStreaming reports whether a call is currently streaming to a consumer.
func (c *Controller) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.streaming
}

// StreamingCall returns the call that is currently streaming, if any.
func (c *Controller) StreamingCall() (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || !c.session.streaming {
		return nil, false
	}
	return c.session.call, true
}

// SessionCall returns the call holding the session slot, whether its stream
// is live or its start is still pending.
func (c *Controller) SessionCall() (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, false
	}
	return c.session.call, true
}

// Adapter returns the consumer adapter of the live session with the given ID.
func (c *Controller) Adapter(sessionID string) (*Adapter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.id != sessionID || c.session.adapter == nil {
		return nil, false
	}
	return c.session.adapter, true
}

// StartStreaming builds the start pipeline for call: guard, engage audio
// interception, bind the consumer. A failure at any step releases what the
// attempt itself set up and nothing else.
func (c *Controller) StartStreaming(wrapper ServiceWrapper, call Call) transaction.Transaction {
	att := &startAttempt{}
	steps := []transaction.Transaction{
		c.newQueryTransaction(att, wrapper, call),
		c.newAudioTransaction(att, call, true),
		c.newBindTransaction(att, call),
	}
	return transaction.NewSerial("start_streaming", &c.mu, steps, func() {
		c.abortStart(att, call)
	}, c.logger.With(zap.String("call", call.ID())))
}

// StopStreaming builds the stop pipeline: unbind and release audio
// interception, side by side. Both always run and the pipeline always
// succeeds once they are done.
func (c *Controller) StopStreaming(call Call) transaction.Transaction {
	return transaction.NewParallel("stop_streaming", &c.mu, []transaction.Transaction{
		c.newUnbindTransaction(),
		c.newAudioTransaction(nil, call, false),
	}, c.logger.With(zap.String("call", call.ID())))
}

// StopSession builds a stop pipeline bound to the session call holds right
// now. Queued stops run later than they are asked for: by then that session
// may be gone and another one live, which this pipeline leaves alone. With no
// session for call it only releases the call's audio interception.
func (c *Controller) StopSession(call Call) transaction.Transaction {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != nil && s.call.ID() != call.ID() {
		s = nil
	}
	return transaction.NewParallel("stop_session", &c.mu, []transaction.Transaction{
		c.newSessionUnbindTransaction(s),
		c.newSessionReleaseTransaction(s, call),
	}, c.logger.With(zap.String("call", call.ID())))
}

// OnCallStateChanged forwards a state change of the streamed call to the
// consumer. Changes for any other call, or without a consumer-visible
// state, are dropped.
func (c *Controller) OnCallStateChanged(call Call, oldState, newState CallState) {
	if oldState == newState {
		return
	}
	state, ok := streamingStateFor(newState)
	if !ok {
		return
	}

	c.mu.Lock()
	s := c.session
	current := s != nil && s.streaming && s.call.ID() == call.ID()
	c.mu.Unlock()
	if !current {
		return
	}

	logger := c.logger.With(zap.String("call", call.ID()), zap.Stringer("state", state))
	tx := c.newStateChangeTransaction(s, state)
	err := c.transactions.Add(context.Background(), tx, func(r transaction.Result) {
		if !r.OK() {
			logger.Error("failed to set streaming state on consumer", zap.String("message", r.Message()))
		}
	})
	if err != nil {
		logger.Error("failed to queue streaming state change", zap.Error(err))
	}
}

// OnCallRemoved asks the owner of the session's call to stop streaming.
func (c *Controller) OnCallRemoved(call Call) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil || s.call.ID() != call.ID() {
		return
	}
	c.logger.Info("streamed call removed", zap.String("call", call.ID()))
	s.wrapper.StopCallStreaming(call)
}

// startAttempt is what one start pipeline set up, so that its abort hook
// undoes exactly that.
type startAttempt struct {
	sess         *session
	audioEngaged bool
}

func (c *Controller) abortStart(att *startAttempt, call Call) {
	c.logger.Warn("start streaming aborted", zap.String("call", call.ID()))
	metrics.SessionsFailedTotal.Inc()
	if att.audioEngaged {
		c.audio.Release(call)
	}
	if att.sess != nil {
		c.resetSession(att.sess, ReasonUnbind)
	}
}

func (c *Controller) onConnected(cc *ConsumerConnection, consumer Consumer) {
	s := cc.sess
	c.mu.Lock()
	if c.session != s || s.conn != cc {
		c.mu.Unlock()
		cc.logger.Info("dropping connect for a session that already ended")
		cc.close()
		return
	}
	s.consumer = consumer
	s.adapter = &Adapter{ctl: c, sessionID: s.id, call: s.call, wrapper: s.wrapper}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.notifyTimeout)
	err := consumer.SetStreamingCallAdapter(ctx, s.adapter)
	if err == nil {
		err = consumer.OnCallStreamingStarted(ctx, StreamingCall{
			Component:   s.wrapper.ComponentName(),
			DisplayName: s.call.CallerDisplayName(),
			Handle:      s.call.Handle(),
			Extras:      map[string]string{ExtraCallID: s.call.ID()},
		})
	}
	cancel()
	recordNotification("started", err)
	if err != nil {
		cc.logger.Error("failed to notify consumer of streaming start", zap.Error(err))
		cc.complete(transaction.Fail(MsgNoSender))
		c.resetSession(s, ReasonUnbind)
		return
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		cc.complete(transaction.Fail(MsgBindingError))
		return
	}
	s.streaming = true
	c.mu.Unlock()

	metrics.ActiveSessions.Set(1)
	metrics.SessionsStartedTotal.Inc()
	cc.logger.Info("call streaming started")
	cc.complete(transaction.Succeed())
}

func (c *Controller) onTerminated(cc *ConsumerConnection, reason TerminationReason) {
	// A pending bind learns about the failure through its own result; only a
	// stream that was already up is reported to the owner.
	pending := cc.complete(transaction.Fail(MsgBindingError))
	s, ok := c.resetSession(cc.sess, reason)
	if ok && !pending {
		cc.logger.Warn("call streaming failed", zap.Stringer("reason", reason))
		s.wrapper.OnCallStreamingFailed(s.call, reason)
	}
}

// resetSession is the one path that ends a session. With expected set it
// only acts if that session is still the current one; with nil it ends
// whatever session exists. Calls after the first are no-ops.
func (c *Controller) resetSession(expected *session, reason TerminationReason) (*session, bool) {
	c.mu.Lock()
	s := c.session
	if s == nil || (expected != nil && s != expected) {
		c.mu.Unlock()
		return nil, false
	}
	c.session = nil
	wasStreaming := s.streaming
	s.streaming = false
	consumer := s.consumer
	conn := s.conn
	c.mu.Unlock()

	logger := c.logger.With(zap.String("session", s.id), zap.String("call", s.call.ID()))
	if consumer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.notifyTimeout)
		err := consumer.OnCallStreamingStopped(ctx)
		cancel()
		recordNotification("stopped", err)
		if err != nil {
			logger.Error("failed to notify consumer of streaming stop", zap.Error(err))
		}
	}
	if conn != nil {
		conn.close()
	}
	if wasStreaming {
		metrics.ActiveSessions.Set(0)
	}
	metrics.TerminationsTotal.WithLabelValues(reason.String()).Inc()
	logger.Info("streaming session reset", zap.Stringer("reason", reason), zap.Bool("wasStreaming", wasStreaming))
	return s, true
}

func recordNotification(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.NotificationsTotal.WithLabelValues(kind, outcome).Inc()
}
