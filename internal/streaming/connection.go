package streaming

import (
	"sync"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/transaction"
)

// ConnectionState is the lifecycle of a ConsumerConnection.
type ConnectionState int

const (
	ConnIdle ConnectionState = iota
	ConnBinding
	ConnConnected
	ConnTerminated
)

func (s ConnectionState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnBinding:
		return "binding"
	case ConnConnected:
		return "connected"
	default:
		return "terminated"
	}
}

// ConsumerConnection turns a bind request into single-shot events: one
// connect at most, then one termination. Signals arriving after the
// connection terminated are dropped.
type ConsumerConnection struct {
	ctl      *Controller
	sess     *session
	complete func(transaction.Result) bool
	logger   *zap.Logger

	mu      sync.Mutex
	state   ConnectionState
	binding Binding
}

func newConsumerConnection(ctl *Controller, sess *session, complete func(transaction.Result) bool) *ConsumerConnection {
	return &ConsumerConnection{
		ctl:      ctl,
		sess:     sess,
		complete: complete,
		logger:   ctl.logger.With(zap.String("session", sess.id), zap.String("call", sess.call.ID())),
		state:    ConnIdle,
	}
}

func (cc *ConsumerConnection) State() ConnectionState {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.state
}

// beginBind moves Idle to Binding. It fails if the connection was closed
// before the bind request went out.
func (cc *ConsumerConnection) beginBind() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.state != ConnIdle {
		return false
	}
	cc.state = ConnBinding
	return true
}

// attach records the handle of an issued bind. If the connection already
// terminated the handle is released right away.
func (cc *ConsumerConnection) attach(b Binding) {
	cc.mu.Lock()
	if cc.state == ConnTerminated {
		cc.mu.Unlock()
		b.Unbind()
		return
	}
	cc.binding = b
	cc.mu.Unlock()
}

func (cc *ConsumerConnection) OnConnected(consumer Consumer) {
	cc.mu.Lock()
	if cc.state != ConnBinding {
		state := cc.state
		cc.mu.Unlock()
		cc.logger.Info("ignoring connect signal", zap.Stringer("state", state))
		return
	}
	cc.state = ConnConnected
	cc.mu.Unlock()

	cc.logger.Info("consumer connected")
	cc.ctl.onConnected(cc, consumer)
}

func (cc *ConsumerConnection) OnDisconnected() { cc.terminate(ReasonDisconnected) }
func (cc *ConsumerConnection) OnBindingDied()  { cc.terminate(ReasonBindingDied) }
func (cc *ConsumerConnection) OnNullBinding()  { cc.terminate(ReasonNullBinding) }

func (cc *ConsumerConnection) terminate(reason TerminationReason) {
	cc.mu.Lock()
	if cc.state == ConnTerminated {
		cc.mu.Unlock()
		cc.logger.Debug("ignoring termination signal", zap.Stringer("reason", reason))
		return
	}
	cc.state = ConnTerminated
	cc.mu.Unlock()

	cc.logger.Info("consumer binding terminated", zap.Stringer("reason", reason))
	cc.ctl.onTerminated(cc, reason)
}

// close is the explicit unbind. It fails a still-pending bind and releases
// the binding at most once, however many times it is called.
func (cc *ConsumerConnection) close() {
	cc.mu.Lock()
	cc.state = ConnTerminated
	b := cc.binding
	cc.binding = nil
	cc.mu.Unlock()

	cc.complete(transaction.Fail(MsgBindingError))
	if b != nil {
		cc.logger.Info("unbinding consumer")
		b.Unbind()
	}
}
