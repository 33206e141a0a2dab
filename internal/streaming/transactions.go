package streaming

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/transaction"
)

// newQueryTransaction is the guard step. It claims the controller's single
// session slot for call, or fails if any session (pending or live) exists.
func (c *Controller) newQueryTransaction(att *startAttempt, wrapper ServiceWrapper, call Call) transaction.Transaction {
	return transaction.NewFunc("query_streaming", &c.mu, func(_ context.Context, base transaction.Base) transaction.Result {
		r := transaction.Succeed()
		base.WithLock(func() {
			if c.session != nil {
				c.logger.Info("streaming already in progress",
					zap.String("call", call.ID()),
					zap.String("current", c.session.call.ID()),
				)
				r = transaction.Fail(MsgAlreadyStreaming)
				return
			}
			att.sess = &session{id: uuid.NewString(), call: call, wrapper: wrapper}
			c.session = att.sess
		})
		return r
	})
}

// newAudioTransaction engages (or releases) audio interception. The
// interceptor does not fail, so neither does this step.
func (c *Controller) newAudioTransaction(att *startAttempt, call Call, engage bool) transaction.Transaction {
	name := "release_audio"
	if engage {
		name = "engage_audio"
	}
	return transaction.NewFunc(name, &c.mu, func(context.Context, transaction.Base) transaction.Result {
		if engage {
			c.audio.Engage(call)
			if att != nil {
				att.audioEngaged = true
			}
		} else {
			c.audio.Release(call)
		}
		return transaction.Succeed()
	})
}

// newBindTransaction resolves the authorised consumer and binds to it. Its
// result stays pending until the connection connects or terminates.
func (c *Controller) newBindTransaction(att *startAttempt, call Call) transaction.Transaction {
	return transaction.NewAsync("bind_streaming_service", &c.mu, func(_ context.Context, base transaction.Base, complete func(transaction.Result) bool) {
		logger := c.logger.With(zap.String("call", call.ID()))

		cand, ok := c.resolver.ResolveAuthorizedConsumer(call.AssociatedUser())
		if !ok {
			logger.Warn("no streaming consumer holds the role", zap.String("user", call.AssociatedUser()))
			complete(transaction.Fail(MsgNoSender))
			return
		}
		if !c.resolver.DeclaresRequiredCapability(cand) {
			logger.Warn("streaming consumer must require "+RequiredPermission,
				zap.String("package", cand.Package),
				zap.String("permission", cand.Permission),
			)
			complete(transaction.Fail(MsgNoSender))
			return
		}
		logger = logger.With(zap.String("package", cand.Package), zap.String("component", cand.Component))

		var cc *ConsumerConnection
		base.WithLock(func() {
			if s := att.sess; s != nil && c.session == s {
				cc = newConsumerConnection(c, s, complete)
				s.conn = cc
			}
		})
		if cc == nil {
			logger.Info("session ended before bind")
			complete(transaction.Fail(MsgBindingError))
			return
		}

		if !cc.beginBind() {
			complete(transaction.Fail(MsgBindingError))
			return
		}
		logger.Info("binding streaming consumer")
		b, err := c.binder.Bind(cand, cc)
		if err != nil {
			logger.Warn("can't bind to streaming consumer", zap.Error(err))
			complete(transaction.Fail(MsgBindingError))
			return
		}
		cc.attach(b)
	})
}

// newUnbindTransaction ends the current session, if any. It succeeds even
// when there is nothing to unbind.
func (c *Controller) newUnbindTransaction() transaction.Transaction {
	return transaction.NewFunc("unbind_streaming_service", &c.mu, func(context.Context, transaction.Base) transaction.Result {
		c.resetSession(nil, ReasonUnbind)
		return transaction.Succeed()
	})
}

// newSessionUnbindTransaction ends s if it is still the current session.
func (c *Controller) newSessionUnbindTransaction(s *session) transaction.Transaction {
	return transaction.NewFunc("unbind_streaming_service", &c.mu, func(context.Context, transaction.Base) transaction.Result {
		if s != nil {
			c.resetSession(s, ReasonUnbind)
		}
		return transaction.Succeed()
	})
}

// newSessionReleaseTransaction releases the audio interception of call unless
// a session of call other than s has taken over since.
func (c *Controller) newSessionReleaseTransaction(s *session, call Call) transaction.Transaction {
	return transaction.NewFunc("release_audio", &c.mu, func(_ context.Context, base transaction.Base) transaction.Result {
		var superseded bool
		base.WithLock(func() {
			cur := c.session
			superseded = cur != nil && cur != s && cur.call.ID() == call.ID()
		})
		if superseded {
			c.logger.Info("audio interception taken over by a newer session", zap.String("call", call.ID()))
			return transaction.Succeed()
		}
		c.audio.Release(call)
		return transaction.Succeed()
	})
}

// newStateChangeTransaction tells the consumer of s about a new streaming
// state. It fails without side effects if s is no longer the live session.
func (c *Controller) newStateChangeTransaction(s *session, state StreamingState) transaction.Transaction {
	return transaction.NewFunc("streaming_state_change", &c.mu, func(ctx context.Context, base transaction.Base) transaction.Result {
		var live bool
		var consumer Consumer
		base.WithLock(func() {
			live = c.session == s && s.streaming
			consumer = s.consumer
		})
		if !live {
			return transaction.Fail("streaming session ended")
		}

		ctx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
		defer cancel()
		err := consumer.OnCallStreamingStateChanged(ctx, state)
		recordNotification("state_changed", err)
		if err != nil {
			return transaction.Fail(fmt.Sprintf("set streaming state %s: %v", state, err))
		}
		return transaction.Succeed()
	})
}
