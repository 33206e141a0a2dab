// Package adapter carries requests from a connected consumer back to the
// streamed call: JSON envelopes addressed to a session, dispatched to that
// session's streaming adapter.
package adapter

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/metrics"
	"github.com/RenatoCabral2022/callstream/internal/streaming"
)

var (
	ErrMalformed   = errors.New("malformed adapter message")
	ErrUnknownType = errors.New("unknown adapter message type")
)

// Handler processes one message type for a session.
type Handler func(sessionID string, payload json.RawMessage) error

// Router dispatches adapter messages to registered handlers.
type Router struct {
	logger   *zap.Logger
	handlers map[string]Handler
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{logger: logger, handlers: make(map[string]Handler)}
}

// Register adds a handler for a message type.
func (r *Router) Register(msgType string, h Handler) {
	r.handlers[msgType] = h
}

// Dispatch parses a raw message and routes it to its handler.
func (r *Router) Dispatch(raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.AdapterRequestsTotal.WithLabelValues("invalid", "error").Inc()
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r.Route(env)
}

// Route dispatches an already decoded envelope.
func (r *Router) Route(env Envelope) error {
	h, ok := r.handlers[env.Type]
	if !ok {
		r.logger.Warn("unknown adapter message type", zap.String("type", env.Type))
		metrics.AdapterRequestsTotal.WithLabelValues("unknown", "error").Inc()
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if env.SessionID == "" {
		metrics.AdapterRequestsTotal.WithLabelValues(env.Type, "error").Inc()
		return fmt.Errorf("%w: missing sessionId", ErrMalformed)
	}

	err := h(env.SessionID, env.Payload)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.logger.Info("adapter request refused",
			zap.String("type", env.Type),
			zap.String("session", env.SessionID),
			zap.Error(err),
		)
	}
	metrics.AdapterRequestsTotal.WithLabelValues(env.Type, outcome).Inc()
	return err
}

// Sessions looks up the adapter of a live session.
type Sessions interface {
	Adapter(sessionID string) (*streaming.Adapter, bool)
}

// NewStreamingRouter returns a router serving the streaming message types
// against the sessions of sessions.
func NewStreamingRouter(sessions Sessions, logger *zap.Logger) *Router {
	r := NewRouter(logger)
	r.Register(TypeSetState, func(sessionID string, payload json.RawMessage) error {
		var req SetState
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		state, err := streaming.ParseStreamingState(req.State)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		a, ok := sessions.Adapter(sessionID)
		if !ok {
			return streaming.ErrStaleAdapter
		}
		return a.SetStreamingState(state)
	})
	r.Register(TypeStop, func(sessionID string, _ json.RawMessage) error {
		a, ok := sessions.Adapter(sessionID)
		if !ok {
			return streaming.ErrStaleAdapter
		}
		return a.StopStreaming()
	})
	return r
}
