package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/adapter"
	"github.com/RenatoCabral2022/callstream/internal/calls"
	"github.com/RenatoCabral2022/callstream/internal/streaming"
	"github.com/RenatoCabral2022/callstream/internal/transaction"
)

type streamingResponse struct {
	Streaming       bool    `json:"streaming"`
	CallID          string  `json:"callId,omitempty"`
	BufferedSeconds float64 `json:"bufferedSeconds,omitempty"`
}

type outcomeResponse struct {
	CallID  string `json:"callId"`
	Outcome string `json:"outcome"`
}

const msgNotSessionCall = "another call holds the streaming session"

// startStreaming handles POST /v1/calls/{callId}/streaming. It runs the
// start pipeline and answers once the consumer is connected or the attempt
// failed. A pipeline still pending at StartTimeout gets a stop queued behind
// it, so a late connect does not leave a stream the client was told failed.
func (s *Server) startStreaming(w http.ResponseWriter, r *http.Request) {
	call, state, err := s.calls.Get(chi.URLParam(r, "callId"))
	if err != nil {
		s.callError(w, err)
		return
	}
	if state == streaming.CallStateDisconnected {
		s.callError(w, calls.ErrCallEnded)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.startTimeout)
	defer cancel()
	tx := s.ctl.StartStreaming(s.owners.For(call.Owner()), call)
	res, err := tx.Run(ctx).Await(ctx)
	if err != nil {
		if s.holdsSession(call) {
			s.logger.Warn("start streaming timed out, stopping", zap.String("call", call.ID()))
			s.owners.For(call.Owner()).StopCallStreaming(call)
		}
		writeError(w, http.StatusGatewayTimeout, transaction.MsgTimedOut)
		return
	}
	if !res.OK() {
		writeError(w, startFailureStatus(res.Message()), res.Message())
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{CallID: call.ID(), Outcome: res.Outcome().String()})
}

func startFailureStatus(msg string) int {
	switch msg {
	case streaming.MsgAlreadyStreaming:
		return http.StatusConflict
	case streaming.MsgNoSender:
		return http.StatusServiceUnavailable
	case streaming.MsgBindingError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// stopStreaming handles DELETE /v1/calls/{callId}/streaming. Stopping a
// call that has no session is a no-op; a session held by another call is
// left alone.
func (s *Server) stopStreaming(w http.ResponseWriter, r *http.Request) {
	call, _, err := s.calls.Get(chi.URLParam(r, "callId"))
	if err != nil {
		s.callError(w, err)
		return
	}
	if cur, ok := s.ctl.SessionCall(); ok && cur.ID() != call.ID() {
		writeError(w, http.StatusConflict, msgNotSessionCall)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.startTimeout)
	defer cancel()
	if _, err := s.ctl.StopStreaming(call).Run(ctx).Await(ctx); err != nil {
		writeError(w, http.StatusGatewayTimeout, transaction.MsgTimedOut)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) holdsSession(call *calls.Call) bool {
	cur, ok := s.ctl.SessionCall()
	return ok && cur.ID() == call.ID()
}

// streamingStatus handles GET /v1/streaming.
func (s *Server) streamingStatus(w http.ResponseWriter, _ *http.Request) {
	var resp streamingResponse
	if call, ok := s.ctl.StreamingCall(); ok {
		resp.Streaming = true
		resp.CallID = call.ID()
		if tap, ok := s.audio.Tap(call.ID()); ok {
			resp.BufferedSeconds = tap.Buffered()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// adapterRequest handles POST /v1/streaming/adapter: an envelope sent by
// the connected consumer for its session.
func (s *Server) adapterRequest(w http.ResponseWriter, r *http.Request) {
	var env adapter.Envelope
	if err := decodeJSON(w, r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope")
		return
	}
	err := s.adapter.Route(env)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, adapter.ErrMalformed), errors.Is(err, adapter.ErrUnknownType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, streaming.ErrStaleAdapter):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, calls.ErrCallNotFound), errors.Is(err, calls.ErrCallEnded):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("adapter request failed", zap.String("type", env.Type), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
