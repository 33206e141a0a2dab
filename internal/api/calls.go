package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/audio"
	"github.com/RenatoCabral2022/callstream/internal/calls"
	"github.com/RenatoCabral2022/callstream/internal/streaming"
)

type setStateRequest struct {
	State string `json:"state"`
}

type audioResponse struct {
	CallID          string  `json:"callId"`
	Kept            bool    `json:"kept"`
	BufferedSeconds float64 `json:"bufferedSeconds"`
}

// createCall handles POST /v1/calls.
func (s *Server) createCall(w http.ResponseWriter, r *http.Request) {
	var req calls.NewCall
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := s.calls.Add(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, _ := s.calls.Info(c.ID())
	writeJSON(w, http.StatusCreated, info)
}

// listCalls handles GET /v1/calls.
func (s *Server) listCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.calls.List())
}

// getCall handles GET /v1/calls/{callId}.
func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	info, err := s.calls.Info(chi.URLParam(r, "callId"))
	if err != nil {
		s.callError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// setCallState handles POST /v1/calls/{callId}/state.
func (s *Server) setCallState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "callId")
	var req setStateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := streaming.ParseCallState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.calls.SetState(id, state); err != nil {
		s.callError(w, err)
		return
	}
	info, err := s.calls.Info(id)
	if err != nil {
		s.callError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// deleteCall handles DELETE /v1/calls/{callId}.
func (s *Server) deleteCall(w http.ResponseWriter, r *http.Request) {
	if err := s.calls.Remove(chi.URLParam(r, "callId")); err != nil {
		s.callError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// feedAudio handles POST /v1/calls/{callId}/audio?rate=N with a raw s16le
// mono PCM body at 16kHz (default) or 48kHz.
// Audio for a call without interception engaged is accepted and dropped.
func (s *Server) feedAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "callId")
	if _, _, err := s.calls.Get(id); err != nil {
		s.callError(w, err)
		return
	}
	pcm, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "audio chunk too large")
		return
	}
	rate := audio.SampleRate
	if v := r.URL.Query().Get("rate"); v != "" {
		if rate, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "rate must be an integer")
			return
		}
	}
	pcm, err = audio.Normalize(pcm, rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := audioResponse{CallID: id, Kept: s.audio.Feed(id, pcm)}
	if tap, ok := s.audio.Tap(id); ok {
		resp.BufferedSeconds = tap.Buffered()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// snapshotAudio handles GET /v1/calls/{callId}/audio?seconds=N and returns
// the most recent intercepted PCM.
func (s *Server) snapshotAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "callId")
	tap, ok := s.audio.Tap(id)
	if !ok {
		writeError(w, http.StatusNotFound, "audio interception not engaged")
		return
	}
	seconds := 5
	if v := r.URL.Query().Get("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "seconds must be a positive integer")
			return
		}
		seconds = n
	}
	pcm := tap.Snapshot(seconds)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Sample-Rate", strconv.Itoa(audio.SampleRate))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pcm); err != nil {
		s.logger.Debug("audio snapshot write", zap.Error(err))
	}
}

func (s *Server) callError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calls.ErrCallNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, calls.ErrCallEnded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, calls.ErrInvalidCall):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("call operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
