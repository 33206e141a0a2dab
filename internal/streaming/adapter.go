package streaming

import "errors"

// ErrStaleAdapter is returned when a consumer uses the adapter of a session
// that has already ended.
var ErrStaleAdapter = errors.New("streaming session no longer active")

// Adapter is handed to a connected consumer so it can steer the streamed
// call: request a state change or ask for streaming to stop. Requests go to
// the call's owner; the adapter never touches the call directly.
type Adapter struct {
	ctl       *Controller
	sessionID string
	call      Call
	wrapper   ServiceWrapper
}

func (a *Adapter) SessionID() string { return a.sessionID }
func (a *Adapter) CallID() string    { return a.call.ID() }

// SetStreamingState asks the call's owner to move the call to state.
func (a *Adapter) SetStreamingState(state StreamingState) error {
	if !a.live() {
		return ErrStaleAdapter
	}
	return a.wrapper.OnStreamingStateRequested(a.call, state)
}

// StopStreaming asks the call's owner to stop streaming.
func (a *Adapter) StopStreaming() error {
	if !a.live() {
		return ErrStaleAdapter
	}
	a.wrapper.StopCallStreaming(a.call)
	return nil
}

func (a *Adapter) live() bool {
	a.ctl.mu.Lock()
	defer a.ctl.mu.Unlock()
	return a.ctl.session != nil && a.ctl.session.id == a.sessionID
}
