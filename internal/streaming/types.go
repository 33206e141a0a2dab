package streaming

import (
	"fmt"
	"strings"
)

// Failure messages reported by the start and bind steps.
const (
	MsgAlreadyStreaming = "already streaming"
	MsgNoSender         = "no sender"
	MsgBindingError     = "sender binding error"
)

// RequiredPermission is the capability a consumer service must declare
// before it may be bound.
const RequiredPermission = "BIND_CALL_STREAMING_SERVICE"

// ExtraCallID is the StreamingCall extras key carrying the call ID.
const ExtraCallID = "callId"

// CallState is the lifecycle state of a call as raised by the call manager.
type CallState int

const (
	CallStateNew CallState = iota
	CallStateDialing
	CallStateRinging
	CallStateActive
	CallStateOnHold
	CallStateDisconnecting
	CallStateDisconnected
)

var callStateNames = map[CallState]string{
	CallStateNew:           "new",
	CallStateDialing:       "dialing",
	CallStateRinging:       "ringing",
	CallStateActive:        "active",
	CallStateOnHold:        "on_hold",
	CallStateDisconnecting: "disconnecting",
	CallStateDisconnected:  "disconnected",
}

func (s CallState) String() string {
	if n, ok := callStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("call_state(%d)", int(s))
}

// ParseCallState accepts the names produced by CallState.String.
func ParseCallState(name string) (CallState, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range callStateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown call state %q", name)
}

// StreamingState is the state of the streamed call as seen by the consumer.
type StreamingState int

const (
	StreamingStateStreaming StreamingState = iota + 1
	StreamingStateHolding
	StreamingStateDisconnected
)

var streamingStateNames = map[StreamingState]string{
	StreamingStateStreaming:    "streaming",
	StreamingStateHolding:      "holding",
	StreamingStateDisconnected: "disconnected",
}

func (s StreamingState) String() string {
	if n, ok := streamingStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("streaming_state(%d)", int(s))
}

func ParseStreamingState(name string) (StreamingState, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range streamingStateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown streaming state %q", name)
}

// streamingStateFor maps a call state to the state the consumer is told
// about. States without a mapping are not reported.
func streamingStateFor(s CallState) (StreamingState, bool) {
	switch s {
	case CallStateActive:
		return StreamingStateStreaming, true
	case CallStateOnHold:
		return StreamingStateHolding, true
	case CallStateDisconnecting, CallStateDisconnected:
		return StreamingStateDisconnected, true
	default:
		return 0, false
	}
}

// TerminationReason tells which signal ended a consumer binding. It only
// feeds diagnostics; every reason takes the same reset path.
type TerminationReason int

const (
	ReasonUnbind TerminationReason = iota
	ReasonDisconnected
	ReasonBindingDied
	ReasonNullBinding
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonUnbind:
		return "unbind"
	case ReasonDisconnected:
		return "disconnected"
	case ReasonBindingDied:
		return "binding_died"
	case ReasonNullBinding:
		return "null_binding"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// StreamingCall describes the streamed call to the consumer.
type StreamingCall struct {
	Component   string
	DisplayName string
	Handle      string
	Extras      map[string]string
}
