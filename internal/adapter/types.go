package adapter

import "encoding/json"

// Message types a consumer may send for its session.
const (
	TypeSetState = "streaming.setState"
	TypeStop     = "streaming.stop"
)

// Envelope is the top-level wrapper for all adapter messages.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SetState is the payload of streaming.setState messages.
type SetState struct {
	State string `json:"state"`
}

// EventError describes why a message was refused.
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
