package types

import "time"

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

const (
	CallConnecting = "connecting"
	CallActive     = "active"
	CallEnded      = "ended"
)

// Call is the record of one bridged phone call.
type Call struct {
	ID        string    `json:"call_id"`
	StreamSID string    `json:"stream_sid,omitempty"`
	CallSID   string    `json:"call_sid,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`

	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}
