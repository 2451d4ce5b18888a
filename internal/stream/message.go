package stream

import "time"

// MessageType tags every frame on the push stream. Unrecognized types
// must be ignored by consumers so new ones can ship server-first.
type MessageType string

const (
	TypeJobStarted    MessageType = "job_started"
	TypeJobCompleted  MessageType = "job_completed"
	TypeJobFailed     MessageType = "job_failed"
	TypeConnectionAck MessageType = "connection_ack"
	TypeLivenessPing  MessageType = "liveness_ping"

	// TypeOffline is synthesized client-side when reconnect attempts
	// are exhausted; it never appears on the wire.
	TypeOffline MessageType = "offline"
)

// Message is one push-stream frame, JSON-encoded per line/event.
type Message struct {
	Type      MessageType `json:"type"`
	AssetID   string      `json:"assetId,omitempty"`
	VideoID   string      `json:"videoId,omitempty"`
	ResultURL string      `json:"resultUrl,omitempty"`
	GifURL    string      `json:"gifUrl,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Now stamps a message with the current unix-millisecond time.
func (m Message) Now() Message {
	m.Timestamp = time.Now().UnixMilli()
	return m
}
