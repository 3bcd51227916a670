package protocol

import "time"

// Client message types accepted on the transcription socket.
const (
	TypeConfig       = "config"
	TypeStartSession = "start_session"
	TypeFlush        = "flush"
	TypeEndSession   = "end_session"
	TypeReset        = "reset"
	TypePing         = "ping"
)

// Server message types.
const (
	TypeTranscription = "transcription"
	TypeStatus        = "status"
	TypeError         = "error"
	TypePong          = "pong"
)

// Error codes surfaced to clients. Transient codes never close the
// connection; structural codes leave the session open but require the
// client to reconfigure or retry.
const (
	CodeProtocol     = "protocol_error"
	CodeUnknownModel = "unknown_model"
	CodeDecode       = "decode_error"
	CodeWorkerCrash  = "worker_crash"
	CodeLoadTimeout  = "load_timeout"
	CodeInternal     = "internal_error"
)

// Worker status states reported to clients.
const (
	StatusLoading = "loading"
	StatusReady   = "ready"
	StatusClosed  = "closed"
)

// ClientMessage is the envelope for every text frame received from a client.
// Fields are populated according to Type.
type ClientMessage struct {
	Type       string `json:"type"`
	Model      string `json:"model,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// TranscriptionMessage carries a partial or final decode result to the client.
type TranscriptionMessage struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	IsFinal   bool    `json:"is_final"`
	Model     string  `json:"model"`
	SessionID string  `json:"session_id"`
	LatencyMS float64 `json:"latency_ms"`
}

// StatusMessage reports worker lifecycle transitions (loading, ready, crash).
type StatusMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Model string `json:"model,omitempty"`
}

// ErrorMessage reports a recoverable error without closing the connection.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMessage answers a client ping with the echoed timestamp.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Transcript is the event published on the bus for downstream consumers.
type Transcript struct {
	SessionID string    `json:"session_id"`
	ModelID   string    `json:"model_id"`
	Content   string    `json:"content"`
	Partial   bool      `json:"partial"`
	LatencyMS float64   `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
)
