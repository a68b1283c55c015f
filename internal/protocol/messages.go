package protocol

import (
	"encoding/json"
	"time"
)

// AudioFrame represents PCM audio data streamed from the room transport.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents recognized patient speech.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// TextStream is raw text pushed by the room outside the recognizer.
// Speaker defaults to the patient when empty.
type TextStream struct {
	SessionID string    `json:"session_id"`
	Speaker   string    `json:"speaker,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type LLMRequest struct {
	SessionID   string    `json:"session_id"`
	Prompt      string    `json:"prompt"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type LLMResponse struct {
	SessionID        string    `json:"session_id"`
	Content          string    `json:"content"`
	Partial          bool      `json:"partial"`
	TraceID          string    `json:"trace_id,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	LatencyMS        int64     `json:"latency_ms,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type TTSRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

type AudioChunk struct {
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStart asks the runtime to open an interview for a room.
type SessionStart struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionIdle is reported by the room when the patient stopped engaging.
type SessionIdle struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

const SignalGenerateReport = "GENERATE_REPORT"

// Signal is the out-of-band structured side channel:
//
//	{"type":"GENERATE_REPORT","data":{"dialogue":[...],"meta":{"sessionId":"..."}}}
type Signal struct {
	Type string     `json:"type"`
	Data SignalData `json:"data"`
}

type SignalData struct {
	Dialogue json.RawMessage `json:"dialogue,omitempty"`
	Meta     SignalMeta      `json:"meta"`
}

type SignalMeta struct {
	SessionID string `json:"sessionId"`
}

// ReportReady announces the outcome of a session's report delivery.
type ReportReady struct {
	SessionID string    `json:"session_id"`
	PatientID string    `json:"patient_id"`
	ReportID  string    `json:"report_id,omitempty"`
	Source    string    `json:"source"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix   = "audio.frame"
	SubjectTranscriptPartial  = "stt.text.partial"
	SubjectTranscriptFinal    = "stt.text.final"
	SubjectTextStream         = "session.text.stream"
	SubjectLLMRequest         = "llm.request"
	SubjectLLMResponsePartial = "llm.response.partial"
	SubjectLLMResponseFinal   = "llm.response.final"
	SubjectTTSRequest         = "tts.request"
	SubjectTTSAudio           = "tts.audio"
	SubjectTTSDone            = "tts.done"
	SubjectSessionStart       = "session.start"
	SubjectSessionIdle        = "session.idle"
	SubjectSessionSignal      = "session.signal"
	SubjectReportReady        = "report.ready"
)
