package domain

// SessionState models the dictation session lifecycle. Exactly one session
// exists at a time; the controller owns all transitions.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateRecording  SessionState = "recording"
	SessionStateDraining   SessionState = "draining"
	SessionStateFinalizing SessionState = "finalizing"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonStartup          SessionStateReason = "startup"
	SessionReasonRecordingStarted SessionStateReason = "recording_started"
	SessionReasonStopRequested    SessionStateReason = "stop_requested"
	SessionReasonCaptureFailed    SessionStateReason = "capture_failed"
	SessionReasonStreamEnded      SessionStateReason = "stream_ended"
	SessionReasonDrainDeadline    SessionStateReason = "drain_deadline"
	SessionReasonTranscriptTyped  SessionStateReason = "transcript_typed"
	SessionReasonNoTranscript     SessionStateReason = "no_transcript"
	SessionReasonConnectFailed    SessionStateReason = "connect_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeConnect    ErrorCode = "connect"
	ErrorCodeDevice     ErrorCode = "device"
	ErrorCodeSend       ErrorCode = "send"
	ErrorCodeRules      ErrorCode = "rules"
	ErrorCodeInjection  ErrorCode = "injection"
	ErrorCodeAudioClose ErrorCode = "audio_close"
)

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent is one incremental recognition result. A Partial is
// provisional and superseded by later events; a Final closes one utterance
// and is never revised. End of stream is signalled by the event channel
// closing, not by a sentinel event.
type TranscriptEvent struct {
	Kind    TranscriptKind
	Text    string
	Speaker int
}

// AudioFrame is one fixed-duration block of signed 16-bit little-endian PCM.
// Ownership of PCM transfers on send; the producer must not reuse it.
type AudioFrame struct {
	Seq uint64
	PCM []byte
}

// ToggleEvent is an edge-triggered "flip recording on/off" signal.
type ToggleEvent struct{}

// SessionResult is the reduced transcript of one completed session.
type SessionResult struct {
	ID    string
	Text  string
	Typed bool
}
