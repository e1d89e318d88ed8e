package ports

import (
	"context"

	"whisperkey/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	FrameMs     int
	InputFormat string
	InputDevice string
}

// FrameBytes is the size in bytes of one capture frame: 16-bit samples at
// the configured rate and channel count for FrameMs of audio.
func (c AudioConfig) FrameBytes() int {
	rate := c.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	frameMs := c.FrameMs
	if frameMs <= 0 {
		frameMs = 250
	}
	return rate * frameMs / 1000 * channels * 2
}

// AudioSession is a live capture session. ReadFrame blocks until one full
// frame of PCM is available and returns a freshly allocated buffer each
// call. Close is idempotent.
type AudioSession interface {
	ReadFrame() (domain.AudioFrame, error)
	Close() error
}

// AudioSource opens microphone capture sessions.
type AudioSource interface {
	Open(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamConfig describes provider-agnostic streaming settings.
type StreamConfig struct {
	SampleRate int
	Channels   int
}

// StreamSession is an active recognizer connection. SignalEndOfAudio tells
// the peer no more frames are coming while leaving the read side open for
// trailing finals; the Events channel closes when the peer finishes or the
// connection drops. Close is idempotent.
type StreamSession interface {
	Send(frame domain.AudioFrame) error
	SignalEndOfAudio() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider dials recognizer streaming sessions.
type TranscriptionProvider interface {
	Connect(ctx context.Context, cfg StreamConfig) (StreamSession, error)
}

// Transformer rewrites a final transcript before output.
type Transformer interface {
	Apply(text string) (string, error)
}

// OutputSink injects text at the current cursor position.
type OutputSink interface {
	Type(ctx context.Context, text string) error
}

// EventSink reports session lifecycle, transcripts, and errors.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	PartialTranscript(text string)
	FinalTranscript(result domain.SessionResult)
	SessionError(code domain.ErrorCode, detail string)
}
