package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"whisperkey/internal/domain"
	"whisperkey/internal/ports"
)

// Config controls session behavior.
type Config struct {
	Audio   ports.AudioConfig
	Stream  ports.StreamConfig
	MaxWait time.Duration
}

// SessionController owns the dictation lifecycle: Idle, Recording, Draining,
// Finalizing. One session exists at a time; every transition happens on the
// controller's own run loop, so the state, the aggregator, and the partial
// slot need no external locking.
type SessionController struct {
	audio    ports.AudioSource
	provider ports.TranscriptionProvider
	rules    ports.Transformer
	output   ports.OutputSink
	events   ports.EventSink
	cfg      Config

	stateMu sync.Mutex
	state   domain.SessionState
}

func NewSessionController(
	audio ports.AudioSource,
	provider ports.TranscriptionProvider,
	rules ports.Transformer,
	output ports.OutputSink,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Second
	}
	return &SessionController{
		audio:    audio,
		provider: provider,
		rules:    rules,
		output:   output,
		events:   events,
		cfg:      cfg,
		state:    domain.SessionStateIdle,
	}
}

// State reports the current lifecycle state.
func (c *SessionController) State() domain.SessionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Run consumes toggle events until the context is canceled or the toggle
// stream closes. Each toggle received in Idle runs one full session to
// completion; toggles arriving while a session drains or finalizes are
// discarded, never treated as new starts.
func (c *SessionController) Run(ctx context.Context, toggles <-chan domain.ToggleEvent) error {
	c.setState(domain.SessionStateIdle, domain.SessionReasonStartup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-toggles:
			if !ok {
				return nil
			}
			c.runSession(ctx, toggles)
		}
	}
}

func (c *SessionController) runSession(ctx context.Context, toggles <-chan domain.ToggleEvent) {
	id := uuid.NewString()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.provider.Connect(sessionCtx, c.cfg.Stream)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeConnect, err.Error())
		c.setState(domain.SessionStateIdle, domain.SessionReasonConnectFailed)
		return
	}

	audio, err := c.audio.Open(sessionCtx, c.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		c.events.SessionError(domain.ErrorCodeDevice, err.Error())
		c.setState(domain.SessionStateIdle, domain.SessionReasonCaptureFailed)
		return
	}

	agg := newTranscriptAggregator()
	stopping := make(chan struct{})
	collector := startEventCollector(stream, agg, c.events)
	pump := startFramePump(audio, stream, c.events, stopping)

	c.setState(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)

	// Recording: ends on a stop toggle, a capture/send failure, or the
	// recognizer dropping the connection early.
	drainReason := domain.SessionReasonStopRequested
recording:
	for {
		select {
		case <-ctx.Done():
			break recording
		case <-toggles:
			// Stop request; a closed toggle stream counts too.
			break recording
		case <-pump.failed:
			drainReason = domain.SessionReasonCaptureFailed
			break recording
		case <-collector.done:
			drainReason = domain.SessionReasonStreamEnded
			break recording
		}
	}

	// Draining: the pump is stopped and joined before anything else so no
	// frame can hit a stream that is being torn down, then the peer is told
	// no more audio is coming and gets up to MaxWait to flush results.
	close(stopping)
	if err := audio.Close(); err != nil {
		c.events.SessionError(domain.ErrorCodeAudioClose, err.Error())
	}
	<-pump.done
	_ = stream.SignalEndOfAudio()

	c.setState(domain.SessionStateDraining, drainReason)

	deadline := time.NewTimer(c.cfg.MaxWait)
	defer deadline.Stop()

	finalizeReason := domain.SessionReasonStreamEnded
draining:
	for {
		select {
		case <-collector.done:
			break draining
		case <-deadline.C:
			finalizeReason = domain.SessionReasonDrainDeadline
			break draining
		case <-ctx.Done():
			finalizeReason = domain.SessionReasonDrainDeadline
			break draining
		case _, ok := <-toggles:
			// Session is already stopping; ignore the press. A closed
			// stream must not spin the select.
			if !ok {
				toggles = nil
			}
		}
	}

	// Snapshot before closing the stream: results arriving after the
	// deadline are excluded even though the collector keeps reading until
	// the channel closes.
	raw := agg.Result()
	_ = stream.Close()
	<-collector.done
	if err := stream.Wait(); err != nil {
		c.events.SessionError(domain.ErrorCodeConnect, err.Error())
	}

	c.setState(domain.SessionStateFinalizing, finalizeReason)
	reason := c.finalize(ctx, id, raw)

	drainQueuedToggles(toggles)
	c.setState(domain.SessionStateIdle, reason)
}

// finalize reduces and emits one session's output. Close failures and rule
// failures degrade the result, they never abort the return to Idle.
func (c *SessionController) finalize(ctx context.Context, id string, raw string) domain.SessionStateReason {
	if raw == "" {
		return domain.SessionReasonNoTranscript
	}

	text := raw
	if transformed, err := c.rules.Apply(raw); err != nil {
		c.events.SessionError(domain.ErrorCodeRules, err.Error())
	} else {
		text = transformed
	}
	if text == "" {
		return domain.SessionReasonNoTranscript
	}

	err := c.output.Type(ctx, text)
	c.events.FinalTranscript(domain.SessionResult{ID: id, Text: text, Typed: err == nil})
	return domain.SessionReasonTranscriptTyped
}

func (c *SessionController) setState(state domain.SessionState, reason domain.SessionStateReason) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
	c.events.SessionStateChanged(state, reason)
}

// drainQueuedToggles discards toggles that piled up while the session was
// draining or typing, so a bounced hotkey cannot start a ghost session.
func drainQueuedToggles(toggles <-chan domain.ToggleEvent) {
	for {
		select {
		case _, ok := <-toggles:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
