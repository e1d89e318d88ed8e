package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"whisperkey/internal/domain"
	"whisperkey/internal/ports"
)

func TestSessionEmptyTranscriptTypesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{closeOnEnd: true})
	defer h.stop()

	h.toggle()
	h.waitForState(domain.SessionStateRecording)
	h.toggle()
	h.waitForState(domain.SessionStateIdle)

	if texts := h.output.snapshot(); len(texts) != 0 {
		t.Fatalf("expected no output, got %v", texts)
	}
	if reason := h.events.lastReason(); reason != domain.SessionReasonNoTranscript {
		t.Fatalf("unexpected final reason: %s", reason)
	}
}

func TestSessionConcatenatesFinalsInArrivalOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{closeOnEnd: true})
	defer h.stop()

	h.toggle()
	h.waitForState(domain.SessionStateRecording)

	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hello "})
	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "wor"})
	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "world"})

	h.toggle()
	h.waitForState(domain.SessionStateIdle)

	texts := h.output.snapshot()
	if len(texts) != 1 || texts[0] != "hello world" {
		t.Fatalf("unexpected output: %v", texts)
	}
}

func TestSessionFallsBackToLastPartial(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{closeOnEnd: true})
	defer h.stop()

	h.toggle()
	h.waitForState(domain.SessionStateRecording)

	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "testing one"})
	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "testing"})

	h.toggle()
	h.waitForState(domain.SessionStateIdle)

	texts := h.output.snapshot()
	if len(texts) != 1 || texts[0] != "testing" {
		t.Fatalf("unexpected output: %v", texts)
	}
}

func TestSessionDrainDeadlineFinalizesWithCollectedResults(t *testing.T) {
	t.Parallel()

	// The stream never acknowledges end-of-audio, so only the deadline can
	// end the drain.
	h := newHarness(t, harnessConfig{closeOnEnd: false, maxWait: 50 * time.Millisecond})
	defer h.stop()

	h.toggle()
	h.waitForState(domain.SessionStateRecording)
	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "early words"})

	h.toggle()
	h.waitForState(domain.SessionStateIdle)

	texts := h.output.snapshot()
	if len(texts) != 1 || texts[0] != "early words" {
		t.Fatalf("unexpected output: %v", texts)
	}
	if !h.events.sawReason(domain.SessionReasonDrainDeadline) {
		t.Fatalf("expected drain deadline reason, got %v", h.events.reasons())
	}
}

func TestDeviceErrorMidRecordingForcesDrain(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{closeOnEnd: true})
	defer h.stop()

	h.toggle()
	h.waitForState(domain.SessionStateRecording)
	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "kept fragment"})

	h.audio.failRead(errors.New("microphone unplugged"))
	h.waitForState(domain.SessionStateIdle)

	texts := h.output.snapshot()
	if len(texts) != 1 || texts[0] != "kept fragment" {
		t.Fatalf("expected fragments from before the error, got %v", texts)
	}
	if !h.events.sawReason(domain.SessionReasonCaptureFailed) {
		t.Fatalf("expected capture failed reason, got %v", h.events.reasons())
	}
	if !h.events.sawErrorCode(domain.ErrorCodeDevice) {
		t.Fatalf("expected device error code, got %v", h.events.errorCodes())
	}
}

func TestBackToBackTogglesLeaveIdleWithAtMostOneOutput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{closeOnEnd: true})
	defer h.stop()

	h.toggle()
	h.toggle()
	h.waitForState(domain.SessionStateIdle)

	if texts := h.output.snapshot(); len(texts) > 1 {
		t.Fatalf("expected at most one output, got %v", texts)
	}
	if got := h.controller.State(); got != domain.SessionStateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestToggleDuringDrainingDoesNotStartSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{closeOnEnd: false, maxWait: 100 * time.Millisecond})
	defer h.stop()

	h.toggle()
	h.waitForState(domain.SessionStateRecording)
	h.toggle()
	h.waitForState(domain.SessionStateDraining)
	h.toggle()
	h.waitForState(domain.SessionStateIdle)

	// Give a ghost session time to appear if the queued toggle leaked.
	time.Sleep(50 * time.Millisecond)
	if got := h.controller.State(); got != domain.SessionStateIdle {
		t.Fatalf("expected to stay idle, got %s", got)
	}
	if starts := h.events.countReason(domain.SessionReasonRecordingStarted); starts != 1 {
		t.Fatalf("expected exactly one session start, got %d", starts)
	}
}

func TestStreamFailureIsReportedAfterSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{
		closeOnEnd: true,
		streamErr:  errors.New("connection reset by peer"),
	})
	defer h.stop()

	h.toggle()
	h.waitForState(domain.SessionStateRecording)
	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "kept"})
	h.toggle()
	h.waitForState(domain.SessionStateIdle)

	// The transport failure degrades nothing; collected text still lands.
	texts := h.output.snapshot()
	if len(texts) != 1 || texts[0] != "kept" {
		t.Fatalf("unexpected output: %v", texts)
	}
	if !h.events.sawErrorCode(domain.ErrorCodeConnect) {
		t.Fatalf("expected connect error code, got %v", h.events.errorCodes())
	}
}

func TestConnectFailureReturnsToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{connectErr: errors.New("recognizer unreachable")})
	defer h.stop()

	h.toggle()
	h.waitForReason(domain.SessionReasonConnectFailed)

	if got := h.controller.State(); got != domain.SessionStateIdle {
		t.Fatalf("expected idle after connect failure, got %s", got)
	}
	if texts := h.output.snapshot(); len(texts) != 0 {
		t.Fatalf("expected no output, got %v", texts)
	}
	if !h.events.sawErrorCode(domain.ErrorCodeConnect) {
		t.Fatalf("expected connect error code, got %v", h.events.errorCodes())
	}
}

func TestFinalizeAppliesRulesTransform(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{
		closeOnEnd: true,
		rules:      &fakeRules{apply: strings.ToUpper},
	})
	defer h.stop()

	h.toggle()
	h.waitForState(domain.SessionStateRecording)
	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hello"})
	h.toggle()
	h.waitForState(domain.SessionStateIdle)

	texts := h.output.snapshot()
	if len(texts) != 1 || texts[0] != "HELLO" {
		t.Fatalf("unexpected output: %v", texts)
	}
}

func TestFinalizeRulesFailureFallsBackToRawText(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{
		closeOnEnd: true,
		rules:      &fakeRules{err: errors.New("bad rules")},
	})
	defer h.stop()

	h.toggle()
	h.waitForState(domain.SessionStateRecording)
	h.stream.push(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hello"})
	h.toggle()
	h.waitForState(domain.SessionStateIdle)

	texts := h.output.snapshot()
	if len(texts) != 1 || texts[0] != "hello" {
		t.Fatalf("expected raw text typed, got %v", texts)
	}
	if !h.events.sawErrorCode(domain.ErrorCodeRules) {
		t.Fatalf("expected rules error code, got %v", h.events.errorCodes())
	}
}

// ---- harness ----

type harnessConfig struct {
	closeOnEnd bool
	maxWait    time.Duration
	connectErr error
	streamErr  error
	rules      ports.Transformer
}

type harness struct {
	t          *testing.T
	controller *SessionController
	toggles    chan domain.ToggleEvent
	audio      *fakeAudioSession
	stream     *fakeStreamSession
	output     *fakeOutput
	events     *fakeEventSink
	cancel     context.CancelFunc
	done       chan struct{}
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()

	if cfg.maxWait <= 0 {
		cfg.maxWait = 2 * time.Second
	}
	if cfg.rules == nil {
		cfg.rules = &fakeRules{}
	}

	audio := newFakeAudioSession()
	stream := newFakeStreamSession(cfg.closeOnEnd)
	stream.waitErr = cfg.streamErr
	output := &fakeOutput{}
	events := &fakeEventSink{}

	controller := NewSessionController(
		&fakeAudioSource{session: audio},
		&fakeProvider{session: stream, err: cfg.connectErr},
		cfg.rules,
		output,
		events,
		Config{MaxWait: cfg.maxWait},
	)

	ctx, cancel := context.WithCancel(context.Background())
	toggles := make(chan domain.ToggleEvent, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = controller.Run(ctx, toggles)
	}()

	return &harness{
		t:          t,
		controller: controller,
		toggles:    toggles,
		audio:      audio,
		stream:     stream,
		output:     output,
		events:     events,
		cancel:     cancel,
		done:       done,
	}
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		h.t.Fatalf("controller did not shut down")
	}
}

func (h *harness) toggle() {
	select {
	case h.toggles <- domain.ToggleEvent{}:
	case <-time.After(time.Second):
		h.t.Fatalf("toggle channel full")
	}
}

func (h *harness) waitForState(want domain.SessionState) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.controller.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for state %s, current %s", want, h.controller.State())
}

func (h *harness) waitForReason(want domain.SessionStateReason) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.events.sawReason(want) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for reason %s, saw %v", want, h.events.reasons())
}

// ---- fakes ----

type fakeAudioSource struct {
	session *fakeAudioSession
}

func (f *fakeAudioSource) Open(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	return f.session, nil
}

type fakeAudioSession struct {
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
	seq       uint64
	mu        sync.Mutex
}

func newFakeAudioSession() *fakeAudioSession {
	return &fakeAudioSession{
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeAudioSession) ReadFrame() (domain.AudioFrame, error) {
	// Deliver a steady trickle of frames; fail or end when told to.
	select {
	case err := <-f.errs:
		return domain.AudioFrame{}, err
	case <-f.closed:
		return domain.AudioFrame{}, io.EOF
	case <-time.After(5 * time.Millisecond):
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	frame := domain.AudioFrame{Seq: f.seq, PCM: []byte{0, 0, 0, 0}}
	f.seq++
	return frame, nil
}

func (f *fakeAudioSession) failRead(err error) {
	f.errs <- err
}

func (f *fakeAudioSession) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type fakeProvider struct {
	session *fakeStreamSession
	err     error
}

func (f *fakeProvider) Connect(_ context.Context, _ ports.StreamConfig) (ports.StreamSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeStreamSession struct {
	mu         sync.Mutex
	events     chan domain.TranscriptEvent
	closeOnEnd bool
	closed     bool
	sendErr    error
	waitErr    error
	sent       int
	endSignals int
	closeCalls int
}

func newFakeStreamSession(closeOnEnd bool) *fakeStreamSession {
	return &fakeStreamSession{
		events:     make(chan domain.TranscriptEvent, 16),
		closeOnEnd: closeOnEnd,
	}
}

func (f *fakeStreamSession) push(event domain.TranscriptEvent) {
	f.events <- event
}

func (f *fakeStreamSession) Send(_ domain.AudioFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent++
	return nil
}

func (f *fakeStreamSession) SignalEndOfAudio() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endSignals++
	if f.closeOnEnd && !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeStreamSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamSession) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeStreamSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

type fakeRules struct {
	apply func(string) string
	err   error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.apply != nil {
		return f.apply(text), nil
	}
	return text, nil
}

type fakeOutput struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeOutput) Type(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeOutput) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

type fakeEventSink struct {
	mu       sync.Mutex
	states   []domain.SessionState
	reasonsL []domain.SessionStateReason
	partials []string
	codes    []domain.ErrorCode
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	f.reasonsL = append(f.reasonsL, reason)
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) FinalTranscript(domain.SessionResult) {}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
}

func (f *fakeEventSink) reasons() []domain.SessionStateReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SessionStateReason, len(f.reasonsL))
	copy(out, f.reasonsL)
	return out
}

func (f *fakeEventSink) lastReason() domain.SessionStateReason {
	reasons := f.reasons()
	if len(reasons) == 0 {
		return ""
	}
	return reasons[len(reasons)-1]
}

func (f *fakeEventSink) sawReason(want domain.SessionStateReason) bool {
	for _, reason := range f.reasons() {
		if reason == want {
			return true
		}
	}
	return false
}

func (f *fakeEventSink) countReason(want domain.SessionStateReason) int {
	count := 0
	for _, reason := range f.reasons() {
		if reason == want {
			count++
		}
	}
	return count
}

func (f *fakeEventSink) errorCodes() []domain.ErrorCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ErrorCode, len(f.codes))
	copy(out, f.codes)
	return out
}

func (f *fakeEventSink) sawErrorCode(want domain.ErrorCode) bool {
	for _, code := range f.errorCodes() {
		if code == want {
			return true
		}
	}
	return false
}
