package whisperlive

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"whisperkey/internal/domain"
	"whisperkey/internal/ports"
)

// Config controls the WhisperLiveKit websocket connection.
type Config struct {
	ServerURL      string
	ConnectTimeout time.Duration
}

// Provider implements ports.TranscriptionProvider against a WhisperLiveKit
// style server: raw PCM out (preceded by one streaming WAV header), JSON
// transcript updates in, an empty binary message as the end-of-audio signal.
type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Connect(ctx context.Context, cfg ports.StreamConfig) (ports.StreamSession, error) {
	if strings.TrimSpace(p.cfg.ServerURL) == "" {
		return nil, errors.New("server URL is not configured")
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, p.cfg.ServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to recognizer at %s: %w", p.cfg.ServerURL, err)
	}

	session := &streamSession{
		conn:         conn,
		header:       wavHeader(cfg.SampleRate, cfg.Channels, 2),
		events:       make(chan domain.TranscriptEvent, 64),
		audio:        make(chan []byte, 32),
		endRequested: make(chan struct{}),
		done:         make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = session.Close()
	}()

	return session, nil
}

type streamSession struct {
	conn   *websocket.Conn
	header []byte

	// audio is never closed; endRequested tells the write loop to flush
	// what is queued and send the end-of-audio marker, so a Send racing a
	// stop can never hit a closed channel.
	events       chan domain.TranscriptEvent
	audio        chan []byte
	endRequested chan struct{}
	done         chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	committed string

	endOnce   sync.Once
	closeOnce sync.Once
}

func (s *streamSession) Send(frame domain.AudioFrame) error {
	if len(frame.PCM) == 0 {
		return nil
	}

	select {
	case <-s.endRequested:
		return errors.New("audio stream is already closed")
	default:
	}

	select {
	case s.audio <- frame.PCM:
		return nil
	case <-s.endRequested:
		return errors.New("audio stream is already closed")
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

func (s *streamSession) SignalEndOfAudio() error {
	s.endOnce.Do(func() { close(s.endRequested) })
	return nil
}

func (s *streamSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.SignalEndOfAudio()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	// A locally closed socket is deliberate teardown, not a failure.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamSession) writeLoop() {
	defer s.wg.Done()

	headerSent := false
	for {
		select {
		case chunk := <-s.audio:
			if !s.writeChunk(chunk, &headerSent) {
				return
			}
		case <-s.endRequested:
			// Flush frames the pump queued before the stop was requested.
			for {
				select {
				case chunk := <-s.audio:
					if !s.writeChunk(chunk, &headerSent) {
						return
					}
				default:
					// Empty binary payload tells the server no more audio is
					// coming; it keeps emitting trailing results until
					// ready_to_stop.
					if err := s.conn.WriteMessage(websocket.BinaryMessage, []byte{}); err != nil {
						s.setErr(fmt.Errorf("signal end of audio: %w", err))
					}
					return
				}
			}
		}
	}
}

func (s *streamSession) writeChunk(chunk []byte, headerSent *bool) bool {
	if !*headerSent {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, s.header); err != nil {
			s.setErr(fmt.Errorf("send stream header: %w", err))
			return false
		}
		*headerSent = true
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		s.setErr(fmt.Errorf("send audio: %w", err))
		return false
	}
	return true
}

func (s *streamSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("read recognizer message: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		if strings.EqualFold(msg.Type, "ready_to_stop") {
			return
		}

		s.handleUpdate(msg)
	}
}

func (s *streamSession) handleUpdate(msg serverMessage) {
	committed, speaker := joinLines(msg.Lines)
	if delta := commitDelta(s.committed, committed); strings.TrimSpace(delta) != "" {
		s.committed = committed
		s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: delta, Speaker: speaker})
	}

	if buffer := strings.TrimSpace(msg.BufferTranscription); buffer != "" {
		s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: buffer, Speaker: speaker})
	}
}

func (s *streamSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.done:
	}
}

type serverMessage struct {
	Type                string           `json:"type"`
	BufferTranscription string           `json:"buffer_transcription"`
	Lines               []transcriptLine `json:"lines"`
}

type transcriptLine struct {
	Speaker int    `json:"speaker"`
	Text    string `json:"text"`
}

// joinLines flattens the committed transcript lines into one
// whitespace-normalized string and reports the most recent speaker.
func joinLines(lines []transcriptLine) (string, int) {
	parts := make([]string, 0, len(lines))
	speaker := 0
	for _, line := range lines {
		text := strings.Join(strings.Fields(line.Text), " ")
		if text == "" {
			continue
		}
		parts = append(parts, text)
		speaker = line.Speaker
	}
	return strings.Join(parts, " "), speaker
}

// commitDelta returns the newly committed suffix between two cumulative
// transcripts. The server re-sends the whole committed text on every
// update; downstream wants only what is new.
func commitDelta(prev, next string) string {
	if next == "" || next == prev {
		return ""
	}
	base := strings.TrimRight(prev, " ")
	if base != "" && strings.HasPrefix(next, base) {
		return next[len(base):]
	}
	return next
}

// wavHeader builds the one-shot streaming RIFF header the server expects
// before raw PCM: unknown total sizes, 16-bit PCM format chunk.
func wavHeader(sampleRate int, channels int, sampleWidth int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}

	byteRate := sampleRate * channels * sampleWidth
	blockAlign := channels * sampleWidth

	buf := make([]byte, 0, 44)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, 0xFFFFFFFF)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(sampleWidth*8))
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, 0xFFFFFFFF)
	return buf
}
