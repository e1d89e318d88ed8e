package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"whisperkey/internal/domain"
	"whisperkey/internal/ports"
)

// PortAudioSource captures microphone PCM through the default PortAudio
// input device.
type PortAudioSource struct{}

func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

func (s *PortAudioSource) Open(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = 250
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	framesPerBuffer := cfg.SampleRate * cfg.FrameMs / 1000
	samples := make([]int16, framesPerBuffer*cfg.Channels)

	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), framesPerBuffer, samples)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open default input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &portAudioSession{stream: stream, samples: samples}, nil
}

type portAudioSession struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	samples []int16
	seq     uint64

	closeOnce sync.Once
	closeErr  error
}

func (s *portAudioSession) ReadFrame() (domain.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stream.Read(); err != nil {
		return domain.AudioFrame{}, fmt.Errorf("read input stream: %w", err)
	}

	pcm := make([]byte, len(s.samples)*2)
	for i, sample := range s.samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}

	frame := domain.AudioFrame{Seq: s.seq, PCM: pcm}
	s.seq++
	return frame, nil
}

func (s *portAudioSession) Close() error {
	s.closeOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.closeErr = err
		}
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		if err := portaudio.Terminate(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
