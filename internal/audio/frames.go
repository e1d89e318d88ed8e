package audio

import (
	"errors"
	"io"
	"sync"

	"whisperkey/internal/domain"
)

// frameReader slices a continuous PCM byte stream into fixed-size frames
// tagged with a monotonically increasing sequence number. Every ReadFrame
// allocates a fresh buffer because frame ownership transfers downstream.
type frameReader struct {
	mu         sync.Mutex
	src        io.Reader
	frameBytes int
	seq        uint64
}

func newFrameReader(src io.Reader, frameBytes int) *frameReader {
	return &frameReader{src: src, frameBytes: frameBytes}
}

func (f *frameReader) ReadFrame() (domain.AudioFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, f.frameBytes)
	n, err := io.ReadFull(f.src, buf)
	if n > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
		// Ragged tail when the device stops mid-frame: deliver it short,
		// the next call reports EOF.
		err = nil
	}
	if err != nil {
		return domain.AudioFrame{}, err
	}

	frame := domain.AudioFrame{Seq: f.seq, PCM: buf[:n]}
	f.seq++
	return frame, nil
}
