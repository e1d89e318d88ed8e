package audio

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrameReaderSplitsFixedFrames(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader([]byte("aaaabbbbcccc"))
	fr := newFrameReader(src, 4)

	for i, want := range []string{"aaaa", "bbbb", "cccc"} {
		frame, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if frame.Seq != uint64(i) {
			t.Fatalf("frame %d: unexpected seq %d", i, frame.Seq)
		}
		if string(frame.PCM) != want {
			t.Fatalf("frame %d: unexpected payload %q", i, frame.PCM)
		}
	}

	if _, err := fr.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after stream end, got %v", err)
	}
}

func TestFrameReaderDeliversShortTail(t *testing.T) {
	t.Parallel()

	fr := newFrameReader(bytes.NewReader([]byte("aaaabb")), 4)

	if _, err := fr.ReadFrame(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tail, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("expected short tail frame, got error: %v", err)
	}
	if string(tail.PCM) != "bb" {
		t.Fatalf("unexpected tail payload %q", tail.PCM)
	}
	if _, err := fr.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after tail, got %v", err)
	}
}

func TestFrameReaderAllocatesFreshBuffers(t *testing.T) {
	t.Parallel()

	fr := newFrameReader(bytes.NewReader([]byte("aaaabbbb")), 4)

	first, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if &first.PCM[0] == &second.PCM[0] {
		t.Fatalf("frames must not share backing buffers")
	}
}
