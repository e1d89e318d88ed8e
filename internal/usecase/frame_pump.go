package usecase

import (
	"fmt"

	"whisperkey/internal/domain"
	"whisperkey/internal/ports"
)

// framePump forwards capture frames to the recognizer stream. Any failure
// while the session is still recording lands on failed, which the
// controller treats as a stop request; failures after stop was requested
// are the expected teardown of the capture device and stay silent.
type framePump struct {
	done   chan struct{}
	failed chan error
}

func startFramePump(
	audio ports.AudioSession,
	stream ports.StreamSession,
	events ports.EventSink,
	stopping <-chan struct{},
) *framePump {
	p := &framePump{
		done:   make(chan struct{}),
		failed: make(chan error, 1),
	}

	go func() {
		defer close(p.done)

		for {
			frame, err := audio.ReadFrame()
			if err != nil {
				p.fail(stopping, events, domain.ErrorCodeDevice, fmt.Errorf("read audio frame: %w", err))
				return
			}
			if err := stream.Send(frame); err != nil {
				p.fail(stopping, events, domain.ErrorCodeSend, fmt.Errorf("send frame %d: %w", frame.Seq, err))
				return
			}
		}
	}()

	return p
}

func (p *framePump) fail(stopping <-chan struct{}, events ports.EventSink, code domain.ErrorCode, err error) {
	select {
	case <-stopping:
		return
	default:
	}

	events.SessionError(code, err.Error())
	select {
	case p.failed <- err:
	default:
	}
}
