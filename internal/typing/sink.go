package typing

import (
	"context"
	"fmt"
	"time"

	"whisperkey/internal/domain"
	"whisperkey/internal/ports"
)

// KeyTyper injects one character at the cursor as a key press/release pair.
type KeyTyper interface {
	TypeChar(r rune) error
}

// Sink paces character injection: a fixed delay between characters, and a
// failed injection is reported but does not stop the rest of the text.
// Partial output is more useful to the user than none.
type Sink struct {
	typer  KeyTyper
	delay  time.Duration
	events ports.EventSink
}

func NewSink(typer KeyTyper, delay time.Duration, events ports.EventSink) *Sink {
	return &Sink{typer: typer, delay: delay, events: events}
}

// Type injects text character by character. Typing an empty string is a
// no-op. Cancelation stops between characters.
func (s *Sink) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	chars := []rune(text)
	for i, r := range chars {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.typer.TypeChar(r); err != nil {
			s.events.SessionError(domain.ErrorCodeInjection, fmt.Sprintf("inject character %q: %v", r, err))
		}
		if i == len(chars)-1 || s.delay <= 0 {
			continue
		}
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
