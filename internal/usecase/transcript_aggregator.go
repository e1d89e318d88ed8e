package usecase

import (
	"strings"
	"sync"

	"whisperkey/internal/domain"
	"whisperkey/internal/ports"
)

// transcriptAggregator reduces the event stream of one session: final
// fragments concatenate in arrival order, each partial overwrites the last.
// It is write-only while the session records and drains, and read exactly
// once when the session finalizes.
type transcriptAggregator struct {
	mu          sync.Mutex
	finals      []string
	lastPartial string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event domain.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch event.Kind {
	case domain.TranscriptKindFinal:
		if strings.TrimSpace(event.Text) != "" {
			a.finals = append(a.finals, event.Text)
		}
	case domain.TranscriptKindPartial:
		a.lastPartial = event.Text
	}
}

// Result snapshots the reduction. With no finals at all, the latest partial
// is the best-effort answer; with neither, the session produced nothing.
func (a *transcriptAggregator) Result() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := normalizeSpace(strings.Join(a.finals, ""))
	if joined != "" {
		return joined
	}
	return normalizeSpace(a.lastPartial)
}

func normalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// eventCollector consumes the stream's transcript events into the
// aggregator until the stream ends. done closes when the stream does.
type eventCollector struct {
	done chan struct{}
}

func startEventCollector(stream ports.StreamSession, agg *transcriptAggregator, events ports.EventSink) *eventCollector {
	c := &eventCollector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for event := range stream.Events() {
			agg.Add(event)
			if event.Kind == domain.TranscriptKindPartial && strings.TrimSpace(event.Text) != "" {
				events.PartialTranscript(event.Text)
			}
		}
	}()
	return c
}
