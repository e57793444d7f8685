package stt

import (
	"context"
	"sync"

	"github.com/sup1p/saubol/internal/media"
)

// ScriptedSettings configure the scripted provider.
type ScriptedSettings struct {
	// Transcripts are emitted as final events, one per EveryFrames pushed frames.
	Transcripts []string `mapstructure:"transcripts"`
	EveryFrames int      `mapstructure:"every_frames"`
}

// Scripted is an offline provider that replays fixed events. Used for local runs
// without vendor credentials and in tests.
type Scripted struct {
	settings ScriptedSettings
	events   []Event
}

// NewScripted builds a scripted provider from a settings map.
func NewScripted(settings map[string]any) (*Scripted, error) {
	s := ScriptedSettings{EveryFrames: 50}
	if err := DecodeSettings(settings, &s); err != nil {
		return nil, err
	}
	if s.EveryFrames <= 0 {
		s.EveryFrames = 1
	}
	events := make([]Event, 0, len(s.Transcripts))
	for _, text := range s.Transcripts {
		events = append(events, Event{Type: EventTypeFinal, Text: text, IsFinal: Bool(true)})
	}
	return &Scripted{settings: s, events: events}, nil
}

// NewScriptedEvents returns a provider replaying events, one per pushed frame.
func NewScriptedEvents(events ...Event) *Scripted {
	return &Scripted{settings: ScriptedSettings{EveryFrames: 1}, events: events}
}

func (p *Scripted) Name() string { return "scripted" }

func (p *Scripted) NewStream(_ context.Context, _ StreamConfig) (Stream, error) {
	pending := make([]Event, len(p.events))
	copy(pending, p.events)
	return &scriptedStream{
		every:   p.settings.EveryFrames,
		pending: pending,
		events:  newEventSink(len(pending) + 1),
	}, nil
}

type scriptedStream struct {
	mu      sync.Mutex
	every   int
	frames  int
	pending []Event
	events  *eventSink
}

func (s *scriptedStream) PushFrame(media.Frame) error {
	if s.events.isClosed() {
		return ErrClosed
	}
	s.mu.Lock()
	s.frames++
	var next *Event
	if s.frames%s.every == 0 && len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		next = &ev
	}
	s.mu.Unlock()
	if next != nil {
		s.events.send(*next)
	}
	return nil
}

func (s *scriptedStream) Events() <-chan Event { return s.events.ch }

func (s *scriptedStream) Close() error {
	s.events.close()
	return nil
}
