package room

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/sup1p/saubol/internal/media"
	"github.com/sup1p/saubol/internal/pipeline"
	"github.com/sup1p/saubol/internal/stt"
	"github.com/sup1p/saubol/internal/transcript"
)

// controlledSTT emits events only when the test says so.
type controlledSTT struct {
	mu     sync.Mutex
	ch     chan stt.Event
	closed bool
}

func newControlledSTT() *controlledSTT {
	return &controlledSTT{ch: make(chan stt.Event, 8)}
}

func (s *controlledSTT) PushFrame(media.Frame) error { return nil }
func (s *controlledSTT) Events() <-chan stt.Event    { return s.ch }

func (s *controlledSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

func (s *controlledSTT) final(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- stt.Event{Text: text, IsFinal: stt.Bool(true)}
}

// idleSource never yields audio and ends when its context does.
type idleSource struct{}

func (idleSource) ReadFrame(ctx context.Context) (media.Frame, error) {
	<-ctx.Done()
	return media.Frame{}, ctx.Err()
}

func (idleSource) Close() error { return nil }

func TestDisconnectedParticipantLeavesNoSegments(t *testing.T) {
	buffer := transcript.NewSessionBuffer()
	streams := map[string]*controlledSTT{
		"TR_A": newControlledSTT(),
		"TR_B": newControlledSTT(),
		"TR_C": newControlledSTT(),
	}
	factory := func(p Participant, pub Publication) pipeline.Task {
		cfg := pipeline.Config{Room: "room-1", TrackID: pub.SID(), Participant: p.Identity()}
		return pipeline.New(cfg, idleSource{}, nil, streams[pub.SID()], buffer, nil, nil).Run
	}
	registry := pipeline.NewRegistry(context.Background(), pipeline.RegistryOptions{Room: "room-1"})
	router := NewRouter(registry, factory, nil, RouterOptions{Room: "room-1", SkipPrefix: "agent-"})
	defer router.Close(context.Background())

	a := participant("alice", &fakePublication{sid: "TR_A", audio: true}, &fakePublication{sid: "TR_B", audio: true})
	c := participant("carol", &fakePublication{sid: "TR_C", audio: true})
	router.Dispatch(Event{Kind: EventJoined, Participants: []Participant{a, c}})

	emit := func(trackID, text string, want int) {
		t.Helper()
		streams[trackID].final(text)
		waitFor(t, func() bool { return buffer.Len("room-1") == want })
	}
	emit("TR_A", "a1", 1)
	emit("TR_B", "b1", 2)

	router.Dispatch(Event{Kind: EventParticipantDisconnected, Participant: c})
	if got := registry.Tracks(); !reflect.DeepEqual(got, []string{"TR_A", "TR_B"}) {
		t.Fatalf("unexpected tracks after disconnect %v", got)
	}
	streams["TR_C"].final("c1")

	emit("TR_B", "b2", 3)
	emit("TR_A", "a2", 4)

	var got []string
	for _, seg := range buffer.DrainAndClear("room-1") {
		got = append(got, seg.TrackID+":"+seg.Text)
	}
	want := []string{"TR_A:a1", "TR_B:b1", "TR_B:b2", "TR_A:a2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
