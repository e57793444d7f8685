package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/sup1p/saubol/internal/media"
	"github.com/sup1p/saubol/internal/stt"
)

// sliceSource yields a fixed set of frames, then io.EOF or blocks until ctx is done.
type sliceSource struct {
	mu     sync.Mutex
	frames []media.Frame
	block  bool
	log    *callLog
	closed bool
}

func (s *sliceSource) ReadFrame(ctx context.Context) (media.Frame, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return media.Frame{}, ctx.Err()
	}
	return media.Frame{}, io.EOF
}

func (s *sliceSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.log.add("source")
	return nil
}

func (s *sliceSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func frames(n int) []media.Frame {
	out := make([]media.Frame, n)
	for i := range out {
		out[i] = media.Frame{Samples: make([]int16, 320), SampleRate: 16000, Channels: 1}
	}
	return out
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

type fakeVAD struct {
	mu      sync.Mutex
	pushed  int
	pushErr error
	log     *callLog
}

func (v *fakeVAD) PushFrame(media.Frame) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pushed++
	return v.pushErr
}

func (v *fakeVAD) Close() error {
	v.log.add("vad")
	return nil
}

// recordingSTT wraps a stream and records Close and pushed frames.
type recordingSTT struct {
	stt.Stream
	mu     sync.Mutex
	pushed int
	log    *callLog
}

func (s *recordingSTT) PushFrame(f media.Frame) error {
	s.mu.Lock()
	s.pushed++
	s.mu.Unlock()
	return s.Stream.PushFrame(f)
}

func (s *recordingSTT) Close() error {
	s.log.add("stt")
	return s.Stream.Close()
}

func (s *recordingSTT) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

type published struct {
	topic string
	text  string
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []published
	panicOn  string
}

func (p *capturePublisher) PublishText(_ context.Context, topic, text string) error {
	if p.panicOn != "" && topic == p.panicOn {
		panic("publisher exploded")
	}
	p.mu.Lock()
	p.messages = append(p.messages, published{topic: topic, text: text})
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.messages))
	copy(out, p.messages)
	return out
}

func newSTTStream(t interface{ Fatalf(string, ...any) }, log *callLog, events ...stt.Event) *recordingSTT {
	s, err := stt.NewScriptedEvents(events...).NewStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("new stt stream: %v", err)
	}
	return &recordingSTT{Stream: s, log: log}
}

// cancelOnReadSource cancels the pipeline context while handing out a frame,
// ignoring ctx the way a slow decoder would.
type cancelOnReadSource struct {
	cancel context.CancelFunc
}

func (s *cancelOnReadSource) ReadFrame(context.Context) (media.Frame, error) {
	s.cancel()
	return frames(1)[0], nil
}

func (s *cancelOnReadSource) Close() error { return nil }
