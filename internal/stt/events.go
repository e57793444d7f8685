package stt

import "sync"

// eventSink is an events channel that tolerates sends after close.
type eventSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newEventSink(size int) *eventSink {
	return &eventSink{ch: make(chan Event, size)}
}

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)

// send delivers ev without blocking.
func (s *eventSink) send(ev Event) sendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sendClosed
	}
	select {
	case s.ch <- ev:
		return sendOK
	default:
		return sendFull
	}
}

func (s *eventSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *eventSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
