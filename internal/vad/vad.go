// Package vad detects speech activity in PCM frames.
package vad

import (
	"context"
	"errors"
	"time"

	"github.com/sup1p/saubol/internal/media"
)

// ErrClosed is returned when pushing into a released stream.
var ErrClosed = errors.New("vad stream closed")

// Stream accepts audio frames for one track.
type Stream interface {
	PushFrame(frame media.Frame) error
}

// Detector creates one stream per track.
type Detector interface {
	NewStream(ctx context.Context, trackID string) (Stream, error)
}

// EventType is a speech boundary.
type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
)

func (t EventType) String() string {
	if t == EventSpeechStart {
		return "speech_start"
	}
	return "speech_end"
}

// Event reports a speech boundary on a track.
type Event struct {
	TrackID   string
	Type      EventType
	Timestamp time.Time
	// Duration is the length of the finished speech segment (EventSpeechEnd only).
	Duration time.Duration
}

type closer interface {
	Close() error
}

type inputEnder interface {
	EndInput() error
}

// Release shuts a stream down. Streams may expose Close, EndInput, or both;
// Close is preferred. If Close fails, EndInput is still attempted and both
// errors are returned.
func Release(s Stream) error {
	if s == nil {
		return nil
	}
	e, canEnd := s.(inputEnder)
	if c, ok := s.(closer); ok {
		closeErr := c.Close()
		if closeErr == nil || !canEnd {
			return closeErr
		}
		return errors.Join(closeErr, e.EndInput())
	}
	if canEnd {
		return e.EndInput()
	}
	return nil
}
