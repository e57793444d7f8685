package vad

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sup1p/saubol/internal/media"
)

// EnergyConfig tunes the energy detector.
type EnergyConfig struct {
	// Threshold is the normalized RMS energy (0..1) above which a frame counts as voiced.
	Threshold float64 `mapstructure:"threshold"`
	// MinSilence is how long energy must stay below threshold to end a segment.
	MinSilence time.Duration `mapstructure:"min_silence"`
	// Smoothing weights the current frame against the running value (0..1].
	Smoothing float64 `mapstructure:"smoothing"`
}

// DefaultEnergyConfig returns defaults tuned for 16kHz speech.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		Threshold:  0.02,
		MinSilence: 500 * time.Millisecond,
		Smoothing:  0.5,
	}
}

// EnergyDetector is an RMS energy voice activity detector.
type EnergyDetector struct {
	cfg     EnergyConfig
	onEvent func(Event)
}

// NewEnergyDetector validates cfg and returns a detector. onEvent may be nil.
func NewEnergyDetector(cfg EnergyConfig, onEvent func(Event)) (*EnergyDetector, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", cfg.Threshold)
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", cfg.Smoothing)
	}
	if cfg.MinSilence < 0 {
		return nil, fmt.Errorf("min silence must not be negative, got %s", cfg.MinSilence)
	}
	return &EnergyDetector{cfg: cfg, onEvent: onEvent}, nil
}

// NewStream creates a stream for one track.
func (d *EnergyDetector) NewStream(_ context.Context, trackID string) (Stream, error) {
	return &EnergyStream{trackID: trackID, cfg: d.cfg, onEvent: d.onEvent}, nil
}

// EnergyStream tracks speech state for one track.
type EnergyStream struct {
	trackID string
	cfg     EnergyConfig
	onEvent func(Event)

	mu          sync.Mutex
	closed      bool
	level       float64
	frames      uint64
	speaking    bool
	speechStart time.Time
	silence     time.Duration
}

// PushFrame updates the speech state with one frame.
func (s *EnergyStream) PushFrame(frame media.Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	energy := rms(frame.Samples)
	if s.frames == 0 {
		s.level = energy
	} else {
		s.level = s.cfg.Smoothing*energy + (1-s.cfg.Smoothing)*s.level
	}
	s.frames++

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var ev *Event
	voiced := s.level >= s.cfg.Threshold
	switch {
	case voiced && !s.speaking:
		s.speaking = true
		s.speechStart = ts
		s.silence = 0
		ev = &Event{TrackID: s.trackID, Type: EventSpeechStart, Timestamp: ts}
	case voiced:
		s.silence = 0
	case s.speaking:
		s.silence += frame.Duration()
		if s.silence >= s.cfg.MinSilence {
			ev = s.endSegment(ts)
		}
	}
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// Speaking reports whether the stream is inside a speech segment.
func (s *EnergyStream) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Close ends any open segment and rejects further frames.
func (s *EnergyStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var ev *Event
	if s.speaking {
		ev = s.endSegment(time.Now())
	}
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

func (s *EnergyStream) endSegment(ts time.Time) *Event {
	s.speaking = false
	s.silence = 0
	return &Event{
		TrackID:   s.trackID,
		Type:      EventSpeechEnd,
		Timestamp: ts,
		Duration:  ts.Sub(s.speechStart),
	}
}

func (s *EnergyStream) emit(ev *Event) {
	if ev != nil && s.onEvent != nil {
		s.onEvent(*ev)
	}
}

// rms returns the normalized root-mean-square energy of the samples.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(samples))) / math.MaxInt16
}
