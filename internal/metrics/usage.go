package metrics

import (
	"sync/atomic"
	"time"

	"github.com/sup1p/saubol/internal/logging"
)

// Usage accumulates per-room session counters. A nil *Usage is valid.
type Usage struct {
	room    string
	metrics *Metrics
	started time.Time

	frames     atomic.Uint64
	audioNanos atomic.Int64
	partials   atomic.Uint64
	finals     atomic.Uint64
	pushErrors atomic.Uint64
	pipelines  atomic.Uint64
}

// UsageSnapshot is an immutable view of a room's counters.
type UsageSnapshot struct {
	Room          string
	Frames        uint64
	AudioDuration time.Duration
	Partials      uint64
	Finals        uint64
	PushErrors    uint64
	Pipelines     uint64
	Elapsed       time.Duration
}

// NewUsage creates counters for a room. m may be nil.
func NewUsage(room string, m *Metrics) *Usage {
	return &Usage{room: room, metrics: m, started: time.Now()}
}

// AddFrame records one forwarded frame.
func (u *Usage) AddFrame(d time.Duration) {
	if u == nil {
		return
	}
	u.frames.Add(1)
	u.audioNanos.Add(int64(d))
	if u.metrics != nil {
		u.metrics.FramesForwarded.Inc()
	}
}

// AddPushError records a failed frame push at the given stage.
func (u *Usage) AddPushError(stage string) {
	if u == nil {
		return
	}
	u.pushErrors.Add(1)
	if u.metrics != nil {
		u.metrics.FramePushErrors.WithLabelValues(stage).Inc()
	}
}

// AddPartial records a partial transcript.
func (u *Usage) AddPartial() {
	if u == nil {
		return
	}
	u.partials.Add(1)
	if u.metrics != nil {
		u.metrics.PartialTranscripts.Inc()
	}
}

// AddFinal records a finalized segment.
func (u *Usage) AddFinal() {
	if u == nil {
		return
	}
	u.finals.Add(1)
	if u.metrics != nil {
		u.metrics.FinalSegments.Inc()
	}
}

// AddPipeline records a started track pipeline.
func (u *Usage) AddPipeline() {
	if u == nil {
		return
	}
	u.pipelines.Add(1)
}

// Snapshot returns the current counters.
func (u *Usage) Snapshot() UsageSnapshot {
	if u == nil {
		return UsageSnapshot{}
	}
	return UsageSnapshot{
		Room:          u.room,
		Frames:        u.frames.Load(),
		AudioDuration: time.Duration(u.audioNanos.Load()),
		Partials:      u.partials.Load(),
		Finals:        u.finals.Load(),
		PushErrors:    u.pushErrors.Load(),
		Pipelines:     u.pipelines.Load(),
		Elapsed:       time.Since(u.started),
	}
}

// Flush logs the session usage summary and returns it.
func (u *Usage) Flush() UsageSnapshot {
	s := u.Snapshot()
	if u == nil {
		return s
	}
	logging.Info(logging.CategoryApp, "usage summary room=%s pipelines=%d frames=%d audio=%s partials=%d finals=%d pushErrors=%d elapsed=%s",
		s.Room, s.Pipelines, s.Frames, s.AudioDuration, s.Partials, s.Finals, s.PushErrors, s.Elapsed.Round(time.Millisecond))
	return s
}
