// Package media turns remote LiveKit audio tracks into fixed-size PCM frames.
package media

import (
	"context"
	"encoding/binary"
	"time"
)

// Frame is one chunk of mono or interleaved 16-bit PCM audio.
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
	Timestamp  time.Time
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Bytes encodes the samples as little-endian PCM.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Source yields frames until the underlying track ends.
// ReadFrame returns io.EOF once the track is finished and ctx.Err() when cancelled.
type Source interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// FrameSamples returns the number of samples in a 20ms frame at the given rate.
func FrameSamples(sampleRate int) int {
	return sampleRate / 50
}
