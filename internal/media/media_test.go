package media

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestChunkerSplitsAndCarriesRemainder(t *testing.T) {
	c := NewChunker(4)

	frames := c.Push([]int16{1, 2, 3, 4, 5, 6})
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0][3] != 4 {
		t.Fatalf("unexpected frame content %v", frames[0])
	}
	if c.Pending() != 2 {
		t.Fatalf("expected 2 pending samples, got %d", c.Pending())
	}

	frames = c.Push([]int16{7, 8})
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0][0] != 5 || frames[0][3] != 8 {
		t.Fatalf("remainder not carried over: %v", frames[0])
	}
	if c.Pending() != 0 {
		t.Fatalf("expected empty remainder, got %d", c.Pending())
	}
}

func TestChunkerFramesDoNotAlias(t *testing.T) {
	c := NewChunker(2)
	input := []int16{1, 2}
	frames := c.Push(input)
	input[0] = 99
	if frames[0][0] != 1 {
		t.Fatalf("frame aliases caller buffer")
	}
}

func TestFrameBytesAndDuration(t *testing.T) {
	f := Frame{Samples: make([]int16, 320), SampleRate: 16000, Channels: 1}
	f.Samples[0] = -2
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms, got %s", got)
	}
	b := f.Bytes()
	if len(b) != 640 {
		t.Fatalf("expected 640 bytes, got %d", len(b))
	}
	if int16(binary.LittleEndian.Uint16(b)) != -2 {
		t.Fatalf("unexpected first sample encoding")
	}
	if FrameSamples(16000) != 320 {
		t.Fatalf("expected 320 samples per 20ms at 16kHz")
	}
}

func TestResamplerPassThrough(t *testing.T) {
	r, err := NewResampler(16000, 16000)
	if err != nil {
		t.Fatalf("new resampler: %v", err)
	}
	defer r.Close()
	out, err := r.Resample([]int16{1, 2, 3})
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if len(out) != 3 || out[2] != 3 {
		t.Fatalf("unexpected pass-through output %v", out)
	}
}
