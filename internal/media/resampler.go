package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	soxr "github.com/zaf/resample"
)

// Resampler converts mono 16-bit PCM between two sample rates.
type Resampler struct {
	mu     sync.Mutex
	from   int
	to     int
	res    *soxr.Resampler
	out    *bytes.Buffer
	inBuf  []byte
	closed bool
}

// NewResampler creates a resampler from one rate to another. When the rates match
// the samples are passed through unchanged.
func NewResampler(from, to int) (*Resampler, error) {
	r := &Resampler{from: from, to: to}
	if from == to {
		return r, nil
	}
	// The resampler writes into the same buffer we read from.
	r.out = &bytes.Buffer{}
	res, err := soxr.New(r.out, float64(from), float64(to), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	r.res = res
	r.inBuf = make([]byte, 0, FrameSamples(from)*2*2)
	return r, nil
}

// Resample converts one block of samples. The resampler may buffer internally,
// so an empty result is normal for the first few calls.
func (r *Resampler) Resample(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	if r.res == nil {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("resampler closed")
	}

	size := len(samples) * 2
	if cap(r.inBuf) < size {
		r.inBuf = make([]byte, size)
	}
	in := r.inBuf[:size]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}

	r.out.Reset()
	if _, err := r.res.Write(in); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	raw := r.out.Bytes()
	result := make([]int16, len(raw)/2)
	for i := range result {
		result[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return result, nil
}

// Close releases the native resampler.
func (r *Resampler) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.res == nil {
		r.closed = true
		return nil
	}
	r.closed = true
	return r.res.Close()
}
