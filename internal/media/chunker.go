package media

// Chunker splits a stream of samples into fixed-size frames, carrying the remainder
// over to the next call. At most one frame of remainder is kept; older samples are dropped.
type Chunker struct {
	size      int
	remaining []int16
}

// NewChunker creates a chunker producing frames of size samples.
func NewChunker(size int) *Chunker {
	return &Chunker{size: size, remaining: make([]int16, 0, size)}
}

// Push appends samples and returns every complete frame.
func (c *Chunker) Push(samples []int16) [][]int16 {
	combined := append(c.remaining, samples...)
	c.remaining = c.remaining[:0]

	var out [][]int16
	for len(combined) >= c.size {
		chunk := make([]int16, c.size)
		copy(chunk, combined[:c.size])
		out = append(out, chunk)
		combined = combined[c.size:]
	}

	if len(combined) > 0 {
		c.remaining = append(c.remaining[:0], combined...)
		if len(c.remaining) > c.size {
			drop := len(c.remaining) - c.size
			copy(c.remaining, c.remaining[drop:])
			c.remaining = c.remaining[:c.size]
		}
	}
	return out
}

// Pending returns the number of buffered samples.
func (c *Chunker) Pending() int {
	return len(c.remaining)
}
