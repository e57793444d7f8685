// Package transcript accumulates finalized utterances per room.
package transcript

import (
	"sort"
	"sync"
	"time"
)

// Segment is one finalized utterance.
type Segment struct {
	Participant string    `json:"participant"`
	TrackID     string    `json:"track_id"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// SessionBuffer holds finalized segments per room in arrival order.
type SessionBuffer struct {
	mu    sync.Mutex
	rooms map[string][]Segment
}

// NewSessionBuffer returns an empty buffer.
func NewSessionBuffer() *SessionBuffer {
	return &SessionBuffer{rooms: make(map[string][]Segment)}
}

// Append adds a segment to the room's transcript.
func (b *SessionBuffer) Append(room string, seg Segment) {
	b.mu.Lock()
	b.rooms[room] = append(b.rooms[room], seg)
	b.mu.Unlock()
}

// DrainAndClear removes and returns the room's segments. Never nil.
func (b *SessionBuffer) DrainAndClear(room string) []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	segs, ok := b.rooms[room]
	delete(b.rooms, room)
	if !ok || segs == nil {
		return []Segment{}
	}
	return segs
}

// Len returns the number of buffered segments for a room.
func (b *SessionBuffer) Len(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[room])
}

// Rooms returns the rooms with buffered segments, sorted.
func (b *SessionBuffer) Rooms() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.rooms))
	for room := range b.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
