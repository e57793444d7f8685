// Package room routes LiveKit room events to the per-track pipeline registry.
package room

import (
	"github.com/sup1p/saubol/internal/media"
)

// Participant is a remote participant in the room.
type Participant interface {
	Identity() string
	Publications() []Publication
}

// Publication is a remote track publication.
type Publication interface {
	SID() string
	IsAudio() bool
	IsSubscribed() bool
	SetSubscribed(subscribed bool) error
	// Source opens a frame source on the track's media. ready is false while the
	// media is not yet available.
	Source(sampleRate int) (src media.Source, ready bool, err error)
}

// EventKind enumerates the room events the router handles.
type EventKind int

const (
	EventJoined EventKind = iota
	EventParticipantConnected
	EventParticipantDisconnected
	EventTrackPublished
	EventTrackSubscribed
	EventTrackUnsubscribed
	EventTrackUnpublished
	EventClosed
)

var eventNames = map[EventKind]string{
	EventJoined:                  "joined",
	EventParticipantConnected:    "participant_connected",
	EventParticipantDisconnected: "participant_disconnected",
	EventTrackPublished:          "track_published",
	EventTrackSubscribed:         "track_subscribed",
	EventTrackUnsubscribed:       "track_unsubscribed",
	EventTrackUnpublished:        "track_unpublished",
	EventClosed:                  "closed",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one room event. Which fields are set depends on Kind.
type Event struct {
	Kind         EventKind
	Participant  Participant
	Publication  Publication
	Participants []Participant // EventJoined only
}
