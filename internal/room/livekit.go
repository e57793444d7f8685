package room

import (
	"context"
	"fmt"
	"sync/atomic"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/sup1p/saubol/internal/media"
)

type lkParticipant struct {
	rp *lksdk.RemoteParticipant
}

// WrapParticipant adapts a LiveKit remote participant.
func WrapParticipant(rp *lksdk.RemoteParticipant) Participant {
	return lkParticipant{rp: rp}
}

func (p lkParticipant) Identity() string { return p.rp.Identity() }

func (p lkParticipant) Publications() []Publication {
	pubs := p.rp.TrackPublications()
	out := make([]Publication, 0, len(pubs))
	for _, pub := range pubs {
		if remote, ok := pub.(*lksdk.RemoteTrackPublication); ok {
			out = append(out, lkPublication{pub: remote})
		}
	}
	return out
}

type lkPublication struct {
	pub *lksdk.RemoteTrackPublication
}

func (p lkPublication) SID() string { return p.pub.SID() }

func (p lkPublication) IsAudio() bool { return p.pub.Kind() == lksdk.TrackKindAudio }

func (p lkPublication) IsSubscribed() bool { return p.pub.IsSubscribed() }

func (p lkPublication) SetSubscribed(subscribed bool) error {
	return p.pub.SetSubscribed(subscribed)
}

func (p lkPublication) Source(sampleRate int) (media.Source, bool, error) {
	track := p.pub.Track()
	if track == nil {
		return nil, false, nil
	}
	remote, ok := track.(*webrtc.TrackRemote)
	if !ok || remote == nil {
		return nil, false, nil
	}
	src, err := media.NewTrackSource(p.pub.SID(), remote, sampleRate)
	if err != nil {
		return nil, true, err
	}
	return src, true, nil
}

// Callbacks builds the LiveKit room callbacks that feed dispatch.
func Callbacks(dispatch func(Event)) *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnDisconnected: func() {
			dispatch(Event{Kind: EventClosed})
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			dispatch(Event{Kind: EventParticipantConnected, Participant: WrapParticipant(rp)})
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			dispatch(Event{Kind: EventParticipantDisconnected, Participant: WrapParticipant(rp)})
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				dispatch(Event{Kind: EventTrackPublished, Participant: WrapParticipant(rp), Publication: lkPublication{pub: pub}})
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				dispatch(Event{Kind: EventTrackUnpublished, Participant: WrapParticipant(rp), Publication: lkPublication{pub: pub}})
			},
			OnTrackSubscribed: func(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				dispatch(Event{Kind: EventTrackSubscribed, Participant: WrapParticipant(rp), Publication: lkPublication{pub: pub}})
			},
			OnTrackUnsubscribed: func(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				dispatch(Event{Kind: EventTrackUnsubscribed, Participant: WrapParticipant(rp), Publication: lkPublication{pub: pub}})
			},
		},
	}
}

// JoinedEvent snapshots the participants already in a connected room.
func JoinedEvent(room *lksdk.Room) Event {
	remotes := room.GetRemoteParticipants()
	participants := make([]Participant, 0, len(remotes))
	for _, rp := range remotes {
		participants = append(participants, WrapParticipant(rp))
	}
	return Event{Kind: EventJoined, Participants: participants}
}

// DataPublisher publishes text on room data topics through the local participant.
// It may be created before the room connects; publishes fail until Bind is called.
type DataPublisher struct {
	local atomic.Pointer[lksdk.LocalParticipant]
}

// Bind attaches the connected local participant.
func (p *DataPublisher) Bind(local *lksdk.LocalParticipant) {
	p.local.Store(local)
}

// PublishText sends text reliably on topic.
func (p *DataPublisher) PublishText(ctx context.Context, topic, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	local := p.local.Load()
	if local == nil {
		return fmt.Errorf("publish on %s: room not connected", topic)
	}
	return local.PublishDataPacket(
		lksdk.UserData([]byte(text)),
		lksdk.WithDataPublishTopic(topic),
		lksdk.WithDataPublishReliable(true),
	)
}
