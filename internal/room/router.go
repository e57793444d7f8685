package room

import (
	"context"
	"strings"
	"sync"

	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/pipeline"
)

// TaskFactory builds the pipeline task for one audio publication.
type TaskFactory func(p Participant, pub Publication) pipeline.Task

// RouterOptions configure a Router.
type RouterOptions struct {
	Room string
	// SkipPrefix excludes participants whose identity starts with it (agents).
	SkipPrefix string
}

// Router turns room events into registry operations.
type Router struct {
	opts     RouterOptions
	registry *pipeline.Registry
	factory  TaskFactory
	hooks    *Hooks

	closed     chan struct{}
	closedOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

// NewRouter creates a router. hooks may be nil.
func NewRouter(registry *pipeline.Registry, factory TaskFactory, hooks *Hooks, opts RouterOptions) *Router {
	if hooks == nil {
		hooks = &Hooks{}
	}
	return &Router{
		opts:     opts,
		registry: registry,
		factory:  factory,
		hooks:    hooks,
		closed:   make(chan struct{}),
	}
}

// Dispatch handles one event.
func (r *Router) Dispatch(ev Event) {
	switch ev.Kind {
	case EventJoined:
		r.onJoined(ev.Participants)
	case EventParticipantConnected:
		r.onParticipantConnected(ev.Participant)
	case EventParticipantDisconnected:
		r.onParticipantDisconnected(ev.Participant)
	case EventTrackPublished, EventTrackSubscribed:
		r.onTrackAvailable(ev.Kind, ev.Participant, ev.Publication)
	case EventTrackUnsubscribed, EventTrackUnpublished:
		r.onTrackGone(ev.Kind, ev.Participant, ev.Publication)
	case EventClosed:
		r.onClosed()
	default:
		logging.Debug(logging.CategoryRoom, "ignoring room event kind=%s room=%s", ev.Kind, r.opts.Room)
	}
}

// Closed is closed once the room reports it is gone.
func (r *Router) Closed() <-chan struct{} {
	return r.closed
}

// Close drains the registry and then runs the shutdown hooks. Only the first call
// does any work.
func (r *Router) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		if err := r.registry.Close(ctx); err != nil {
			logging.Warning(logging.CategoryRoom, "registry did not drain cleanly room=%s: %v", r.opts.Room, err)
		}
		r.closeErr = r.hooks.Run(ctx)
		logging.Info(logging.CategoryRoom, "room session closed room=%s", r.opts.Room)
	})
	return r.closeErr
}

func (r *Router) onJoined(participants []Participant) {
	logging.Info(logging.CategoryRoom, "joined room room=%s participants=%d", r.opts.Room, len(participants))
	for _, p := range participants {
		r.registerParticipant(p)
	}
}

func (r *Router) onParticipantConnected(p Participant) {
	if p == nil || r.skip(p) {
		return
	}
	logging.Info(logging.CategoryRoom, "participant connected room=%s identity=%s", r.opts.Room, p.Identity())
	for _, pub := range p.Publications() {
		r.registerTrack(p, pub)
	}
}

func (r *Router) onParticipantDisconnected(p Participant) {
	if p == nil {
		return
	}
	n := r.registry.UnregisterAllForParticipant(p.Identity())
	logging.Info(logging.CategoryRoom, "participant disconnected room=%s identity=%s tracks=%d", r.opts.Room, p.Identity(), n)
}

func (r *Router) onTrackAvailable(kind EventKind, p Participant, pub Publication) {
	if p == nil || pub == nil || r.skip(p) {
		return
	}
	logging.Debug(logging.CategoryRoom, "track event kind=%s room=%s identity=%s trackID=%s", kind, r.opts.Room, p.Identity(), pub.SID())
	r.registerTrack(p, pub)
}

func (r *Router) onTrackGone(kind EventKind, p Participant, pub Publication) {
	if pub == nil {
		return
	}
	identity := ""
	if p != nil {
		identity = p.Identity()
	}
	logging.Info(logging.CategoryRoom, "track gone kind=%s room=%s identity=%s trackID=%s", kind, r.opts.Room, identity, pub.SID())
	r.registry.Unregister(pub.SID())
}

func (r *Router) onClosed() {
	r.closedOnce.Do(func() {
		logging.Info(logging.CategoryRoom, "room closed room=%s", r.opts.Room)
		close(r.closed)
	})
}

func (r *Router) registerParticipant(p Participant) {
	if r.skip(p) {
		return
	}
	for _, pub := range p.Publications() {
		r.registerTrack(p, pub)
	}
}

func (r *Router) registerTrack(p Participant, pub Publication) {
	if !pub.IsAudio() {
		return
	}
	r.registry.Register(pub.SID(), p.Identity(), r.factory(p, pub))
}

func (r *Router) skip(p Participant) bool {
	if r.opts.SkipPrefix != "" && strings.HasPrefix(p.Identity(), r.opts.SkipPrefix) {
		logging.Debug(logging.CategoryRoom, "skipping agent participant room=%s identity=%s", r.opts.Room, p.Identity())
		return true
	}
	return false
}
