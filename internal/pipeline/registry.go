package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/sup1p/saubol/internal/errorsx"
	"github.com/sup1p/saubol/internal/logging"
)

// Task is the body of one per-track pipeline.
type Task func(ctx context.Context) error

// OutcomeFunc observes the classified result of every finished task.
type OutcomeFunc func(trackID, participant string, outcome errorsx.Outcome, err error)

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Room      string
	OnOutcome OutcomeFunc
}

type entry struct {
	trackID     string
	participant string
	cancel      context.CancelFunc
	done        chan struct{}
}

// Registry maps track ids to running pipeline tasks. At most one task runs per
// track id; every task is cancelled when the parent context is.
type Registry struct {
	ctx  context.Context
	opts RegistryOptions

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	wg      sync.WaitGroup
}

// NewRegistry creates a registry whose tasks derive from ctx.
func NewRegistry(ctx context.Context, opts RegistryOptions) *Registry {
	return &Registry{
		ctx:     ctx,
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// Register starts task for trackID unless one is already registered. It returns
// false, without starting anything, when the id is present or the registry is closed.
func (r *Registry) Register(trackID, participant string, task Task) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if _, exists := r.entries[trackID]; exists {
		r.mu.Unlock()
		logging.Debug(logging.CategoryPipeline, "track already registered room=%s trackID=%s", r.opts.Room, trackID)
		return false
	}
	ctx, cancel := context.WithCancel(r.ctx)
	e := &entry{
		trackID:     trackID,
		participant: participant,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	r.entries[trackID] = e
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(ctx, e, task)
	logging.Info(logging.CategoryPipeline, "registered track room=%s trackID=%s participant=%s", r.opts.Room, trackID, participant)
	return true
}

func (r *Registry) run(ctx context.Context, e *entry, task Task) {
	defer r.wg.Done()
	defer close(e.done)
	defer e.cancel()

	var err error
	if recovered := panics.Try(func() { err = task(ctx) }); recovered != nil {
		err = errorsx.Wrap(fmt.Errorf("track task panicked: %w", recovered.AsError()), errorsx.ReasonPipeline)
	}

	r.remove(e)

	outcome := errorsx.Classify(err)
	switch outcome {
	case errorsx.OutcomeCompleted:
		logging.Info(logging.CategoryPipeline, "track pipeline completed room=%s trackID=%s participant=%s", r.opts.Room, e.trackID, e.participant)
	case errorsx.OutcomeCancelled:
		logging.Info(logging.CategoryPipeline, "track pipeline cancelled room=%s trackID=%s participant=%s", r.opts.Room, e.trackID, e.participant)
	case errorsx.OutcomeSoftFailure:
		logging.Warning(logging.CategoryPipeline, "track pipeline gave up room=%s trackID=%s participant=%s: %v", r.opts.Room, e.trackID, e.participant, err)
	default:
		logging.Error(logging.CategoryPipeline, "track pipeline failed room=%s trackID=%s participant=%s reason=%s: %v", r.opts.Room, e.trackID, e.participant, errorsx.Reason(err), err)
	}

	if r.opts.OnOutcome != nil {
		r.opts.OnOutcome(e.trackID, e.participant, outcome, err)
	}
}

// remove deletes e only if it is still the entry registered under its id.
func (r *Registry) remove(e *entry) {
	r.mu.Lock()
	if cur, ok := r.entries[e.trackID]; ok && cur == e {
		delete(r.entries, e.trackID)
	}
	r.mu.Unlock()
}

// Unregister cancels and removes the task for trackID. No-op when absent.
func (r *Registry) Unregister(trackID string) {
	r.mu.Lock()
	e, ok := r.entries[trackID]
	if ok {
		delete(r.entries, trackID)
	}
	r.mu.Unlock()

	if ok {
		e.cancel()
		logging.Info(logging.CategoryPipeline, "unregistered track room=%s trackID=%s participant=%s", r.opts.Room, trackID, e.participant)
	}
}

// UnregisterAllForParticipant cancels every task owned by identity and returns how many.
func (r *Registry) UnregisterAllForParticipant(identity string) int {
	r.mu.Lock()
	var victims []*entry
	for id, e := range r.entries {
		if e.participant == identity {
			victims = append(victims, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, e := range victims {
		e.cancel()
	}
	if len(victims) > 0 {
		logging.Info(logging.CategoryPipeline, "unregistered participant tracks room=%s participant=%s count=%d", r.opts.Room, identity, len(victims))
	}
	return len(victims)
}

// Close cancels every task, rejects new registrations, and waits for all tasks to
// return or ctx to expire.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	victims := make([]*entry, 0, len(r.entries))
	for id, e := range r.entries {
		victims = append(victims, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, e := range victims {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info(logging.CategoryPipeline, "registry closed room=%s cancelled=%d", r.opts.Room, len(victims))
		return nil
	case <-ctx.Done():
		logging.Warning(logging.CategoryPipeline, "timed out waiting for track pipelines room=%s", r.opts.Room)
		return ctx.Err()
	}
}

// Has reports whether trackID is registered.
func (r *Registry) Has(trackID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[trackID]
	return ok
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Tracks returns the registered track ids, sorted.
func (r *Registry) Tracks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
