package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/sup1p/saubol/internal/errorsx"
	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/metrics"
)

// State is the lifecycle state of a room worker.
type State int

const (
	StateAbsent State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Request describes one room worker to start.
type Request struct {
	Room  string
	Token string
	JobID string
}

// RunFunc is the body of a room worker. It must return once ctx is cancelled.
type RunFunc func(ctx context.Context, req Request) error

// ExitFunc observes a finished room worker.
type ExitFunc func(req Request, outcome errorsx.Outcome, err error)

// Options configure a Manager.
type Options struct {
	// MaxRooms bounds concurrently active rooms. Zero means unbounded.
	MaxRooms int
	Metrics  *metrics.Metrics
}

type roomEntry struct {
	id     string
	req    Request
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the set of room workers, at most one per room.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	run    RunFunc
	opts   Options

	mu      sync.RWMutex
	entries map[string]*roomEntry
	exits   []ExitFunc
	closed  bool

	wg sync.WaitGroup
}

// NewManager creates a manager whose workers are children of parent.
func NewManager(parent context.Context, run RunFunc, opts Options) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:     ctx,
		cancel:  cancel,
		run:     run,
		opts:    opts,
		entries: make(map[string]*roomEntry),
	}
}

// OnExit registers a listener called after every worker exits.
func (m *Manager) OnExit(fn ExitFunc) {
	m.mu.Lock()
	m.exits = append(m.exits, fn)
	m.mu.Unlock()
}

// StartAgentForRoom starts a worker for room with self-minted credentials.
// It returns false if the room already has a worker or none can be started.
func (m *Manager) StartAgentForRoom(room string) bool {
	return m.Start(Request{Room: room})
}

// Start starts a worker for req.Room. It returns false if the room is empty,
// already has a worker, the manager is closed, or it is at capacity.
func (m *Manager) Start(req Request) bool {
	req.Room = strings.TrimSpace(req.Room)
	if req.Room == "" {
		return false
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		logging.Warning(logging.CategoryWorker, "manager closed, not starting room=%s", req.Room)
		return false
	}
	if _, ok := m.entries[req.Room]; ok {
		m.mu.Unlock()
		logging.Info(logging.CategoryWorker, "worker already active room=%s", req.Room)
		return false
	}
	if m.opts.MaxRooms > 0 && len(m.entries) >= m.opts.MaxRooms {
		m.mu.Unlock()
		logging.Warning(logging.CategoryWorker, "at capacity, not starting room=%s max=%d", req.Room, m.opts.MaxRooms)
		return false
	}

	ctx, cancel := context.WithCancel(m.ctx)
	e := &roomEntry{
		id:     uuid.NewString(),
		req:    req,
		state:  StateStarting,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.entries[req.Room] = e
	m.wg.Add(1)
	m.mu.Unlock()

	m.opts.Metrics.RoomStarted()
	logging.Info(logging.CategoryWorker, "starting worker room=%s jobID=%s", req.Room, req.JobID)

	go m.runEntry(ctx, e)
	return true
}

func (m *Manager) runEntry(ctx context.Context, e *roomEntry) {
	defer m.wg.Done()
	defer e.cancel()

	m.mu.Lock()
	if e.state == StateStarting {
		e.state = StateRunning
	}
	m.mu.Unlock()

	var err error
	if recovered := panics.Try(func() { err = m.run(ctx, e.req) }); recovered != nil {
		err = errorsx.Wrap(fmt.Errorf("room worker panicked: %w", recovered.AsError()), errorsx.ReasonWorkerStart)
	}

	m.mu.Lock()
	if m.entries[e.req.Room] == e {
		delete(m.entries, e.req.Room)
	}
	exits := make([]ExitFunc, len(m.exits))
	copy(exits, m.exits)
	m.mu.Unlock()
	defer close(e.done)

	outcome := errorsx.Classify(err)
	m.opts.Metrics.RoomFinished(outcome.String())
	switch outcome {
	case errorsx.OutcomeCompleted:
		logging.Success(logging.CategoryWorker, "worker finished room=%s jobID=%s", e.req.Room, e.req.JobID)
	case errorsx.OutcomeCancelled:
		logging.Info(logging.CategoryWorker, "worker stopped room=%s jobID=%s", e.req.Room, e.req.JobID)
	case errorsx.OutcomeSoftFailure:
		logging.Warning(logging.CategoryWorker, "worker ended early room=%s jobID=%s: %v", e.req.Room, e.req.JobID, err)
	default:
		logging.Error(logging.CategoryWorker, "worker failed room=%s jobID=%s reason=%s: %v", e.req.Room, e.req.JobID, errorsx.Reason(err), err)
	}

	for _, fn := range exits {
		fn(e.req, outcome, err)
	}
}

// StopAgentForRoom cancels the room's worker and waits for it to exit or for ctx
// to expire. It returns false if the room has no worker.
func (m *Manager) StopAgentForRoom(ctx context.Context, room string) bool {
	m.mu.Lock()
	e, ok := m.entries[strings.TrimSpace(room)]
	if !ok {
		m.mu.Unlock()
		return false
	}
	e.state = StateStopping
	m.mu.Unlock()

	logging.Info(logging.CategoryWorker, "stopping worker room=%s jobID=%s", e.req.Room, e.req.JobID)
	e.cancel()

	select {
	case <-e.done:
	case <-ctx.Done():
		logging.Warning(logging.CategoryWorker, "worker did not exit in time, forgetting room=%s: %v", e.req.Room, ctx.Err())
		// The cancelled goroutine may still be running; it prunes only its own entry.
		m.mu.Lock()
		if m.entries[e.req.Room] == e {
			delete(m.entries, e.req.Room)
		}
		m.mu.Unlock()
	}
	return true
}

// StopJob stops the worker running jobID, if any.
func (m *Manager) StopJob(ctx context.Context, jobID string) bool {
	m.mu.RLock()
	room := ""
	for name, e := range m.entries {
		if e.req.JobID == jobID {
			room = name
			break
		}
	}
	m.mu.RUnlock()
	if room == "" {
		return false
	}
	return m.StopAgentForRoom(ctx, room)
}

// ActiveRooms returns the rooms with a starting or running worker, sorted.
func (m *Manager) ActiveRooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make([]string, 0, len(m.entries))
	for name, e := range m.entries {
		if e.state == StateStopping {
			continue
		}
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)
	return rooms
}

// State reports the lifecycle state of room.
func (m *Manager) State(room string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[room]; ok {
		return e.state
	}
	return StateAbsent
}

// Len returns the number of workers, stopping ones included.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Available reports whether a new room could be started.
func (m *Manager) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	return m.opts.MaxRooms <= 0 || len(m.entries) < m.opts.MaxRooms
}

// Load returns the fraction of capacity in use, in [0, 1].
func (m *Manager) Load() float32 {
	if m.opts.MaxRooms <= 0 {
		return 0
	}
	load := float32(m.Len()) / float32(m.opts.MaxRooms)
	if load > 1 {
		load = 1
	}
	return load
}

// Closed reports whether StopAll has been called.
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// StopAll refuses new rooms, stops every worker and waits for them until ctx expires.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	rooms := make([]string, 0, len(m.entries))
	for name := range m.entries {
		rooms = append(rooms, name)
	}
	m.mu.Unlock()

	logging.Info(logging.CategoryWorker, "stopping all workers count=%d", len(rooms))

	var wg conc.WaitGroup
	for _, room := range rooms {
		wg.Go(func() {
			m.StopAgentForRoom(ctx, room)
		})
	}
	wg.Wait()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info(logging.CategoryWorker, "all workers stopped")
		return nil
	case <-ctx.Done():
		return errorsx.Wrap(fmt.Errorf("stop all workers: %w", errors.Join(ctx.Err(), fmt.Errorf("%d still running", m.Len()))), errorsx.ReasonWorkerStop)
	}
}
