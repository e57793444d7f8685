package worker

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sup1p/saubol/internal/errorsx"
)

// blockingRun runs until its context is cancelled and counts starts per room.
type blockingRun struct {
	mu     sync.Mutex
	starts map[string]int
}

func (b *blockingRun) run(ctx context.Context, req Request) error {
	b.mu.Lock()
	if b.starts == nil {
		b.starts = make(map[string]int)
	}
	b.starts[req.Room]++
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingRun) count(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts[room]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestStartTwiceRunsOneWorker(t *testing.T) {
	b := &blockingRun{}
	m := NewManager(context.Background(), b.run, Options{})
	defer m.StopAll(context.Background())

	if !m.StartAgentForRoom("room-1") {
		t.Fatalf("expected first start to succeed")
	}
	if m.StartAgentForRoom("room-1") {
		t.Fatalf("expected second start to be rejected")
	}
	waitFor(t, func() bool { return b.count("room-1") == 1 })

	if got := m.ActiveRooms(); !reflect.DeepEqual(got, []string{"room-1"}) {
		t.Fatalf("unexpected active rooms %v", got)
	}
	if m.State("room-1") != StateRunning {
		t.Fatalf("expected running, got %s", m.State("room-1"))
	}
}

func TestStartRejectsEmptyRoom(t *testing.T) {
	m := NewManager(context.Background(), (&blockingRun{}).run, Options{})
	if m.StartAgentForRoom("  ") {
		t.Fatalf("expected empty room to be rejected")
	}
	if m.Len() != 0 {
		t.Fatalf("expected no entries")
	}
}

func TestStopUnknownRoom(t *testing.T) {
	b := &blockingRun{}
	m := NewManager(context.Background(), b.run, Options{})
	defer m.StopAll(context.Background())
	m.StartAgentForRoom("room-1")

	if m.StopAgentForRoom(context.Background(), "room-2") {
		t.Fatalf("expected stop of unknown room to return false")
	}
	if got := m.ActiveRooms(); !reflect.DeepEqual(got, []string{"room-1"}) {
		t.Fatalf("unexpected active rooms %v", got)
	}
}

func TestStopWaitsAndRemoves(t *testing.T) {
	b := &blockingRun{}
	m := NewManager(context.Background(), b.run, Options{})

	var outcome atomic.Value
	m.OnExit(func(_ Request, o errorsx.Outcome, _ error) { outcome.Store(o) })

	m.StartAgentForRoom("room-1")
	if !m.StopAgentForRoom(context.Background(), "room-1") {
		t.Fatalf("expected stop to succeed")
	}
	if m.State("room-1") != StateAbsent || m.Len() != 0 {
		t.Fatalf("expected room removed after stop")
	}
	if got := outcome.Load(); got != errorsx.OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %v", got)
	}
	if !m.StartAgentForRoom("room-1") {
		t.Fatalf("expected restart after stop to succeed")
	}
	m.StopAll(context.Background())
}

func TestNaturalCompletionPrunesEntry(t *testing.T) {
	release := make(chan struct{})
	m := NewManager(context.Background(), func(ctx context.Context, _ Request) error {
		<-release
		return nil
	}, Options{})

	m.StartAgentForRoom("room-1")
	close(release)
	waitFor(t, func() bool { return m.State("room-1") == StateAbsent })
	if len(m.ActiveRooms()) != 0 {
		t.Fatalf("expected no active rooms")
	}
}

func TestConcurrentStopsConverge(t *testing.T) {
	b := &blockingRun{}
	m := NewManager(context.Background(), b.run, Options{})
	m.StartAgentForRoom("room-1")
	waitFor(t, func() bool { return b.count("room-1") == 1 })

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.StopAgentForRoom(context.Background(), "room-1")
		}()
	}
	wg.Wait()

	if m.State("room-1") != StateAbsent {
		t.Fatalf("expected absent after concurrent stops")
	}
	stopped := 0
	for _, ok := range results {
		if ok {
			stopped++
		}
	}
	if stopped == 0 {
		t.Fatalf("expected at least one stop to report success")
	}
}

func TestCapacity(t *testing.T) {
	b := &blockingRun{}
	m := NewManager(context.Background(), b.run, Options{MaxRooms: 2})
	defer m.StopAll(context.Background())

	if !m.StartAgentForRoom("a") || !m.StartAgentForRoom("b") {
		t.Fatalf("expected two starts within capacity")
	}
	if m.StartAgentForRoom("c") {
		t.Fatalf("expected start beyond capacity to fail")
	}
	if m.Available() {
		t.Fatalf("expected manager unavailable at capacity")
	}
	if m.Load() != 1 {
		t.Fatalf("expected full load, got %f", m.Load())
	}
}

func TestParentCancelStopsWorkers(t *testing.T) {
	b := &blockingRun{}
	parent, cancel := context.WithCancel(context.Background())
	m := NewManager(parent, b.run, Options{})
	m.StartAgentForRoom("a")
	m.StartAgentForRoom("b")

	cancel()
	waitFor(t, func() bool { return m.Len() == 0 })
}

func TestStopAllRefusesNewRooms(t *testing.T) {
	b := &blockingRun{}
	m := NewManager(context.Background(), b.run, Options{})
	m.StartAgentForRoom("a")
	m.StartAgentForRoom("b")

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected no workers after StopAll")
	}
	if m.StartAgentForRoom("c") {
		t.Fatalf("expected closed manager to refuse rooms")
	}
}

func TestWorkerPanicIsFailure(t *testing.T) {
	m := NewManager(context.Background(), func(context.Context, Request) error {
		panic("boom")
	}, Options{})

	errs := make(chan error, 1)
	m.OnExit(func(_ Request, o errorsx.Outcome, err error) {
		if o != errorsx.OutcomeFailed {
			err = errors.New("expected failed outcome")
		}
		errs <- err
	})
	m.StartAgentForRoom("room-1")

	select {
	case err := <-errs:
		if !errorsx.HasReason(err, errorsx.ReasonWorkerStart) {
			t.Fatalf("expected worker start reason, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker exit not observed")
	}
}

func TestStopJobByID(t *testing.T) {
	b := &blockingRun{}
	m := NewManager(context.Background(), b.run, Options{})
	m.Start(Request{Room: "room-1", JobID: "AJ_1"})

	if m.StopJob(context.Background(), "AJ_2") {
		t.Fatalf("expected unknown job to return false")
	}
	if !m.StopJob(context.Background(), "AJ_1") {
		t.Fatalf("expected known job to stop")
	}
	if m.Len() != 0 {
		t.Fatalf("expected no workers")
	}
}

func TestForcedStopForgetsStuckWorker(t *testing.T) {
	release := make(chan struct{})
	var starts atomic.Int32
	stuck := func(ctx context.Context, req Request) error {
		starts.Add(1)
		<-release
		return ctx.Err()
	}
	m := NewManager(context.Background(), stuck, Options{})
	defer m.StopAll(context.Background())
	defer close(release)

	if !m.StartAgentForRoom("room-1") {
		t.Fatalf("expected start to succeed")
	}
	waitFor(t, func() bool { return starts.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if !m.StopAgentForRoom(ctx, "room-1") {
		t.Fatalf("expected stop to report the room")
	}
	if m.State("room-1") != StateAbsent {
		t.Fatalf("expected absent after forced stop, got %s", m.State("room-1"))
	}
	if m.Len() != 0 {
		t.Fatalf("expected no entries, got %d", m.Len())
	}

	if !m.StartAgentForRoom("room-1") {
		t.Fatalf("expected restart after forced stop")
	}
	waitFor(t, func() bool { return starts.Load() == 2 })
	if m.State("room-1") != StateRunning {
		t.Fatalf("expected new worker running, got %s", m.State("room-1"))
	}
}
