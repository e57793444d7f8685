package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sup1p/saubol/internal/errorsx"
)

type outcomeCapture struct {
	mu       sync.Mutex
	outcomes map[string]errorsx.Outcome
	ch       chan string
}

func newOutcomeCapture() *outcomeCapture {
	return &outcomeCapture{outcomes: make(map[string]errorsx.Outcome), ch: make(chan string, 16)}
}

func (c *outcomeCapture) observe(trackID, _ string, outcome errorsx.Outcome, _ error) {
	c.mu.Lock()
	c.outcomes[trackID] = outcome
	c.mu.Unlock()
	c.ch <- trackID
}

func (c *outcomeCapture) wait(t *testing.T, trackID string) errorsx.Outcome {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		outcome, ok := c.outcomes[trackID]
		c.mu.Unlock()
		if ok {
			return outcome
		}
		select {
		case <-c.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for outcome of %s", trackID)
		}
	}
}

func blockingTask(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(context.Background(), RegistryOptions{Room: "room-1"})
	defer r.Close(context.Background())

	var started sync.WaitGroup
	started.Add(1)
	calls := 0
	task := func(ctx context.Context) error {
		calls++
		started.Done()
		return blockingTask(ctx)
	}

	if !r.Register("TR_A", "alice", task) {
		t.Fatalf("expected first register to succeed")
	}
	if r.Register("TR_A", "alice", task) {
		t.Fatalf("expected duplicate register to be rejected")
	}
	started.Wait()
	if r.Len() != 1 || calls != 1 {
		t.Fatalf("expected one running task, got len=%d calls=%d", r.Len(), calls)
	}
}

func TestRegistryUnregisterCancelsTask(t *testing.T) {
	capture := newOutcomeCapture()
	r := NewRegistry(context.Background(), RegistryOptions{OnOutcome: capture.observe})

	r.Register("TR_A", "alice", blockingTask)
	r.Unregister("TR_A")
	r.Unregister("TR_A")
	r.Unregister("missing")

	if outcome := capture.wait(t, "TR_A"); outcome != errorsx.OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", outcome)
	}
	if r.Has("TR_A") {
		t.Fatalf("expected track to be removed")
	}
}

func TestRegistryUnregisterAllForParticipant(t *testing.T) {
	r := NewRegistry(context.Background(), RegistryOptions{})
	defer r.Close(context.Background())

	r.Register("TR_A1", "alice", blockingTask)
	r.Register("TR_A2", "alice", blockingTask)
	r.Register("TR_B", "bob", blockingTask)

	if n := r.UnregisterAllForParticipant("alice"); n != 2 {
		t.Fatalf("expected 2 tracks removed, got %d", n)
	}
	if tracks := r.Tracks(); len(tracks) != 1 || tracks[0] != "TR_B" {
		t.Fatalf("unexpected remaining tracks %v", tracks)
	}
	if n := r.UnregisterAllForParticipant("nobody"); n != 0 {
		t.Fatalf("expected 0 for unknown participant, got %d", n)
	}
}

func TestRegistryFinishedTaskKeepsNewerEntry(t *testing.T) {
	r := NewRegistry(context.Background(), RegistryOptions{})
	defer r.Close(context.Background())

	release := make(chan struct{})
	finished := make(chan struct{})
	r.Register("TR_A", "alice", func(ctx context.Context) error {
		defer close(finished)
		<-release
		return nil
	})

	r.Unregister("TR_A")
	if !r.Register("TR_A", "alice", blockingTask) {
		t.Fatalf("expected re-register after unregister to succeed")
	}

	close(release)
	<-finished
	time.Sleep(10 * time.Millisecond)

	if !r.Has("TR_A") {
		t.Fatalf("old task removed the newer entry")
	}
}

func TestRegistryClassifiesOutcomes(t *testing.T) {
	capture := newOutcomeCapture()
	r := NewRegistry(context.Background(), RegistryOptions{OnOutcome: capture.observe})

	r.Register("done", "a", func(context.Context) error { return nil })
	r.Register("timeout", "a", func(context.Context) error {
		return errorsx.Wrap(errors.New("no media"), errorsx.ReasonTrackTimeout)
	})
	r.Register("boom", "a", func(context.Context) error { return errors.New("boom") })
	r.Register("panic", "a", func(context.Context) error { panic("bad frame") })

	cases := map[string]errorsx.Outcome{
		"done":    errorsx.OutcomeCompleted,
		"timeout": errorsx.OutcomeSoftFailure,
		"boom":    errorsx.OutcomeFailed,
		"panic":   errorsx.OutcomeFailed,
	}
	for id := range cases {
		capture.wait(t, id)
	}
	capture.mu.Lock()
	defer capture.mu.Unlock()
	for id, want := range cases {
		if got := capture.outcomes[id]; got != want {
			t.Fatalf("%s: expected %s, got %s", id, want, got)
		}
	}
}

func TestRegistryCloseCancelsAndRejects(t *testing.T) {
	r := NewRegistry(context.Background(), RegistryOptions{})
	r.Register("TR_A", "alice", blockingTask)
	r.Register("TR_B", "bob", blockingTask)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry after close, got %d", r.Len())
	}
	if r.Register("TR_C", "carol", blockingTask) {
		t.Fatalf("expected register after close to be rejected")
	}
}

func TestRegistryParentCancelEmptiesRegistry(t *testing.T) {
	capture := newOutcomeCapture()
	parent, cancel := context.WithCancel(context.Background())
	r := NewRegistry(parent, RegistryOptions{OnOutcome: capture.observe})

	r.Register("TR_A", "alice", blockingTask)
	r.Register("TR_B", "bob", blockingTask)
	cancel()

	capture.wait(t, "TR_A")
	capture.wait(t, "TR_B")
	if r.Len() != 0 {
		t.Fatalf("expected empty registry after parent cancel, got %d", r.Len())
	}
}
