package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sup1p/saubol/internal/control"
)

type memRooms struct {
	mu    sync.Mutex
	rooms []string
}

func (m *memRooms) StartAgentForRoom(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = append(m.rooms, room)
	return true
}

func (m *memRooms) StopAgentForRoom(_ context.Context, room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rooms {
		if r == room {
			m.rooms = append(m.rooms[:i], m.rooms[i+1:]...)
			return true
		}
	}
	return false
}

func (m *memRooms) ActiveRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rooms...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRoomCommands(t *testing.T) {
	srv := httptest.NewServer(control.NewServer(&memRooms{}, control.Options{}).Handler())
	defer srv.Close()

	out, err := execute(t, "rooms", "--server", srv.URL)
	if err != nil || !strings.Contains(out, "No active transcriptions") {
		t.Fatalf("unexpected rooms output %q err=%v", out, err)
	}

	out, err = execute(t, "start", "consult-1", "--server", srv.URL)
	if err != nil || !strings.Contains(out, "consult-1: Transcription agent started successfully") {
		t.Fatalf("unexpected start output %q err=%v", out, err)
	}

	out, err = execute(t, "rooms", "--server", srv.URL)
	if err != nil || strings.TrimSpace(out) != "consult-1" {
		t.Fatalf("unexpected rooms output %q err=%v", out, err)
	}

	if _, err := execute(t, "stop", "other", "--server", srv.URL); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error stopping idle room, got %v", err)
	}

	out, err = execute(t, "stop", "consult-1", "--server", srv.URL)
	if err != nil || !strings.Contains(out, "stopped successfully") {
		t.Fatalf("unexpected stop output %q err=%v", out, err)
	}
}

func TestStartRequiresRoom(t *testing.T) {
	if _, err := execute(t, "start"); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	if err != nil || !strings.Contains(out, "saubol dev") {
		t.Fatalf("unexpected version output %q err=%v", out, err)
	}
}
