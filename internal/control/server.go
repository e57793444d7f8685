// Package control serves the HTTP API used to start and stop room transcription.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"slices"
	"strconv"
	"time"

	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/metrics"
	"github.com/sup1p/saubol/internal/version"
)

// Rooms is the room worker control surface.
type Rooms interface {
	StartAgentForRoom(room string) bool
	StopAgentForRoom(ctx context.Context, room string) bool
	ActiveRooms() []string
}

// Options configure the control server.
type Options struct {
	Addr        string
	PProfAddr   string
	StopTimeout time.Duration
	Metrics     *metrics.Metrics
}

// Server is the control HTTP API.
type Server struct {
	rooms   Rooms
	opts    Options
	started time.Time

	server *http.Server
	pprof  *http.Server
}

// TranscriptionResponse acknowledges a start or stop request.
type TranscriptionResponse struct {
	Message  string `json:"message"`
	RoomName string `json:"room_name"`
}

// ActiveResponse lists rooms with an active worker.
type ActiveResponse struct {
	Message     string   `json:"message"`
	ActiveRooms []string `json:"active_rooms"`
}

// ErrorResponse carries a request failure.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// NewServer creates the control server.
func NewServer(rooms Rooms, opts Options) *Server {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	s := &Server{rooms: rooms, opts: opts, started: time.Now()}
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: opts.StopTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if opts.PProfAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		s.pprof = &http.Server{Addr: opts.PProfAddr, Handler: mux}
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/start-transcription", s.withMetrics("/api/start-transcription", s.handleStart))
	mux.HandleFunc("POST /api/stop-transcription", s.withMetrics("/api/stop-transcription", s.handleStop))
	mux.HandleFunc("GET /api/active-transcriptions", s.withMetrics("/api/active-transcriptions", s.handleActive))
	mux.HandleFunc("GET /health", s.withMetrics("/health", s.handleHealth))
	mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	return mux
}

// Start serves the API in the background.
func (s *Server) Start() {
	go s.serve("control", s.server)
	if s.pprof != nil {
		go s.serve("pprof", s.pprof)
	}
}

func (s *Server) serve(name string, srv *http.Server) {
	logging.Info(logging.CategoryControl, "starting %s server addr=%s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error(logging.CategoryControl, "%s server error: %v", name, err)
	}
}

// Stop gracefully shuts the servers down.
func (s *Server) Stop(ctx context.Context) error {
	logging.Info(logging.CategoryControl, "stopping control server")
	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown control server: %w", err))
	}
	if s.pprof != nil {
		if err := s.pprof.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown pprof server: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room_name")
	if room == "" {
		writeError(w, http.StatusBadRequest, "room_name is required")
		return
	}
	if slices.Contains(s.rooms.ActiveRooms(), room) {
		writeError(w, http.StatusBadRequest, "Transcription agent already running for room: "+room)
		return
	}
	if !s.rooms.StartAgentForRoom(room) {
		writeError(w, http.StatusInternalServerError, "Failed to start transcription agent for room: "+room)
		return
	}

	logging.Info(logging.CategoryControl, "started transcription agent room=%s", room)
	writeJSON(w, http.StatusOK, TranscriptionResponse{
		Message:  "Transcription agent started successfully",
		RoomName: room,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room_name")
	if room == "" {
		writeError(w, http.StatusBadRequest, "room_name is required")
		return
	}
	if !slices.Contains(s.rooms.ActiveRooms(), room) {
		writeError(w, http.StatusNotFound, "No active transcription agent found for room: "+room)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StopTimeout)
	defer cancel()
	if !s.rooms.StopAgentForRoom(ctx, room) {
		writeError(w, http.StatusInternalServerError, "Failed to stop transcription agent for room: "+room)
		return
	}

	logging.Info(logging.CategoryControl, "stopped transcription agent room=%s", room)
	writeJSON(w, http.StatusOK, TranscriptionResponse{
		Message:  "Transcription agent stopped successfully",
		RoomName: room,
	})
}

func (s *Server) handleActive(w http.ResponseWriter, _ *http.Request) {
	rooms := s.rooms.ActiveRooms()
	writeJSON(w, http.StatusOK, ActiveResponse{
		Message:     fmt.Sprintf("Found %d active transcription agents", len(rooms)),
		ActiveRooms: rooms,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"version":      version.Version,
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"active_rooms": len(s.rooms.ActiveRooms()),
	})
}

// withMetrics records the status code of every request.
func (s *Server) withMetrics(path string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)
		s.opts.Metrics.HTTPRequest(r.Method, path, strconv.Itoa(ww.statusCode))
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warning(logging.CategoryControl, "failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
