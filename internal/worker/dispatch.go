package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/sourcegraph/conc/pool"
	"google.golang.org/protobuf/proto"

	"github.com/sup1p/saubol/internal/errorsx"
	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/version"
)

var errConnClosed = errors.New("websocket connection is closed")

// DispatcherOptions configure the LiveKit agent dispatch connection.
type DispatcherOptions struct {
	URL                string
	APIKey             string
	APISecret          string
	AgentName          string
	Namespace          string
	JobType            livekit.JobType
	LoadUpdateInterval time.Duration
	DialTimeout        time.Duration
	RegisterTimeout    time.Duration
}

// Dispatcher registers as a LiveKit agent worker and turns job assignments into
// room workers on the Manager.
type Dispatcher struct {
	opts    DispatcherOptions
	manager *Manager

	connMu   sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	workerID string

	mu       sync.Mutex
	jobs     map[string]struct{}
	draining bool
}

// NewDispatcher creates a dispatcher feeding manager.
func NewDispatcher(manager *Manager, opts DispatcherOptions) *Dispatcher {
	if opts.LoadUpdateInterval <= 0 {
		opts.LoadUpdateInterval = 5 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.RegisterTimeout <= 0 {
		opts.RegisterTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		opts:    opts,
		manager: manager,
		jobs:    make(map[string]struct{}),
	}
	manager.OnExit(d.onJobExit)
	return d
}

// WorkerID returns the id assigned by the server after registration.
func (d *Dispatcher) WorkerID() string {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	return d.workerID
}

// Run connects, registers and serves dispatch messages until ctx is cancelled
// or the connection drops.
func (d *Dispatcher) Run(ctx context.Context) error {
	token, err := d.buildWorkerToken()
	if err != nil {
		return fmt.Errorf("build worker token: %w", err)
	}
	wsURL, err := buildWSURL(d.opts.URL)
	if err != nil {
		return fmt.Errorf("build websocket URL: %w", err)
	}

	logging.Info(logging.CategoryWorker, "connecting to LiveKit agent endpoint url=%s", wsURL)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = d.opts.DialTimeout

	dialCtx, cancel := context.WithTimeout(ctx, d.opts.DialTimeout)
	defer cancel()
	conn, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("dial websocket: %w", err), errorsx.ReasonWorkerStart)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()
	defer d.closeConn()

	logging.Info(logging.CategoryWorker, "connected to LiveKit agent endpoint")

	if err := d.register(); err != nil {
		return errorsx.Wrap(fmt.Errorf("register worker: %w", err), errorsx.ReasonWorkerStart)
	}

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		// Unblock the read loop when the dispatcher is stopped.
		<-ctx.Done()
		d.drain()
		d.closeConn()
		return nil
	})
	p.Go(d.messageLoop)
	p.Go(d.loadReporter)

	err = p.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Dispatcher) buildWorkerToken() (string, error) {
	at := auth.NewAccessToken(d.opts.APIKey, d.opts.APISecret)
	at.AddGrant(&auth.VideoGrant{Agent: true})
	return at.ToJWT()
}

func buildWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/agent"
	return u.String(), nil
}

func (d *Dispatcher) register() error {
	req := &livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Register{
			Register: &livekit.RegisterWorkerRequest{
				Type:      d.opts.JobType,
				AgentName: d.opts.AgentName,
				Version:   version.Version,
				Namespace: &d.opts.Namespace,
			},
		},
	}
	if err := d.writeMessage(req); err != nil {
		return fmt.Errorf("write register request: %w", err)
	}

	logging.Info(logging.CategoryWorker, "sent worker registration jobType=%v agentName=%s namespace=%s", d.opts.JobType, d.opts.AgentName, d.opts.Namespace)

	deadline := time.Now().Add(d.opts.RegisterTimeout)
	for {
		msg, err := d.readMessage(deadline)
		if err != nil {
			return fmt.Errorf("read registration response: %w", err)
		}
		if reg := msg.GetRegister(); reg != nil {
			d.connMu.Lock()
			d.workerID = reg.WorkerId
			d.connMu.Unlock()
			logging.Info(logging.CategoryWorker, "worker registered workerID=%s", reg.WorkerId)
			return nil
		}
	}
}

func (d *Dispatcher) messageLoop(ctx context.Context) error {
	for {
		msg, err := d.readMessage(time.Time{})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Info(logging.CategoryWorker, "websocket connection closed: %v", err)
			} else {
				logging.Error(logging.CategoryWorker, "websocket read error: %v", err)
			}
			return fmt.Errorf("read dispatch message: %w", err)
		}

		if err := d.handleMessage(ctx, msg); err != nil {
			logging.Error(logging.CategoryWorker, "handle message error: %v", err)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *livekit.ServerMessage) error {
	switch m := msg.Message.(type) {
	case *livekit.ServerMessage_Availability:
		return d.handleAvailability(m.Availability)
	case *livekit.ServerMessage_Assignment:
		return d.handleAssignment(m.Assignment)
	case *livekit.ServerMessage_Termination:
		d.handleTermination(ctx, m.Termination)
		return nil
	case *livekit.ServerMessage_Pong:
		return nil
	default:
		logging.Debug(logging.CategoryWorker, "unhandled message type=%T", m)
		return nil
	}
}

func (d *Dispatcher) handleAvailability(req *livekit.AvailabilityRequest) error {
	jobID := req.GetJob().GetId()
	roomName := req.GetJob().GetRoom().GetName()

	logging.Info(logging.CategoryWorker, "received availability request jobID=%s room=%s", jobID, roomName)

	d.mu.Lock()
	draining := d.draining
	d.mu.Unlock()

	available := !draining && d.manager.Available() && d.manager.State(roomName) == StateAbsent

	identity := "agent-" + jobID
	if len(identity) > 63 {
		identity = identity[:63]
	}
	name := d.opts.AgentName
	if name == "" {
		name = "Transcription Agent"
	}

	resp := &livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Availability{
			Availability: &livekit.AvailabilityResponse{
				JobId:               jobID,
				Available:           available,
				ParticipantIdentity: identity,
				ParticipantName:     name,
			},
		},
	}
	if err := d.writeMessage(resp); err != nil {
		return fmt.Errorf("write availability response: %w", err)
	}

	if available {
		logging.Info(logging.CategoryWorker, "accepted job jobID=%s", jobID)
	} else {
		logging.Info(logging.CategoryWorker, "rejected job jobID=%s reason=draining, at capacity or room active", jobID)
	}
	return nil
}

func (d *Dispatcher) handleAssignment(assign *livekit.JobAssignment) error {
	jobID := assign.GetJob().GetId()
	roomName := assign.GetJob().GetRoom().GetName()

	logging.Info(logging.CategoryWorker, "received job assignment jobID=%s room=%s", jobID, roomName)

	d.mu.Lock()
	d.jobs[jobID] = struct{}{}
	d.mu.Unlock()

	if !d.manager.Start(Request{Room: roomName, Token: assign.GetToken(), JobID: jobID}) {
		d.mu.Lock()
		delete(d.jobs, jobID)
		d.mu.Unlock()
		return d.updateJob(jobID, livekit.JobStatus_JS_FAILED, fmt.Sprintf("room %s not started", roomName))
	}
	return nil
}

func (d *Dispatcher) handleTermination(ctx context.Context, term *livekit.JobTermination) {
	jobID := term.GetJobId()
	logging.Info(logging.CategoryWorker, "received job termination jobID=%s", jobID)

	go func() {
		if !d.manager.StopJob(ctx, jobID) {
			logging.Warning(logging.CategoryWorker, "termination for unknown job jobID=%s", jobID)
		}
	}()
}

// onJobExit reports the final status of dispatched jobs.
func (d *Dispatcher) onJobExit(req Request, outcome errorsx.Outcome, err error) {
	d.mu.Lock()
	_, ours := d.jobs[req.JobID]
	delete(d.jobs, req.JobID)
	d.mu.Unlock()
	if !ours {
		return
	}

	status := livekit.JobStatus_JS_SUCCESS
	msg := ""
	if outcome == errorsx.OutcomeFailed || outcome == errorsx.OutcomeSoftFailure {
		status = livekit.JobStatus_JS_FAILED
		msg = err.Error()
	}
	if werr := d.updateJob(req.JobID, status, msg); werr != nil && !errors.Is(werr, errConnClosed) {
		logging.Error(logging.CategoryWorker, "failed to update job status jobID=%s: %v", req.JobID, werr)
	}
}

func (d *Dispatcher) updateJob(jobID string, status livekit.JobStatus, msg string) error {
	return d.writeMessage(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateJob{
			UpdateJob: &livekit.UpdateJobStatus{
				JobId:  jobID,
				Status: status,
				Error:  msg,
			},
		},
	})
}

func (d *Dispatcher) loadReporter(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.LoadUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.updateLoad()
		}
	}
}

func (d *Dispatcher) updateLoad() {
	d.mu.Lock()
	draining := d.draining
	d.mu.Unlock()

	var status *livekit.WorkerStatus
	if !draining {
		available := livekit.WorkerStatus_WS_AVAILABLE
		if !d.manager.Available() {
			available = livekit.WorkerStatus_WS_FULL
		}
		status = &available
	}

	update := &livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateWorker{
			UpdateWorker: &livekit.UpdateWorkerStatus{
				Status: status,
				Load:   d.manager.Load(),
			},
		},
	}
	if err := d.writeMessage(update); err != nil {
		if errors.Is(err, errConnClosed) {
			logging.Debug(logging.CategoryWorker, "connection closed, skipping load update")
			return
		}
		logging.Error(logging.CategoryWorker, "failed to update worker status: %v", err)
	}
}

// drain marks the worker full so the server stops assigning jobs.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()

	full := livekit.WorkerStatus_WS_FULL
	err := d.writeMessage(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateWorker{
			UpdateWorker: &livekit.UpdateWorkerStatus{Status: &full, Load: 1},
		},
	})
	if err != nil && !errors.Is(err, errConnClosed) {
		logging.Warning(logging.CategoryWorker, "failed to announce drain: %v", err)
	}
}

func (d *Dispatcher) readMessage(deadline time.Time) (*livekit.ServerMessage, error) {
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()
	if conn == nil {
		return nil, errConnClosed
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	msg := &livekit.ServerMessage{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg, nil
}

func (d *Dispatcher) writeMessage(msg *livekit.WorkerMessage) error {
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()
	if conn == nil {
		return errConnClosed
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (d *Dispatcher) closeConn() {
	d.connMu.Lock()
	conn := d.conn
	d.conn = nil
	d.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
