package job

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/sup1p/saubol/internal/config"
	"github.com/sup1p/saubol/internal/errorsx"
	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/metrics"
	"github.com/sup1p/saubol/internal/pipeline"
	"github.com/sup1p/saubol/internal/room"
	"github.com/sup1p/saubol/internal/stt"
	"github.com/sup1p/saubol/internal/summary"
	"github.com/sup1p/saubol/internal/transcript"
	"github.com/sup1p/saubol/internal/vad"
)

// Deps are the collaborators shared by every room job.
type Deps struct {
	Config  *config.Config
	STT     stt.Provider
	VAD     vad.Detector
	Summary summary.Generator
	Header  summary.Header
	Buffer  *transcript.SessionBuffer
	Metrics *metrics.Metrics
}

// Runner starts room jobs.
type Runner struct {
	deps Deps
}

// NewRunner creates a runner. A nil Buffer is replaced with a fresh one.
func NewRunner(deps Deps) *Runner {
	if deps.Buffer == nil {
		deps.Buffer = transcript.NewSessionBuffer()
	}
	return &Runner{deps: deps}
}

// Run executes one job for a room until ctx is cancelled or the room closes.
// Token may be empty, in which case the runner mints its own credentials.
func (r *Runner) Run(ctx context.Context, jobID, roomName, token string) error {
	j := &Job{
		JobID:    jobID,
		RoomName: roomName,
		Token:    token,
		deps:     r.deps,
	}
	return j.Run(ctx)
}

// Job represents a single room job execution.
// It connects to a LiveKit room and transcribes every remote audio track.
type Job struct {
	JobID    string
	RoomName string
	Token    string

	deps Deps
}

// Run executes the job - connects to room, routes participant tracks to pipelines,
// and hands the transcript off when the session ends.
func (j *Job) Run(ctx context.Context) error {
	cfg := j.deps.Config
	logging.Info(logging.CategoryJob, "starting job jobID=%s room=%s", j.JobID, j.RoomName)

	usage := metrics.NewUsage(j.RoomName, j.deps.Metrics)
	registry := pipeline.NewRegistry(ctx, pipeline.RegistryOptions{
		Room: j.RoomName,
		OnOutcome: func(_, _ string, outcome errorsx.Outcome, _ error) {
			j.deps.Metrics.PipelineFinished(outcome.String())
		},
	})

	publisher := &room.DataPublisher{}
	hooks := &room.Hooks{}
	hooks.Add("summary", summaryHook(j.RoomName, j.deps.Buffer, j.deps.Summary, j.deps.Header, cfg.Summary.Timeout, j.deps.Metrics))
	hooks.Add("usage", func(context.Context) error {
		usage.Flush()
		return nil
	})

	router := room.NewRouter(registry, j.trackTask(publisher, usage), hooks, room.RouterOptions{
		Room:       j.RoomName,
		SkipPrefix: cfg.Agent.IdentityPrefix,
	})

	lkRoom, err := j.connect(room.Callbacks(router.Dispatch))
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Agent.DrainTimeout)
		defer cancel()
		_ = router.Close(closeCtx)
		return errorsx.Wrap(fmt.Errorf("connect to room %s: %w", j.RoomName, err), errorsx.ReasonRoomConnect)
	}

	publisher.Bind(lkRoom.LocalParticipant)
	logging.Info(logging.CategoryJob, "connected to room room=%s identity=%s", lkRoom.Name(), lkRoom.LocalParticipant.Identity())

	// Tracks that were published before we joined.
	router.Dispatch(room.JoinedEvent(lkRoom))

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info(logging.CategoryJob, "context cancelled, exiting jobID=%s", j.JobID)
		runErr = ctx.Err()
	case <-router.Closed():
		logging.Info(logging.CategoryJob, "room closed, exiting jobID=%s", j.JobID)
	}

	// The parent context may already be cancelled; teardown gets its own deadline.
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Agent.DrainTimeout)
	defer cancel()
	if err := router.Close(closeCtx); err != nil {
		logging.Warning(logging.CategoryJob, "session teardown reported errors jobID=%s: %v", j.JobID, err)
	}
	lkRoom.Disconnect()

	logging.Info(logging.CategoryJob, "job completed jobID=%s", j.JobID)
	return runErr
}

func (j *Job) connect(callbacks *lksdk.RoomCallback) (*lksdk.Room, error) {
	cfg := j.deps.Config
	if j.Token != "" {
		return lksdk.ConnectToRoomWithToken(cfg.LiveKit.URL, j.Token, callbacks)
	}

	identity := cfg.Agent.IdentityPrefix + uuid.NewString()[:8]
	name := cfg.Agent.Name
	if name == "" {
		name = "Transcription Agent"
	}
	return lksdk.ConnectToRoom(cfg.LiveKit.URL, lksdk.ConnectInfo{
		APIKey:              cfg.LiveKit.APIKey,
		APISecret:           cfg.LiveKit.APISecret,
		RoomName:            j.RoomName,
		ParticipantIdentity: identity,
		ParticipantName:     name,
	}, callbacks)
}

// summaryHook drains the room transcript and hands it to the generator. Rooms
// without finalized speech are skipped.
func summaryHook(
	roomName string,
	buffer *transcript.SessionBuffer,
	gen summary.Generator,
	header summary.Header,
	timeout time.Duration,
	m *metrics.Metrics,
) room.HookFunc {
	return func(ctx context.Context) error {
		segments := buffer.DrainAndClear(roomName)
		if len(segments) == 0 {
			logging.Info(logging.CategorySummary, "no transcript for room, skipping summary room=%s", roomName)
			m.SummaryResult("skipped")
			return nil
		}
		if gen == nil {
			logging.Warning(logging.CategorySummary, "no summary generator configured, dropping transcript room=%s segments=%d", roomName, len(segments))
			m.SummaryResult("skipped")
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		logging.Info(logging.CategorySummary, "generating summary room=%s segments=%d", roomName, len(segments))
		if err := gen.GenerateSummary(ctx, segments, header.WithReportDate(time.Now()), roomName); err != nil {
			m.SummaryResult("failed")
			return errorsx.Wrap(fmt.Errorf("generate summary: %w", err), errorsx.ReasonSummary)
		}
		m.SummaryResult("success")
		return nil
	}
}
