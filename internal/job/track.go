package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sup1p/saubol/internal/errorsx"
	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/media"
	"github.com/sup1p/saubol/internal/metrics"
	"github.com/sup1p/saubol/internal/pipeline"
	"github.com/sup1p/saubol/internal/room"
	"github.com/sup1p/saubol/internal/stt"
	"github.com/sup1p/saubol/internal/vad"
)

// ErrTrackTimeout is returned when a subscribed track never delivers media.
var ErrTrackTimeout = errors.New("track media not available")

// trackTask builds the pipeline task for one audio publication.
func (j *Job) trackTask(publisher pipeline.Publisher, usage *metrics.Usage) room.TaskFactory {
	cfg := j.deps.Config.Pipeline
	return func(p room.Participant, pub room.Publication) pipeline.Task {
		identity := p.Identity()
		trackID := pub.SID()

		return func(ctx context.Context) error {
			j.deps.Metrics.PipelineStarted()
			usage.AddPipeline()

			if !pub.IsSubscribed() {
				if err := pub.SetSubscribed(true); err != nil {
					return errorsx.Wrap(fmt.Errorf("subscribe trackID=%s: %w", trackID, err), errorsx.ReasonPipeline)
				}
			}

			source, err := waitForTrack(ctx, pub, cfg.SampleRate, cfg.TrackWaitTimeout, cfg.TrackPollInterval)
			if err != nil {
				return err
			}

			vadStream, err := j.deps.VAD.NewStream(ctx, trackID)
			if err != nil {
				_ = source.Close()
				return errorsx.Wrap(fmt.Errorf("open vad stream trackID=%s: %w", trackID, err), errorsx.ReasonPipeline)
			}

			sttStream, err := j.deps.STT.NewStream(ctx, stt.StreamConfig{
				TrackID:    trackID,
				SampleRate: cfg.SampleRate,
				Language:   cfg.Language,
			})
			if err != nil {
				_ = vad.Release(vadStream)
				_ = source.Close()
				return errorsx.Wrap(fmt.Errorf("open stt stream trackID=%s: %w", trackID, err), errorsx.ReasonSTTConnect)
			}

			return pipeline.New(pipeline.Config{
				Room:            j.RoomName,
				TrackID:         trackID,
				Participant:     identity,
				ChatTopic:       cfg.ChatTopic,
				PartialTopic:    cfg.PartialTopic,
				ForwardPartials: cfg.ForwardPartials,
			}, source, vadStream, sttStream, j.deps.Buffer, publisher, usage).Run(ctx)
		}
	}
}

// waitForTrack polls the publication until its media is available, the timeout
// elapses, or ctx is cancelled. A timeout is a soft failure.
func waitForTrack(ctx context.Context, pub room.Publication, sampleRate int, timeout, interval time.Duration) (media.Source, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		src, ready, err := pub.Source(sampleRate)
		if err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("open track source trackID=%s: %w", pub.SID(), err), errorsx.ReasonPipeline)
		}
		if ready {
			return src, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			logging.Warning(logging.CategoryJob, "track media not available trackID=%s timeout=%s", pub.SID(), timeout)
			return nil, errorsx.Wrap(fmt.Errorf("%w: trackID=%s after %s", ErrTrackTimeout, pub.SID(), timeout), errorsx.ReasonTrackTimeout)
		case <-ticker.C:
		}
	}
}
