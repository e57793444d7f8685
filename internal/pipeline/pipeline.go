// Package pipeline wires one audio track through voice activity detection and
// speech recognition, and tracks the running per-track tasks of a room.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/sup1p/saubol/internal/errorsx"
	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/media"
	"github.com/sup1p/saubol/internal/metrics"
	"github.com/sup1p/saubol/internal/stt"
	"github.com/sup1p/saubol/internal/transcript"
	"github.com/sup1p/saubol/internal/vad"
)

// Publisher sends text to the room on a data topic.
type Publisher interface {
	PublishText(ctx context.Context, topic, text string) error
}

// Config identifies the track and where its transcripts go.
type Config struct {
	Room        string
	TrackID     string
	Participant string

	ChatTopic       string
	PartialTopic    string
	ForwardPartials bool
}

// Pipeline pumps frames from one track into VAD and STT and consumes the
// resulting transcripts. It owns all three streams and releases them on exit.
type Pipeline struct {
	cfg       Config
	source    media.Source
	vad       vad.Stream
	stt       stt.Stream
	buffer    *transcript.SessionBuffer
	publisher Publisher
	usage     *metrics.Usage

	releaseOnce sync.Once
}

// New assembles a pipeline. publisher and usage may be nil.
func New(
	cfg Config,
	source media.Source,
	vadStream vad.Stream,
	sttStream stt.Stream,
	buffer *transcript.SessionBuffer,
	publisher Publisher,
	usage *metrics.Usage,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		source:    source,
		vad:       vadStream,
		stt:       sttStream,
		buffer:    buffer,
		publisher: publisher,
		usage:     usage,
	}
}

// Run forwards frames and consumes transcripts until the track ends, ctx is
// cancelled, or either half fails. Streams are always released before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.release()

	logging.Info(logging.CategoryPipeline, "pipeline started room=%s trackID=%s participant=%s", p.cfg.Room, p.cfg.TrackID, p.cfg.Participant)

	workers := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	workers.Go(func(ctx context.Context) error {
		return guard("forwarder", func() error { return p.forward(ctx) })
	})
	workers.Go(func(ctx context.Context) error {
		return guard("consumer", func() error { return p.consume(ctx) })
	})
	err := workers.Wait()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

// release shuts the streams down in dependency order. Each failure is logged and
// never prevents the next release.
func (p *Pipeline) release() {
	p.releaseOnce.Do(func() {
		if err := vad.Release(p.vad); err != nil {
			logging.Warning(logging.CategoryPipeline, "failed to release vad stream room=%s trackID=%s: %v", p.cfg.Room, p.cfg.TrackID, errorsx.Wrap(err, errorsx.ReasonStreamRelease))
		}
		if p.stt != nil {
			if err := p.stt.Close(); err != nil {
				logging.Warning(logging.CategoryPipeline, "failed to close stt stream room=%s trackID=%s: %v", p.cfg.Room, p.cfg.TrackID, errorsx.Wrap(err, errorsx.ReasonStreamRelease))
			}
		}
		if p.source != nil {
			if err := p.source.Close(); err != nil {
				logging.Warning(logging.CategoryPipeline, "failed to close frame source room=%s trackID=%s: %v", p.cfg.Room, p.cfg.TrackID, errorsx.Wrap(err, errorsx.ReasonStreamRelease))
			}
		}
	})
}

// guard converts a panic in f into an error.
func guard(name string, f func() error) error {
	var err error
	recovered := panics.Try(func() { err = f() })
	if recovered != nil {
		return errorsx.Wrap(fmt.Errorf("%s panicked: %w", name, recovered.AsError()), errorsx.ReasonPipeline)
	}
	return err
}
