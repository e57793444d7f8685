package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sup1p/saubol/internal/errorsx"
	"github.com/sup1p/saubol/internal/logging"
)

// forward reads frames until the source ends and pushes each one to VAD, then STT.
// Push failures are logged and counted; forwarding continues. Streams are released
// on return so the consumer sees the end of the event stream.
func (p *Pipeline) forward(ctx context.Context) error {
	defer p.release()

	var frames uint64
	for {
		frame, err := p.source.ReadFrame(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logging.Info(logging.CategoryPipeline, "frame source ended room=%s trackID=%s frames=%d", p.cfg.Room, p.cfg.TrackID, frames)
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return errorsx.Wrap(fmt.Errorf("read frame trackID=%s: %w", p.cfg.TrackID, err), errorsx.ReasonPipeline)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frames++
		p.usage.AddFrame(frame.Duration())

		if p.vad != nil {
			if err := p.vad.PushFrame(frame); err != nil {
				p.usage.AddPushError("vad")
				logging.Warning(logging.CategoryPipeline, "failed to push frame to vad room=%s trackID=%s: %v", p.cfg.Room, p.cfg.TrackID, errorsx.Wrap(err, errorsx.ReasonFramePush))
			}
		}
		if err := p.stt.PushFrame(frame); err != nil {
			p.usage.AddPushError("stt")
			logging.Warning(logging.CategoryPipeline, "failed to push frame to stt room=%s trackID=%s: %v", p.cfg.Room, p.cfg.TrackID, errorsx.Wrap(err, errorsx.ReasonFramePush))
		}
	}
}
