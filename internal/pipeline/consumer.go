package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/stt"
	"github.com/sup1p/saubol/internal/transcript"
)

// consume drains STT events until the stream closes or ctx is cancelled.
func (p *Pipeline) consume(ctx context.Context) error {
	events := p.stt.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			// select picks randomly when both are ready; a cancelled track must not
			// append queued finals.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.handleEvent(ctx, ev)
		}
	}
}

func (p *Pipeline) handleEvent(ctx context.Context, ev stt.Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	if !ev.Final() {
		p.usage.AddPartial()
		logging.Debug(logging.CategoryPipeline, "partial transcript room=%s participant=%s text=%q", p.cfg.Room, p.cfg.Participant, text)
		if p.cfg.ForwardPartials && p.cfg.PartialTopic != "" {
			p.publish(ctx, p.cfg.PartialTopic, FormatLine(p.cfg.Participant, text))
		}
		return
	}

	p.buffer.Append(p.cfg.Room, transcript.Segment{
		Participant: p.cfg.Participant,
		TrackID:     p.cfg.TrackID,
		Text:        text,
		Timestamp:   time.Now().UTC(),
	})
	p.usage.AddFinal()
	logging.Info(logging.CategoryPipeline, "final transcript room=%s participant=%s text=%q", p.cfg.Room, p.cfg.Participant, text)

	if p.cfg.ChatTopic != "" {
		p.publish(ctx, p.cfg.ChatTopic, FormatLine(p.cfg.Participant, text))
	}
}

func (p *Pipeline) publish(ctx context.Context, topic, line string) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishText(ctx, topic, line); err != nil {
		logging.Warning(logging.CategoryPipeline, "failed to publish transcript room=%s topic=%s: %v", p.cfg.Room, topic, err)
	}
}

// FormatLine renders a transcript line as "[identity] text".
func FormatLine(participant, text string) string {
	return fmt.Sprintf("[%s] %s", participant, text)
}
