package stt

import (
	"context"
	"fmt"
	"io"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sup1p/saubol/internal/errorsx"
	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/media"
)

const (
	deepgramEventBuffer = 256

	EventTypeFinal   = "final_transcript"
	EventTypeInterim = "interim_transcript"
)

// DeepgramSettings are decoded from the stt.settings config map.
type DeepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	Encoding       string `mapstructure:"encoding"`
	Interim        bool   `mapstructure:"interim"`
	SmartFormat    bool   `mapstructure:"smart_format"`
	Punctuate      bool   `mapstructure:"punctuate"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
	Endpointing    string `mapstructure:"endpointing"`
}

func defaultDeepgramSettings() DeepgramSettings {
	return DeepgramSettings{
		Model:       "nova-2-medical",
		Language:    "en-US",
		Encoding:    "linear16",
		Interim:     true,
		SmartFormat: true,
		Punctuate:   true,
	}
}

// Deepgram streams audio to Deepgram's live transcription API.
type Deepgram struct {
	settings DeepgramSettings
}

// NewDeepgram builds a provider from a settings map.
func NewDeepgram(settings map[string]any) (*Deepgram, error) {
	s := defaultDeepgramSettings()
	if err := DecodeSettings(settings, &s); err != nil {
		return nil, fmt.Errorf("decode deepgram settings: %w", err)
	}
	if s.APIKey == "" {
		return nil, fmt.Errorf("deepgram api_key is required")
	}
	return &Deepgram{settings: s}, nil
}

func (d *Deepgram) Name() string { return "deepgram" }

// NewStream connects a new live session for one track.
func (d *Deepgram) NewStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	language := d.settings.Language
	if cfg.Language != "" {
		language = cfg.Language
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	s := &deepgramStream{
		trackID:    cfg.TrackID,
		events:     newEventSink(deepgramEventBuffer),
		cancel:     cancel,
		pipeReader: pr,
		pipeWriter: pw,
	}

	options := &interfaces.LiveTranscriptionOptions{
		Model:          d.settings.Model,
		Language:       language,
		Encoding:       d.settings.Encoding,
		SampleRate:     cfg.SampleRate,
		Channels:       1,
		InterimResults: d.settings.Interim,
		SmartFormat:    d.settings.SmartFormat,
		Punctuate:      d.settings.Punctuate,
		Endpointing:    d.settings.Endpointing,
	}
	if d.settings.UtteranceEndMS > 0 {
		options.UtteranceEndMs = fmt.Sprintf("%d", d.settings.UtteranceEndMS)
	}

	dg, err := client.NewWSUsingCallback(ctx, d.settings.APIKey, &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}, options, &deepgramCallback{stream: s})
	if err != nil {
		cancel()
		return nil, errorsx.Wrap(fmt.Errorf("create deepgram client: %w", err), errorsx.ReasonSTTConnect)
	}
	if !dg.Connect() {
		cancel()
		return nil, errorsx.Wrap(fmt.Errorf("deepgram connection failed trackID=%s", cfg.TrackID), errorsx.ReasonSTTConnect)
	}
	s.client = dg

	logging.Info(logging.CategorySTT, "deepgram connected trackID=%s model=%s language=%s", cfg.TrackID, d.settings.Model, language)

	go s.pump(ctx, dg.Stream)
	return s, nil
}

// pump feeds the pipe to the vendor stream. When the stream loop exits the read
// side is closed so later writes fail instead of blocking.
func (s *deepgramStream) pump(ctx context.Context, stream func(io.Reader) error) {
	err := stream(s.pipeReader)
	if err != nil && ctx.Err() == nil {
		logging.Error(logging.CategorySTT, "deepgram stream error trackID=%s: %v", s.trackID, err)
	}
	if err == nil {
		err = io.ErrClosedPipe
	}
	_ = s.pipeReader.CloseWithError(err)
}

type deepgramStream struct {
	trackID    string
	client     *client.WSCallback
	events     *eventSink
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	closeOnce  sync.Once
}

func (s *deepgramStream) PushFrame(frame media.Frame) error {
	if s.events.isClosed() {
		return ErrClosed
	}
	if _, err := s.pipeWriter.Write(frame.Bytes()); err != nil {
		return errorsx.Wrap(fmt.Errorf("write audio: %w", err), errorsx.ReasonSTTStream)
	}
	return nil
}

func (s *deepgramStream) Events() <-chan Event { return s.events.ch }

func (s *deepgramStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.pipeWriter.Close()
		if s.client != nil {
			s.client.Stop()
		}
		s.cancel()
		s.events.close()
		logging.Debug(logging.CategorySTT, "deepgram stream closed trackID=%s", s.trackID)
	})
	return nil
}

type deepgramCallback struct {
	stream *deepgramStream
}

func (c *deepgramCallback) Open(*msginterfaces.OpenResponse) error {
	logging.Debug(logging.CategorySTT, "deepgram connection opened trackID=%s", c.stream.trackID)
	return nil
}

func (c *deepgramCallback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal
	eventType := EventTypeInterim
	if isFinal {
		eventType = EventTypeFinal
	}
	ev := Event{
		Type:    eventType,
		Text:    mr.Channel.Alternatives[0].Transcript,
		IsFinal: Bool(isFinal),
	}
	switch c.stream.events.send(ev) {
	case sendFull:
		logging.Warning(logging.CategorySTT, "dropped transcript event, buffer full trackID=%s final=%v", c.stream.trackID, isFinal)
	case sendClosed:
		logging.Debug(logging.CategorySTT, "transcript event after close trackID=%s final=%v", c.stream.trackID, isFinal)
	}
	return nil
}

func (c *deepgramCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	logging.Debug(logging.CategorySTT, "deepgram metadata trackID=%s requestID=%s", c.stream.trackID, md.RequestID)
	return nil
}

func (c *deepgramCallback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *deepgramCallback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *deepgramCallback) Close(*msginterfaces.CloseResponse) error {
	logging.Debug(logging.CategorySTT, "deepgram connection closed trackID=%s", c.stream.trackID)
	return nil
}

func (c *deepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	logging.Error(logging.CategorySTT, "deepgram error trackID=%s code=%s message=%s", c.stream.trackID, er.ErrCode, er.ErrMsg)
	return nil
}

func (c *deepgramCallback) UnhandledEvent(data []byte) error {
	logging.Debug(logging.CategorySTT, "deepgram unhandled event trackID=%s size=%d", c.stream.trackID, len(data))
	return nil
}

var _ msginterfaces.LiveMessageCallback = (*deepgramCallback)(nil)
