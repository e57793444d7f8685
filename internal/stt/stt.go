// Package stt defines streaming speech-to-text contracts and vendor providers.
package stt

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/mitchellh/mapstructure"

	"github.com/sup1p/saubol/internal/media"
)

// ErrClosed is returned when pushing into a closed stream.
var ErrClosed = errors.New("stt stream closed")

// Event is one recognition result. IsFinal is nil when the vendor does not say.
type Event struct {
	Type    string
	Text    string
	IsFinal *bool
}

// Final reports whether the event is a finalized utterance. The explicit flag wins;
// otherwise the event type is inspected for a standalone "final" token.
func (e Event) Final() bool {
	if e.IsFinal != nil {
		return *e.IsFinal
	}
	return typeLooksFinal(e.Type)
}

func typeLooksFinal(eventType string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(eventType), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for i, tok := range tokens {
		if tok != "final" {
			continue
		}
		if i > 0 && (tokens[i-1] == "non" || tokens[i-1] == "not") {
			continue
		}
		return true
	}
	return false
}

// Bool returns a pointer to b, for building events.
func Bool(b bool) *bool {
	return &b
}

// StreamConfig carries per-track stream parameters.
type StreamConfig struct {
	TrackID    string
	SampleRate int
	Language   string
}

// Stream is one live recognition session. Events is closed once the stream ends.
type Stream interface {
	PushFrame(frame media.Frame) error
	Events() <-chan Event
	Close() error
}

// Provider opens recognition streams.
type Provider interface {
	Name() string
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// DecodeSettings decodes a free-form vendor settings map into a typed struct.
// Keys are matched case-, underscore- and hyphen-insensitively.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
