package stt

import (
	"fmt"
	"strings"
)

// New returns the provider registered under name.
func New(name string, settings map[string]any) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "deepgram":
		return NewDeepgram(settings)
	case "scripted", "mock":
		return NewScripted(settings)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", name)
	}
}
