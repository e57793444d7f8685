package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/sup1p/saubol/internal/logging"
)

// HookFunc runs once when a room session ends.
type HookFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   HookFunc
}

// Hooks runs shutdown callbacks once, in registration order. A failing hook is
// logged and does not stop the ones after it.
type Hooks struct {
	mu    sync.Mutex
	hooks []hook
	ran   bool
}

// Add registers a hook. Hooks added after Run are ignored.
func (h *Hooks) Add(name string, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ran {
		logging.Warning(logging.CategoryRoom, "ignoring hook registered after shutdown name=%s", name)
		return
	}
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// Run executes every hook once and returns their joined errors.
func (h *Hooks) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return nil
	}
	h.ran = true
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()

	var errs []error
	for _, hk := range hooks {
		var err error
		if recovered := panics.Try(func() { err = hk.fn(ctx) }); recovered != nil {
			err = recovered.AsError()
		}
		if err != nil {
			logging.Error(logging.CategoryRoom, "shutdown hook failed name=%s: %v", hk.name, err)
			errs = append(errs, fmt.Errorf("hook %s: %w", hk.name, err))
			continue
		}
		logging.Debug(logging.CategoryRoom, "shutdown hook finished name=%s", hk.name)
	}
	return errors.Join(errs...)
}
