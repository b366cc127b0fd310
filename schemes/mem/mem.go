// Package mem provides an in-process chassis.SchemeHandler backed by a
// plain map of registered descriptor factories, keyed by URN. It is the
// workhorse scheme for tests: components never touch a filesystem or the
// Go plugin loader, they are just registered factory functions.
package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/coriolis-rt/chassis"
)

// Handler is an in-memory scheme handler. The zero value is not usable;
// construct with New.
type Handler struct {
	mu        sync.Mutex
	factories map[string]func() *chassis.Descriptor
	live      map[string]bool // URNs currently loaded (not yet Unload'd)
}

// New constructs an empty in-memory scheme handler.
func New() *Handler {
	return &Handler{
		factories: make(map[string]func() *chassis.Descriptor),
		live:      make(map[string]bool),
	}
}

// Register associates urn with a descriptor factory. The factory is called
// fresh on every Load so that provided-service interfaces (and required-slot
// cells) are never shared across a load/unload/reload cycle.
func (h *Handler) Register(urn string, factory func() *chassis.Descriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[urn] = factory
}

// Load implements chassis.SchemeHandler.
func (h *Handler) Load(_ context.Context, urn string) (*chassis.Descriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.live[urn] {
		return nil, fmt.Errorf("mem: %q is already loaded", urn)
	}
	factory, ok := h.factories[urn]
	if !ok {
		return nil, fmt.Errorf("mem: no component registered for %q", urn)
	}
	h.live[urn] = true
	return factory(), nil
}

// Unload implements chassis.SchemeHandler.
func (h *Handler) Unload(_ context.Context, urn string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.live[urn] {
		return fmt.Errorf("mem: %q is not loaded", urn)
	}
	delete(h.live, urn)
	return nil
}
