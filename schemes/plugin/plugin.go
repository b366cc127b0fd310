// Package plugin provides an OS-level chassis.SchemeHandler: URNs name a
// Go plugin (.so) under a watched directory, and the handler opens it with
// the standard library's plugin.Open, looking up an exported
// "ComponentDescriptor" symbol. Grounded in spirit on
// dynamic_loader_scheme_file.cc (opens a shared library, reads a component
// descriptor), translated to Go's plugin package; afero supplies the
// filesystem so the existence check before plugin.Open is testable
// without touching the real disk, and fsnotify watches the directory for
// files appearing or disappearing out from under a running chassis.
package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/coriolis-rt/chassis"
)

// DescriptorSymbol is the exported symbol name every plugin must provide: a
// func() *chassis.Descriptor.
const DescriptorSymbol = "ComponentDescriptor"

// Handler resolves URNs of the form "plugin://<relative-path-under-dir>".
type Handler struct {
	fs      afero.Fs
	dir     string
	logger  *zap.Logger
	open    func(path string) (*plugin.Plugin, error) // overridable for tests

	mu   sync.Mutex
	live map[string]bool

	watcher *fsnotify.Watcher
	events  chan fsnotify.Event
}

// New constructs a plugin scheme handler rooted at dir, using fs for
// directory checks (afero.NewOsFs() in production, afero.NewMemMapFs() in
// tests). logger may be nil.
func New(fs afero.Fs, dir string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		fs:     fs,
		dir:    dir,
		logger: logger,
		open:   plugin.Open,
		live:   make(map[string]bool),
	}
}

// Watch starts an fsnotify watch on dir, logging create/remove events. It
// is advisory only: the chassis does not react to it automatically
// (no background worker — callers observe h.Events()
// themselves and decide whether to Load/Unload in response).
func (h *Handler) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("plugin: starting watcher: %w", err)
	}
	if err := w.Add(h.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("plugin: watching %q: %w", h.dir, err)
	}
	h.watcher = w
	h.events = make(chan fsnotify.Event, 16)

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				h.logger.Debug("plugin directory event",
					zap.String("name", ev.Name), zap.String("op", ev.Op.String()))
				h.events <- ev
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				h.logger.Warn("plugin directory watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Events returns the channel of raw filesystem events from Watch. Callers
// decide whether an event warrants a Load/Unload call.
func (h *Handler) Events() <-chan fsnotify.Event { return h.events }

// Close stops the watcher, if one was started.
func (h *Handler) Close() error {
	if h.watcher == nil {
		return nil
	}
	return h.watcher.Close()
}

func (h *Handler) resolvePath(urn string) (string, error) {
	scheme, tail, err := chassis.SplitURN(urn)
	if err != nil {
		return "", err
	}
	if scheme != "plugin" {
		return "", fmt.Errorf("plugin: unexpected scheme %q", scheme)
	}
	rel := strings.TrimPrefix(tail, "/")
	return filepath.Join(h.dir, rel), nil
}

// Load implements chassis.SchemeHandler.
func (h *Handler) Load(_ context.Context, urn string) (*chassis.Descriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.live[urn] {
		return nil, fmt.Errorf("plugin: %q is already loaded", urn)
	}

	path, err := h.resolvePath(urn)
	if err != nil {
		return nil, err
	}
	if exists, err := afero.Exists(h.fs, path); err != nil || !exists {
		return nil, fmt.Errorf("plugin: %q does not exist under %q", path, h.dir)
	}

	p, err := h.open(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: opening %q: %w", path, err)
	}

	sym, err := p.Lookup(DescriptorSymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin: %q missing symbol %q: %w", path, DescriptorSymbol, err)
	}
	factory, ok := sym.(func() *chassis.Descriptor)
	if !ok {
		return nil, fmt.Errorf("plugin: %q's %s has the wrong signature", path, DescriptorSymbol)
	}

	h.live[urn] = true
	return factory(), nil
}

// Unload implements chassis.SchemeHandler. Go's plugin package has no
// dlclose equivalent, so unloading is bookkeeping only: the URN is freed to
// be loaded again, but the underlying .so stays mapped for the process
// lifetime (a stdlib limitation, not a chassis one).
func (h *Handler) Unload(_ context.Context, urn string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.live[urn] {
		return fmt.Errorf("plugin: %q is not loaded", urn)
	}
	delete(h.live, urn)
	return nil
}
