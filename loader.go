package chassis

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// schemeServiceBareName and schemeServiceFullName name the registry slot a
// scheme handler is published under: the loader acquires a scheme handler
// by name through the registry, exactly like any other service. A handler
// registered for scheme "mem" lives at "dynamic_loader_scheme_mem" (bare,
// and default) / "dynamic_loader_scheme_mem.mem" (full).
func schemeServiceBareName(scheme string) string {
	return "dynamic_loader_scheme_" + scheme
}

func schemeServiceFullName(scheme string) string {
	return schemeServiceBareName(scheme) + "." + scheme
}

// Loader is C7: the dynamic loader. It owns L_loader (serializing Load and
// Unload against each other and against themselves) and the component
// registry (C6); it uses a Registry (C4) both for its own bookkeeping (the
// components it loads register and bind services there) and as the
// directory it resolves scheme handlers through.
type Loader struct {
	lock       *rwlock
	registry   *Registry
	components *componentRegistry
	logger     *zap.Logger
}

// NewLoader constructs a loader bound to registry. logger may be nil, in
// which case a no-op logger is used.
func NewLoader(registry *Registry, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		lock:       &rwlock{},
		registry:   registry,
		components: newComponentRegistry(),
		logger:     logger,
	}
}

// RegisterScheme publishes handler as the scheme handler for scheme, through
// the registry like any other service.
func (l *Loader) RegisterScheme(scheme string, handler SchemeHandler) error {
	return l.registry.RegisterService(schemeServiceFullName(scheme), handler)
}

// schemeHandlerCache remembers, for the duration of one Load/Unload call,
// which scheme handlers have already been acquired so each is resolved
// (and its registry reference held) at most once per call.
type schemeHandlerCache struct {
	handles map[string]*ServiceHandle
	impls   map[string]SchemeHandler
}

func newSchemeHandlerCache() *schemeHandlerCache {
	return &schemeHandlerCache{
		handles: make(map[string]*ServiceHandle),
		impls:   make(map[string]SchemeHandler),
	}
}

func (l *Loader) resolveScheme(scheme string, cache *schemeHandlerCache) (SchemeHandler, error) {
	if impl, ok := cache.impls[scheme]; ok {
		return impl, nil
	}
	handle, err := l.registry.Acquire(schemeServiceBareName(scheme))
	if err != nil {
		return nil, errSchemeUnknown(scheme)
	}
	impl, ok := handle.Interface().(SchemeHandler)
	if !ok {
		_ = l.registry.Release(handle)
		return nil, errSchemeUnknown(scheme)
	}
	cache.handles[scheme] = handle
	cache.impls[scheme] = impl
	return impl, nil
}

func (l *Loader) releaseSchemeCache(cache *schemeHandlerCache) {
	for _, h := range cache.handles {
		_ = l.registry.Release(h)
	}
}

// Load runs the L1-L7 pipeline over urns as a single atomic batch: either
// every URN ends up loaded and committed as one generation group, or none
// do. Each stage pushes a rollback closure; any failure unwinds every
// closure pushed so far, in reverse, before returning the error.
func (l *Loader) Load(ctx context.Context, urns []string) ([]*ComponentHandle, error) {
	wtok := l.lock.Lock()
	defer wtok.Unlock()

	if len(urns) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(urns))
	for _, u := range urns {
		if seen[u] {
			return nil, errInvalidArgument("urn %q duplicated in load batch", u)
		}
		seen[u] = true
		if _, exists := l.components.find(u); exists {
			return nil, errInvalidArgument("urn %q is already loaded", u)
		}
	}

	cache := newSchemeHandlerCache()
	defer l.releaseSchemeCache(cache)

	var rollback []func()
	runRollback := func() {
		for i := len(rollback) - 1; i >= 0; i-- {
			rollback[i]()
		}
	}

	// L1: resolve each URN's scheme and fetch its descriptor.
	pending := make([]*componentRecord, 0, len(urns))
	for _, u := range urns {
		scheme, _, err := SplitURN(u)
		if err != nil {
			runRollback()
			return nil, err
		}
		handler, err := l.resolveScheme(scheme, cache)
		if err != nil {
			runRollback()
			return nil, err
		}
		desc, err := handler.Load(ctx, u)
		if err != nil {
			runRollback()
			return nil, errSchemeHandlerFailure(u, err)
		}
		rec := newComponentRecord(u, desc)
		pending = append(pending, rec)
		rollback = append(rollback, func() {
			_ = handler.Unload(ctx, rec.urn)
		})
	}

	// L2: collect every bare service name this batch will provide.
	provided := make(map[string]bool)
	for _, rec := range pending {
		for _, s := range rec.bareProvidedServices() {
			provided[s] = true
		}
	}

	// L3: every required service must be satisfiable either within the
	// batch or by something already registered.
	for _, rec := range pending {
		for _, req := range rec.requires {
			if provided[req.Name] || l.registry.has(req.Name) {
				continue
			}
			runRollback()
			return nil, errDependencyUnsatisfiable(rec.urn, req.Name)
		}
	}

	// L4: register every provided service.
	for _, rec := range pending {
		for pi := range rec.provides {
			p := rec.provides[pi]
			if err := l.registry.RegisterService(p.Name, p.Interface); err != nil {
				runRollback()
				return nil, err
			}
			name := p.Name
			rollback = append(rollback, func() {
				_ = l.registry.Unregister(name)
			})
		}
	}

	// L5: bind every required slot to a live handle.
	for _, rec := range pending {
		for ri := range rec.requires {
			req := &rec.requires[ri]
			handle, err := l.registry.Acquire(req.Name)
			if err != nil {
				runRollback()
				return nil, err
			}
			rec.requiredHandles = append(rec.requiredHandles, handle)
			*req.Cell() = handle.Interface()
			boundReq, boundHandle := req, handle
			rollback = append(rollback, func() {
				*boundReq.Cell() = nil
				_ = l.registry.Release(boundHandle)
			})
		}
	}

	// L6: run Init, in batch order, for every component that declares one.
	for _, rec := range pending {
		if rec.descriptor.Init == nil {
			continue
		}
		if err := rec.descriptor.Init(ctx); err != nil {
			runRollback()
			return nil, errInitFailure(rec.urn, err)
		}
		r := rec
		rollback = append(rollback, func() {
			if r.descriptor.Deinit != nil {
				_ = r.descriptor.Deinit(ctx)
			}
		})
	}

	// L7: commit — publish the whole batch as one generation group.
	l.components.insertGeneration(pending)

	handles := make([]*ComponentHandle, len(pending))
	for i, rec := range pending {
		handles[i] = &ComponentHandle{rec: rec}
	}

	l.logger.Info("components loaded",
		zap.Int("count", len(pending)),
		zap.Strings("urns", urns))

	return handles, nil
}

// Unload runs the U1-U10 pipeline over urns as a single call: components are
// deinitialized and torn down in dependency order (consumers before
// providers), and any live reference held from outside the batch aborts the
// whole call before anything is mutated. Once U6 has begun, Unload is
// best-effort: individual deinit/unbind/unregister failures are
// accumulated and returned together rather than aborting the teardown.
func (l *Loader) Unload(ctx context.Context, urns []string) error {
	wtok := l.lock.Lock()
	defer wtok.Unlock()

	if len(urns) == 0 {
		return nil
	}

	// U1: resolve every URN to its record.
	seen := make(map[string]bool, len(urns))
	recs := make([]*componentRecord, 0, len(urns))
	for _, u := range urns {
		if seen[u] {
			return errInvalidArgument("urn %q duplicated in unload batch", u)
		}
		seen[u] = true
		rec, ok := l.components.find(u)
		if !ok {
			return errNameNotFound(u)
		}
		recs = append(recs, rec)
	}

	// U2: topological order — consumers before the providers they bind.
	order := topoOrderForUnload(recs)

	// U3: prefetch and cache every scheme handler the batch will need.
	cache := newSchemeHandlerCache()
	defer l.releaseSchemeCache(cache)
	handlerOf := make(map[string]SchemeHandler, len(order))
	for _, rec := range order {
		scheme, _, err := SplitURN(rec.urn)
		if err != nil {
			return err
		}
		handler, err := l.resolveScheme(scheme, cache)
		if err != nil {
			return err
		}
		handlerOf[rec.urn] = handler
	}

	// U4: lock the registry for write for the remainder of the call.
	rtok := l.registry.lock.Lock()
	defer rtok.Unlock()

	// U5: reject if any provided service is held from outside this batch.
	for _, rec := range order {
		for _, p := range rec.provides {
			implRec, ok := l.registry.byName[p.Name]
			if !ok {
				continue
			}
			total := implRec.referenceCount()
			inBatch := countInBatchConsumers(p.Interface, order)
			if total > inBatch {
				return errExternalLiveReferences(rec.urn, p.Name, total-inBatch)
			}
		}
	}

	var failures error

	// U6: deinitialize, in topological order. A failure here does not
	// remove rec from the batch — U7-U9 still run for it, same as every
	// other requested component.
	for _, rec := range order {
		if rec.descriptor.Deinit == nil {
			continue
		}
		if err := rec.descriptor.Deinit(ctx); err != nil {
			failures = multierr.Append(failures, errDeinitFailure(rec.urn, err))
			l.logger.Warn("component deinit failed", zap.String("urn", rec.urn), zap.Error(err))
		}
	}

	// U7: unbind every required slot, releasing the handle bound at L5.
	for _, rec := range order {
		for ri := range rec.requires {
			req := &rec.requires[ri]
			if req.cell != nil {
				*req.cell = nil
			}
			if ri < len(rec.requiredHandles) {
				if err := l.registry.releaseNolock(rec.requiredHandles[ri]); err != nil {
					failures = multierr.Append(failures, err)
				}
			}
		}
		rec.requiredHandles = nil
	}

	// U8: unregister every provided service.
	for _, rec := range order {
		for _, p := range rec.provides {
			if err := l.registry.unregisterNolock(p.Name); err != nil {
				failures = multierr.Append(failures, err)
			}
		}
	}

	// U9: erase the URN from C6 and ask the scheme handler to release it.
	// remove prunes the containing generation group exactly when removing
	// this URN empties it — it never touches a sibling outside this batch.
	for _, rec := range order {
		l.components.remove(rec.urn)
		handler := handlerOf[rec.urn]
		if err := handler.Unload(ctx, rec.urn); err != nil {
			failures = multierr.Append(failures, errSchemeHandlerFailure(rec.urn, err))
		}
	}

	// U10: commit — the accumulated failures (if any) are the call's result.
	if failures != nil {
		return fmt.Errorf("unload completed with failures: %w", failures)
	}

	l.logger.Info("components unloaded",
		zap.Int("count", len(order)),
		zap.Strings("urns", urns))

	return nil
}

// LoaderIterator walks the set of currently loaded URNs in lexicographic
// order, holding the loader's read lock for its lifetime — the same
// contract as ServiceIterator, so a Load/Unload cannot mutate the
// component registry out from under an in-progress walk.
type LoaderIterator struct {
	urns  []string
	pos   int
	token *readerToken
}

// IteratorCreate locks the loader for reading, snapshots the currently
// loaded URNs, and returns an iterator positioned at the first one. The
// lock is held until Release is called.
func (l *Loader) IteratorCreate() *LoaderIterator {
	tok := l.lock.RLock()
	return &LoaderIterator{urns: l.components.urns(), token: tok}
}

func (it *LoaderIterator) IsValid() bool { return it.pos < len(it.urns) }

func (it *LoaderIterator) Get() (urn string, ok bool) {
	if !it.IsValid() {
		return "", false
	}
	return it.urns[it.pos], true
}

func (it *LoaderIterator) Next() (end bool) {
	it.pos++
	return !it.IsValid()
}

// Release drops the read lock the iterator has been holding. Safe to call
// multiple times.
func (it *LoaderIterator) Release() {
	if it.token != nil {
		it.token.Unlock()
		it.token = nil
	}
}

// Find looks up a currently loaded component by URN, published as the
// dynamic-loader-query self-description service.
func (l *Loader) Find(urn string) (*ComponentHandle, bool) {
	rtok := l.lock.RLock()
	defer rtok.Unlock()
	rec, ok := l.components.find(urn)
	if !ok {
		return nil, false
	}
	return &ComponentHandle{rec: rec}, true
}

// Metadata returns the metadata map of a currently loaded component,
// published as the dynamic-loader-metadata-query self-description service.
func (l *Loader) Metadata(urn string) (*Metadata, bool) {
	rtok := l.lock.RLock()
	defer rtok.Unlock()
	rec, ok := l.components.find(urn)
	if !ok {
		return nil, false
	}
	return rec.metadata, true
}
