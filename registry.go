package chassis

// Registry is the service registry: a name-addressed store
// of service implementations, arbitrating concurrent acquire/release/
// register/unregister/set_default under the reference-counting invariant
// of §3. Grounded on vessel's containerImpl (map + sync.RWMutex), with the
// by-name/by-interface dual index generalized from registry_imp.h
// (original_source/components/libminchassis/registry_imp.h).
type Registry struct {
	lock *rwlock

	byName      map[string]*serviceImplementation // both "s.i" and "s" (default) keys
	byInterface map[Interface]*serviceImplementation

	// order tracks, per bare service name, the full names registered for
	// it in registration order. Used to pick a deterministic promotion
	// target when the current default is unregistered (§3: "promotes any
	// remaining implementation of the same service to default").
	order map[string][]string
}

// NewRegistry constructs an empty service registry.
func NewRegistry() *Registry {
	return &Registry{
		lock:        &rwlock{},
		byName:      make(map[string]*serviceImplementation),
		byInterface: make(map[Interface]*serviceImplementation),
		order:       make(map[string][]string),
	}
}

// Acquire finds and acquires a service implementation by name, per §4.4.
// name may be a full "service.impl" name or a bare service prefix (which
// resolves to the current default implementation).
func (r *Registry) Acquire(name string) (*ServiceHandle, error) {
	tok := r.lock.RLock()
	defer tok.Unlock()
	return r.acquireNolock(name)
}

func (r *Registry) acquireNolock(name string) (*ServiceHandle, error) {
	rec, ok := r.byName[name]
	if !ok {
		return nil, errNameNotFound(name)
	}
	rec.addReference()
	return &ServiceHandle{impl: rec}, nil
}

// AcquireRelated resolves `service.impl_of_existing`: an implementation of
// the bare service name drawn from the same component (same impl suffix)
// as an already-acquired handle. Per §4.4 it fails if the short name
// argument is already fully qualified, or if the existing handle is
// unknown, or if no such implementation exists.
func (r *Registry) AcquireRelated(name string, existing *ServiceHandle) (*ServiceHandle, error) {
	if existing == nil || existing.impl == nil {
		return nil, errNameNotFound(name)
	}
	if isFullyQualified(name) {
		return nil, errInvalidArgument("acquire_related requires a short service name, got %q", name)
	}

	tok := r.lock.RLock()
	defer tok.Unlock()

	if _, known := r.byInterface[existing.impl.iface]; !known {
		return nil, errNameNotFound(existing.impl.fullName)
	}

	related := name + "." + existing.impl.impl
	return r.acquireNolock(related)
}

func isFullyQualified(name string) bool {
	return isValidFullName(name)
}

// Release decrements a handle's reference count by exactly one.
func (r *Registry) Release(h *ServiceHandle) error {
	tok := r.lock.RLock()
	defer tok.Unlock()
	return r.releaseNolock(h)
}

func (r *Registry) releaseNolock(h *ServiceHandle) error {
	if h == nil || h.impl == nil {
		return errNameNotFound("")
	}
	if _, ok := r.byInterface[h.impl.iface]; !ok {
		return errNameNotFound(h.impl.fullName)
	}
	if !h.impl.releaseReference() {
		return errRefcountUnderflow(h.impl.fullName)
	}
	return nil
}

// RegisterService registers a new service implementation. If it is the
// first implementation of its service, it becomes the default.
func (r *Registry) RegisterService(fullName string, iface Interface) error {
	tok := r.lock.Lock()
	defer tok.Unlock()
	return r.registerServiceNolock(fullName, iface)
}

func (r *Registry) registerServiceNolock(fullName string, iface Interface) error {
	if !isValidFullName(fullName) {
		return errNameMalformed(fullName)
	}
	if _, exists := r.byName[fullName]; exists {
		return errNameAlreadyRegistered(fullName)
	}

	rec := newServiceImplementation(iface, fullName)
	if rec.iface == nil {
		return errNameMalformed(fullName)
	}

	r.byName[fullName] = rec
	r.byInterface[iface] = rec

	existing := r.order[rec.service]
	if len(existing) == 0 {
		r.byName[rec.service] = rec
	}
	r.order[rec.service] = append(existing, fullName)

	return nil
}

// Unregister removes a previously registered service implementation. If it
// was the default, any remaining implementation of the same service is
// promoted; if none remain, the default entry is removed too.
func (r *Registry) Unregister(fullName string) error {
	tok := r.lock.Lock()
	defer tok.Unlock()
	return r.unregisterNolock(fullName)
}

func (r *Registry) unregisterNolock(fullName string) error {
	rec, ok := r.byName[fullName]
	if !ok || !isValidFullName(fullName) {
		return errNameNotFound(fullName)
	}
	if count := rec.referenceCount(); count > 0 {
		return errStillReferenced(fullName, count)
	}

	wasDefault := r.byName[rec.service] == rec

	delete(r.byName, fullName)
	delete(r.byInterface, rec.iface)

	siblings := r.order[rec.service]
	for i, n := range siblings {
		if n == fullName {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	r.order[rec.service] = siblings

	if wasDefault {
		if len(siblings) > 0 {
			r.byName[rec.service] = r.byName[siblings[0]]
		} else {
			delete(r.byName, rec.service)
			delete(r.order, rec.service)
		}
	}

	return nil
}

// SetDefault rewires the default entry of fullName's service to this
// implementation. Permitted only while the record is registered.
func (r *Registry) SetDefault(fullName string) error {
	tok := r.lock.Lock()
	defer tok.Unlock()
	return r.setDefaultNolock(fullName)
}

func (r *Registry) setDefaultNolock(fullName string) error {
	rec, ok := r.byName[fullName]
	if !ok || !isValidFullName(fullName) {
		return errNameNotFound(fullName)
	}
	r.byName[rec.service] = rec
	return nil
}

// referenceCountOf returns the current reference count for the
// implementation behind interface iface, or 0 if unknown, per the internal
// get_service_implementation_reference_count contract of registry_imp.h.
func (r *Registry) referenceCountOf(iface Interface) uint64 {
	tok := r.lock.RLock()
	defer tok.Unlock()
	rec, ok := r.byInterface[iface]
	if !ok {
		return 0
	}
	return rec.referenceCount()
}

// has reports whether fullName (or a bare service prefix) is registered,
// without acquiring a handle. Used by the loader's L3 dependency check.
func (r *Registry) has(name string) bool {
	tok := r.lock.RLock()
	defer tok.Unlock()
	_, ok := r.byName[name]
	return ok
}

// Has is the exported form of has, published as the registry-query
// self-description service.
func (r *Registry) Has(name string) bool {
	return r.has(name)
}

// ReferenceCount is the exported form of referenceCountOf.
func (r *Registry) ReferenceCount(iface Interface) uint64 {
	return r.referenceCountOf(iface)
}

// Metadata returns the metadata map attached to fullName's implementation
// record, published as the registry-metadata-query self-description
// service.
func (r *Registry) Metadata(fullName string) (*Metadata, bool) {
	tok := r.lock.RLock()
	defer tok.Unlock()
	rec, ok := r.byName[fullName]
	if !ok {
		return nil, false
	}
	return rec.metadata, true
}
