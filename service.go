package chassis

import "sync/atomic"

// Interface is the opaque vtable pointer a service implementation
// publishes. The core never dereferences it — it is meaningful only to the
// component that provides it and the components that consume it. Modeled
// as `any` because Go has no untyped-pointer-to-function-table primitive;
// concrete components hand the core a pointer to their own vtable struct.
type Interface = any

// ServiceHandle is the handle returned by Acquire: an opaque reference to a
// service implementation record whose reference count has been
// incremented by exactly one. The caller must Release it exactly once.
type ServiceHandle struct {
	impl *serviceImplementation
}

// Name returns the full "service.impl" name of the acquired implementation.
func (h *ServiceHandle) Name() string {
	if h == nil || h.impl == nil {
		return ""
	}
	return h.impl.fullName
}

// Interface returns the opaque vtable pointer. Valid for the lifetime of
// the handle; once Released, using it is undefined.
func (h *ServiceHandle) Interface() Interface {
	if h == nil || h.impl == nil {
		return nil
	}
	return h.impl.iface
}

// serviceImplementation is the service implementation record:
// full name, interface handle, atomic reference count, metadata. It is the
// unit of shared ownership in the registry: the registry
// holds one strong reference (its map entries), and each outstanding
// Acquire holds one logical additional count via refcount.
type serviceImplementation struct {
	fullName string
	service  string // bare service prefix, cached from fullName
	impl     string // implementation suffix, cached from fullName
	iface    Interface
	refcount int64 // atomic; spec requires refcount >= 0 at all times
	metadata *Metadata
}

// newServiceImplementation constructs a record from (iface, fullName) per
// §4.3: construction "succeeds structurally" even on a malformed name, with
// the interface handle nulled so the caller discards it without
// exceptional control flow. Callers (Registry.RegisterService) are
// responsible for rejecting a record whose iface came back nil.
func newServiceImplementation(iface Interface, fullName string) *serviceImplementation {
	parsed := parseServiceName(fullName)
	rec := &serviceImplementation{
		fullName: fullName,
		metadata: NewMetadata(),
	}
	if !isValidFullName(fullName) {
		// Malformed: leave iface nil so the registry's fast path can
		// discard this record without branching on an error return.
		return rec
	}
	rec.iface = iface
	rec.service = parsed.service
	rec.impl = parsed.impl
	return rec
}

// addReference performs an atomic fetch-add and returns the prior count.
func (r *serviceImplementation) addReference() int64 {
	return atomic.AddInt64(&r.refcount, 1) - 1
}

// releaseReference performs a CAS loop that refuses to decrement below
// zero, per §4.3; returns false if the count was already zero.
func (r *serviceImplementation) releaseReference() bool {
	for {
		cur := atomic.LoadInt64(&r.refcount)
		if cur <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&r.refcount, cur, cur-1) {
			return true
		}
	}
}

func (r *serviceImplementation) referenceCount() uint64 {
	return uint64(atomic.LoadInt64(&r.refcount))
}
