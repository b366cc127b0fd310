package chassis

// componentRecord is the component record: URN, descriptor,
// provided service list, required service slots, optional init/deinit
// callbacks, metadata. Grounded in shape on original_source's
// mysql_server/dynamic_loader.cc component bookkeeping; no teacher
// analogue exists since vessel has no "loadable unit" concept, only direct
// service registration.
type componentRecord struct {
	urn       string
	name      string
	descriptor *Descriptor
	provides  []ProvidedService
	requires  []RequiredService
	metadata  *Metadata

	// requiredHandles holds, once L5 binds this component's required slots,
	// the registry handle acquired for each one (parallel to requires) —
	// U7 needs the handle itself, not just the bound interface, to release it.
	requiredHandles []*ServiceHandle
}

// ComponentHandle is the externally visible view of a loaded component,
// returned by Loader.Load and Loader.Find.
type ComponentHandle struct {
	rec *componentRecord
}

func (h *ComponentHandle) URN() string  { return h.rec.urn }
func (h *ComponentHandle) Name() string { return h.rec.name }

// ProvidedNames returns the full names of the services this component provides.
func (h *ComponentHandle) ProvidedNames() []string {
	names := make([]string, len(h.rec.provides))
	for i, p := range h.rec.provides {
		names[i] = p.Name
	}
	return names
}

// RequiredNames returns the bare service names this component requires.
func (h *ComponentHandle) RequiredNames() []string {
	names := make([]string, len(h.rec.requires))
	for i, r := range h.rec.requires {
		names[i] = r.Name
	}
	return names
}

func (h *ComponentHandle) Metadata() *Metadata { return h.rec.metadata }

func newComponentRecord(urn string, d *Descriptor) *componentRecord {
	meta := NewMetadata()
	for k, v := range d.Metadata {
		meta.Set(k, v)
	}
	return &componentRecord{
		urn:        urn,
		name:       d.Name,
		descriptor: d,
		provides:   d.Provides,
		requires:   d.Requires,
		metadata:   meta,
	}
}

// bareProvidedServices returns the bare service name (stripped of ".impl")
// of each service this record provides, one per provided service with
// duplicates kept, for the L2 collection step.
func (c *componentRecord) bareProvidedServices() []string {
	out := make([]string, 0, len(c.provides))
	for _, p := range c.provides {
		out = append(out, parseServiceName(p.Name).service)
	}
	return out
}
