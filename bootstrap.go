package chassis

import (
	"context"

	"go.uber.org/zap"
)

// Self-description service names. Each registry-family name is published
// twice: a locking implementation (the default) and a no-lock
// implementation, under distinct suffixes.
const (
	svcRegistry               = "registry"
	svcRegistryRegistration   = "registry_registration"
	svcRegistryQuery          = "registry_query"
	svcRegistryMetaEnumerate  = "registry_metadata_enumerate"
	svcRegistryMetaQuery      = "registry_metadata_query"
	svcDynamicLoader          = "dynamic_loader"
	svcDynamicLoaderQuery     = "dynamic_loader_query"
	svcDynamicLoaderMetaEnum  = "dynamic_loader_metadata_enumerate"
	svcDynamicLoaderMetaQuery = "dynamic_loader_metadata_query"
	implLocking               = "default"
	implNolock                = "nolock"
)

// RegistryService is the acquire/release surface of the registry,
// published as the "registry" self-description service.
type RegistryService interface {
	Acquire(name string) (*ServiceHandle, error)
	Release(h *ServiceHandle) error
}

// RegistryRegistrationService is the register/unregister/set-default
// surface of C4, published as "registry_registration".
type RegistryRegistrationService interface {
	RegisterService(fullName string, iface Interface) error
	Unregister(fullName string) error
	SetDefault(fullName string) error
}

// RegistryQueryService answers "is this name registered", published as
// "registry_query".
type RegistryQueryService interface {
	Has(name string) bool
}

// RegistryMetadataEnumerateService exposes C4's iterator, published as
// "registry_metadata_enumerate".
type RegistryMetadataEnumerateService interface {
	IteratorCreate(prefix string) *ServiceIterator
}

// RegistryMetadataQueryService exposes per-implementation metadata lookup,
// published as "registry_metadata_query".
type RegistryMetadataQueryService interface {
	Metadata(fullName string) (*Metadata, bool)
}

// DynamicLoaderService is the load/unload surface of C7, published as
// "dynamic_loader".
type DynamicLoaderService interface {
	Load(ctx context.Context, urns []string) ([]*ComponentHandle, error)
	Unload(ctx context.Context, urns []string) error
}

// DynamicLoaderQueryService answers "is this URN loaded", published as
// "dynamic_loader_query".
type DynamicLoaderQueryService interface {
	Find(urn string) (*ComponentHandle, bool)
}

// DynamicLoaderMetadataEnumerateService exposes C6's iterator, published as
// "dynamic_loader_metadata_enumerate".
type DynamicLoaderMetadataEnumerateService interface {
	IteratorCreate() *LoaderIterator
}

// DynamicLoaderMetadataQueryService exposes per-component metadata lookup,
// published as "dynamic_loader_metadata_query".
type DynamicLoaderMetadataQueryService interface {
	Metadata(urn string) (*Metadata, bool)
}

// The no-lock registry wrappers: thin adapters over Registry's internal
// *Nolock methods, for a caller that already holds the registry's write
// lock. Calling one of these from outside such a context is undefined —
// nothing here enforces that structurally; the contract is the caller's.

type registryServiceNolock struct{ r *Registry }

func (n registryServiceNolock) Acquire(name string) (*ServiceHandle, error) {
	return n.r.acquireNolock(name)
}
func (n registryServiceNolock) Release(h *ServiceHandle) error {
	return n.r.releaseNolock(h)
}

type registryRegistrationNolock struct{ r *Registry }

func (n registryRegistrationNolock) RegisterService(fullName string, iface Interface) error {
	return n.r.registerServiceNolock(fullName, iface)
}
func (n registryRegistrationNolock) Unregister(fullName string) error {
	return n.r.unregisterNolock(fullName)
}
func (n registryRegistrationNolock) SetDefault(fullName string) error {
	return n.r.setDefaultNolock(fullName)
}

type registryQueryNolock struct{ r *Registry }

func (n registryQueryNolock) Has(name string) bool {
	_, ok := n.r.byName[name]
	return ok
}

type registryMetaEnumerateNolock struct{ r *Registry }

func (n registryMetaEnumerateNolock) IteratorCreate(prefix string) *ServiceIterator {
	return n.r.iteratorCreateNolock(prefix)
}

type registryMetaQueryNolock struct{ r *Registry }

func (n registryMetaQueryNolock) Metadata(fullName string) (*Metadata, bool) {
	rec, ok := n.r.byName[fullName]
	if !ok {
		return nil, false
	}
	return rec.metadata, true
}

// Chassis is a bootstrapped registry and loader with the
// self-description services already published. Its init/teardown order
// mirrors a strict-pairing bootstrap/shutdown sequence, and its
// constructor keeps to a thin top-level entry point.
type Chassis struct {
	Registry *Registry
	Loader   *Loader

	logger    *zap.Logger
	published []string // full names registered by publishSelfServices, for Close
}

// New initializes C4, then C7, then publishes the self-description
// services. logger may be nil, in which case a no-op logger is used.
func New(logger *zap.Logger) (*Chassis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := NewRegistry()
	loader := NewLoader(registry, logger)

	c := &Chassis{Registry: registry, Loader: loader, logger: logger}
	if err := c.publishSelfServices(); err != nil {
		return nil, err
	}

	logger.Info("chassis initialized")
	return c, nil
}

func (c *Chassis) publishSelfServices() error {
	type pair struct {
		bare    string
		locking Interface
		nolock  Interface
	}
	pairs := []pair{
		{svcRegistry, Interface(c.Registry), Interface(registryServiceNolock{c.Registry})},
		{svcRegistryRegistration, Interface(c.Registry), Interface(registryRegistrationNolock{c.Registry})},
		{svcRegistryQuery, Interface(c.Registry), Interface(registryQueryNolock{c.Registry})},
		{svcRegistryMetaEnumerate, Interface(c.Registry), Interface(registryMetaEnumerateNolock{c.Registry})},
		{svcRegistryMetaQuery, Interface(c.Registry), Interface(registryMetaQueryNolock{c.Registry})},
	}

	// Dynamic-loader services get only the locking flavor: the loader owns
	// its lock for the whole duration of its own operations, so there is no
	// "already inside a writer-locked loader stage" case for them to serve.
	loaderBareNames := []string{
		svcDynamicLoader, svcDynamicLoaderQuery, svcDynamicLoaderMetaEnum, svcDynamicLoaderMetaQuery,
	}

	regs := make([]ServiceRegistration, 0, 2*len(pairs)+len(loaderBareNames))
	for _, p := range pairs {
		regs = append(regs,
			ServiceRegistration{FullName: p.bare + "." + implLocking, Interface: p.locking},
			ServiceRegistration{FullName: p.bare + "." + implNolock, Interface: p.nolock},
		)
	}
	for _, bare := range loaderBareNames {
		regs = append(regs, ServiceRegistration{FullName: bare + "." + implLocking, Interface: Interface(c.Loader)})
	}

	if err := RegisterServices(c.Registry, regs...); err != nil {
		return err
	}
	for _, r := range regs {
		c.published = append(c.published, r.FullName)
	}
	return nil
}

// Close tears down the chassis in reverse bootstrap order: it unloads every
// generation group, newest first — a group that fails to unload is logged,
// cleared, and dropped rather than retried — and then unregisters the
// self-services in reverse publication order. Nothing else is released.
func (c *Chassis) Close(ctx context.Context) error {
	c.unloadAllGenerations(ctx)

	for i := len(c.published) - 1; i >= 0; i-- {
		name := c.published[i]
		if err := c.Registry.Unregister(name); err != nil {
			c.logger.Warn("failed to unregister self-service on close",
				zap.String("name", name), zap.Error(err))
		}
	}

	c.logger.Info("chassis closed")
	return nil
}

// unloadAllGenerations drains the loader's generation groups newest-first.
// A group whose Unload fails is logged and dropped (not retried) — the
// same behavior Unload itself falls back to for a group with a failed
// deinit.
func (c *Chassis) unloadAllGenerations(ctx context.Context) {
	for {
		urns := c.nextGenerationURNs()
		if len(urns) == 0 {
			return
		}
		if err := c.Loader.Unload(ctx, urns); err != nil {
			c.logger.Warn("generation group failed to unload during shutdown, dropping",
				zap.Strings("urns", urns), zap.Error(err))
			wtok := c.Loader.lock.Lock()
			for _, u := range urns {
				c.Loader.components.remove(u)
			}
			wtok.Unlock()
		}
	}
}

func (c *Chassis) nextGenerationURNs() []string {
	wtok := c.Loader.lock.Lock()
	defer wtok.Unlock()
	if len(c.Loader.components.generations) == 0 {
		return nil
	}
	group := c.Loader.components.generations[0]
	urns := make([]string, len(group.members))
	for i, m := range group.members {
		urns[i] = m.urn
	}
	return urns
}
