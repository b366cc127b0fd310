package chassis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testScheme is a minimal in-process SchemeHandler for loader tests: URNs
// map directly to caller-supplied descriptor factories, with a live set so
// double-loading the same URN is rejected like a real handler would.
type testScheme struct {
	factories map[string]func() *Descriptor
	live      map[string]bool
	failLoad  map[string]error
}

func newTestScheme() *testScheme {
	return &testScheme{
		factories: make(map[string]func() *Descriptor),
		live:      make(map[string]bool),
		failLoad:  make(map[string]error),
	}
}

func (s *testScheme) Load(_ context.Context, urn string) (*Descriptor, error) {
	if err := s.failLoad[urn]; err != nil {
		return nil, err
	}
	if s.live[urn] {
		return nil, fmt.Errorf("testScheme: %q already loaded", urn)
	}
	factory, ok := s.factories[urn]
	if !ok {
		return nil, fmt.Errorf("testScheme: no descriptor for %q", urn)
	}
	s.live[urn] = true
	return factory(), nil
}

func (s *testScheme) Unload(_ context.Context, urn string) error {
	if !s.live[urn] {
		return fmt.Errorf("testScheme: %q not loaded", urn)
	}
	delete(s.live, urn)
	return nil
}

func newLoaderWithScheme(t *testing.T, scheme *testScheme) (*Registry, *Loader) {
	t.Helper()
	r := NewRegistry()
	l := NewLoader(r, nil)
	require.NoError(t, l.RegisterScheme("test", scheme))
	return r, l
}

type providerIface interface{ Value() int }
type providerImpl struct{ v int }

func (p providerImpl) Value() int { return p.v }

func TestLoaderLoadAndUnloadSingleComponent(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://provider"] = func() *Descriptor {
		return &Descriptor{
			Name: "provider",
			Provides: []ProvidedService{
				{Name: "provider_service.impl1", Interface: providerImpl{v: 42}},
			},
		}
	}
	_, l := newLoaderWithScheme(t, scheme)

	handles, err := l.Load(context.Background(), []string{"test://provider"})
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "provider", handles[0].Name())
	assert.Equal(t, []string{"provider_service.impl1"}, handles[0].ProvidedNames())

	err = l.Unload(context.Background(), []string{"test://provider"})
	require.NoError(t, err)

	_, ok := l.Find("test://provider")
	assert.False(t, ok)
}

func TestLoaderLoadBindsRequiredAcrossBatch(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://provider"] = func() *Descriptor {
		return &Descriptor{
			Name: "provider",
			Provides: []ProvidedService{
				{Name: "provider_service.impl1", Interface: providerImpl{v: 7}},
			},
		}
	}

	var boundValue int
	scheme.factories["test://consumer"] = func() *Descriptor {
		req := RequiredService{Name: "provider_service"}
		req.Cell() // preallocate so the slice copy shares this pointer
		return &Descriptor{
			Name:     "consumer",
			Requires: []RequiredService{req},
			Init: func(ctx context.Context) error {
				boundValue = (*req.Cell()).(providerIface).Value()
				return nil
			},
		}
	}

	_, l := newLoaderWithScheme(t, scheme)
	_, err := l.Load(context.Background(), []string{"test://provider", "test://consumer"})
	require.NoError(t, err)
	assert.Equal(t, 7, boundValue)
}

func TestLoaderLoadUnsatisfiableDependencyRollsBack(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://consumer"] = func() *Descriptor {
		return &Descriptor{
			Name:     "consumer",
			Requires: []RequiredService{{Name: "missing_service"}},
		}
	}
	r, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://consumer"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyUnsatisfiable))

	// Rollback must have unloaded the fetched descriptor from the scheme.
	assert.False(t, scheme.live["test://consumer"])
	assert.False(t, r.Has("consumer"))
}

func TestLoaderLoadInitFailureRollsBackRegistration(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://broken"] = func() *Descriptor {
		return &Descriptor{
			Name: "broken",
			Provides: []ProvidedService{
				{Name: "broken_service.impl1", Interface: providerImpl{}},
			},
			Init: func(ctx context.Context) error {
				return errors.New("boom")
			},
		}
	}
	r, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://broken"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInitFailure))
	assert.False(t, r.Has("broken_service.impl1"))
	assert.False(t, scheme.live["test://broken"])
}

func TestLoaderLoadDuplicateURNRejected(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://provider"] = func() *Descriptor {
		return &Descriptor{Name: "provider"}
	}
	_, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://provider", "test://provider"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestLoaderLoadAlreadyLoadedURNRejected(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://provider"] = func() *Descriptor {
		return &Descriptor{Name: "provider"}
	}
	_, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://provider"})
	require.NoError(t, err)

	_, err = l.Load(context.Background(), []string{"test://provider"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestLoaderUnloadRejectsExternalLiveReference(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://provider"] = func() *Descriptor {
		return &Descriptor{
			Name: "provider",
			Provides: []ProvidedService{
				{Name: "provider_service.impl1", Interface: providerImpl{v: 1}},
			},
		}
	}
	r, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://provider"})
	require.NoError(t, err)

	// An external caller acquires the provided service directly.
	external, err := r.Acquire("provider_service")
	require.NoError(t, err)

	err = l.Unload(context.Background(), []string{"test://provider"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExternalLiveReferences))

	require.NoError(t, r.Release(external))
	require.NoError(t, l.Unload(context.Background(), []string{"test://provider"}))
}

func TestLoaderUnloadOrdersConsumersBeforeProviders(t *testing.T) {
	scheme := newTestScheme()
	var deinitOrder []string

	scheme.factories["test://provider"] = func() *Descriptor {
		return &Descriptor{
			Name: "provider",
			Provides: []ProvidedService{
				{Name: "provider_service.impl1", Interface: providerImpl{v: 9}},
			},
			Deinit: func(ctx context.Context) error {
				deinitOrder = append(deinitOrder, "provider")
				return nil
			},
		}
	}
	scheme.factories["test://consumer"] = func() *Descriptor {
		return &Descriptor{
			Name:     "consumer",
			Requires: []RequiredService{{Name: "provider_service"}},
			Deinit: func(ctx context.Context) error {
				deinitOrder = append(deinitOrder, "consumer")
				return nil
			},
		}
	}
	_, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://provider", "test://consumer"})
	require.NoError(t, err)

	err = l.Unload(context.Background(), []string{"test://provider", "test://consumer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"consumer", "provider"}, deinitOrder)
}

func TestLoaderIteratorLexicographic(t *testing.T) {
	scheme := newTestScheme()
	for _, name := range []string{"b", "a", "c"} {
		n := name
		scheme.factories["test://"+n] = func() *Descriptor {
			return &Descriptor{Name: n}
		}
	}
	_, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://b", "test://a", "test://c"})
	require.NoError(t, err)

	it := l.IteratorCreate()
	defer it.Release()
	var urns []string
	for it.IsValid() {
		u, _ := it.Get()
		urns = append(urns, u)
		if it.Next() {
			break
		}
	}
	assert.Equal(t, []string{"test://a", "test://b", "test://c"}, urns)
}

func TestLoaderUnloadUnknownURN(t *testing.T) {
	scheme := newTestScheme()
	_, l := newLoaderWithScheme(t, scheme)

	err := l.Unload(context.Background(), []string{"test://missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNameNotFound))
}

func TestLoaderLoadCyclicBatchSucceeds(t *testing.T) {
	scheme := newTestScheme()
	var aReq, bReq RequiredService
	aReq = RequiredService{Name: "y"}
	aReq.Cell()
	bReq = RequiredService{Name: "x"}
	bReq.Cell()

	scheme.factories["test://a"] = func() *Descriptor {
		return &Descriptor{
			Name:     "a",
			Provides: []ProvidedService{{Name: "x.a", Interface: providerImpl{v: 1}}},
			Requires: []RequiredService{aReq},
		}
	}
	scheme.factories["test://b"] = func() *Descriptor {
		return &Descriptor{
			Name:     "b",
			Provides: []ProvidedService{{Name: "y.b", Interface: providerImpl{v: 2}}},
			Requires: []RequiredService{bReq},
		}
	}
	_, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://a", "test://b"})
	require.NoError(t, err)

	err = l.Unload(context.Background(), []string{"test://a", "test://b"})
	require.NoError(t, err)
}

func TestLoaderLoadDependencyUnsatisfiableAlone(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://a"] = func() *Descriptor {
		return &Descriptor{
			Name:     "a",
			Provides: []ProvidedService{{Name: "foo.a", Interface: providerImpl{v: 1}}},
		}
	}
	scheme.factories["test://b"] = func() *Descriptor {
		return &Descriptor{
			Name:     "b",
			Requires: []RequiredService{{Name: "foo"}},
		}
	}
	_, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://a", "test://b"})
	require.NoError(t, err)

	err = l.Unload(context.Background(), []string{"test://a", "test://b"})
	require.NoError(t, err)

	_, err = l.Load(context.Background(), []string{"test://b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyUnsatisfiable))
}

func TestLoaderInitFailureInvokesFirstComponentDeinitAndMatchingUnload(t *testing.T) {
	scheme := newTestScheme()
	var firstDeinited bool
	scheme.factories["test://first"] = func() *Descriptor {
		return &Descriptor{
			Name: "first",
			Init: func(ctx context.Context) error { return nil },
			Deinit: func(ctx context.Context) error {
				firstDeinited = true
				return nil
			},
		}
	}
	scheme.factories["test://second"] = func() *Descriptor {
		return &Descriptor{
			Name: "second",
			Init: func(ctx context.Context) error {
				return errors.New("boom")
			},
		}
	}
	r, l := newLoaderWithScheme(t, scheme)

	_, err := l.Load(context.Background(), []string{"test://first", "test://second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInitFailure))

	assert.True(t, firstDeinited)
	assert.False(t, scheme.live["test://first"])
	assert.False(t, scheme.live["test://second"])
	assert.False(t, r.Has("first"))
	_, ok := l.Find("test://first")
	assert.False(t, ok)
}

func TestLoaderUnloadDeinitFailureDoesNotEvictUntouchedSiblings(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://failing"] = func() *Descriptor {
		return &Descriptor{
			Name: "failing",
			Init: func(ctx context.Context) error { return nil },
			Deinit: func(ctx context.Context) error {
				return errors.New("deinit boom")
			},
		}
	}
	scheme.factories["test://sibling"] = func() *Descriptor {
		return &Descriptor{
			Name: "sibling",
			Provides: []ProvidedService{
				{Name: "sibling_service.impl1", Interface: providerImpl{v: 3}},
			},
		}
	}
	r, l := newLoaderWithScheme(t, scheme)

	// Both components are loaded together, as one generation group, but
	// only "failing" is requested for unload.
	_, err := l.Load(context.Background(), []string{"test://failing", "test://sibling"})
	require.NoError(t, err)

	err = l.Unload(context.Background(), []string{"test://failing"})
	assert.Error(t, err)

	// The failing component is still torn down despite its deinit error.
	_, ok := l.Find("test://failing")
	assert.False(t, ok)

	// The sibling was never part of this Unload call, so it must remain
	// fully intact: loadable, findable, and still registered.
	_, ok = l.Find("test://sibling")
	assert.True(t, ok)
	assert.True(t, r.Has("sibling_service.impl1"))
	assert.True(t, scheme.live["test://sibling"])
}

func TestLoaderZeroProvidesZeroRequiresComponent(t *testing.T) {
	scheme := newTestScheme()
	scheme.factories["test://bare"] = func() *Descriptor {
		return &Descriptor{Name: "bare"}
	}
	_, l := newLoaderWithScheme(t, scheme)

	handles, err := l.Load(context.Background(), []string{"test://bare"})
	require.NoError(t, err)
	require.Len(t, handles, 1)

	it := l.IteratorCreate()
	require.True(t, it.IsValid())
	urn, _ := it.Get()
	assert.Equal(t, "test://bare", urn)
	it.Release()

	require.NoError(t, l.Unload(context.Background(), []string{"test://bare"}))
}

func TestLoaderEmptyBatchIsNoop(t *testing.T) {
	scheme := newTestScheme()
	_, l := newLoaderWithScheme(t, scheme)

	handles, err := l.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, handles)

	require.NoError(t, l.Unload(context.Background(), nil))
}

func TestSplitURNRejectsMissingScheme(t *testing.T) {
	_, _, err := SplitURN("no-scheme-here")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemeUnknown))
}
