package chassis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceImplementationRefcounting(t *testing.T) {
	rec := newServiceImplementation(&fakeIface{}, "svc.impl1")
	require := assert.New(t)
	require.Equal(uint64(0), rec.referenceCount())

	rec.addReference()
	rec.addReference()
	require.Equal(uint64(2), rec.referenceCount())

	require.True(rec.releaseReference())
	require.Equal(uint64(1), rec.referenceCount())

	require.True(rec.releaseReference())
	require.Equal(uint64(0), rec.referenceCount())

	require.False(rec.releaseReference())
	require.Equal(uint64(0), rec.referenceCount())
}

func TestNewServiceImplementationRejectsMalformedName(t *testing.T) {
	rec := newServiceImplementation(&fakeIface{}, "no-dot")
	assert.Nil(t, rec.iface)
}

func TestServiceHandleNilSafety(t *testing.T) {
	var h *ServiceHandle
	assert.Equal(t, "", h.Name())
	assert.Nil(t, h.Interface())
}
