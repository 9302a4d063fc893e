package communicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAllocateMonotonic(t *testing.T) {
	r := newRequestRegistry()
	for want := RequestID(0); want < 8; want++ {
		assert.Equal(t, want, r.allocate())
	}
}

func TestRegistryPrefersFreePool(t *testing.T) {
	r := newRequestRegistry()
	first := r.allocate()
	second := r.allocate()

	require.NoError(t, r.register(&trackedRequest{id: first}))
	released, err := r.release(first)
	require.NoError(t, err)
	assert.Equal(t, first, released.id)
	r.recycle(first)

	// The freed identifier comes back before the counter moves on.
	assert.Equal(t, first, r.allocate())
	assert.NotEqual(t, second, r.allocate())
}

func TestRegistryReleaseDoesNotRecycle(t *testing.T) {
	r := newRequestRegistry()
	id := r.allocate()
	require.NoError(t, r.register(&trackedRequest{id: id}))

	_, err := r.release(id)
	require.NoError(t, err)

	// Until recycle, the slot stays retired: a fresh allocation must not
	// collide with the released-but-uncompleted identifier.
	assert.NotEqual(t, id, r.allocate())
}

func TestRegistryReleaseUnknown(t *testing.T) {
	r := newRequestRegistry()
	_, err := r.release(RequestID(5))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	r := newRequestRegistry()
	id := r.allocate()
	require.NoError(t, r.register(&trackedRequest{id: id}))
	assert.ErrorIs(t, r.register(&trackedRequest{id: id}), ErrInvalidRequest)
}

func TestRegistryFreeAndInFlightDisjoint(t *testing.T) {
	r := newRequestRegistry()
	live := make(map[RequestID]struct{})
	for i := 0; i < 16; i++ {
		id := r.allocate()
		_, dup := live[id]
		require.False(t, dup, "identifier %d issued twice while in flight", id)
		live[id] = struct{}{}
		require.NoError(t, r.register(&trackedRequest{id: id}))
	}
	assert.Equal(t, 16, r.inFlightCount())

	for id := range live {
		_, err := r.release(id)
		require.NoError(t, err)
		r.recycle(id)
	}
	assert.Equal(t, 0, r.inFlightCount())

	// Every recycled identifier is reissued exactly once.
	reissued := make(map[RequestID]struct{})
	for i := 0; i < 16; i++ {
		id := r.allocate()
		_, dup := reissued[id]
		require.False(t, dup)
		_, wasLive := live[id]
		require.True(t, wasLive, "expected recycled identifier, got fresh %d", id)
		reissued[id] = struct{}{}
	}
}
