package evh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlabPoolAllocateFreeRoundTrip(t *testing.T) {
	pool, err := NewSlabPool(4, DefaultSlabSize, DefaultPayloadSize)
	require.NoError(t, err)

	a, err := pool.Allocate()
	require.NoError(t, err)
	b, err := pool.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.Equal(t, invalidSlabID, pool.NextID(a))

	pool.LinkTo(a, b)
	require.Equal(t, b, pool.NextID(a))

	pool.Free(a)
	pool.Free(b)
}

func TestSlabPoolExhaustion(t *testing.T) {
	pool, err := NewSlabPool(1, DefaultSlabSize, DefaultPayloadSize)
	require.NoError(t, err)

	_, err = pool.Allocate()
	require.NoError(t, err)

	_, err = pool.Allocate()
	require.ErrorIs(t, err, ErrCapacity)
}

func TestSlabPoolRejectsOversizedSlab(t *testing.T) {
	_, err := NewSlabPool(1, 1<<17, DefaultPayloadSize)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestSlabPoolPayloadIsolatedFromLinkBytes(t *testing.T) {
	pool, err := NewSlabPool(2, DefaultSlabSize, DefaultPayloadSize)
	require.NoError(t, err)

	id, err := pool.Allocate()
	require.NoError(t, err)

	payload := pool.Payload(id)
	require.Len(t, payload, DefaultPayloadSize)
	for i := range payload {
		payload[i] = 0xAB
	}

	// Writing the full payload must not corrupt the forward-link field;
	// NextID should still read back as end-of-chain.
	require.Equal(t, invalidSlabID, pool.NextID(id))
}
