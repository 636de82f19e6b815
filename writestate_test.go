package evh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteStateFlagSetClear(t *testing.T) {
	ws := NewWriteState()
	require.False(t, ws.Has(FlagPending))

	ws.Lock()
	ws.set(FlagPending)
	ws.Unlock()
	require.True(t, ws.Has(FlagPending))

	ws.Lock()
	ws.clear(FlagPending)
	ws.Unlock()
	require.False(t, ws.Has(FlagPending))
}

func TestWriteStateCloseIsSticky(t *testing.T) {
	ws := NewWriteState()
	ws.Lock()
	ws.set(FlagClose)
	ws.clear(FlagClose | FlagPending)
	ws.Unlock()

	require.True(t, ws.Has(FlagClose), "CLOSE must remain set once requested")
}

func TestWriteStateFlagAsyncIsCallerSettable(t *testing.T) {
	ws := NewWriteState()
	require.False(t, ws.Has(FlagAsync))

	ws.Lock()
	ws.set(FlagAsync)
	ws.Unlock()
	require.True(t, ws.Has(FlagAsync))

	ws.Lock()
	ws.clear(FlagAsync)
	ws.Unlock()
	require.False(t, ws.Has(FlagAsync))
}

func TestWriteStateBufferLen(t *testing.T) {
	ws := NewWriteState()
	require.Equal(t, 0, ws.BufferLen())

	ws.Lock()
	appendWriteBuffer(ws, []byte("hello"))
	ws.Unlock()

	require.Equal(t, 5, ws.BufferLen())
}
