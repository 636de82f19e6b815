package evh

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSuspendResume covers out-of-band raw I/O: Suspend rejects further
// WriteHandle writes with ErrSuspended, but the raw OS handle stays
// writable (suspend puts the socket into blocking mode and stops the
// worker polling it — it doesn't close it), so a direct write against
// the raw handle from another goroutine still reaches the peer. Resume
// reverses both.
func TestSuspendResume(t *testing.T) {
	addr := ephemeralAddr(t)

	whCh := make(chan *WriteHandle, 1)
	handleCh := make(chan Handle, 1)

	e, err := New(Config{Threads: 1})
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })

	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		wh := cd.WriteHandle()
		if _, err := wh.Write(data); err != nil {
			return err
		}
		cd.ClearThrough(cd.LastSlab())
		select {
		case whCh <- wh:
			handleCh <- cd.Handle()
		default:
		}
		return nil
	})

	require.NoError(t, e.Controller().AddServer(ServerOptions{Address: addr}))

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("test"))
	require.NoError(t, err)

	var wh *WriteHandle
	var rawHandle Handle
	select {
	case wh = <-whCh:
		rawHandle = <-handleCh
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a WriteHandle")
	}

	require.NoError(t, wh.Suspend())
	_, err = wh.Write([]byte("blocked"))
	require.ErrorIs(t, err, ErrSuspended)

	// Give the worker a moment to actually flush the queued "test" echo
	// to the socket before we bypass it with raw writes of our own —
	// otherwise nothing orders our "ok"s after it on the wire.
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		n, err := writeHandle(rawHandle, []byte("ok"))
		require.NoError(t, err)
		require.Equal(t, 2, n)
	}

	require.NoError(t, wh.Resume())
	_, err = wh.Write([]byte("resume"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len("testokokokokok"))
	_, err = readFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "testokokokokok", string(buf))

	buf2 := make([]byte, len("resume"))
	_, err = readFull(conn, buf2)
	require.NoError(t, err)
	require.Equal(t, "resume", string(buf2))
}
