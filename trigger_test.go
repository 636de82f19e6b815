package evh

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestTriggerOnReadWhenDrained covers the synthetic-read path: a synthetic
// on_read fires once a write buffer that was deliberately held pending
// (via the DebugPending test hook) finally drains.
func TestTriggerOnReadWhenDrained(t *testing.T) {
	addr := ephemeralAddr(t)

	var realReads, syntheticReads atomic.Int32
	armed := make(chan struct{}, 1)

	e, err := New(Config{Threads: 1})
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })

	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		cd.ClearThrough(cd.LastSlab())
		if len(data) == 0 {
			syntheticReads.Add(1)
			return nil
		}
		realReads.Add(1)
		wh := cd.WriteHandle()
		if _, err := wh.Write([]byte("queued-response")); err != nil {
			return err
		}
		if err := wh.TriggerOnReadWhenDrained(); err != nil {
			return err
		}
		select {
		case armed <- struct{}{}:
		default:
		}
		return nil
	})

	require.NoError(t, e.Controller().AddServer(ServerOptions{Address: addr}))

	// Hold every flush pending until the test has observed that no
	// synthetic callback fired yet.
	e.workers[0].data.DebugPending.Store(true)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("go"))
	require.NoError(t, err)

	select {
	case <-armed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the write to be queued")
	}

	require.Equal(t, int32(0), syntheticReads.Load())

	e.workers[0].data.DebugPending.Store(false)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len("queued-response"))
	_, err = readFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "queued-response", string(buf))

	require.Eventually(t, func() bool {
		return syntheticReads.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
}
