package evh

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestOnReadPanicIsolation verifies the containment contract: a
// panicking on_read takes down its own connection (without on_close,
// since the callback chain is what failed), hands the payload to
// on_panic, and leaves the worker serving other connections.
func TestOnReadPanicIsolation(t *testing.T) {
	addr := ephemeralAddr(t)

	var panics atomic.Int32
	var blowUp atomic.Bool

	e, ctl := newTestEVH(t)
	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		cd.ClearThrough(cd.LastSlab())
		if blowUp.Load() {
			panic("callback exploded")
		}
		_, err := cd.WriteHandle().Write(data)
		return err
	})
	e.SetOnPanic(func(pe *PanicError) {
		panics.Add(1)
	})

	require.NoError(t, ctl.AddServer(ServerOptions{Address: addr}))

	// First connection panics its on_read and gets torn down.
	blowUp.Store(true)
	victim, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer victim.Close()

	_, err = victim.Write([]byte("boom"))
	require.NoError(t, err)

	require.NoError(t, victim.SetReadDeadline(time.Now().Add(2*time.Second)))
	one := make([]byte, 1)
	_, err = victim.Read(one)
	require.Error(t, err, "the panicking stream must be closed, not echoed to")

	require.Eventually(t, func() bool {
		return panics.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The worker survived: a second connection echoes normally.
	blowUp.Store(false)
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("alive"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len("alive"))
	_, err = readFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "alive", string(buf))
}

// onAcceptPanicScenario runs the shared shape of the two accept-panic
// tests: the first accepted connection panics its on_accept and must be
// closed by compensation; the second accepts cleanly and echoes,
// proving the worker survived. reusePort selects which accept path runs
// the callback — direct registration or cross-worker handoff.
func onAcceptPanicScenario(t *testing.T, reusePort bool) {
	t.Helper()
	addr := ephemeralAddr(t)

	var panics atomic.Int32
	var blowUp atomic.Bool
	blowUp.Store(true)

	e, ctl := newTestEVH(t)
	e.SetOnAccept(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		if blowUp.CompareAndSwap(true, false) {
			panic("accept exploded")
		}
		return nil
	})
	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		cd.ClearThrough(cd.LastSlab())
		_, err := cd.WriteHandle().Write(data)
		return err
	})
	e.SetOnPanic(func(pe *PanicError) {
		panics.Add(1)
	})

	require.NoError(t, ctl.AddServer(ServerOptions{Address: addr, ReusePort: reusePort}))

	// First connection: on_accept panics, compensation closes the
	// accepted handle before it ever reaches the tables.
	victim, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer victim.Close()

	require.NoError(t, victim.SetReadDeadline(time.Now().Add(2*time.Second)))
	one := make([]byte, 1)
	_, err = victim.Read(one)
	require.Error(t, err, "the panicking accept's handle must be closed")

	require.Eventually(t, func() bool {
		return panics.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Second connection: accepted cleanly, echoes.
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len("ping"))
	_, err = readFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

// TestOnAcceptPanicReusePort covers the direct-registration accept
// path: on_accept runs before table insertion, so compensation closes
// the cached accept handle.
func TestOnAcceptPanicReusePort(t *testing.T) {
	onAcceptPanicScenario(t, true)
}

// TestOnAcceptPanicHandoff covers the cross-worker handoff path, where
// the callback fires on the receiving worker before registration and a
// panic is compensated through the cached out-of-band handle.
func TestOnAcceptPanicHandoff(t *testing.T) {
	onAcceptPanicScenario(t, false)
}

// TestOnClosePanicIsolation verifies that a panicking on_close — which
// fires after the stream has already left the tables — needs no
// further compensation and leaves the worker healthy.
func TestOnClosePanicIsolation(t *testing.T) {
	addr := ephemeralAddr(t)

	var panics atomic.Int32

	e, ctl := newTestEVH(t)
	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		cd.ClearThrough(cd.LastSlab())
		_, err := cd.WriteHandle().Write(data)
		return err
	})
	e.SetOnClose(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		panic("close exploded")
	})
	e.SetOnPanic(func(pe *PanicError) {
		panics.Add(1)
	})

	require.NoError(t, ctl.AddServer(ServerOptions{Address: addr}))

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)

	_, err = conn.Write([]byte("bye"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len("bye"))
	_, err = readFull(conn, buf)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return panics.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The worker is still serving.
	conn2, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn2.Close()

	_, err = conn2.Write([]byte("again"))
	require.NoError(t, err)

	require.NoError(t, conn2.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf2 := make([]byte, len("again"))
	_, err = readFull(conn2, buf2)
	require.NoError(t, err)
	require.Equal(t, "again", string(buf2))
}

// TestHousekeeperPanicIsolation verifies the housekeeper branch: no
// connection-specific compensation, worker keeps running on schedule.
func TestHousekeeperPanicIsolation(t *testing.T) {
	addr := ephemeralAddr(t)

	var panics atomic.Int32
	var blowUp atomic.Bool
	blowUp.Store(true)

	e, err := New(Config{Threads: 1, HousekeepingFrequencyMillis: 50})
	require.NoError(t, err)
	e.SetHousekeeper(func(tc ThreadContext) error {
		if blowUp.CompareAndSwap(true, false) {
			panic("housekeeper exploded")
		}
		return nil
	})
	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		cd.ClearThrough(cd.LastSlab())
		_, err := cd.WriteHandle().Write(data)
		return err
	})
	e.SetOnPanic(func(pe *PanicError) {
		panics.Add(1)
	})
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })

	require.NoError(t, e.Controller().AddServer(ServerOptions{Address: addr}))

	require.Eventually(t, func() bool {
		return panics.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("tick"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len("tick"))
	_, err = readFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "tick", string(buf))
}

// TestWorkerRestartAfterEscapedPanic forces a panic in the worker loop
// proper (via the DebugPanicLoop hook), outside every per-callback
// recover, and asserts the supervisor cycle: on_panic fires, the worker
// is re-spawned on its slot with the restart flag, runs its
// compensation pass, and goes back to serving connections.
func TestWorkerRestartAfterEscapedPanic(t *testing.T) {
	addr := ephemeralAddr(t)

	var panics atomic.Int32

	e, ctl := newTestEVH(t)
	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		cd.ClearThrough(cd.LastSlab())
		_, err := cd.WriteHandle().Write(data)
		return err
	})
	e.SetOnPanic(func(pe *PanicError) {
		panics.Add(1)
	})

	w := e.workers[0]
	w.data.DebugPanicLoop.Store(true)
	_ = w.data.wake.Wake()

	require.Eventually(t, func() bool {
		return panics.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// AddServer blocks until the worker acks the listener registration,
	// so its success is itself proof the slot was re-spawned: the
	// panicked goroutine is gone, and only a restarted loop can drain
	// the new-handle queue.
	require.NoError(t, ctl.AddServer(ServerOptions{Address: addr}))

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("reborn"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len("reborn"))
	_, err = readFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "reborn", string(buf))
}
