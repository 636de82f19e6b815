//go:build windows

package evh

// Windows has no anonymous-pipe equivalent that WSAPoll can watch
// directly, so the wakeup pipe is emulated with a connected loopback
// TCP socket pair, set non-blocking — the same technique libuv uses on
// Windows for its self-pipe trick.

import (
	"net"
	"sync"
)

// pinnedWakeupConns keeps the net.Conn pair behind each wakeup handle
// reachable: the runtime would otherwise finalize the conns and close
// the sockets out from under us once they leave newWakeupPipe's scope.
var pinnedWakeupConns struct {
	sync.Mutex
	m map[Handle][2]net.Conn
}

func pinWakeupConns(reader Handle, a, b net.Conn) {
	pinnedWakeupConns.Lock()
	if pinnedWakeupConns.m == nil {
		pinnedWakeupConns.m = make(map[Handle][2]net.Conn)
	}
	pinnedWakeupConns.m[reader] = [2]net.Conn{a, b}
	pinnedWakeupConns.Unlock()
}

func unpinWakeupConns(reader Handle) (conns [2]net.Conn, ok bool) {
	pinnedWakeupConns.Lock()
	conns, ok = pinnedWakeupConns.m[reader]
	delete(pinnedWakeupConns.m, reader)
	pinnedWakeupConns.Unlock()
	return conns, ok
}

func newWakeupPipe() (reader, writer Handle, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	defer ln.Close()

	acceptErrCh := make(chan error, 1)
	var serverConn net.Conn
	go func() {
		c, acceptErr := ln.Accept()
		serverConn = c
		acceptErrCh <- acceptErr
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	if acceptErr := <-acceptErrCh; acceptErr != nil {
		clientConn.Close()
		return InvalidHandle, InvalidHandle, acceptErr
	}

	readerHandle, err := rawHandle(serverConn.(*net.TCPConn))
	if err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	writerHandle, err := rawHandle(clientConn.(*net.TCPConn))
	if err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	if err := setNonBlocking(readerHandle); err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	if err := setNonBlocking(writerHandle); err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	pinWakeupConns(readerHandle, serverConn, clientConn)
	return readerHandle, writerHandle, nil
}

func drainWakeupPipe(reader Handle) {
	var buf [64]byte
	for {
		n, err := readHandle(reader, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func writeWakeupByte(writer Handle) error {
	_, err := writeHandle(writer, []byte{1})
	if err != nil && isWouldBlock(err) {
		return nil
	}
	return err
}

func closeWakeupPipe(reader, writer Handle) error {
	if conns, ok := unpinWakeupConns(reader); ok {
		// Closing through the net.Conns releases both the sockets and
		// the runtime's own bookkeeping for them.
		err1 := conns[0].Close()
		err2 := conns[1].Close()
		if err1 != nil {
			return err1
		}
		return err2
	}
	err1 := closeHandle(reader)
	err2 := closeHandle(writer)
	if err1 != nil {
		return err1
	}
	return err2
}
