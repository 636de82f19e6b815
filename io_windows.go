//go:build windows

package evh

// io_windows.go - raw non-blocking socket primitives shared by the
// read/write/accept paths.
//
// golang.org/x/sys/windows wraps the overlapped (IOCP-oriented) half of
// Winsock but not the plain non-blocking half: there is no recv, send,
// accept, ioctlsocket, or WSAPoll in its exported surface (its Accept
// is a stub returning EWINDOWS). Those entry points are loaded from
// ws2_32.dll directly, the same way x/sys itself binds every other
// system call.

import (
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modws2_32       = windows.NewLazySystemDLL("ws2_32.dll")
	procrecv        = modws2_32.NewProc("recv")
	procsend        = modws2_32.NewProc("send")
	procaccept      = modws2_32.NewProc("accept")
	procioctlsocket = modws2_32.NewProc("ioctlsocket")
	procWSAPoll     = modws2_32.NewProc("WSAPoll")
)

// fionbio is the ioctlsocket command toggling non-blocking mode.
const fionbio = 0x8004667e

const invalidSocket = ^uintptr(0)

var winsockOnce sync.Once

// initWinsock makes sure WS2_32 is initialized before the first raw
// call. The net package does this too, but nothing guarantees a caller
// touched net first.
func initWinsock() {
	winsockOnce.Do(func() {
		var d windows.WSAData
		_ = windows.WSAStartup(uint32(0x202), &d)
	})
}

// sockErr normalizes the errno a ws2_32 proc call left behind.
// WSAGetLastError and GetLastError share storage, so the Call-captured
// errno is the Winsock error.
func sockErr(e error) error {
	if errno, ok := e.(syscall.Errno); ok && errno != 0 {
		return errno
	}
	return syscall.EINVAL
}

func ioctlSocket(h Handle, cmd uint32, arg *uint32) error {
	initWinsock()
	r1, _, e1 := procioctlsocket.Call(uintptr(h), uintptr(cmd), uintptr(unsafe.Pointer(arg)))
	if int32(r1) != 0 {
		return sockErr(e1)
	}
	return nil
}

func setNonBlocking(h Handle) error {
	var mode uint32 = 1
	return ioctlSocket(h, fionbio, &mode)
}

func setBlockingMode(h Handle) error {
	var mode uint32 = 0
	return ioctlSocket(h, fionbio, &mode)
}

func readHandle(h Handle, buf []byte) (int, error) {
	initWinsock()
	var p unsafe.Pointer
	if len(buf) > 0 {
		p = unsafe.Pointer(&buf[0])
	}
	r1, _, e1 := procrecv.Call(uintptr(h), uintptr(p), uintptr(len(buf)), 0)
	n := int(int32(r1))
	if n < 0 {
		return 0, sockErr(e1)
	}
	return n, nil
}

func writeHandle(h Handle, buf []byte) (int, error) {
	initWinsock()
	var p unsafe.Pointer
	if len(buf) > 0 {
		p = unsafe.Pointer(&buf[0])
	}
	r1, _, e1 := procsend.Call(uintptr(h), uintptr(p), uintptr(len(buf)), 0)
	n := int(int32(r1))
	if n < 0 {
		return 0, sockErr(e1)
	}
	return n, nil
}

func closeHandle(h Handle) error {
	return windows.Closesocket(windows.Handle(h))
}

// acceptHandle accepts one connection off listener, returning
// ErrWouldBlock when the accept syscall would block.
func acceptHandle(listener Handle) (Handle, error) {
	initWinsock()
	r1, _, e1 := procaccept.Call(uintptr(listener), 0, 0)
	if r1 == invalidSocket {
		err := sockErr(e1)
		if isWouldBlock(err) {
			return InvalidHandle, ErrWouldBlock
		}
		return InvalidHandle, err
	}
	nh := Handle(r1)
	if err := setNonBlocking(nh); err != nil {
		_ = windows.Closesocket(windows.Handle(nh))
		return InvalidHandle, err
	}
	return nh, nil
}

func isWouldBlock(err error) bool {
	return err == windows.WSAEWOULDBLOCK
}
