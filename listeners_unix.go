//go:build linux || darwin

package evh

// listeners_unix.go - raw socket/bind/listen.
//
// Built directly on unix.Socket/Bind/Listen rather than net.Listen: the
// EVH drives accept() itself via acceptHandle (io_unix.go) and must own
// the fd outright. Wrapping a net.Listener and reaching into it with
// SyscallConn would leave its finalizer racing our own close, so we
// never construct one.

import (
	"net"

	"golang.org/x/sys/unix"
)

func resolveTCP4(address string) (ip [4]byte, port int, err error) {
	addr, err := net.ResolveTCPAddr("tcp4", address)
	if err != nil {
		return ip, 0, err
	}
	v4 := addr.IP.To4()
	if v4 == nil {
		// Unspecified host ("": "" port) resolves to 0.0.0.0.
		return ip, addr.Port, nil
	}
	copy(ip[:], v4)
	return ip, addr.Port, nil
}

func bindListenSocket(address string, backlog int, reusePort bool) (Handle, error) {
	ip, port, err := resolveTCP4(address)
	if err != nil {
		return InvalidHandle, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return InvalidHandle, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return InvalidHandle, err
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return InvalidHandle, err
		}
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return InvalidHandle, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return InvalidHandle, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return InvalidHandle, err
	}
	return Handle(fd), nil
}

func bindListen(address string, backlog int) (Handle, error) {
	return bindListenSocket(address, backlog, false)
}

func bindListenReusePort(address string, backlog int) (Handle, error) {
	return bindListenSocket(address, backlog, true)
}
