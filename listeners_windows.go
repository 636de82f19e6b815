//go:build windows

package evh

// listeners_windows.go - raw socket/bind/listen.
//
// Windows has no SO_REUSEPORT; SO_REUSEADDR is the closest analogue.
// It is set on every listener, with or without reusePort, so the
// reusePort flag changes nothing on Windows. The mapping is recorded
// in DESIGN.md.

import (
	"net"

	"golang.org/x/sys/windows"
)

func resolveTCP4(address string) (ip [4]byte, port int, err error) {
	addr, err := net.ResolveTCPAddr("tcp4", address)
	if err != nil {
		return ip, 0, err
	}
	v4 := addr.IP.To4()
	if v4 == nil {
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
	fd, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return InvalidHandle, err
	}
	if err := windows.SetsockoptInt(fd, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		windows.Closesocket(fd)
		return InvalidHandle, err
	}
	sa := &windows.SockaddrInet4{Port: port, Addr: ip}
	if err := windows.Bind(fd, sa); err != nil {
		windows.Closesocket(fd)
		return InvalidHandle, err
	}
	if err := windows.Listen(fd, backlog); err != nil {
		windows.Closesocket(fd)
		return InvalidHandle, err
	}
	if err := setNonBlocking(Handle(fd)); err != nil {
		windows.Closesocket(fd)
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
