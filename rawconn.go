package evh

// rawconn.go - extracting the raw OS handle out of a net.Conn/net.Listener
// so the read/write/accept paths can drive non-blocking syscalls
// directly instead of going through net.Conn's blocking Read/Write.

import "syscall"

// rawHandle returns the underlying file descriptor/socket of any value
// implementing syscall.Conn (net.TCPConn, net.TCPListener, ...).
func rawHandle(c syscall.Conn) (Handle, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return InvalidHandle, err
	}
	var h Handle
	var ctrlErr error
	err = rc.Control(func(fd uintptr) {
		h = Handle(fd)
	})
	if err != nil {
		return InvalidHandle, err
	}
	return h, ctrlErr
}
