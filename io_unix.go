//go:build linux || darwin

package evh

// io_unix.go - raw non-blocking socket primitives shared by the
// read/write/accept paths.

import "golang.org/x/sys/unix"

func setNonBlocking(h Handle) error {
	return unix.SetNonblock(int(h), true)
}

func setBlockingMode(h Handle) error {
	return unix.SetNonblock(int(h), false)
}

func readHandle(h Handle, buf []byte) (int, error) {
	return unix.Read(int(h), buf)
}

func writeHandle(h Handle, buf []byte) (int, error) {
	return unix.Write(int(h), buf)
}

func closeHandle(h Handle) error {
	return unix.Close(int(h))
}

// acceptHandle accepts one connection off listener, returning
// ErrWouldBlock when the accept syscall would block.
func acceptHandle(listener Handle) (Handle, error) {
	nfd, _, err := unix.Accept(int(listener))
	if err != nil {
		if isWouldBlock(err) {
			return InvalidHandle, ErrWouldBlock
		}
		return InvalidHandle, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return InvalidHandle, err
	}
	return Handle(nfd), nil
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
