//go:build linux || darwin

package evh

import "golang.org/x/sys/unix"

func newWakeupPipe() (reader, writer Handle, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	return Handle(fds[0]), Handle(fds[1]), nil
}

func drainWakeupPipe(reader Handle) {
	var buf [64]byte
	for {
		n, err := unix.Read(int(reader), buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func writeWakeupByte(writer Handle) error {
	_, err := unix.Write(int(writer), []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func closeWakeupPipe(reader, writer Handle) error {
	err1 := unix.Close(int(reader))
	err2 := unix.Close(int(writer))
	if err1 != nil {
		return err1
	}
	return err2
}
