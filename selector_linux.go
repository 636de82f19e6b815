//go:build linux

package evh

// selector_linux.go - epoll backend. Edge-triggered with
// one-shot re-arm after every event, per the uniform re-arm contract
// declared in selector.go. Direct small-int indexing into a fixed
// registration table guarded by a mutex; EpollCreate1 / EpollCtl /
// EpollWait via golang.org/x/sys/unix.

import (
	"sync"

	"golang.org/x/sys/unix"
)

const maxDirectFD = 65536

type fdState struct {
	registered bool
	read       bool
	write      bool
}

type linuxSelector struct {
	mu   sync.Mutex
	epfd int
	fds  [maxDirectFD]fdState
	buf  []unix.EpollEvent
}

func newPlatformSelector() selector {
	return &linuxSelector{buf: make([]unix.EpollEvent, 256)}
}

func (s *linuxSelector) init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	s.epfd = fd
	return nil
}

func epollFlags(read, write bool) uint32 {
	var ev uint32 = unix.EPOLLET // edge-triggered, one-shot re-arm discipline
	if read {
		ev |= unix.EPOLLIN
	}
	if write {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (s *linuxSelector) register(h Handle, read, write bool) error {
	fd := int(h)
	if fd < 0 || fd >= maxDirectFD {
		return &CapacityError{Resource: "selector_fd_range"}
	}
	s.mu.Lock()
	st := s.fds[fd]
	s.mu.Unlock()

	ev := &unix.EpollEvent{Events: epollFlags(read, write), Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if !st.registered {
		op = unix.EPOLL_CTL_ADD
	}
	err := unix.EpollCtl(s.epfd, op, fd, ev)
	// The table can drift from the kernel across a close/reuse of the
	// same fd number; fall back to the other op rather than failing the
	// re-arm.
	if err == unix.EEXIST {
		err = unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	} else if err == unix.ENOENT {
		err = unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.fds[fd] = fdState{registered: true, read: read, write: write}
	s.mu.Unlock()
	return nil
}

func (s *linuxSelector) deregister(h Handle) error {
	fd := int(h)
	if fd < 0 || fd >= maxDirectFD {
		return nil
	}
	s.mu.Lock()
	st := s.fds[fd]
	s.fds[fd] = fdState{}
	s.mu.Unlock()
	if !st.registered {
		return nil
	}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (s *linuxSelector) wait(out []Event, timeoutMs int) (int, error) {
	n, err := unix.EpollWait(s.epfd, s.buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for i := 0; i < n && count < len(out); i++ {
		fd := int(s.buf[i].Fd)
		flags := s.buf[i].Events
		s.mu.Lock()
		// Implicit one-shot clear of the interest bits. The fd stays
		// marked registered: the kernel-side epoll entry persists, so
		// the next register call must be a MOD, not an ADD.
		st := s.fds[fd]
		st.read = false
		st.write = false
		s.fds[fd] = st
		s.mu.Unlock()
		switch {
		case flags&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0:
			out[count] = Event{Handle: Handle(fd), Kind: EventKindRead}
			count++
			if flags&unix.EPOLLOUT != 0 && count < len(out) {
				out[count] = Event{Handle: Handle(fd), Kind: EventKindWrite}
				count++
			}
		case flags&unix.EPOLLOUT != 0:
			out[count] = Event{Handle: Handle(fd), Kind: EventKindWrite}
			count++
		}
	}
	return count, nil
}

func (s *linuxSelector) close() error {
	return unix.Close(s.epfd)
}
