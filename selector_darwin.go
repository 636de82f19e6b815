//go:build darwin

package evh

// selector_darwin.go - kqueue backend.
//
// A dynamically-growable fdState slice (kqueue has no fixed small-int
// requirement the way epoll's direct array does, but growth stays
// bounded), EV_ADD/EV_DELETE kevent changelists, one kevent per
// interest (read, write) so partial re-arm (only read, only write) is
// a delete of the other filter rather than a full re-add.

import (
	"sync"

	"golang.org/x/sys/unix"
)

const maxFDLimit = 100_000_000

type darwinFDState struct {
	registered bool
	read       bool
	write      bool
}

type darwinSelector struct {
	mu  sync.Mutex
	kq  int
	fds []darwinFDState
	buf []unix.Kevent_t
}

func newPlatformSelector() selector {
	return &darwinSelector{buf: make([]unix.Kevent_t, 256)}
}

func (s *darwinSelector) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	s.kq = kq
	s.fds = make([]darwinFDState, 1024)
	return nil
}

func (s *darwinSelector) grow(fd int) {
	if fd < len(s.fds) {
		return
	}
	n := fd*2 + 1
	if n > maxFDLimit {
		n = maxFDLimit + 1
	}
	grown := make([]darwinFDState, n)
	copy(grown, s.fds)
	s.fds = grown
}

func (s *darwinSelector) register(h Handle, read, write bool) error {
	fd := int(h)
	if fd < 0 || fd >= maxFDLimit {
		return &CapacityError{Resource: "selector_fd_range"}
	}
	s.mu.Lock()
	s.grow(fd)
	old := s.fds[fd]
	s.mu.Unlock()

	var changes []unix.Kevent_t
	if old.read && !read {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if old.write && !write {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	if read && !old.read {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	if write && !old.write {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	if len(changes) > 0 {
		if _, err := unix.Kevent(s.kq, changes, nil, nil); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.fds[fd] = darwinFDState{registered: true, read: read, write: write}
	s.mu.Unlock()
	return nil
}

func (s *darwinSelector) deregister(h Handle) error {
	fd := int(h)
	if fd < 0 {
		return nil
	}
	s.mu.Lock()
	if fd >= len(s.fds) || !s.fds[fd].registered {
		s.mu.Unlock()
		return nil
	}
	old := s.fds[fd]
	s.fds[fd] = darwinFDState{}
	s.mu.Unlock()

	var changes []unix.Kevent_t
	if old.read {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if old.write {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	if len(changes) > 0 {
		_, _ = unix.Kevent(s.kq, changes, nil, nil)
	}
	return nil
}

func (s *darwinSelector) wait(out []Event, timeoutMs int) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{Sec: int64(timeoutMs / 1000), Nsec: int64((timeoutMs % 1000) * 1_000_000)}
	}
	n, err := unix.Kevent(s.kq, nil, s.buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for i := 0; i < n && count < len(out); i++ {
		fd := int(s.buf[i].Ident)
		s.mu.Lock()
		if fd < len(s.fds) {
			st := s.fds[fd]
			if s.buf[i].Filter == unix.EVFILT_READ {
				st.read = false
			} else {
				st.write = false
			}
			s.fds[fd] = st
		}
		s.mu.Unlock()
		switch s.buf[i].Filter {
		case unix.EVFILT_READ:
			out[count] = Event{Handle: Handle(fd), Kind: EventKindRead}
			count++
		case unix.EVFILT_WRITE:
			out[count] = Event{Handle: Handle(fd), Kind: EventKindWrite}
			count++
		}
	}
	return count, nil
}

func (s *darwinSelector) close() error {
	return unix.Close(s.kq)
}
