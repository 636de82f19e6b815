package evh

// wakeup.go - per-worker self-pipe used to interrupt a blocked selector.
//
// Correctness requirement: no lost wakeup. Two booleans under one mutex
// track "a wakeup is needed" (the worker is about to block) and "a
// wakeup was requested" (someone called Wakeup concurrently). The lock
// acquisition order here is the only place these two flags are touched,
// so there is nothing to document beyond "always under wakeup.mu".

import "sync"

// wakeup is a one-directional self-pipe per worker.
type wakeup struct {
	mu        sync.Mutex
	needed    bool
	requested bool

	reader Handle
	writer Handle
}

// newWakeup creates the platform pipe pair and returns a ready-to-use
// wakeup. The reader end must be registered read-interest with the
// worker's selector by the caller.
func newWakeup() (*wakeup, error) {
	r, w, err := newWakeupPipe()
	if err != nil {
		return nil, err
	}
	return &wakeup{reader: r, writer: w}, nil
}

// Reader returns the handle the worker registers for read-interest.
func (w *wakeup) Reader() Handle { return w.reader }

// PreBlock marks "a wakeup is needed" and reports whether one was
// already requested concurrently, in which case the caller must not
// block.
func (w *wakeup) PreBlock() (alreadyRequested bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.needed = true
	return w.requested
}

// PostBlock clears both flags and drains every pending byte from the
// reader end. Safe to call even if no byte is pending (would-block on
// the drain read is ignored).
func (w *wakeup) PostBlock() {
	w.mu.Lock()
	w.needed = false
	w.requested = false
	w.mu.Unlock()
	drainWakeupPipe(w.reader)
}

// Wake writes exactly one byte to the writer end iff a wakeup is both
// requested and needed, coalescing concurrent callers into a single
// byte.
func (w *wakeup) Wake() error {
	w.mu.Lock()
	alreadyRequested := w.requested
	w.requested = true
	needed := w.needed
	w.mu.Unlock()
	if !needed || alreadyRequested {
		return nil
	}
	return writeWakeupByte(w.writer)
}

// Close releases both pipe endpoints.
func (w *wakeup) Close() error {
	return closeWakeupPipe(w.reader, w.writer)
}
