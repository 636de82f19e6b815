package evh

// writestate.go - per-stream write scratch buffer plus flag bitset.
//
// WriteState is shared by exactly two owners: the Stream record and any
// outstanding WriteHandle. Both hold a
// strong reference to the same *WriteState; writes serialize through
// its mutex. Lock order is WriteState -> EventHandlerData, never the
// reverse.

import "sync"

// WriteFlag is a bit in WriteState.flags.
type WriteFlag uint32

const (
	// FlagPending means the writer has unflushed bytes buffered.
	FlagPending WriteFlag = 1 << iota
	// FlagClose means close has been requested. Sticky: once set, no
	// further transition leaves it unset.
	FlagClose
	// FlagTriggerOnRead requests a synthetic on_read callback once the
	// buffer next drains to empty.
	FlagTriggerOnRead
	// FlagSuspend requests the worker put the socket into blocking mode
	// and stop polling it for read/write readiness.
	FlagSuspend
	// FlagResume requests the inverse of FlagSuspend.
	FlagResume
	// FlagAsync marks a WriteState as belonging to an async write path.
	// No EVH-internal transition consults it; it exists for callers
	// that want to tag a stream's WriteState for their own bookkeeping
	// via Has, same as any other flag bit.
	FlagAsync
)

// WriteState is the per-stream write-side state machine.
type WriteState struct {
	mu     sync.Mutex
	buffer []byte
	flags  WriteFlag
}

// NewWriteState returns an empty, flag-clear WriteState.
func NewWriteState() *WriteState {
	return &WriteState{}
}

// has reports whether all bits in f are set. Caller must hold mu.
func (w *WriteState) has(f WriteFlag) bool { return w.flags&f == f }

// Has reports whether all bits in f are currently set.
func (w *WriteState) Has(f WriteFlag) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.has(f)
}

// set sets bits in f. Caller must hold mu.
func (w *WriteState) set(f WriteFlag) { w.flags |= f }

// clear clears bits in f. Caller must hold mu; refuses to clear
// FlagClose, which is sticky by contract.
func (w *WriteState) clear(f WriteFlag) { w.flags &^= (f &^ FlagClose) }

// Lock acquires the exclusive lock used by both the owning worker and
// any WriteHandle. Exposed so the write
// path (write.go) can hold the lock across a multi-step transition.
func (w *WriteState) Lock()   { w.mu.Lock() }
func (w *WriteState) Unlock() { w.mu.Unlock() }

// BufferLen reports the current buffered byte count under lock.
func (w *WriteState) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}
