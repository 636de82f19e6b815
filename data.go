package evh

// data.go - EventHandlerData, the per-worker state shared with the
// outside world: new-handle queue, write-request queue, stop/stopped
// flags, and the worker's Wakeup.

import (
	"sync"
	"sync/atomic"
)

// eventHandlerData is the cross-thread-visible half of a worker's
// state. Multi-writer via exclusive lock: external controllers and the
// owning worker both write it.
type eventHandlerData struct {
	mu sync.Mutex

	newHandles  []*ConnectionInfo
	writeQueue  []ConnectionID
	maxNewQueue int
	maxWriteQ   int

	stop    atomic.Bool
	stopped atomic.Bool

	wake *wakeup

	// Debug toggles. Test-only; never read outside the
	// single conditional each guards. DebugPanicLoop panics in the
	// worker loop proper — outside every per-callback recover — to
	// exercise the supervisor restart path.
	DebugPending    atomic.Bool
	DebugWriteError atomic.Bool
	DebugPanicLoop  atomic.Bool
}

func newEventHandlerData(cfg Config) (*eventHandlerData, error) {
	w, err := newWakeup()
	if err != nil {
		return nil, err
	}
	return &eventHandlerData{
		maxNewQueue: cfg.NewHandleQueueSize,
		maxWriteQ:   cfg.WriteQueueSize,
		wake:        w,
	}, nil
}

// enqueueNewHandle pushes a ConnectionInfo onto the new-handle queue
// and wakes the worker.
func (d *eventHandlerData) enqueueNewHandle(info *ConnectionInfo) error {
	d.mu.Lock()
	if len(d.newHandles) >= d.maxNewQueue {
		d.mu.Unlock()
		return &CapacityError{Resource: "new_handle_queue"}
	}
	d.newHandles = append(d.newHandles, info)
	d.mu.Unlock()
	return d.wake.Wake()
}

// drainNewHandles removes and returns every queued ConnectionInfo.
func (d *eventHandlerData) drainNewHandles() []*ConnectionInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.newHandles) == 0 {
		return nil
	}
	out := d.newHandles
	d.newHandles = nil
	return out
}

// enqueueWrite pushes a stream id onto the write queue and wakes the
// worker.
func (d *eventHandlerData) enqueueWrite(id ConnectionID) error {
	d.mu.Lock()
	if len(d.writeQueue) >= d.maxWriteQ {
		d.mu.Unlock()
		return &CapacityError{Resource: "write_queue"}
	}
	d.writeQueue = append(d.writeQueue, id)
	d.mu.Unlock()
	return d.wake.Wake()
}

// drainWriteQueue removes and returns every queued stream id.
func (d *eventHandlerData) drainWriteQueue() []ConnectionID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.writeQueue) == 0 {
		return nil
	}
	out := d.writeQueue
	d.writeQueue = nil
	return out
}

// requestStop sets the stop flag and wakes the worker so a blocked
// selector notices the shutdown promptly.
func (d *eventHandlerData) requestStop() {
	d.stop.Store(true)
	_ = d.wake.Wake()
}

func (d *eventHandlerData) stopRequested() bool { return d.stop.Load() }
func (d *eventHandlerData) markStopped()        { d.stopped.Store(true) }
func (d *eventHandlerData) isStopped() bool     { return d.stopped.Load() }
