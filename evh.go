package evh

// evh.go - the top-level EVH handle: construction, callback
// registration, and the supervised worker pool.

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// OnReadFunc is invoked once per iteration that delivered new bytes to
// a stream's slab chain, and once more, with no new bytes, whenever a
// TriggerOnReadWhenDrained request fires.
type OnReadFunc func(conn *ConnectionData, tid ThreadContext, attachment Attachment) error

// OnAcceptFunc is invoked for a newly accepted stream on its owning
// worker, before the stream is inserted into that worker's hashtables.
type OnAcceptFunc func(conn *ConnectionData, tid ThreadContext, attachment Attachment) error

// OnCloseFunc is invoked exactly once per stream, regardless of which
// path triggered the close.
type OnCloseFunc func(conn *ConnectionData, tid ThreadContext, attachment Attachment) error

// HousekeeperFunc runs on every worker roughly every
// HousekeepingFrequencyMillis.
type HousekeeperFunc func(tid ThreadContext) error

// OnPanicFunc receives the payload of any panic recovered from a
// user callback, or from the worker loop itself before the worker is
// restarted.
type OnPanicFunc func(*PanicError)

// EVH is a running (or not-yet-started) event handler: a fixed pool of
// worker goroutines, each with its own selector, slab pool, and
// hashtables.
type EVH struct {
	cfg Config

	onRead      atomic.Pointer[OnReadFunc]
	onAccept    atomic.Pointer[OnAcceptFunc]
	onClose     atomic.Pointer[OnCloseFunc]
	onPanic     atomic.Pointer[OnPanicFunc]
	housekeeper atomic.Pointer[HousekeeperFunc]

	mu      sync.Mutex
	workers []*worker
	running bool
	wg      sync.WaitGroup
}

// New validates cfg (applying defaults for zero fields) and builds an
// EVH. No worker goroutines run until Start.
func New(cfg Config) (*EVH, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &EVH{cfg: cfg}, nil
}

func (e *EVH) SetOnRead(cb OnReadFunc)           { e.onRead.Store(&cb) }
func (e *EVH) SetOnAccept(cb OnAcceptFunc)       { e.onAccept.Store(&cb) }
func (e *EVH) SetOnClose(cb OnCloseFunc)         { e.onClose.Store(&cb) }
func (e *EVH) SetHousekeeper(cb HousekeeperFunc) { e.housekeeper.Store(&cb) }
func (e *EVH) SetOnPanic(cb OnPanicFunc)         { e.onPanic.Store(&cb) }

// Start builds cfg.Threads workers and launches one supervised
// goroutine per worker.
func (e *EVH) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}

	workers := make([]*worker, e.cfg.Threads)
	for i := range workers {
		w, err := newWorker(i, e)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = workers[j].ctx.sel.close()
				_ = workers[j].data.wake.Close()
			}
			return err
		}
		workers[i] = w
	}
	e.workers = workers
	e.running = true

	for _, w := range e.workers {
		e.wg.Add(1)
		go e.superviseWorker(w)
	}
	return nil
}

// superviseWorker runs w.run() in a loop, restarting it with
// isRestart = true if the run call panics in a way that escaped the
// per-callback recover boundary.
func (e *EVH) superviseWorker(w *worker) {
	defer e.wg.Done()
	for {
		crashed := e.runOnce(w)
		if !crashed {
			return
		}
		w.isRestart = true
	}
}

func (e *EVH) runOnce(w *worker) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			pe := &PanicError{Value: r, Stack: debug.Stack(), Worker: w.id}
			e.cfg.Logger.Log(LevelError, "worker crashed, restarting", F("worker", w.id), F("err", pe))
			if cb := e.onPanic.Load(); cb != nil {
				func() {
					defer func() { recover() }()
					(*cb)(pe)
				}()
			}
		}
	}()
	w.run()
	return false
}

// Stop sets the stop flag on every worker's data slot, wakes them all,
// and blocks until each has finished teardown and marked itself
// stopped.
func (e *EVH) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	for _, w := range e.workers {
		w.data.requestStop()
	}
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return nil
}

// Controller returns the handle external callers use to add servers
// and clients.
func (e *EVH) Controller() *Controller {
	return &Controller{evh: e}
}
