package evh

// panic.go - panic isolation and compensating cleanup.
//
// Two layers: a recover boundary around one callback invocation, plus
// an outer supervisor that restarts the goroutine itself if a panic
// somehow escapes that inner boundary (a bug in worker.go's own
// bookkeeping, not a user callback). The inner layer is the common
// case and never tears down the worker; the outer layer exists purely
// as a last line of defense.

import (
	"runtime/debug"
)

// recoverPanic is deferred around exactly one dispatched callback
// invocation. It never re-panics: the affected connection (if any) is
// torn down and the worker loop continues.
func (w *worker) recoverPanic(pt processType) {
	if r := recover(); r != nil {
		w.handleRecoveredPanic(r, pt)
	}
}

// handleRecoveredPanic is the shared logging/notify/compensate body
// behind recoverPanic. It is split out so a call site that must call
// recover() itself (recover only stops a panic when invoked directly
// by the deferred function) can still reuse this logic; see
// worker.go's invokeOOBAccept.
func (w *worker) handleRecoveredPanic(r any, pt processType) {
	pe := &PanicError{Value: r, Stack: debug.Stack(), Worker: w.id}
	w.evh.cfg.Logger.Log(LevelError, "recovered panic", F("worker", w.id), F("process", int(pt)), F("err", pe))

	if cb := w.evh.onPanic.Load(); cb != nil {
		func() {
			defer func() { recover() }() // the panic handler itself must never bring the loop down
			(*cb)(pe)
		}()
	}

	w.compensateForProcess(pt, w.ctx.lastStreamID)
}

// compensateAfterPanic is run once at the top of a restarted worker's
// run loop. It uses the staging
// fields left behind by whatever dispatch was in flight when a panic
// escaped the inner recover boundary.
func (w *worker) compensateAfterPanic() {
	w.evh.cfg.Logger.Log(LevelWarn, "compensating after restart", F("worker", w.id), F("process", int(w.ctx.lastProcessType)))
	w.compensateForProcess(w.ctx.lastProcessType, w.ctx.lastStreamID)
	w.ctx.lastProcessType = processNone
}

// compensateForProcess applies the minimum cleanup implied by pt: any
// state touched by an OnRead/OnClose callback is no longer trustworthy,
// so the safest compensation is to force-close the connection that was
// in flight; the two accept variants run before their stream is
// table-resident, so they close the cached raw handle instead. A
// panicking housekeeper implies no connection-specific cleanup.
func (w *worker) compensateForProcess(pt processType, id ConnectionID) {
	switch pt {
	case processOnRead, processOnClose:
		if info, ok := w.ctx.byID[id]; ok && info.Stream != nil {
			info.Stream.closed = false // force forceClose to run its course
			w.forceClose(info.Stream)
		}
	case processOnAccept:
		// The panicking on_accept ran before the accepted stream was
		// inserted into the hashtables (acceptOne invokes it first), so
		// compensation closes the accept handle cached by acceptLoop
		// directly rather than looking anything up by id.
		if w.ctx.lastAcceptHandle.Valid() {
			closeHandle(w.ctx.lastAcceptHandle)
			w.ctx.lastAcceptHandle = InvalidHandle
		}
	case processOnAcceptOutOfBand:
		// The panic happened before the handed-off stream was inserted
		// into any hashtable, so there is nothing to look up by id here
		// — only the raw handle cached for this purpose.
		if w.ctx.lastHandleOOB.Valid() {
			closeHandle(w.ctx.lastHandleOOB)
			w.ctx.lastHandleOOB = InvalidHandle
		}
	case processHousekeeper, processNone:
		// No connection-specific state to compensate for.
	}
}

// forceClose tears down a stream without invoking on_close, since the
// callback chain is exactly what may have panicked.
func (w *worker) forceClose(s *StreamInfo) {
	if s.closed {
		return
	}
	s.closed = true
	if s.TLSServer != nil {
		s.TLSServer.Close()
	}
	if s.TLSClient != nil {
		s.TLSClient.Close()
	}
	if info, ok := w.ctx.byID[s.ID]; ok {
		w.ctx.remove(info)
	}
	_ = w.ctx.sel.deregister(s.Handle)
	w.freeChain(s)
	closeStream(s)
}
