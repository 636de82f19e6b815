package evh

// accept.go - the listener accept loop, reuse-port direct registration
// vs. cross-worker handoff, and TLS server session construction.

import (
	"math/rand"
	"time"
)

const readyPollInterval = time.Millisecond

// acceptLoop is the worker's response to a Read event on a listener's
// handle.
func (w *worker) acceptLoop(l *ListenerInfo) {
	for {
		// Reuse-port listeners poll Ready for up to ~10ms before
		// invoking accept, to avoid racing the other workers' own
		// reuse-port registration on the same address.
		if l.ReusePort && !w.waitForReady(l) {
			break
		}

		nh, err := acceptHandle(l.Handle)
		if err != nil {
			if err == ErrWouldBlock {
				break
			}
			w.evh.cfg.Logger.Log(LevelWarn, "accept failed", F("worker", w.id), F("err", err))
			break
		}

		w.ctx.lastProcessType = processOnAccept
		w.ctx.lastAcceptHandle = nh
		if !w.acceptOne(l, nh) {
			continue
		}
	}

	// Re-arm the listener for the next Read event.
	w.ctx.submitEventIn(EventIn{Handle: l.Handle, Kind: EventInRead})
}

// waitForReady polls ListenerInfo.Ready for up to ~10ms.
func (w *worker) waitForReady(l *ListenerInfo) bool {
	deadline := time.Now().Add(10 * time.Millisecond)
	for !l.Ready.get() {
		if time.Now().After(deadline) {
			return l.Ready.get()
		}
		time.Sleep(readyPollInterval)
	}
	return true
}

// acceptOne builds the Stream record for one accepted handle and
// either registers it locally (reuse-port) or hands it off to a
// randomly chosen sibling worker. It returns true on every path: each
// failure is handled here by closing the accepted handle, and the
// accept loop goes on to the next accept.
func (w *worker) acceptOne(l *ListenerInfo, nh Handle) bool {
	s := &StreamInfo{
		ID:           newConnectionID(),
		Handle:       nh,
		AcceptHandle: l.Handle,
		AcceptID:     l.ID,
		HasAcceptID:  true,
		IsAccepted:   true,
		Write:        NewWriteState(),
		FirstSlab:    invalidSlabID,
		LastSlab:     invalidSlabID,
	}

	if l.TLSConfig != nil {
		sess := newTLSServerSession(l.TLSConfig)
		s.TLSServer = sess
	}

	if l.ReusePort {
		// on_accept runs before the stream is inserted into any table,
		// same as the handed-off path in drainNewHandles: a panic here
		// has nothing to compensate by id, only the accept handle cached
		// in acceptLoop.
		panicked := false
		func() {
			defer func() {
				if r := recover(); r != nil {
					panicked = true
					w.handleRecoveredPanic(r, processOnAccept)
				}
			}()
			w.invokeOnAccept(s, l)
		}()
		if panicked {
			// Compensation closed the handle; the pump is ours to stop.
			if s.TLSServer != nil {
				s.TLSServer.Close()
			}
			return true
		}
		// The handle is about to become table-resident; drop the cached
		// copy so a later escaped panic can't compensate against a live
		// stream's fd.
		w.ctx.lastAcceptHandle = InvalidHandle
		if err := w.ctx.register(&ConnectionInfo{Stream: s}); err != nil {
			w.evh.cfg.Logger.Log(LevelWarn, "accept registration failed", F("err", err))
			if s.TLSServer != nil {
				s.TLSServer.Close()
			}
			closeHandle(nh)
			return true
		}
		w.ctx.submitEventIn(EventIn{Handle: nh, Kind: EventInRead})
		w.attachTLSNotify(s)
		return true
	}

	target := rand.Intn(w.evh.cfg.Threads)
	if err := w.evh.workers[target].data.enqueueNewHandle(&ConnectionInfo{Stream: s}); err != nil {
		w.evh.cfg.Logger.Log(LevelWarn, "accept handoff failed", F("err", err))
		if s.TLSServer != nil {
			s.TLSServer.Close()
		}
		closeHandle(nh)
	}
	return true
}

func (w *worker) invokeOnAccept(s *StreamInfo, l *ListenerInfo) {
	cb := w.evh.onAccept.Load()
	if cb == nil {
		return
	}
	cd := &ConnectionData{worker: w, stream: s}
	att := resolvedAttachment(s, w.ctx.listenersByID)
	if err := (*cb)(cd, ThreadContext{WorkerID: w.id}, att); err != nil {
		w.evh.cfg.Logger.Log(LevelWarn, "on_accept callback error", F("err", err))
	}
}
