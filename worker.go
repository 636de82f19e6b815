package evh

// worker.go - the per-worker event loop.
//
// A single-goroutine-per-slot loop that drains ingress queues, blocks
// in a platform poller with a bounded timeout, then dispatches: one
// mutex per ingress queue, a self-pipe wakeup, a bounded event buffer
// reused every iteration, and panic recovery around the dispatch of
// one event at a time so a single bad callback can't take down
// neighboring connections.

import (
	"time"
)

// worker owns one eventHandlerContext and one eventHandlerData slot and
// drives select -> dispatch -> housekeeping.
type worker struct {
	id        int
	ctx       *eventHandlerContext
	data      *eventHandlerData
	evh       *EVH
	events    []Event
	isRestart bool

	// tlsScratch is the worker-local buffer raw ciphertext is read into
	// before being fed to a stream's TLS session. Lazily sized to one
	// TLS chunk; plain-text-only workers never allocate it.
	tlsScratch []byte
}

func newWorker(id int, evh *EVH) (*worker, error) {
	ctx, err := newEventHandlerContext(id, evh.cfg)
	if err != nil {
		return nil, err
	}
	data, err := newEventHandlerData(evh.cfg)
	if err != nil {
		return nil, err
	}
	if err := ctx.sel.register(data.wake.Reader(), true, false); err != nil {
		return nil, err
	}
	ctx.registered[data.wake.Reader()] = true
	return &worker{
		id:     id,
		ctx:    ctx,
		data:   data,
		evh:    evh,
		events: make([]Event, evh.cfg.MaxEvents),
	}, nil
}

// run is the worker goroutine's entry point. It never returns except on
// shutdown or (from the dispatcher's perspective) on panic, in which
// case the dispatcher re-spawns it with isRestart set.
func (w *worker) run() {
	w.evh.cfg.Logger.Log(LevelInfo, "worker starting", F("worker", w.id), F("restart", w.isRestart))

	if w.isRestart {
		w.compensateAfterPanic()
	}

	for {
		w.drainNewHandles()
		w.drainWriteQueue()

		if w.data.DebugPanicLoop.CompareAndSwap(true, false) {
			// Test hook: a panic here escapes every per-callback recover
			// and must surface to the supervisor, which restarts this
			// worker with isRestart set.
			panic("debug: forced worker loop panic")
		}

		alreadyRequested := w.data.wake.PreBlock()
		timeoutMs := w.selectTimeoutMs()
		if alreadyRequested {
			timeoutMs = 0
		}
		w.ctx.applyEventsIn()

		n, err := w.ctx.sel.wait(w.events, timeoutMs)
		w.data.wake.PostBlock()
		if err != nil {
			w.evh.cfg.Logger.Log(LevelError, "selector wait failed", F("worker", w.id), F("err", err))
			continue
		}

		if w.housekeepingDue() {
			w.runHousekeeper()
		}

		for i := 0; i < n; i++ {
			ev := w.events[i]
			if ev.Handle == w.data.wake.Reader() {
				// Byte already drained by PostBlock; re-arm the reader
				// under the uniform one-shot contract so the next Wake
				// is still observed.
				w.ctx.submitEventIn(EventIn{Handle: ev.Handle, Kind: EventInRead})
				continue
			}
			w.dispatch(ev)
		}

		if w.data.stopRequested() {
			w.teardown()
			return
		}
	}
}

// selectTimeoutMs bounds the selector wait by the housekeeping cadence.
func (w *worker) selectTimeoutMs() int {
	remaining := w.evh.cfg.housekeepingInterval() - time.Since(w.ctx.lastHousekeeping)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Millisecond)
}

func (w *worker) housekeepingDue() bool {
	return time.Since(w.ctx.lastHousekeeping) >= w.evh.cfg.housekeepingInterval()
}

func (w *worker) runHousekeeper() {
	w.ctx.lastHousekeeping = time.Now()
	hk := w.evh.housekeeper.Load()
	if hk == nil {
		return
	}
	w.ctx.lastProcessType = processHousekeeper
	func() {
		defer w.recoverPanic(processHousekeeper)
		if err := (*hk)(ThreadContext{WorkerID: w.id}); err != nil {
			w.evh.cfg.Logger.Log(LevelWarn, "housekeeper error", F("worker", w.id), F("err", err))
		}
	}()
}

// dispatch routes one returned Event to the accept/read/write path.
func (w *worker) dispatch(ev Event) {
	info, ok := w.ctx.lookupByHandle(ev.Handle)
	if !ok {
		return
	}
	if info.Listener != nil {
		w.acceptLoop(info.Listener)
		return
	}
	switch ev.Kind {
	case EventKindRead:
		w.handleRead(info.Stream)
	case EventKindWrite:
		w.handleWrite(info.Stream)
	}
}

// drainNewHandles registers every ConnectionInfo queued since the last
// iteration.
func (w *worker) drainNewHandles() {
	for _, info := range w.data.drainNewHandles() {
		if info.Stream != nil && info.Stream.IsAccepted {
			// A handed-off stream's on_accept fires before it is ever
			// inserted into this worker's hashtables, so a panic here
			// has nothing to compensate by id — invokeOOBAccept caches
			// the raw handle instead. Skip registration entirely if it
			// panicked; compensation already closed the handle.
			if w.invokeOOBAccept(info.Stream) {
				continue
			}
		}
		if err := w.ctx.register(info); err != nil {
			w.evh.cfg.Logger.Log(LevelWarn, "new handle registration failed", F("err", err))
			if info.Stream != nil {
				closeStream(info.Stream)
			} else if info.Listener != nil && info.Listener.Handle.Valid() {
				closeHandle(info.Listener.Handle)
			}
			continue
		}
		h := info.handleOf()
		if info.Listener != nil {
			if info.Listener.ackOnRegister != nil {
				select {
				case info.Listener.ackOnRegister <- struct{}{}:
				default:
				}
			}
			if !h.Valid() {
				// Zero/skip sentinel: the record is in the tables for
				// attachment inheritance, but there is no socket to arm.
				continue
			}
		} else if info.Stream.ackOnRegister != nil {
			select {
			case info.Stream.ackOnRegister <- struct{}{}:
			default:
			}
		}
		w.ctx.submitEventIn(EventIn{Handle: h, Kind: EventInRead})
		if info.Stream != nil {
			w.attachTLSNotify(info.Stream)
			if info.Stream.TLSClient != nil {
				// A client session starts handshaking immediately; arm
				// Write so the ClientHello the pump is producing gets
				// flushed without waiting for a peer that is itself
				// waiting for it.
				w.ctx.submitEventIn(EventIn{Handle: h, Kind: EventInWrite})
			}
		}
	}
}

// attachTLSNotify points a TLS stream's pump at the owning worker's
// write queue, so asynchronously produced handshake/alert/plaintext
// bytes schedule a Write dispatch instead of waiting for the next
// socket event.
func (w *worker) attachTLSNotify(s *StreamInfo) {
	pump := s.tlsPump()
	if pump == nil {
		return
	}
	id := s.ID
	data := w.data
	pump.SetNotify(func() {
		_ = data.enqueueWrite(id)
	})
}

// invokeOOBAccept runs on_accept for a stream handed off from another
// worker, before it is registered into this worker's tables. recover
// only stops a panic when called directly by the deferred function, so
// this cannot simply defer w.recoverPanic like every other dispatch
// site; it recovers locally and forwards to the shared handler.
func (w *worker) invokeOOBAccept(s *StreamInfo) (panicked bool) {
	w.ctx.lastProcessType = processOnAcceptOutOfBand
	w.ctx.lastHandleOOB = s.Handle
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				w.handleRecoveredPanic(r, processOnAcceptOutOfBand)
			}
		}()
		w.invokeOnAccept(s, nil)
	}()
	if !panicked {
		// The handle is about to become table-resident; drop the cached
		// copy so a later escaped panic can't compensate against a live
		// stream's fd.
		w.ctx.lastHandleOOB = InvalidHandle
	}
	return panicked
}

// drainWriteQueue dequeues every pending stream id and translates its
// WriteState flags into EventIn registrations.
func (w *worker) drainWriteQueue() {
	for _, id := range w.data.drainWriteQueue() {
		info, ok := w.ctx.byID[id]
		if !ok || info.Stream == nil {
			continue
		}
		s := info.Stream
		s.Write.Lock()
		suspend := s.Write.has(FlagSuspend)
		resume := s.Write.has(FlagResume)
		if resume {
			s.Write.clear(FlagResume)
		}
		s.Write.Unlock()

		switch {
		case resume:
			w.ctx.submitEventIn(EventIn{Handle: s.Handle, Kind: EventInResume})
			_ = setNonBlocking(s.Handle)
		case suspend:
			w.ctx.submitEventIn(EventIn{Handle: s.Handle, Kind: EventInSuspend})
			_ = setBlockingMode(s.Handle)
		default:
			w.ctx.submitEventIn(EventIn{Handle: s.Handle, Kind: EventInWrite})
		}
		// Re-insert to keep the serialized snapshot consistent.
		w.ctx.byID[id] = info
	}
}

// teardown closes every accepted handle, frees every slab chain, and
// marks the worker stopped.
func (w *worker) teardown() {
	for _, info := range w.ctx.byID {
		if info.Stream != nil {
			if info.Stream.TLSServer != nil {
				info.Stream.TLSServer.Close()
			}
			if info.Stream.TLSClient != nil {
				info.Stream.TLSClient.Close()
			}
			w.freeChain(info.Stream)
			closeStream(info.Stream)
		} else if info.Listener != nil && info.Listener.Handle.Valid() {
			closeHandle(info.Listener.Handle)
		}
	}
	_ = w.ctx.sel.close()
	_ = w.data.wake.Close()
	w.data.markStopped()
	w.evh.cfg.Logger.Log(LevelInfo, "worker stopped", F("worker", w.id))
}
