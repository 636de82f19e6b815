package evh

// close.go - connection teardown, both worker-initiated and
// user-requested via WriteHandle.Close.

// closeStream releases a stream's underlying socket. Client-initiated
// streams still have a live net.Conn wrapping the same handle; closing
// through it keeps the runtime's own fd bookkeeping consistent instead
// of double-closing later when the conn is finalized.
func closeStream(s *StreamInfo) {
	if s.Conn != nil {
		_ = s.Conn.Close()
		return
	}
	_ = closeHandle(s.Handle)
}

// scheduleClose marks s for close on the next maybeClose check. It does
// not close the handle immediately: callers may still need to finish
// delivering buffered reads or flushing pending writes first.
func (w *worker) scheduleClose(s *StreamInfo) {
	s.Write.Lock()
	s.Write.set(FlagClose)
	s.Write.Unlock()
}

// maybeClose runs process_close if s is marked for close and has
// nothing left buffered to flush.
func (w *worker) maybeClose(s *StreamInfo) {
	s.Write.Lock()
	wantClose := s.Write.has(FlagClose)
	drained := len(s.Write.buffer) == 0
	s.Write.Unlock()
	if wantClose && drained {
		w.processClose(s)
	}
}

// processClose is the full, idempotent teardown sequence for one
// stream, in order: set CLOSE and drop the write buffer, TLS session
// teardown, hashtable removal, slab chain free, handle close, and
// finally on_close dispatch.
func (w *worker) processClose(s *StreamInfo) {
	if s.closed {
		return
	}
	s.closed = true

	s.Write.Lock()
	s.Write.set(FlagClose)
	s.Write.buffer = nil
	s.Write.Unlock()

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

	w.ctx.lastProcessType = processOnClose
	w.ctx.lastStreamID = s.ID
	func() {
		defer w.recoverPanic(processOnClose)
		w.invokeOnClose(s)
	}()
}

func (w *worker) invokeOnClose(s *StreamInfo) {
	cb := w.evh.onClose.Load()
	if cb == nil {
		return
	}
	cd := &ConnectionData{worker: w, stream: s}
	att := resolvedAttachment(s, w.ctx.listenersByID)
	if err := (*cb)(cd, ThreadContext{WorkerID: w.id}, att); err != nil {
		w.evh.cfg.Logger.Log(LevelWarn, "on_close callback error", F("err", err))
	}
}
