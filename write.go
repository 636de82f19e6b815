package evh

// write.go - the write core and event-driven flush path.
//
// Two entry points feed the same buffer: WriteHandle.Write (called by
// user code, any goroutine) writes a plain stream's data to the socket
// at once when nothing is pending, buffers what the socket refused,
// and enqueues the stream id only when PENDING becomes set; for a TLS
// stream it hands the data to the pump and enqueues the stream id.
// handleWrite (called by the worker loop on a Write-ready event)
// drains whatever ciphertext a TLS pump has produced and attempts to
// push the buffer to the socket.

// appendWriteBuffer appends raw bytes (already ciphertext, for TLS
// streams) to the stream's pending write buffer and marks it pending.
// Caller must hold s.Write's lock.
func appendWriteBuffer(ws *WriteState, b []byte) {
	ws.buffer = append(ws.buffer, b...)
	ws.set(FlagPending)
}

// writeRaw is the shared helper used by the read path to forward
// TLS handshake/alert bytes produced as a side effect of feeding
// ciphertext in, and by handleWrite's own
// ciphertext-out draining.
func (w *worker) writeRaw(s *StreamInfo, b []byte) {
	s.Write.Lock()
	appendWriteBuffer(s.Write, b)
	s.Write.Unlock()
	_ = w.flushStream(s)
}

// handleWrite responds to a Write-ready event on s's handle. For a
// TLS stream this is also where pump output produced after the last
// socket event gets picked up: the pump's notify hook lands the stream
// on the write queue, which arms Write interest, which lands here.
func (w *worker) handleWrite(s *StreamInfo) {
	if s.closed {
		return
	}
	w.ctx.lastProcessType = processOnRead
	w.ctx.lastStreamID = s.ID
	defer w.recoverPanic(processOnRead)

	if pump := s.tlsPump(); pump != nil {
		w.drainTLSOut(s, pump)
		w.drainTLSPlaintext(s, pump)
		if s.closed {
			return
		}
	}
	_ = w.flushStream(s)
	w.maybeClose(s)
}

func (w *worker) drainTLSOut(s *StreamInfo, pump *tlsPump) {
	chunks, closed := pump.DrainCiphertextOut()
	if len(chunks) > 0 {
		s.Write.Lock()
		for _, c := range chunks {
			appendWriteBuffer(s.Write, c)
		}
		s.Write.Unlock()
	}
	if closed {
		w.scheduleClose(s)
	}
}

// drainTLSPlaintext moves any decrypted bytes the pump has produced
// into the stream's slab chain and delivers them, using the same chain
// advancement rules as the plain read path.
func (w *worker) drainTLSPlaintext(s *StreamInfo, pump *tlsPump) {
	plaintext, closed := pump.DrainPlaintext()
	if closed {
		w.scheduleClose(s)
	}
	if len(plaintext) == 0 {
		return
	}
	if _, err := w.appendToChain(s, plaintext); err != nil {
		w.scheduleClose(s)
		w.maybeClose(s)
		return
	}
	if !s.closed {
		w.invokeOnRead(s)
	}
}

// flushStream writes as much of the pending buffer as the socket will
// currently accept, re-arming the selector
// appropriately and running the trigger-on-read/close follow-up once
// the buffer is fully drained.
func (w *worker) flushStream(s *StreamInfo) error {
	for {
		s.Write.Lock()
		if len(s.Write.buffer) == 0 {
			s.Write.Unlock()
			break
		}
		chunk := s.Write.buffer
		s.Write.Unlock()

		// Debug toggles: test-only knobs to exercise the
		// queue-then-flush and write-error paths deterministically.
		if w.data.DebugWriteError.CompareAndSwap(true, false) {
			w.scheduleClose(s)
			return ErrWriteFailed
		}
		if w.data.DebugPending.Load() {
			w.ctx.submitEventIn(EventIn{Handle: s.Handle, Kind: EventInWrite})
			return nil
		}

		n, err := writeHandle(s.Handle, chunk)
		if n > 0 {
			s.Write.Lock()
			s.Write.buffer = s.Write.buffer[n:]
			s.Write.Unlock()
		}
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			w.scheduleClose(s)
			return err
		}
		if n == 0 {
			break
		}
	}

	s.Write.Lock()
	drained := len(s.Write.buffer) == 0
	trigger := drained && s.Write.has(FlagTriggerOnRead)
	if drained {
		s.Write.clear(FlagPending)
		s.Write.clear(FlagTriggerOnRead)
	}
	closing := s.Write.has(FlagClose)
	s.Write.Unlock()

	if trigger && !s.closed {
		w.invokeOnRead(s)
	}
	if closing && drained {
		w.processClose(s)
		return nil
	}
	// Re-arm only streams that survived: a staged registration for a
	// handle processClose already closed could land on a reused fd.
	if drained {
		w.ctx.submitEventIn(EventIn{Handle: s.Handle, Kind: EventInRead})
	} else {
		w.ctx.submitEventIn(EventIn{Handle: s.Handle, Kind: EventInWrite})
	}
	return nil
}
