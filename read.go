package evh

// read.go - stream read path, plain and TLS.

func (w *worker) freeChain(s *StreamInfo) {
	id := s.FirstSlab
	for id != invalidSlabID {
		next := w.ctx.slabs.NextID(id)
		w.ctx.slabs.Free(id)
		id = next
	}
	s.FirstSlab = invalidSlabID
	s.LastSlab = invalidSlabID
	s.SlabOffset = 0
}

// ensureTailSlab guarantees the chain has a writable tail slab.
func (w *worker) ensureTailSlab(s *StreamInfo) error {
	payload := w.ctx.slabs.PayloadSize()
	if s.LastSlab == invalidSlabID {
		id, err := w.ctx.slabs.Allocate()
		if err != nil {
			return err
		}
		s.FirstSlab = id
		s.LastSlab = id
		s.SlabOffset = 0
		return nil
	}
	if s.SlabOffset == payload {
		id, err := w.ctx.slabs.Allocate()
		if err != nil {
			return err
		}
		w.ctx.slabs.LinkTo(s.LastSlab, id)
		s.LastSlab = id
		s.SlabOffset = 0
	}
	return nil
}

// appendToChain copies src into the tail slab, allocating additional
// slabs as needed. Shared by the TLS plaintext-extraction path and any
// other producer that fills the chain from an existing buffer; the
// chain advancement rules are identical to the plain read path's.
func (w *worker) appendToChain(s *StreamInfo, src []byte) (int, error) {
	total := 0
	payload := w.ctx.slabs.PayloadSize()
	for len(src) > 0 {
		if err := w.ensureTailSlab(s); err != nil {
			return total, err
		}
		room := payload - s.SlabOffset
		n := len(src)
		if n > room {
			n = room
		}
		tail := w.ctx.slabs.GetMut(s.LastSlab)
		copy(tail[s.SlabOffset:], src[:n])
		s.SlabOffset += n
		total += n
		src = src[n:]
	}
	return total, nil
}

// handleRead is the worker's response to a Read event on a stream's
// handle.
func (w *worker) handleRead(s *StreamInfo) {
	if s.closed {
		return
	}
	w.ctx.lastProcessType = processOnRead
	w.ctx.lastStreamID = s.ID
	defer w.recoverPanic(processOnRead)

	if pump := s.tlsPump(); pump != nil {
		w.handleTLSRead(s, pump)
		return
	}
	w.handlePlainRead(s)
}

func (w *worker) handlePlainRead(s *StreamInfo) {
	total := 0
	rearm := false
	for {
		if err := w.ensureTailSlab(s); err != nil {
			// Slab exhaustion: abandon the new bytes, mark for close,
			// proceed with what was already delivered.
			w.scheduleClose(s)
			break
		}
		// Read straight into the tail slab's payload region, no
		// intermediate scratch copy.
		payload := w.ctx.slabs.PayloadSize()
		room := payload - s.SlabOffset
		tail := w.ctx.slabs.GetMut(s.LastSlab)
		n, err := readHandle(s.Handle, tail[s.SlabOffset:payload])
		if n > 0 {
			s.SlabOffset += n
			total += n
		}
		if err != nil {
			if isWouldBlock(err) {
				rearm = true
				break
			}
			// Non-would-block error closes.
			w.scheduleClose(s)
			break
		}
		if n == 0 {
			// Remote close.
			w.scheduleClose(s)
			break
		}
		if n < room {
			rearm = true // short read: the socket is drained for now
			break
		}
	}

	if total > 0 && !s.closed {
		w.invokeOnRead(s)
	}
	w.maybeClose(s)

	// Re-arm for one-shot Read under the edge-triggered regimes. Only
	// after maybeClose has had a chance to tear the
	// stream down, and only if it's still alive: staging this before a
	// close that actually runs would replay a registration against an
	// already-closed (possibly reused) handle.
	if rearm && !s.closed {
		w.ctx.submitEventIn(EventIn{Handle: s.Handle, Kind: EventInRead})
	}
}

func (w *worker) handleTLSRead(s *StreamInfo, pump *tlsPump) {
	if w.tlsScratch == nil {
		w.tlsScratch = make([]byte, tlsReadChunk)
	}
	scratch := w.tlsScratch
	rearm := false
	for {
		n, err := readHandle(s.Handle, scratch)
		if n > 0 {
			pump.FeedCiphertext(scratch[:n])
		}
		if err != nil {
			if isWouldBlock(err) {
				rearm = true
				break
			}
			w.scheduleClose(s)
			break
		}
		if n == 0 {
			w.scheduleClose(s)
			break
		}
	}

	plaintext, tlsClosed := pump.DrainPlaintext()
	if tlsClosed {
		w.scheduleClose(s)
	}
	if len(plaintext) > 0 {
		if _, err := w.appendToChain(s, plaintext); err != nil {
			w.scheduleClose(s)
		} else if !s.closed {
			w.invokeOnRead(s)
		}
	}

	// Forward any outbound handshake/alert bytes the session produced
	// via the write path.
	outChunks, _ := pump.DrainCiphertextOut()
	for _, chunk := range outChunks {
		w.writeRaw(s, chunk)
	}

	w.maybeClose(s)

	// As in the plain path: stage the re-arm only once we know the
	// stream survived this dispatch, so a stale registration is never
	// replayed against a handle maybeClose already closed.
	if rearm && !s.closed {
		w.ctx.submitEventIn(EventIn{Handle: s.Handle, Kind: EventInRead})
	}
}

// invokeOnRead builds the ConnectionData facade and calls the
// registered on_read callback.
func (w *worker) invokeOnRead(s *StreamInfo) {
	cb := w.evh.onRead.Load()
	if cb == nil {
		return
	}
	cd := &ConnectionData{worker: w, stream: s}
	att := resolvedAttachment(s, w.ctx.listenersByID)
	if err := (*cb)(cd, ThreadContext{WorkerID: w.id}, att); err != nil {
		w.evh.cfg.Logger.Log(LevelWarn, "on_read callback error", F("err", err))
	}
}
