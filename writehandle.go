package evh

// writehandle.go - the public, callback-retainable write/close/suspend
// API for one stream, and the ConnectionData/ThreadContext
// facades handed to user callbacks.

import "fmt"

// ThreadContext identifies which worker a callback is running on.
type ThreadContext struct {
	WorkerID int
}

// Tid returns the owning worker's index, for callbacks that want to
// shard their own side state per worker without locking.
func (t ThreadContext) Tid() int { return t.WorkerID }

// WriteHandle is a capability to write to, suspend, resume, or close
// one stream. It may be retained past the callback that received it
// and used from any goroutine: every method touches the stream's
// WriteState under its lock and enqueues onto the owning worker's
// write queue, both of which are already safe for concurrent,
// cross-thread use. Write additionally writes to the socket (under
// the WriteState lock) or to the stream's TLS pump.
type WriteHandle struct {
	id       ConnectionID
	handle   Handle
	ws       *WriteState
	data     *eventHandlerData
	tls      *tlsPump // nil for a plain-text stream
	maxChunk int
}

func newWriteHandle(s *StreamInfo, data *eventHandlerData, maxChunk int) *WriteHandle {
	return &WriteHandle{
		id:       s.ID,
		handle:   s.Handle,
		ws:       s.Write,
		data:     data,
		tls:      s.tlsPump(),
		maxChunk: maxChunk,
	}
}

// Write sends application data. On a plain stream each chunk goes to
// writeChunk, which writes to the socket at once when nothing is
// pending and buffers the rest for the owning worker to flush; on a
// TLS stream each chunk is handed to the pump for encryption. It
// chunks internally at maxChunk bytes per WriteState critical section,
// so one oversized Write call cannot monopolize the lock.
func (h *WriteHandle) Write(b []byte) (int, error) {
	h.ws.Lock()
	closed := h.ws.has(FlagClose)
	suspended := h.ws.has(FlagSuspend)
	h.ws.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if suspended {
		return 0, ErrSuspended
	}
	if len(b) == 0 {
		// Writing zero bytes is a no-op and never enqueues on the
		// write queue.
		return 0, nil
	}

	total := 0
	enqueue := false
	chunk := h.maxChunk
	if chunk <= 0 {
		chunk = defaultMaxWriteChunk
	}
	for len(b) > 0 {
		n := len(b)
		if n > chunk {
			n = chunk
		}
		if h.tls != nil {
			if _, err := h.tls.WritePlaintext(b[:n]); err != nil {
				return total, fmt.Errorf("evh: tls write: %w", err)
			}
			// Ciphertext surfaces via the pump; the worker drains it on
			// the Write dispatch this call schedules below.
			enqueue = true
		} else {
			transitioned, err := h.writeChunk(b[:n])
			if err != nil {
				return total, err
			}
			if transitioned {
				enqueue = true
			}
		}
		total += n
		b = b[n:]
	}
	if enqueue {
		if err := h.data.enqueueWrite(h.id); err != nil {
			return total, err
		}
	}
	return total, nil
}

// writeChunk is the plain-stream write core: if nothing is pending it
// attempts an immediate non-blocking write, queueing only what the
// socket did not take. Reports whether the pending flag transitioned
// set, i.e. whether the owning worker needs a write-queue entry. The
// syscall happens under the WriteState lock, which serializes it
// against the worker's own flush; the socket is non-blocking, so the
// critical section stays bounded.
func (h *WriteHandle) writeChunk(b []byte) (transitioned bool, err error) {
	h.ws.Lock()
	defer h.ws.Unlock()
	if h.ws.has(FlagPending) {
		appendWriteBuffer(h.ws, b)
		return false, nil
	}
	if h.data.DebugPending.Load() {
		// Test hook: behave as if the immediate attempt would block, so
		// the queue-then-flush path runs deterministically.
		appendWriteBuffer(h.ws, b)
		return true, nil
	}
	wrote := 0
	for wrote < len(b) {
		n, werr := writeHandle(h.handle, b[wrote:])
		if n > 0 {
			wrote += n
		}
		if werr != nil {
			if isWouldBlock(werr) {
				break
			}
			return false, werr
		}
		if n <= 0 {
			break
		}
	}
	if wrote < len(b) {
		appendWriteBuffer(h.ws, b[wrote:])
		return true, nil
	}
	return false, nil
}

// TriggerOnReadWhenDrained arranges for a synthetic on_read invocation
// once the current write buffer fully drains.
func (h *WriteHandle) TriggerOnReadWhenDrained() error {
	h.ws.Lock()
	h.ws.set(FlagTriggerOnRead)
	h.ws.Unlock()
	return h.data.enqueueWrite(h.id)
}

// Suspend asks the owning worker to stop polling this stream for
// read/write readiness and switch its socket to blocking mode, so a
// caller holding the raw handle can do synchronous I/O out-of-band.
// Write calls made while suspended fail with ErrSuspended.
func (h *WriteHandle) Suspend() error {
	h.ws.Lock()
	h.ws.set(FlagSuspend)
	h.ws.clear(FlagResume)
	h.ws.Unlock()
	return h.data.enqueueWrite(h.id)
}

// Resume reverses Suspend.
func (h *WriteHandle) Resume() error {
	h.ws.Lock()
	h.ws.clear(FlagSuspend)
	h.ws.set(FlagResume)
	h.ws.Unlock()
	return h.data.enqueueWrite(h.id)
}

// Close requests the stream be closed once any pending write buffer
// has drained.
func (h *WriteHandle) Close() error {
	h.ws.Lock()
	h.ws.set(FlagClose)
	h.ws.Unlock()
	return h.data.enqueueWrite(h.id)
}

// CloseHandle is a reduced WriteHandle that can only issue
// close. It is handed out for emergency teardown from contexts that
// have no business writing to the stream — e.g. a housekeeper
// sweeping idle connections it tracks by id, or any external code that
// captured a stream's identity without needing a full WriteHandle.
type CloseHandle struct {
	id   ConnectionID
	ws   *WriteState
	data *eventHandlerData
}

func newCloseHandle(s *StreamInfo, data *eventHandlerData) *CloseHandle {
	return &CloseHandle{id: s.ID, ws: s.Write, data: data}
}

// Close requests the stream be closed once any pending write buffer
// has drained. Identical semantics to WriteHandle.Close.
func (h *CloseHandle) Close() error {
	h.ws.Lock()
	h.ws.set(FlagClose)
	h.ws.Unlock()
	return h.data.enqueueWrite(h.id)
}

// ConnectionData is the read-side facade handed to on_read/on_accept/
// on_close callbacks. It is valid only for the duration of
// the callback invocation that received it.
type ConnectionData struct {
	worker *worker
	stream *StreamInfo
}

func (c *ConnectionData) ConnectionID() ConnectionID { return c.stream.ID }
func (c *ConnectionData) Handle() Handle             { return c.stream.Handle }

// AcceptHandle returns the listener handle this stream was accepted
// from, or InvalidHandle for a client-initiated (AddClient) stream.
func (c *ConnectionData) AcceptHandle() Handle { return c.stream.AcceptHandle }

// WriteHandle returns a retainable write capability for this stream.
func (c *ConnectionData) WriteHandle() *WriteHandle {
	return newWriteHandle(c.stream, c.worker.data, c.worker.evh.cfg.MaxWriteChunk)
}

// CloseHandle returns a retainable, close-only capability for this
// stream, cheaper to hand around than a full WriteHandle
// when the only thing a caller needs is "tear this down later".
func (c *ConnectionData) CloseHandle() *CloseHandle {
	return newCloseHandle(c.stream, c.worker.data)
}

// SlabAllocator exposes the worker's slab pool for callbacks that walk
// the chain directly instead of copying it out.
func (c *ConnectionData) SlabAllocator() *SlabPool { return c.worker.ctx.slabs }

func (c *ConnectionData) FirstSlab() SlabID { return c.stream.FirstSlab }
func (c *ConnectionData) LastSlab() SlabID  { return c.stream.LastSlab }
func (c *ConnectionData) SlabOffset() int   { return c.stream.SlabOffset }

// ClearThrough frees every slab up to and including through, advancing
// FirstSlab past it. A callback
// calls this once it has consumed a prefix of the chain, so the pool
// doesn't grow unbounded for streams with a slow consumer.
func (c *ConnectionData) ClearThrough(through SlabID) {
	s := c.stream
	slabs := c.worker.ctx.slabs
	id := s.FirstSlab
	for id != invalidSlabID {
		next := slabs.NextID(id)
		done := id == through
		slabs.Free(id)
		id = next
		if done {
			break
		}
	}
	s.FirstSlab = id
	if id == invalidSlabID {
		s.LastSlab = invalidSlabID
		s.SlabOffset = 0
	}
}
