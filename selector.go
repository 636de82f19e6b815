package evh

// selector.go - the minimal internal selector surface each OS backend
// implements:
//
//	register(handle, interests, mode)
//	wait(events_out, timeout) -> n
//
// The rest of the core never branches on which backend is in use: the
// worker re-registers a handle after every event it handles, which is
// what the Windows backend needs. There, a successful Wait return for
// a handle drops its read/write interest until the next register call.
// The epoll (edge-triggered) and kqueue backends clear the same bits in
// their own tables but keep the kernel registration, so for them a
// repeat register is a harmless re-arm.
//
// One backend per build-tagged file.

// selector is the per-worker OS poller.
type selector interface {
	// init prepares the underlying kernel object (epoll/kqueue instance;
	// nothing on Windows, where WSAPoll needs none). Called once per
	// worker before the main loop starts.
	init() error

	// register arms h for the given interest set. A handle not
	// previously known to the selector is added; a known handle has its
	// interest set replaced (not unioned) — callers that want both read
	// and write armed must request both in one call.
	register(h Handle, read, write bool) error

	// deregister removes h entirely. Safe to call on a handle that was
	// never registered (close path may race with a pending EventIn).
	deregister(h Handle) error

	// wait blocks until at least one event is ready or timeoutMs
	// elapses (negative means block indefinitely), filling out and
	// returning the count used. Every handle returned here has its
	// interest bits cleared in the backend's own table, and the caller
	// registers it again after handling it. Only the Windows backend
	// stops reporting the handle until then; epoll and kqueue keep the
	// kernel registration.
	wait(out []Event, timeoutMs int) (int, error)

	// close releases the underlying kernel object.
	close() error
}

func newSelector() selector {
	return newPlatformSelector()
}
