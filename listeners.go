package evh

// listeners.go - CreateListeners.
//
// On POSIX with reusePort true, each element of the returned array is
// an independent bound+listen socket with SO_REUSEPORT; otherwise
// element 0 is the real listener and the remaining elements are the
// zero/skip sentinel.

// CreateListeners builds the per-thread listener handle array.
func CreateListeners(threads int, address string, backlog int, reusePort bool) ([]Handle, error) {
	handles := make([]Handle, threads)
	if reusePort {
		for i := 0; i < threads; i++ {
			h, err := bindListenReusePort(address, backlog)
			if err != nil {
				for j := 0; j < i; j++ {
					closeHandle(handles[j])
				}
				return nil, err
			}
			handles[i] = h
		}
		return handles, nil
	}

	h, err := bindListen(address, backlog)
	if err != nil {
		return nil, err
	}
	handles[0] = h
	for i := 1; i < threads; i++ {
		handles[i] = SkipHandle
	}
	return handles, nil
}
