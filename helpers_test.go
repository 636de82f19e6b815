package evh

import (
	"net"
	"testing"
)

// ephemeralAddr reserves a free loopback TCP port by briefly binding
// one with the standard library, then releases it for the caller's
// own (raw-socket) listener to reuse. AddServer binds via raw syscalls rather than
// net.Listen, so it has no "tell me what port I got" of its own; this
// is the usual Go workaround, accepting the small window between
// Close and the caller's own bind.
func ephemeralAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve ephemeral port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

// collectChain copies every byte currently held in cd's slab chain
// into one contiguous slice, for test assertions. Production callbacks
// are expected to prefer streaming each slab's Payload directly rather
// than copying, but tests read more plainly this way.
func collectChain(cd *ConnectionData) []byte {
	var out []byte
	id := cd.FirstSlab()
	last := cd.LastSlab()
	alloc := cd.SlabAllocator()
	for id != invalidSlabID {
		payload := alloc.Payload(id)
		if id == last {
			payload = payload[:cd.SlabOffset()]
		}
		out = append(out, payload...)
		id = alloc.NextID(id)
	}
	return out
}
