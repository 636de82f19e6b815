package evh

// connection.go - ConnectionInfo, Event, EventIn.

import (
	"crypto/rand"
	"crypto/tls"
	"net"
	"sync"
)

// ConnectionID is a 128-bit random stream/listener identifier.
type ConnectionID [16]byte

// newConnectionID draws a fresh 128-bit random id. Collisions are not
// checked; at this width the birthday bound is astronomically larger
// than any realistic connection count.
func newConnectionID() ConnectionID {
	var id ConnectionID
	_, _ = rand.Read(id[:])
	return id
}

// EventKind distinguishes readiness events returned by the selector.
type EventKind uint8

const (
	EventKindRead EventKind = iota
	EventKindWrite
)

// Event is a readiness notification returned by a selector wait call.
type Event struct {
	Handle Handle
	Kind   EventKind
}

// EventInKind is the set of registration intents a worker can submit to
// its selector before a wait call.
type EventInKind uint8

const (
	EventInRead EventInKind = iota
	EventInWrite
	EventInSuspend
	EventInResume
)

// EventIn is a selector-registration intent produced by the worker
// before each select call to mutate selector registration.
type EventIn struct {
	Handle Handle
	Kind   EventInKind
}

// ListenerInfo is the Listener variant of ConnectionInfo.
type ListenerInfo struct {
	ID            ConnectionID
	Handle        Handle
	ReusePort     bool
	TLSConfig     *tls.Config // nil unless TLS termination is configured
	Ready         *atomicBool // flipped true once every worker has registered
	Attachment    Attachment
	ackOnRegister chan struct{}
}

// StreamInfo is the Stream variant of ConnectionInfo.
type StreamInfo struct {
	ID           ConnectionID
	Handle       Handle
	AcceptHandle Handle // InvalidHandle if client-initiated
	AcceptID     ConnectionID
	HasAcceptID  bool
	IsAccepted   bool
	Write        *WriteState

	// Slab chain state. Owned exclusively by the
	// worker; never touched by a WriteHandle.
	FirstSlab  SlabID
	LastSlab   SlabID
	SlabOffset int

	Attachment Attachment

	TLSClient *tlsClientSession // non-nil iff this is a TLS client stream
	TLSServer *tlsServerSession // non-nil iff this is a TLS server stream

	// Conn pins the net.Conn a client-initiated stream was extracted
	// from, so the runtime doesn't finalize it and close the handle out
	// from under us. All I/O still goes through Handle; closing goes
	// through Conn when present.
	Conn net.Conn

	ackOnRegister chan struct{}

	closed bool // guards on_close idempotence
}

// tlsPump returns the stream's TLS plumbing regardless of direction, or
// nil for a plain-text stream.
func (s *StreamInfo) tlsPump() *tlsPump {
	switch {
	case s.TLSServer != nil:
		return s.TLSServer.tlsPump
	case s.TLSClient != nil:
		return s.TLSClient.tlsPump
	}
	return nil
}

// ConnectionInfo is the tagged variant {Listener, Stream}.
// Exactly one of Listener/Stream is non-nil.
type ConnectionInfo struct {
	Listener *ListenerInfo
	Stream   *StreamInfo
}

func (c *ConnectionInfo) isStream() bool   { return c.Stream != nil }
func (c *ConnectionInfo) isListener() bool { return c.Listener != nil }

// handleOf returns the underlying OS handle regardless of variant.
func (c *ConnectionInfo) handleOf() Handle {
	if c.Listener != nil {
		return c.Listener.Handle
	}
	return c.Stream.Handle
}

func (c *ConnectionInfo) idOf() ConnectionID {
	if c.Listener != nil {
		return c.Listener.ID
	}
	return c.Stream.ID
}

// resolvedAttachment resolves the attachment handed to a callback: (1)
// the stream's own attachment, else (2) the accepting listener's
// attachment if any, else nil.
func resolvedAttachment(s *StreamInfo, listeners map[ConnectionID]*ListenerInfo) Attachment {
	if s.Attachment != nil {
		return s.Attachment
	}
	if s.HasAcceptID {
		if l, ok := listeners[s.AcceptID]; ok {
			return l.Attachment
		}
	}
	return nil
}

// atomicBool is a tiny helper used for ListenerInfo.Ready, which must be
// visible across the worker goroutines that registered the listener and
// the accept path that polls it.
type atomicBool struct {
	mu sync.RWMutex
	v  bool
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

func (b *atomicBool) get() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.v
}
