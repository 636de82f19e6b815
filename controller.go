package evh

// controller.go - AddServer/AddClient, the external entry points onto
// a running EVH's worker pool.

import (
	"crypto/tls"
	"math/rand"
	"net"
	"syscall"
)

// Controller is the handle external code uses to register listeners
// and client connections against a running EVH.
type Controller struct {
	evh *EVH
}

// ServerOptions configures one AddServer call.
type ServerOptions struct {
	Address    string
	Backlog    int
	ReusePort  bool
	TLS        *ServerTLSConfig // nil for a plain-text listener
	Attachment Attachment
}

// AddServer binds the listener (one socket for worker 0 and the skip
// sentinel for the others, or with ReusePort one independently bound
// socket per worker), registers the listener record on every worker,
// and blocks until every worker has acknowledged registration before
// flipping the listener's shared Ready flag. The reuse-port accept
// path waits on Ready, so no reuse-port worker accepts before all of
// them can.
func (c *Controller) AddServer(opts ServerOptions) error {
	e := c.evh
	if !e.running {
		return ErrNotRunning
	}

	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = e.cfg.AcceptBacklog
	}
	handles, err := CreateListeners(e.cfg.Threads, opts.Address, backlog, opts.ReusePort)
	if err != nil {
		return err
	}

	var tlsConfig *tls.Config
	if opts.TLS != nil {
		tlsConfig, err = buildServerTLSConfig(*opts.TLS)
		if err != nil {
			return err
		}
	}

	id := newConnectionID()
	ready := &atomicBool{}
	ackCh := make(chan struct{}, e.cfg.Threads)

	// Every worker gets the listener record — including skip-sentinel
	// slots, which are never selector-registered but still serve
	// attachment inheritance for streams handed off to that worker.
	registered := 0
	for i, h := range handles {
		li := &ListenerInfo{
			ID:            id,
			Handle:        h,
			ReusePort:     opts.ReusePort,
			TLSConfig:     tlsConfig,
			Ready:         ready,
			Attachment:    opts.Attachment,
			ackOnRegister: ackCh,
		}
		if err := e.workers[i].data.enqueueNewHandle(&ConnectionInfo{Listener: li}); err != nil {
			if h.Valid() {
				closeHandle(h)
			}
			continue
		}
		registered++
	}

	for i := 0; i < registered; i++ {
		<-ackCh
	}
	ready.set(true)
	return nil
}

// ClientOptions configures one AddClient call.
type ClientOptions struct {
	// Conn is an already-dialed connection; ownership transfers to the
	// EVH. It must implement syscall.Conn (net.TCPConn and similar do).
	Conn       net.Conn
	TLS        *ClientTLSConfig
	Attachment Attachment
}

// AddClient hands an already-established connection to a randomly
// chosen worker and returns a WriteHandle for it. The connection's
// underlying handle is extracted and put into non-blocking mode; all
// further I/O is driven by the EVH's own raw, non-blocking path rather
// than through net.Conn's Read/Write.
func (c *Controller) AddClient(opts ClientOptions) (*WriteHandle, error) {
	e := c.evh
	if !e.running {
		return nil, ErrNotRunning
	}

	sc, ok := opts.Conn.(syscall.Conn)
	if !ok {
		return nil, &ConfigError{Field: "conn", Reason: "does not implement syscall.Conn"}
	}
	h, err := rawHandle(sc)
	if err != nil {
		return nil, err
	}
	if err := setNonBlocking(h); err != nil {
		return nil, err
	}

	s := &StreamInfo{
		ID:           newConnectionID(),
		Handle:       h,
		AcceptHandle: InvalidHandle,
		Write:        NewWriteState(),
		Attachment:   opts.Attachment,
		Conn:         opts.Conn,
		FirstSlab:    invalidSlabID,
		LastSlab:     invalidSlabID,
		IsAccepted:   false,
	}
	if opts.TLS != nil {
		built, err := buildClientTLSConfig(*opts.TLS)
		if err != nil {
			return nil, err
		}
		s.TLSClient = newTLSClientSession(built)
	}

	target := rand.Intn(e.cfg.Threads)
	data := e.workers[target].data
	if err := data.enqueueNewHandle(&ConnectionInfo{Stream: s}); err != nil {
		if s.TLSClient != nil {
			s.TLSClient.Close()
		}
		return nil, err
	}
	return newWriteHandle(s, data, e.cfg.MaxWriteChunk), nil
}

// Stop shuts the EVH down. Identical to calling Stop on the EVH itself;
// exposed here so code handed only a Controller can tear the pool down.
func (c *Controller) Stop() error {
	return c.evh.Stop()
}
