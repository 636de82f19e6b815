package evh

// tls_session.go - TLS termination/initiation as an in-process
// transform over the same slab pipeline.
//
// crypto/tls has no BIO-style incremental record API (unlike, say,
// OpenSSL's memory BIOs); it is built around a blocking io.ReadWriter.
// To keep the worker's own loop free of suspension points other than
// the selector call, each TLS-attached stream gets a
// synthetic net.Pipe() feeding a *tls.Conn, driven by three small
// always-running goroutines (feed ciphertext in, drain ciphertext out,
// drain plaintext out); the worker only ever does non-blocking channel
// receives/an O(1) queue append against them. The rationale is
// recorded in DESIGN.md: goroutines bridging a blocking API is the Go
// idiom for this shape, and the worker itself still only ever blocks
// in its selector call.

import (
	"bytes"
	"crypto/tls"
	"net"
	"sync"
)

const tlsReadChunk = 3072

// tlsPump is the shared plumbing behind both client and server TLS
// sessions.
type tlsPump struct {
	conn   *tls.Conn
	remote net.Conn // our end of the net.Pipe(); local end is handed to conn

	inMu   sync.Mutex
	inCond *sync.Cond
	inBuf  bytes.Buffer
	inDone bool

	plaintextCh chan []byte
	outCh       chan []byte

	notifyMu sync.Mutex
	notify   func()

	closeOnce sync.Once
}

func newTLSPump(conn *tls.Conn, remote net.Conn) *tlsPump {
	p := &tlsPump{
		conn:        conn,
		remote:      remote,
		plaintextCh: make(chan []byte, 64),
		outCh:       make(chan []byte, 64),
	}
	p.inCond = sync.NewCond(&p.inMu)
	go p.feedLoop()
	go p.plaintextLoop()
	go p.ciphertextOutLoop()
	return p
}

// SetNotify installs the hook invoked whenever the pump's background
// goroutines produce output (plaintext or outbound ciphertext). The
// owning worker wires this to its own write queue at registration time,
// so pump output produced after the triggering socket event still gets
// picked up rather than waiting for the next one.
func (p *tlsPump) SetNotify(fn func()) {
	p.notifyMu.Lock()
	p.notify = fn
	p.notifyMu.Unlock()
}

func (p *tlsPump) notifyActivity() {
	p.notifyMu.Lock()
	fn := p.notify
	p.notifyMu.Unlock()
	if fn != nil {
		fn()
	}
}

// FeedCiphertext enqueues raw bytes read off the socket for the TLS
// stack to consume. O(1), never blocks the calling worker.
func (p *tlsPump) FeedCiphertext(b []byte) {
	p.inMu.Lock()
	p.inBuf.Write(b)
	p.inCond.Signal()
	p.inMu.Unlock()
}

// feedLoop drains the ciphertext-in buffer into the pipe, which
// unblocks whatever the tls.Conn is waiting to read.
func (p *tlsPump) feedLoop() {
	for {
		p.inMu.Lock()
		for p.inBuf.Len() == 0 && !p.inDone {
			p.inCond.Wait()
		}
		if p.inBuf.Len() == 0 && p.inDone {
			p.inMu.Unlock()
			return
		}
		chunk := make([]byte, p.inBuf.Len())
		copy(chunk, p.inBuf.Bytes())
		p.inBuf.Reset()
		p.inMu.Unlock()

		if _, err := p.remote.Write(chunk); err != nil {
			return
		}
	}
}

// plaintextLoop continuously reads decrypted application data off the
// tls.Conn and forwards it to the worker via a buffered channel.
func (p *tlsPump) plaintextLoop() {
	defer close(p.plaintextCh)
	buf := make([]byte, tlsReadChunk)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.plaintextCh <- chunk
			p.notifyActivity()
		}
		if err != nil {
			p.notifyActivity()
			return
		}
	}
}

// ciphertextOutLoop drains whatever the tls.Conn writes (handshake
// flights, alerts, encrypted application data) to the remote pipe end
// and forwards it to the worker via a buffered channel.
func (p *tlsPump) ciphertextOutLoop() {
	defer close(p.outCh)
	buf := make([]byte, tlsReadChunk)
	for {
		n, err := p.remote.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.outCh <- chunk
			p.notifyActivity()
		}
		if err != nil {
			p.notifyActivity()
			return
		}
	}
}

// DrainPlaintext drains whatever plaintext is immediately available
// without blocking, returning the concatenation and whether the
// session has terminated.
func (p *tlsPump) DrainPlaintext() (data []byte, closed bool) {
	for {
		select {
		case chunk, ok := <-p.plaintextCh:
			if !ok {
				return data, true
			}
			data = append(data, chunk...)
		default:
			return data, false
		}
	}
}

// DrainCiphertextOut drains whatever outbound ciphertext is immediately
// available without blocking.
func (p *tlsPump) DrainCiphertextOut() (chunks [][]byte, closed bool) {
	for {
		select {
		case chunk, ok := <-p.outCh:
			if !ok {
				return chunks, true
			}
			chunks = append(chunks, chunk)
		default:
			return chunks, false
		}
	}
}

// WritePlaintext encrypts and forwards application data. Before the
// handshake has completed it blocks until it does, which takes the
// peer's handshake bytes arriving through the worker; afterwards it
// waits for ciphertextOutLoop to take the record off the pipe, which
// blocks while outCh is full.
func (p *tlsPump) WritePlaintext(b []byte) (int, error) {
	return p.conn.Write(b)
}

// Close tears down the pump's goroutines and the underlying pipe.
func (p *tlsPump) Close() {
	p.closeOnce.Do(func() {
		p.inMu.Lock()
		p.inDone = true
		p.inCond.Signal()
		p.inMu.Unlock()
		_ = p.conn.Close()
		_ = p.remote.Close()
	})
}

// tlsServerSession is a per-connection server-side TLS handshake state
// bound to a listener's shared TLS config.
type tlsServerSession struct{ *tlsPump }

func newTLSServerSession(cfg *tls.Config) *tlsServerSession {
	local, remote := net.Pipe()
	conn := tls.Server(local, cfg)
	return &tlsServerSession{tlsPump: newTLSPump(conn, remote)}
}

// tlsClientSession is the client-side counterpart, constructed by
// AddClient when its ClientOptions carry a TLS config.
type tlsClientSession struct{ *tlsPump }

func newTLSClientSession(cfg *tls.Config) *tlsClientSession {
	local, remote := net.Pipe()
	conn := tls.Client(local, cfg)
	return &tlsClientSession{tlsPump: newTLSPump(conn, remote)}
}
