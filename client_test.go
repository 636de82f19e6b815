package evh

import (
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestAddClientEcho registers both halves of a loopback conversation
// with the same EVH: the server side is an echoing listener, the client
// side is handed over via AddClient, written to through the returned
// WriteHandle, and observed through on_read like any other stream.
func TestAddClientEcho(t *testing.T) {
	addr := ephemeralAddr(t)

	echoed := make(chan []byte, 1)

	e, ctl := newTestEVH(t)
	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		cd.ClearThrough(cd.LastSlab())
		if cd.AcceptHandle().Valid() {
			// Server side: echo.
			_, err := cd.WriteHandle().Write(data)
			return err
		}
		// Client side: surface what came back.
		select {
		case echoed <- append([]byte(nil), data...):
		default:
		}
		return nil
	})

	require.NoError(t, ctl.AddServer(ServerOptions{Address: addr}))

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)

	wh, err := ctl.AddClient(ClientOptions{Conn: conn})
	require.NoError(t, err)

	msg := []byte("through the write handle")
	_, err = wh.Write(msg)
	require.NoError(t, err)

	select {
	case got := <-echoed:
		require.Equal(t, msg, got)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the client stream's on_read")
	}

	require.NoError(t, wh.Close())
}

// TestAddClientRejectsNonSyscallConn verifies the ownership-transfer
// precondition: a conn that can't expose its raw handle is refused up
// front rather than half-registered.
func TestAddClientRejectsNonSyscallConn(t *testing.T) {
	_, ctl := newTestEVH(t)

	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	_, err := ctl.AddClient(ClientOptions{Conn: left})
	require.ErrorIs(t, err, ErrConfiguration)
}

// TestTLSClientLoopback runs a TLS echo end to end inside one
// EVH: a TLS-terminating listener echoes, and the client side is a TLS
// session added via AddClient, so both directions of the handshake and
// both record layers run through the slab pipeline.
func TestTLSClientLoopback(t *testing.T) {
	addr := ephemeralAddr(t)

	certPath, keyPath := generateSelfSignedCert(t)

	payload := make([]byte, 10240)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	done := make(chan []byte, 1)
	var clientGot []byte

	e, ctl := newTestEVH(t)
	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		cd.ClearThrough(cd.LastSlab())
		if cd.AcceptHandle().Valid() {
			_, err := cd.WriteHandle().Write(data)
			return err
		}
		clientGot = append(clientGot, data...)
		if len(clientGot) >= len(payload) {
			select {
			case done <- clientGot:
			default:
			}
		}
		return nil
	})

	require.NoError(t, ctl.AddServer(ServerOptions{
		Address: addr,
		TLS: &ServerTLSConfig{
			CertificatesFile: certPath,
			PrivateKeyFile:   keyPath,
		},
	}))

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)

	wh, err := ctl.AddClient(ClientOptions{
		Conn: conn,
		TLS: &ClientTLSConfig{
			SNIHost:                  "127.0.0.1",
			TrustedCertFullChainFile: certPath,
		},
	})
	require.NoError(t, err)

	_, err = wh.Write(payload)
	require.NoError(t, err)

	select {
	case got := <-done:
		require.Equal(t, payload, got[:len(payload)])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the TLS loopback echo")
	}
}

// TestClientTLSConfigVerification covers the certificate-loading edge
// cases of the client config builder without any network round trip.
func TestClientTLSConfigVerification(t *testing.T) {
	certPath, _ := generateSelfSignedCert(t)

	cfg, err := buildClientTLSConfig(ClientTLSConfig{
		SNIHost:                  "example.com",
		TrustedCertFullChainFile: certPath,
	})
	require.NoError(t, err)
	require.Equal(t, "example.com", cfg.ServerName)
	require.NotNil(t, cfg.RootCAs)
	require.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	_, err = buildClientTLSConfig(ClientTLSConfig{
		SNIHost:                  "example.com",
		TrustedCertFullChainFile: certPath + ".does-not-exist",
	})
	require.Error(t, err)
}
