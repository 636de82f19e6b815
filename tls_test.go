package evh

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// generateSelfSignedCert writes a throwaway self-signed certificate and
// key pair to temp PEM files, returning their paths.
func generateSelfSignedCert(t *testing.T) (certPath, keyPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath = dir + "/cert.pem"
	keyPath = dir + "/key.pem"

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

// TestTLSEcho covers server-side termination: a listener terminating TLS
// echoes back whatever a genuine TLS client sends it.
func TestTLSEcho(t *testing.T) {
	addr := ephemeralAddr(t)

	certPath, keyPath := generateSelfSignedCert(t)

	e, ctl := newTestEVH(t)
	e.SetOnRead(func(cd *ConnectionData, tc ThreadContext, att Attachment) error {
		data := collectChain(cd)
		_, err := cd.WriteHandle().Write(data)
		cd.ClearThrough(cd.LastSlab())
		return err
	})

	require.NoError(t, ctl.AddServer(ServerOptions{
		Address: addr,
		TLS: &ServerTLSConfig{
			CertificatesFile: certPath,
			PrivateKeyFile:   keyPath,
		},
	}))

	raw, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer raw.Close()

	conn := tls.Client(raw, &tls.Config{InsecureSkipVerify: true})
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.Handshake())

	msg := []byte("hello over tls")
	_, err = conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	_, err = readFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, msg, buf)
}
