package evh

// tls_config.go - certificate/key loading for listener and client TLS
// configuration.

import (
	"crypto/tls"
	"crypto/x509"
	"os"
)

// ServerTLSConfig carries a listener's shared, inherited TLS
// configuration.
type ServerTLSConfig struct {
	CertificatesFile string
	PrivateKeyFile   string
}

// ClientTLSConfig carries an AddClient TLS configuration.
type ClientTLSConfig struct {
	SNIHost                  string
	TrustedCertFullChainFile string // empty uses the system root pool
}

// buildServerTLSConfig loads a standard PEM certificate chain and
// private key. tls.X509KeyPair's private key parser accepts RSA
// (PKCS#1/PKCS#8) and EC (SEC1/PKCS#8) keys; a missing or unparsable
// key file is an error.
func buildServerTLSConfig(cfg ServerTLSConfig) (*tls.Config, error) {
	if cfg.PrivateKeyFile == "" {
		return nil, &ConfigError{Field: "private_key_file", Reason: "missing"}
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertificatesFile, cfg.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func buildClientTLSConfig(cfg ClientTLSConfig) (*tls.Config, error) {
	tc := &tls.Config{
		ServerName: cfg.SNIHost,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.TrustedCertFullChainFile != "" {
		pem, err := os.ReadFile(cfg.TrustedCertFullChainFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &ConfigError{Field: "trusted_cert_full_chain_file", Reason: "no certificates parsed"}
		}
		tc.RootCAs = pool
	}
	return tc, nil
}
