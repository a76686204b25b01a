// Package tlsprovider is the external TLS collaborator: context
// creation from the configured key/certificate (§1, §4.5, §6 "TLS").
// The event loop wraps each accepted socket with tls.Server using
// Config and completes the handshake inline. It never looks inside a
// *tls.Conn; it only Reads and Writes it like any other net.Conn.
package tlsprovider

import (
	"crypto/tls"
	"fmt"
)

// Provider holds the TLS context built once at startup.
type Provider struct {
	cfg *tls.Config
}

// New loads the certificate/key pair and builds a TLSv1 server context,
// per §6 ("TLSv1 server role, using the configured key and
// certificate"). TLSv1.0 is intentionally the only offered version;
// crypto/tls accepts an explicit MinVersion/MaxVersion pin even though
// it is no longer the library default.
func New(certFile, keyFile string) (*Provider, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsprovider: loading key pair: %w", err)
	}
	return &Provider{cfg: &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS10,
		MaxVersion:   tls.VersionTLS10,
	}}, nil
}

// Config returns the TLS server configuration to use for wrapping a
// newly accepted socket.
func (p *Provider) Config() *tls.Config {
	return p.cfg
}
