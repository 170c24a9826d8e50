package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TemporalTLSEnabled reports whether any TEMPORAL_TLS_* setting is present.
func (c *Config) TemporalTLSEnabled() bool {
	return c.TemporalTLSCert != "" || c.TemporalTLSKey != "" ||
		c.TemporalTLSCACert != "" || c.TemporalTLSServerName != ""
}

// TemporalTLS builds the TLS config the worker dials Temporal with. A CA or
// server name alone gives server-verified TLS; a cert and key pair adds a
// client certificate. Returns nil, nil when TLS is not configured.
func (c *Config) TemporalTLS() (*tls.Config, error) {
	if !c.TemporalTLSEnabled() {
		return nil, nil
	}
	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		return nil, errors.New("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.TemporalTLSServerName,
	}

	if c.TemporalTLSCert != "" {
		cert, err := tls.LoadX509KeyPair(c.TemporalTLSCert, c.TemporalTLSKey)
		if err != nil {
			return nil, fmt.Errorf("load temporal client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.TemporalTLSCACert != "" {
		caPEM, err := os.ReadFile(c.TemporalTLSCACert)
		if err != nil {
			return nil, fmt.Errorf("read temporal CA cert %s: %w", c.TemporalTLSCACert, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates in temporal CA file %s", c.TemporalTLSCACert)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
