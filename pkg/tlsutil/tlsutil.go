// Package tlsutil builds client TLS configurations for broker connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/sensorsim/errors"
)

// ClientConfig describes how a connector authenticates the broker and,
// optionally, itself.
type ClientConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	CertFile           string   `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile            string   `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	ServerName         string   `json:"server_name,omitempty" yaml:"server_name,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`
}

// Validate checks that a client certificate comes with its key and that the
// minimum version is one we understand.
func (c ClientConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalid(fmt.Errorf("%w: cert_file and key_file must be set together", errors.ErrInvalidConfig),
			"ClientConfig", "Validate", "broker.tls")
	}
	switch c.MinVersion {
	case "", "1.2", "1.3":
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: unsupported min_version %q", errors.ErrInvalidConfig, c.MinVersion),
			"ClientConfig", "Validate", "broker.tls.min_version")
	}
	return nil
}

// LoadClientConfig creates a tls.Config from cfg. It returns nil when TLS is
// disabled. The system CA bundle is always trusted; CAFiles add to it.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
		ServerName: cfg.ServerName,
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"),
				"tlsutil", "LoadClientConfig", fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// parseTLSVersion returns tls.VersionTLS12 for anything but "1.3".
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
