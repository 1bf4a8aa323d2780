// Package tlsutil builds the server and client tls.Config values used
// throughout the module. Both sides deliberately step outside the
// default Go TLS trust model: the server accepts any syntactically
// valid client certificate (TOFU replaces CA trust for client auth
// too), and the client disables CA/hostname verification entirely
// because TOFU is its trust model.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alanbato/nauyaca/internal/certutil"
)

// ErrTLSVersionTooLow is returned when a caller asks for a minimum
// version below TLS 1.2.
var ErrTLSVersionTooLow = errors.New("tlsutil: minimum TLS version must be 1.2 or higher")

// ServerTLSConfig configures NewServerConfig.
type ServerTLSConfig struct {
	// CertFile/KeyFile, when both set and both files exist, are loaded
	// directly. Otherwise a self-signed certificate is generated; it is
	// written to these paths when both are set, and kept in memory only
	// when either is empty.
	CertFile string
	KeyFile  string
	// Hostname is used as the CN when a certificate must be generated.
	Hostname string
	// RequireClientCert requests (but never requires trust in) a
	// client certificate during the handshake.
	RequireClientCert bool
	// MinVersion defaults to tls.VersionTLS12 when zero.
	MinVersion uint16
}

// NewServerConfig builds a *tls.Config for the Gemini/Titan listener.
func NewServerConfig(cfg ServerTLSConfig) (*tls.Config, error) {
	minVersion := cfg.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	if minVersion < tls.VersionTLS12 {
		return nil, ErrTLSVersionTooLow
	}

	cert, err := loadOrGenerateCert(cfg)
	if err != nil {
		return nil, err
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}

	if cfg.RequireClientCert {
		// RequestClientCert asks the client for a certificate but does
		// not fail the handshake when none is presented: whether a
		// certless client is allowed through is a per-path decision
		// made by internal/middleware.CertAuth (60/61 responses), not
		// something the transport should enforce globally. Requiring a
		// cert here would make certless clients fail the handshake
		// before middleware ever runs, closing off any "public hole"
		// path that doesn't require a client cert.
		tlsCfg.ClientAuth = tls.RequestClientCert
	}

	return tlsCfg, nil
}

func loadOrGenerateCert(cfg ServerTLSConfig) (tls.Certificate, error) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		if fileExists(cfg.CertFile) && fileExists(cfg.KeyFile) {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("tlsutil: load cert/key: %w", err)
			}
			return cert, nil
		}
	}

	hostname := cfg.Hostname
	if hostname == "" {
		hostname = "localhost"
	}
	certPEM, keyPEM, err := certutil.GenerateSelfSigned(hostname, 2048, 365)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsutil: generate self-signed cert: %w", err)
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		if err := persistCert(cfg.CertFile, cfg.KeyFile, certPEM, keyPEM); err != nil {
			return tls.Certificate{}, err
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsutil: parse generated cert: %w", err)
	}
	return cert, nil
}

func persistCert(certFile, keyFile string, certPEM, keyPEM []byte) error {
	if dir := filepath.Dir(certFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("tlsutil: create cert directory: %w", err)
		}
	}
	if dir := filepath.Dir(keyFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("tlsutil: create key directory: %w", err)
		}
	}
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("tlsutil: write cert file: %w", err)
	}
	// Private key restricted to owner read/write, per spec.
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("tlsutil: write key file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ClientTLSConfig configures NewClientConfig.
type ClientTLSConfig struct {
	// CertFile/KeyFile, when both set, enable mTLS: the client
	// presents this certificate to the server.
	CertFile   string
	KeyFile    string
	MinVersion uint16
}

// NewClientConfig builds a *tls.Config for the client session. CA
// verification and hostname checking are disabled deliberately: TOFU
// (internal/tofu) is the trust model, applied after the handshake
// against the captured peer certificate DER.
func NewClientConfig(cfg ClientTLSConfig) (*tls.Config, error) {
	minVersion := cfg.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	if minVersion < tls.VersionTLS12 {
		return nil, ErrTLSVersionTooLow
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // TOFU replaces CA verification by design.
		MinVersion:         minVersion,
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsutil: load client cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// PeerCertificateDER extracts the raw DER of the first certificate the
// peer presented during the handshake, or nil if none was presented.
func PeerCertificateDER(state tls.ConnectionState) []byte {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return state.PeerCertificates[0].Raw
}

// ParsePeerCertificate parses the DER of the first peer certificate,
// or returns nil, nil if none was presented.
func ParsePeerCertificate(state tls.ConnectionState) (*x509.Certificate, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, nil
	}
	return state.PeerCertificates[0], nil
}
